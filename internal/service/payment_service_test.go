package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digkill/QuickDatePay/internal/config"
	"github.com/digkill/QuickDatePay/internal/gateway/aamarpay"
	"github.com/digkill/QuickDatePay/internal/gateway/authorizenet"
	"github.com/digkill/QuickDatePay/internal/models"
	"github.com/digkill/QuickDatePay/internal/pricing"
	"github.com/digkill/QuickDatePay/internal/repository"
)

var sevenDigitRef = regexp.MustCompile(`^[0-9]{7}$`)

type mockCharger struct {
	ChargeFunc func(ctx context.Context, req authorizenet.ChargeRequest) (*authorizenet.ChargeResult, error)
	calls      []authorizenet.ChargeRequest
}

func (m *mockCharger) Charge(ctx context.Context, req authorizenet.ChargeRequest) (*authorizenet.ChargeResult, error) {
	m.calls = append(m.calls, req)
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}
	return &authorizenet.ChargeResult{TransID: "60000001", ResponseCode: "1"}, nil
}

type recordingListener struct {
	records []models.PaymentRecord
	err     error
}

func (l *recordingListener) PurchaseApplied(ctx context.Context, user models.User, record models.PaymentRecord) error {
	l.records = append(l.records, record)
	return l.err
}

func testConfig() config.Config {
	return config.Config{
		Pricing: config.Pricing{
			WeeklyProPlan:        800,
			MonthlyProPlan:       2500,
			YearlyProPlan:        28000,
			LifetimeProPlan:      50000,
			BagOfCreditsPrice:    100,
			BagOfCreditsAmount:   10,
			BoxOfCreditsPrice:    500,
			BoxOfCreditsAmount:   60,
			ChestOfCreditsPrice:  1000,
			ChestOfCreditsAmount: 150,
		},
		Aamarpay:  config.Aamarpay{StoreID: "demo", Mode: "sandbox"},
		Authorize: config.Authorize{Mode: "SANDBOX"},
	}
}

type testEnv struct {
	svc      *PaymentService
	store    *repository.MemoryStore
	listener *recordingListener
}

func newTestEnv(t *testing.T, cfg config.Config, charger Charger) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	listener := &recordingListener{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewPaymentService(cfg, log, store, pricing.NewTable(cfg.Pricing), aamarpay.NewClient(cfg.Aamarpay), charger, listener)
	return &testEnv{svc: svc, store: store, listener: listener}
}

func (e *testEnv) snapshot(t *testing.T) repository.Snapshot {
	t.Helper()
	snap, err := e.store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	return snap
}

func (e *testEnv) issue(t *testing.T, typ, price, email string) string {
	t.Helper()
	raw, err := e.svc.IssueAamarpay(context.Background(), AamarpayRequest{Type: typ, Price: price, Name: "Ann", Email: email, Phone: "0170000000"})
	if err != nil {
		t.Fatalf("IssueAamarpay failed: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	return parsed.Query().Get("tran_id")
}

func assertRequestError(t *testing.T, err error, kind error, message string) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("Expected %v, got %v", kind, err)
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("Expected RequestError, got %T", err)
	}
	if reqErr.Message != message {
		t.Errorf("Expected message %q, got %q", message, reqErr.Message)
	}
}

func TestIssueAamarpayWeeklyPro(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)

	raw, err := env.svc.IssueAamarpay(context.Background(), AamarpayRequest{Type: "go_pro", Price: "800", Name: "Ann", Email: "ann@example.com", Phone: "017"})
	if err != nil {
		t.Fatalf("IssueAamarpay failed: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	ref := parsed.Query().Get("tran_id")
	if !sevenDigitRef.MatchString(ref) {
		t.Errorf("Expected seven digit reference in %q", raw)
	}
	if parsed.Query().Get("type") != "go_pro" || parsed.Query().Get("amount") != "800" {
		t.Errorf("Unexpected url query: %s", parsed.RawQuery)
	}

	snap := env.snapshot(t)
	if len(snap.Users) != 1 || snap.Users[0].PendingTxnID != ref {
		t.Fatalf("Expected user with pending ref %s, got %+v", ref, snap.Users)
	}
	if len(snap.Payments) != 0 {
		t.Errorf("Issuing must not touch the ledger, got %d records", len(snap.Payments))
	}
}

func TestIssueAamarpayOverwritesPendingRef(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)

	first := env.issue(t, "credit", "100", "ann@example.com")
	second := env.issue(t, "credit", "500", "ann@example.com")

	snap := env.snapshot(t)
	if len(snap.Users) != 1 {
		t.Fatalf("Expected one user, got %d", len(snap.Users))
	}
	if snap.Users[0].PendingTxnID != second {
		t.Errorf("Expected latest ref %s, got %s (first was %s)", second, snap.Users[0].PendingTxnID, first)
	}
}

func TestIssueAamarpayValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)

	valid := AamarpayRequest{Type: "credit", Price: "100", Name: "Ann", Email: "ann@example.com", Phone: "017"}
	tests := []struct {
		name    string
		mutate  func(r *AamarpayRequest)
		kind    error
		message string
	}{
		{name: "missing type", mutate: func(r *AamarpayRequest) { r.Type = "" }, kind: ErrMissingFields, message: "missing_fields"},
		{name: "unknown type", mutate: func(r *AamarpayRequest) { r.Type = "lock_pro_video" }, kind: ErrInvalidType, message: "missing_fields"},
		{name: "missing email", mutate: func(r *AamarpayRequest) { r.Email = "" }, kind: ErrMissingFields, message: "missing_fields"},
		{name: "missing phone", mutate: func(r *AamarpayRequest) { r.Phone = "" }, kind: ErrMissingFields, message: "missing_fields"},
		{name: "zero price", mutate: func(r *AamarpayRequest) { r.Price = "0" }, kind: ErrMissingFields, message: "missing_fields"},
		{name: "non numeric price", mutate: func(r *AamarpayRequest) { r.Price = "ten" }, kind: ErrMissingFields, message: "missing_fields"},
		{name: "unknown credit pack", mutate: func(r *AamarpayRequest) { r.Price = "101" }, kind: ErrInvalidAmount, message: "Please enter the correct amount for credit pack"},
		{name: "unknown pro plan", mutate: func(r *AamarpayRequest) { r.Type = "go_pro"; r.Price = "100" }, kind: ErrInvalidAmount, message: "Please enter the correct amount for pro plan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := env.svc.IssueAamarpay(context.Background(), req)
			assertRequestError(t, err, tt.kind, tt.message)
		})
	}

	if snap := env.snapshot(t); len(snap.Users) != 0 {
		t.Errorf("Rejected requests must not create users, got %d", len(snap.Users))
	}
}

func TestConfirmAamarpayCreditsOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)
	ref := env.issue(t, "credit", "500", "ann@example.com")

	cb := AamarpayCallback{Type: "credit", Amount: "500", MerTxnID: ref, PayStatus: "Successful"}
	if err := env.svc.ConfirmAamarpay(context.Background(), cb); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if err := env.svc.ConfirmAamarpay(context.Background(), cb); err != nil {
		t.Fatalf("replayed confirm should succeed, got %v", err)
	}

	snap := env.snapshot(t)
	user := snap.Users[0]
	if user.Balance != 60 {
		t.Errorf("Expected balance 60 after one box, got %d", user.Balance)
	}
	if user.HasPendingTxn() {
		t.Errorf("Expected pending ref cleared, got %q", user.PendingTxnID)
	}
	if len(snap.Payments) != 1 {
		t.Fatalf("Expected exactly one ledger entry, got %d", len(snap.Payments))
	}
	rec := snap.Payments[0]
	if rec.Kind != models.KindCredits || rec.CreditAmount != 60 || rec.Amount != 500 || rec.Via != models.GatewayAamarpay || rec.TxnRef != ref {
		t.Errorf("Unexpected ledger entry: %+v", rec)
	}
	if len(env.listener.records) != 1 {
		t.Errorf("Expected listener notified once, got %d", len(env.listener.records))
	}
}

func TestConfirmAamarpayPro(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)
	ref := env.issue(t, "go_pro", "28000", "ann@example.com")

	err := env.svc.ConfirmAamarpay(context.Background(), AamarpayCallback{Type: "go_pro", Amount: "28000", MerTxnID: ref, PayStatus: "Successful"})
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	snap := env.snapshot(t)
	user := snap.Users[0]
	if !user.IsPro || user.ProType != models.ProYearly || user.ProTime == nil {
		t.Errorf("Expected yearly pro with timestamp, got %+v", user)
	}
	if snap.Payments[0].Kind != models.KindPro || snap.Payments[0].ProPlan != models.ProYearly {
		t.Errorf("Unexpected ledger entry: %+v", snap.Payments[0])
	}
}

func TestConfirmAamarpayNoPending(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)

	err := env.svc.ConfirmAamarpay(context.Background(), AamarpayCallback{Type: "credit", Amount: "100", MerTxnID: "1234567", PayStatus: "Successful"})
	assertRequestError(t, err, ErrPendingNotFound, "No pending payment found")
}

func TestConfirmAamarpayUnmatchedRefAccepted(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)
	ref := env.issue(t, "credit", "100", "ann@example.com")

	other := "1000000"
	if other == ref {
		other = "1000001"
	}
	err := env.svc.ConfirmAamarpay(context.Background(), AamarpayCallback{Type: "credit", Amount: "100", MerTxnID: other, PayStatus: "Successful"})
	if err != nil {
		t.Fatalf("Expected unmatched ref to be accepted, got %v", err)
	}

	snap := env.snapshot(t)
	if snap.Users[0].Balance != 0 || snap.Users[0].PendingTxnID != ref {
		t.Errorf("Unmatched callback must not mutate state: %+v", snap.Users[0])
	}
	if len(snap.Payments) != 0 {
		t.Errorf("Unmatched callback must not touch the ledger, got %d", len(snap.Payments))
	}
}

func TestConfirmAamarpayWrongAmountKeepsPending(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)
	ref := env.issue(t, "credit", "100", "ann@example.com")

	err := env.svc.ConfirmAamarpay(context.Background(), AamarpayCallback{Type: "credit", Amount: "150", MerTxnID: ref, PayStatus: "Successful"})
	assertRequestError(t, err, ErrInvalidAmount, "Please enter the correct amount")

	snap := env.snapshot(t)
	if snap.Users[0].PendingTxnID != ref || snap.Users[0].Balance != 0 || len(snap.Payments) != 0 {
		t.Fatalf("Failed confirmation must leave state unchanged: %+v", snap)
	}

	if err := env.svc.ConfirmAamarpay(context.Background(), AamarpayCallback{Type: "credit", Amount: "100", MerTxnID: ref, PayStatus: "Successful"}); err != nil {
		t.Fatalf("retry with corrected amount failed: %v", err)
	}
	if got := env.snapshot(t).Users[0].Balance; got != 10 {
		t.Errorf("Expected balance 10 after retry, got %d", got)
	}
}

func TestConfirmAamarpayValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)
	ref := env.issue(t, "credit", "100", "ann@example.com")

	tests := []AamarpayCallback{
		{Type: "credit", Amount: "100", MerTxnID: ref, PayStatus: "Failed"},
		{Type: "credit", Amount: "100", MerTxnID: ref},
		{Type: "credit", Amount: "", MerTxnID: ref, PayStatus: "Successful"},
		{Type: "credit", Amount: "100", PayStatus: "Successful"},
		{Type: "unlock_private_photo", Amount: "100", MerTxnID: ref, PayStatus: "Successful"},
		{Amount: "100", MerTxnID: ref, PayStatus: "Successful"},
	}
	for _, cb := range tests {
		err := env.svc.ConfirmAamarpay(context.Background(), cb)
		assertRequestError(t, err, ErrMissingFields, "missing_fields_or_invalid_status")
	}

	if snap := env.snapshot(t); snap.Users[0].PendingTxnID != ref {
		t.Errorf("Invalid callbacks must not clear the pending ref")
	}
}

func TestLedgerMatchesBalance(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)

	prices := []string{"100", "500", "1000", "100", "500"}
	for _, price := range prices {
		ref := env.issue(t, "credit", price, "ann@example.com")
		if err := env.svc.ConfirmAamarpay(context.Background(), AamarpayCallback{Type: "credit", Amount: price, MerTxnID: ref, PayStatus: "Successful"}); err != nil {
			t.Fatalf("confirm %s failed: %v", price, err)
		}
	}
	for _, price := range []string{"100", "1000"} {
		if _, err := env.svc.ChargeAuthorize(context.Background(), AuthorizeRequest{Type: "credit", Price: price, Email: "ann@example.com", DataDescriptor: "d", DataValue: "v"}); err != nil {
			t.Fatalf("charge %s failed: %v", price, err)
		}
	}

	snap := env.snapshot(t)
	if len(snap.Payments) != len(prices)+2 {
		t.Fatalf("Expected %d ledger entries, got %d", len(prices)+2, len(snap.Payments))
	}
	sum := 0
	for _, p := range snap.Payments {
		sum += p.CreditAmount
	}
	if snap.Users[0].Balance != sum {
		t.Errorf("Balance %d does not match ledger sum %d", snap.Users[0].Balance, sum)
	}
	if sum != 10+60+150+10+60+10+150 {
		t.Errorf("Unexpected ledger sum %d", sum)
	}
}

func TestChargeAuthorizeSimulated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		req         AuthorizeRequest
		wantURL     string
		wantCredits *int
		wantKind    models.PaymentKind
	}{
		{
			name:        "credit bag",
			req:         AuthorizeRequest{Type: "credit", Price: "100", Name: "Ann", Email: "ann@example.com", Phone: "017", DataDescriptor: "COMMON.ACCEPT.INAPP.PAYMENT", DataValue: "tok"},
			wantURL:     "https://example.com/ProSuccess",
			wantCredits: intPtr(10),
			wantKind:    models.KindCredits,
		},
		{
			name:     "pro monthly",
			req:      AuthorizeRequest{Type: "go_pro", Price: "2500", Name: "Ann", Email: "ann@example.com", Phone: "017", DataDescriptor: "d", DataValue: "v"},
			wantURL:  "https://example.com/ProSuccess?paymode=pro",
			wantKind: models.KindPro,
		},
		{
			name:     "generic unlock",
			req:      AuthorizeRequest{Type: "unlock_private_photo", Price: "37", DataDescriptor: "d", DataValue: "v"},
			wantURL:  "https://example.com/ProSuccess",
			wantKind: models.PaymentKind("unlock_private_photo"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charger := &mockCharger{}
			env := newTestEnv(t, testConfig(), charger)

			result, err := env.svc.ChargeAuthorize(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("ChargeAuthorize failed: %v", err)
			}
			if result.Message != "payment Success" || result.URL != tt.wantURL {
				t.Errorf("Unexpected result: %+v", result)
			}
			if (tt.wantCredits == nil) != (result.CreditAmount == nil) || (tt.wantCredits != nil && *tt.wantCredits != *result.CreditAmount) {
				t.Errorf("Expected credit amount %v, got %v", tt.wantCredits, result.CreditAmount)
			}
			if len(charger.calls) != 0 {
				t.Errorf("Gateway must not be called without credentials, got %d calls", len(charger.calls))
			}

			snap := env.snapshot(t)
			if len(snap.Payments) != 1 || snap.Payments[0].Kind != tt.wantKind || snap.Payments[0].Via != models.GatewayAuthorize {
				t.Errorf("Unexpected ledger: %+v", snap.Payments)
			}
		})
	}
}

func TestChargeAuthorizeDefaultsDemoUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)

	if _, err := env.svc.ChargeAuthorize(context.Background(), AuthorizeRequest{Type: "lock_pro_video", Price: "5", DataDescriptor: "d", DataValue: "v"}); err != nil {
		t.Fatalf("ChargeAuthorize failed: %v", err)
	}
	snap := env.snapshot(t)
	if len(snap.Users) != 1 {
		t.Fatalf("Expected demo user, got %d users", len(snap.Users))
	}
	u := snap.Users[0]
	if u.Name != "Demo User" || u.Email != "demo@example.com" || u.Phone != "0000000000" {
		t.Errorf("Unexpected demo user: %+v", u)
	}
	if u.Balance != 0 || u.IsPro {
		t.Errorf("Generic purchase must not change balance or pro state: %+v", u)
	}
}

func TestChargeAuthorizeRequiresToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)
	const msg = "please check your details or provide tokenized payment data"

	tests := []AuthorizeRequest{
		{Type: "credit", Price: "100"},
		{Type: "credit", Price: "100", DataDescriptor: "d"},
		{Type: "credit", Price: "100", DataValue: "v"},
		{Type: "gift", Price: "100", DataDescriptor: "d", DataValue: "v"},
		{Type: "credit", Price: "-1", DataDescriptor: "d", DataValue: "v"},
	}
	for _, req := range tests {
		_, err := env.svc.ChargeAuthorize(context.Background(), req)
		assertRequestError(t, err, ErrMissingFields, msg)
	}
	if snap := env.snapshot(t); len(snap.Users) != 0 || len(snap.Payments) != 0 {
		t.Errorf("Rejected charges must not change state: %+v", snap)
	}
}

func TestChargeAuthorizeWrongPrice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)

	_, err := env.svc.ChargeAuthorize(context.Background(), AuthorizeRequest{Type: "go_pro", Price: "801", DataDescriptor: "d", DataValue: "v"})
	assertRequestError(t, err, ErrInvalidAmount, "Please enter the correct amount for pro plan")
}

func credentialedConfig() config.Config {
	cfg := testConfig()
	cfg.Authorize.LoginID = "login"
	cfg.Authorize.TransactionKey = "key"
	return cfg
}

func TestChargeAuthorizeApproved(t *testing.T) {
	t.Parallel()
	charger := &mockCharger{}
	env := newTestEnv(t, credentialedConfig(), charger)

	result, err := env.svc.ChargeAuthorize(context.Background(), AuthorizeRequest{Type: "credit", Price: "1000", Email: "ann@example.com", DataDescriptor: "COMMON.ACCEPT.INAPP.PAYMENT", DataValue: "tok"})
	if err != nil {
		t.Fatalf("ChargeAuthorize failed: %v", err)
	}
	if result.CreditAmount == nil || *result.CreditAmount != 150 {
		t.Errorf("Expected credit amount 150, got %v", result.CreditAmount)
	}
	if len(charger.calls) != 1 {
		t.Fatalf("Expected one gateway call, got %d", len(charger.calls))
	}
	call := charger.calls[0]
	if call.Amount != 1000 || call.DataDescriptor != "COMMON.ACCEPT.INAPP.PAYMENT" || call.DataValue != "tok" {
		t.Errorf("Unexpected charge request: %+v", call)
	}
	if ref := env.snapshot(t).Payments[0].TxnRef; ref != "60000001" {
		t.Errorf("Expected gateway transaction id on ledger, got %q", ref)
	}
}

func TestChargeAuthorizeGatewayFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		kind    error
		message string
	}{
		{name: "declined", err: &authorizenet.DeclinedError{Text: "This transaction has been declined."}, kind: ErrGatewayDeclined, message: "This transaction has been declined."},
		{name: "empty response", err: authorizenet.ErrEmptyResponse, kind: ErrInternal, message: "unknown_error"},
		{name: "transport", err: errors.New("connection reset"), kind: ErrInternal, message: "internal_error"},
		{name: "timeout", err: context.DeadlineExceeded, kind: ErrInternal, message: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charger := &mockCharger{ChargeFunc: func(ctx context.Context, req authorizenet.ChargeRequest) (*authorizenet.ChargeResult, error) {
				return nil, tt.err
			}}
			env := newTestEnv(t, credentialedConfig(), charger)

			_, err := env.svc.ChargeAuthorize(context.Background(), AuthorizeRequest{Type: "go_pro", Price: "800", Email: "ann@example.com", DataDescriptor: "d", DataValue: "v"})
			assertRequestError(t, err, tt.kind, tt.message)

			snap := env.snapshot(t)
			if len(snap.Users) != 0 || len(snap.Payments) != 0 {
				t.Errorf("Failed charge must not change state: %+v", snap)
			}
			if len(env.listener.records) != 0 {
				t.Errorf("Listener must not fire on failure")
			}
		})
	}
}

func TestListenerFailureDoesNotFailPayment(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, testConfig(), nil)
	env.listener.err = errors.New("telegram unavailable")

	if _, err := env.svc.ChargeAuthorize(context.Background(), AuthorizeRequest{Type: "credit", Price: "100", DataDescriptor: "d", DataValue: "v"}); err != nil {
		t.Fatalf("Expected payment to succeed despite listener error, got %v", err)
	}
	if len(env.listener.records) != 1 {
		t.Errorf("Expected listener called once, got %d", len(env.listener.records))
	}
}

func TestAuthorizeConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig(), nil)
	_, err := env.svc.AuthorizeConfig()
	assertRequestError(t, err, ErrNotConfigured, "Authorize.Net not configured on server")

	cfg := testConfig()
	cfg.Authorize.LoginID = "login"
	cfg.Authorize.ClientKey = "client"
	env = newTestEnv(t, cfg, nil)
	got, err := env.svc.AuthorizeConfig()
	if err != nil {
		t.Fatalf("AuthorizeConfig failed: %v", err)
	}
	if got.APILoginID != "login" || got.ClientKey != "client" || got.Mode != "SANDBOX" {
		t.Errorf("Unexpected config: %+v", got)
	}
}

func TestChargeAuthorizeSurvivesCallerDeadline(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"transactionResponse":{"responseCode":"1","transId":"60099999","messages":[{"code":"1","description":"approved"}]},"messages":{"resultCode":"Ok"}}`))
	}))
	t.Cleanup(gateway.Close)

	cfg := credentialedConfig()
	cfg.Authorize.Timeout = 5 * time.Second
	charger := authorizenet.NewClient(cfg.Authorize, nil, authorizenet.WithEndpoint(gateway.URL))
	env := newTestEnv(t, cfg, charger)

	// The caller gives up long before the gateway answers.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result, err := env.svc.ChargeAuthorize(ctx, AuthorizeRequest{Type: "credit", Price: "100", Email: "ann@example.com", DataDescriptor: "d", DataValue: "v"})
	if err != nil {
		t.Fatalf("Expected captured charge to be applied, got %v", err)
	}
	if result.CreditAmount == nil || *result.CreditAmount != 10 {
		t.Errorf("Expected credit amount 10, got %v", result.CreditAmount)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("Expected one gateway hit, got %d", got)
	}

	snap := env.snapshot(t)
	if len(snap.Payments) != 1 || snap.Payments[0].TxnRef != "60099999" {
		t.Fatalf("Expected the captured charge on the ledger, got %+v", snap.Payments)
	}
	if snap.Users[0].Balance != 10 {
		t.Errorf("Expected balance 10, got %d", snap.Users[0].Balance)
	}
}

// staleStore hands every confirmation the user as it was before any of them committed, the
// way two concurrent transactions both read the row before either writes it.
type staleStore struct {
	*repository.MemoryStore
	stale *models.User
}

func (s *staleStore) FindUserByPendingTxn(ctx context.Context, txnID string) (*models.User, error) {
	if s.stale != nil && s.stale.PendingTxnID == txnID {
		c := *s.stale
		return &c, nil
	}
	return s.MemoryStore.FindUserByPendingTxn(ctx, txnID)
}

func (s *staleStore) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	return fn(s)
}

func TestConfirmAamarpayLosingRaceIsReplay(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	mem := repository.NewMemoryStore()
	store := &staleStore{MemoryStore: mem}
	listener := &recordingListener{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewPaymentService(cfg, log, store, pricing.NewTable(cfg.Pricing), aamarpay.NewClient(cfg.Aamarpay), nil, listener)

	raw, err := svc.IssueAamarpay(context.Background(), AamarpayRequest{Type: "credit", Price: "500", Name: "Ann", Email: "ann@example.com", Phone: "017"})
	if err != nil {
		t.Fatalf("IssueAamarpay failed: %v", err)
	}
	parsed, _ := url.Parse(raw)
	ref := parsed.Query().Get("tran_id")

	store.stale, err = mem.FindUserByPendingTxn(context.Background(), ref)
	if err != nil || store.stale == nil {
		t.Fatalf("Expected pending user, got %v", err)
	}

	cb := AamarpayCallback{Type: "credit", Amount: "500", MerTxnID: ref, PayStatus: "Successful"}
	for i := 0; i < 2; i++ {
		if err := svc.ConfirmAamarpay(context.Background(), cb); err != nil {
			t.Fatalf("confirm %d failed: %v", i+1, err)
		}
	}

	snap, err := mem.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snap.Payments) != 1 {
		t.Fatalf("Expected one ledger entry, got %d", len(snap.Payments))
	}
	if snap.Users[0].Balance != 60 {
		t.Errorf("Expected balance 60, got %d", snap.Users[0].Balance)
	}
	if len(listener.records) != 1 {
		t.Errorf("Expected one notification, got %d", len(listener.records))
	}
}

func intPtr(v int) *int {
	return &v
}
