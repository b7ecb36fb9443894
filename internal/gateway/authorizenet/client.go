package authorizenet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/digkill/QuickDatePay/internal/config"
)

const (
	SandboxEndpoint    = "https://apitest.authorize.net/xml/v1/request.api"
	ProductionEndpoint = "https://api.authorize.net/xml/v1/request.api"

	defaultTimeout = 30 * time.Second
	maxAttempts    = 2
)

var (
	// ErrEmptyResponse means the gateway answered without a usable body.
	ErrEmptyResponse = errors.New("empty gateway response")
	errRetryable     = errors.New("retryable gateway failure")
)

// DeclinedError carries the gateway's own explanation for a refused charge.
type DeclinedError struct {
	Text string
}

func (e *DeclinedError) Error() string {
	return "charge declined: " + e.Text
}

// ChargeRequest is an auth-and-capture against client-side tokenized payment data.
type ChargeRequest struct {
	Amount         int
	DataDescriptor string
	DataValue      string
}

type ChargeResult struct {
	TransID      string
	AuthCode     string
	ResponseCode string
}

// Outcome is delivered exactly once on the channel returned by ChargeAsync.
type Outcome struct {
	Result *ChargeResult
	Err    error
}

type Client struct {
	loginID        string
	transactionKey string
	endpoint       string
	timeout        time.Duration
	httpClient     *http.Client
	log            *slog.Logger
}

type Option func(*Client)

// WithEndpoint overrides the API endpoint derived from the configured mode.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func NewClient(cfg config.Authorize, log *slog.Logger, opts ...Option) *Client {
	endpoint := ProductionEndpoint
	if cfg.Mode == "SANDBOX" {
		endpoint = SandboxEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		loginID:        cfg.LoginID,
		transactionKey: cfg.TransactionKey,
		endpoint:       endpoint,
		timeout:        timeout,
		httpClient:     &http.Client{},
		log:            log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChargeAsync submits the charge in the background. The whole exchange, including one
// retry on transport errors or 5xx answers, is bounded by the configured timeout.
func (c *Client) ChargeAsync(ctx context.Context, req ChargeRequest) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		result, err := c.chargeWithRetry(ctx, req)
		out <- Outcome{Result: result, Err: err}
	}()
	return out
}

// Charge blocks until the gateway has answered or the call has failed. It returns only once
// the outcome is known, so a caller never abandons a charge the gateway may have captured.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	outcome := <-c.ChargeAsync(ctx, req)
	return outcome.Result, outcome.Err
}

func (c *Client) chargeWithRetry(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.charge(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) || ctx.Err() != nil {
			break
		}
		if c.log != nil {
			c.log.Warn("authorize.net charge attempt failed", "attempt", attempt, "err", err)
		}
	}
	return nil, lastErr
}

func (c *Client) charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload := createTransactionEnvelope{
		Request: createTransactionRequest{
			MerchantAuthentication: merchantAuthentication{
				Name:           c.loginID,
				TransactionKey: c.transactionKey,
			},
			TransactionRequest: transactionRequest{
				TransactionType: "authCaptureTransaction",
				Amount:          strconv.Itoa(req.Amount),
				Payment: payment{
					OpaqueData: opaqueData{
						DataDescriptor: req.DataDescriptor,
						DataValue:      req.DataValue,
					},
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errRetryable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
	}

	// The JSON endpoint prefixes its body with a UTF-8 byte order mark.
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyResponse
	}

	var parsed createTransactionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrEmptyResponse, err)
	}
	return interpret(parsed)
}

func interpret(resp createTransactionResponse) (*ChargeResult, error) {
	tr := resp.TransactionResponse
	if resp.Messages.ResultCode == "Ok" && tr != nil && len(tr.Messages) > 0 {
		return &ChargeResult{
			TransID:      tr.TransID,
			AuthCode:     tr.AuthCode,
			ResponseCode: tr.ResponseCode,
		}, nil
	}

	text := "unknown_error"
	switch {
	case tr != nil && len(tr.Errors) > 0:
		text = tr.Errors[0].ErrorText
	case resp.Messages.ResultCode != "Ok" && len(resp.Messages.Message) > 0:
		text = resp.Messages.Message[0].Text
	}
	return nil, &DeclinedError{Text: text}
}
