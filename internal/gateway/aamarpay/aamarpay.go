package aamarpay

import (
	"math/rand/v2"
	"net/url"
	"strconv"

	"github.com/digkill/QuickDatePay/internal/config"
)

const (
	sandboxBaseURL = "https://sandbox.aamarpay.com/"
	liveBaseURL    = "https://secure.aamarpay.com/"
)

// Client builds hosted-checkout redirects. It never talks to Aamarpay itself: the
// mobile client follows the URL and Aamarpay calls the success webhook afterwards.
type Client struct {
	storeID string
	baseURL string
	intn    func(n int) int
}

func NewClient(cfg config.Aamarpay) *Client {
	base := liveBaseURL
	if cfg.Mode == "" || cfg.Mode == "sandbox" {
		base = sandboxBaseURL
	}
	return &Client{
		storeID: cfg.StoreID,
		baseURL: base,
		intn:    rand.IntN,
	}
}

// NewTxnID returns a random seven digit reference. References are not guaranteed
// unique; a collision with another pending reference is possible.
func (c *Client) NewTxnID() string {
	return strconv.Itoa(1000000 + c.intn(8999999))
}

// RedirectURL is the hosted checkout page for txnID.
func (c *Client) RedirectURL(txnID, purchaseType string, amount int) string {
	q := url.Values{}
	q.Set("tran_id", txnID)
	q.Set("type", purchaseType)
	q.Set("amount", strconv.Itoa(amount))
	return c.baseURL + "request.php?" + q.Encode()
}

func (c *Client) StoreID() string {
	return c.storeID
}
