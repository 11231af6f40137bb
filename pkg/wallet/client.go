package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shopcore/commerce-backend/pkg/config"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("wallet base url is required")

// SettlementAccount is the bank account a business is paid into.
type SettlementAccount struct {
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
}

// CreditRequest credits a customer's wallet, used for WALLET refunds.
type CreditRequest struct {
	CustomerID uuid.UUID
	Amount     decimal.Decimal
	Reference  string
	Narration  string
}

// ReversalRequest claws back part of a settlement from a business.
type ReversalRequest struct {
	BusinessID uuid.UUID
	Amount     decimal.Decimal
	Reference  string
	Narration  string
}

// Transfer is the wallet service's record of a money movement.
type Transfer struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Client calls the wallet/payout provisioning service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the instrumented default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the wallet client.
func NewClient(cfg config.WalletConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errBaseURLRequired
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// ResolveSettlementAccount returns the payout destination of a business.
func (c *Client) ResolveSettlementAccount(ctx context.Context, businessID uuid.UUID) (*SettlementAccount, error) {
	if businessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	var out SettlementAccount
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/businesses/%s/settlement-account", businessID), nil, &out); err != nil {
		return nil, err
	}
	if out.AccountNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "business has no settlement account")
	}
	return &out, nil
}

// CreditCustomer moves a refund into the customer's wallet.
func (c *Client) CreditCustomer(ctx context.Context, req CreditRequest) (*Transfer, error) {
	if req.CustomerID == uuid.Nil || !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id and positive amount are required")
	}
	body := map[string]any{
		"customerId": req.CustomerID.String(),
		"amount":     json.Number(req.Amount.StringFixed(2)),
		"reference":  req.Reference,
		"narration":  req.Narration,
	}
	var out Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/wallets/credits", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReverseSettlement debits a business for its share of a refund.
func (c *Client) ReverseSettlement(ctx context.Context, req ReversalRequest) (*Transfer, error) {
	if req.BusinessID == uuid.Nil || !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id and positive amount are required")
	}
	body := map[string]any{
		"businessId": req.BusinessID.String(),
		"amount":     json.Number(req.Amount.StringFixed(2)),
		"reference":  req.Reference,
		"narration":  req.Narration,
	}
	var out Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/settlements/reversals", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal wallet request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build wallet request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute wallet request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, "wallet resource not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "wallet request failed")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode wallet response")
	}
	return nil
}
