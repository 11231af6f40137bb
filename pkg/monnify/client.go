package monnify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shopcore/commerce-backend/pkg/config"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
)

const (
	providerName          = "monnify"
	responseBodyReadLimit = 2048
	defaultRequestTimeout = 15 * time.Second
	defaultTokenLeeway    = time.Minute
	defaultCurrency       = "NGN"
	loginPath             = "/api/v1/auth/login"
	initTransactionPath   = "/api/v1/merchant/transactions/init-transaction"
	transactionStatusPath = "/api/v2/transactions/"
	initiateRefundPath    = "/api/v1/refunds/initiate-refund"
)

var (
	errAPIKeyRequired       = errors.New("monnify api key is required")
	errSecretKeyRequired    = errors.New("monnify secret key is required")
	errContractCodeRequired = errors.New("monnify contract code is required")
)

// TokenStore shares access tokens between instances.
type TokenStore interface {
	StoreGatewayToken(ctx context.Context, provider, token string, ttl time.Duration) error
	GatewayToken(ctx context.Context, provider string) (string, error)
}

// Client talks to the Monnify collections API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	secretKey    string
	contractCode string
	currency     string
	leeway       time.Duration
	tokens       TokenStore
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
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

// WithTokenStore shares the bearer token through an external cache.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		c.tokens = store
	}
}

// NewClient validates credentials and builds a client with a bounded timeout.
func NewClient(cfg config.MonnifyConfig, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	contract := strings.TrimSpace(cfg.ContractCode)
	if contract == "" {
		return nil, errContractCodeRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	leeway := cfg.TokenLeeway
	if leeway <= 0 {
		leeway = defaultTokenLeeway
	}
	currency := strings.TrimSpace(cfg.CurrencyCode)
	if currency == "" {
		currency = defaultCurrency
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       apiKey,
		secretKey:    secret,
		contractCode: contract,
		currency:     currency,
		leeway:       leeway,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Currency is the ISO code used for every transaction.
func (c *Client) Currency() string {
	return c.currency
}

// InitializeTransaction creates a hosted checkout session.
func (c *Client) InitializeTransaction(ctx context.Context, req InitRequest) (*InitResult, error) {
	if strings.TrimSpace(req.PaymentReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	body := map[string]any{
		"amount":             json.Number(req.Amount.StringFixed(2)),
		"customerName":       req.CustomerName,
		"customerEmail":      req.CustomerEmail,
		"paymentReference":   req.PaymentReference,
		"paymentDescription": req.PaymentDescription,
		"currencyCode":       c.currency,
		"contractCode":       c.contractCode,
	}
	if req.RedirectURL != "" {
		body["redirectUrl"] = req.RedirectURL
	}
	if len(req.PaymentMethods) > 0 {
		body["paymentMethods"] = req.PaymentMethods
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out InitResult
	if err := c.do(ctx, http.MethodPost, initTransactionPath, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransactionStatus queries the authoritative status of a transaction.
func (c *Client) GetTransactionStatus(ctx context.Context, transactionReference string) (*Transaction, error) {
	ref := strings.TrimSpace(transactionReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	var out Transaction
	if err := c.do(ctx, http.MethodGet, transactionStatusPath+url.PathEscape(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateRefund reverses money back to the payer's original instrument.
func (c *Client) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if strings.TrimSpace(req.TransactionReference) == "" || strings.TrimSpace(req.RefundReference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction and refund references are required")
	}
	body := map[string]any{
		"transactionReference": req.TransactionReference,
		"refundReference":      req.RefundReference,
		"refundAmount":         json.Number(req.Amount.StringFixed(2)),
		"refundReason":         req.Reason,
		"customerNote":         req.CustomerNote,
	}
	var out RefundResult
	if err := c.do(ctx, http.MethodPost, initiateRefundPath, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	status, env, err := c.send(ctx, method, path, body, "Bearer "+token)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.invalidateToken()
	}
	return decodeEnvelope(status, env, out)
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.expiresAt) {
		return c.accessToken, nil
	}
	if c.tokens != nil {
		if shared, err := c.tokens.GatewayToken(ctx, providerName); err == nil && shared != "" {
			c.accessToken = shared
			c.expiresAt = c.now().Add(c.leeway)
			return shared, nil
		}
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.apiKey + ":" + c.secretKey))
	status, env, err := c.send(ctx, http.MethodPost, loginPath, nil, "Basic "+basic)
	if err != nil {
		return "", err
	}
	var login loginBody
	if err := decodeEnvelope(status, env, &login); err != nil {
		return "", err
	}
	if login.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "monnify login returned no token")
	}

	ttl := time.Duration(login.ExpiresIn)*time.Second - c.leeway
	if ttl < 0 {
		ttl = 0
	}
	c.accessToken = login.AccessToken
	c.expiresAt = c.now().Add(ttl)
	if c.tokens != nil {
		_ = c.tokens.StoreGatewayToken(ctx, providerName, login.AccessToken, ttl)
	}
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.accessToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, method, path string, body any, authorization string) (int, *envelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal monnify request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build monnify request")
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, "monnify request timed out")
		}
		return 0, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute monnify request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return 0, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, "monnify response timed out")
		}
		return 0, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read monnify response")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return resp.StatusCode, nil, statusError(resp.StatusCode, raw)
		}
		return 0, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode monnify response")
	}
	return resp.StatusCode, &env, nil
}

func decodeEnvelope(status int, env *envelope, out any) error {
	if env == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("monnify returned status %d", status))
	}
	if status == http.StatusNotFound {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found at gateway").
			WithDetails(map[string]any{"provider_message": env.ResponseMessage})
	}
	if status >= 300 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("monnify returned status %d", status)).
			WithDetails(map[string]any{"provider_message": env.ResponseMessage, "provider_code": env.ResponseCode})
	}
	if !env.RequestSuccessful {
		msg := strings.TrimSpace(env.ResponseMessage)
		if msg == "" {
			msg = "monnify request unsuccessful"
		}
		return pkgerrors.New(pkgerrors.CodeDependency, msg).
			WithDetails(map[string]any{"provider_code": env.ResponseCode})
	}
	if out == nil || len(env.ResponseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.ResponseBody, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode monnify response body")
	}
	return nil
}

func statusError(status int, raw []byte) error {
	if len(raw) > responseBodyReadLimit {
		raw = raw[:responseBodyReadLimit]
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency,
		fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(raw))),
		"monnify request failed")
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
