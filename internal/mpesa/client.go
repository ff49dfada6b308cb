// Package mpesa talks to the Safaricom Daraja API: the OAuth token
// exchange and the Lipa Na M-Pesa Online (STK push) request.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SandboxBaseURL   = "https://sandbox.safaricom.co.ke"
	SandboxShortCode = "174379"

	transactionType       = "CustomerPayBillOnline"
	transactionDesc       = "Order payment"
	accountReferenceLimit = 12
	tokenExpirySkew       = 60 * time.Second
	defaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 512
)

// Timestamps and passwords are computed in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

var tracer = otel.Tracer("mpesa/client")

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	ShortCode      string
	CallbackURL    string
	RequestTimeout time.Duration
}

func (c Config) Validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "MPESA_BASE_URL")
	}
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		missing = append(missing, "MPESA_CONSUMER_KEY/MPESA_CONSUMER_SECRET")
	}
	if c.Passkey == "" {
		missing = append(missing, "MPESA_PASSKEY")
	}
	if c.ShortCode == "" {
		missing = append(missing, "MPESA_SHORTCODE")
	}
	if c.CallbackURL == "" {
		missing = append(missing, "MPESA_CALLBACK_URL or PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("mpesa config missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     tokenCache
	now        func() time.Time
}

func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// AccessToken returns a cached token, exchanging the consumer credentials
// for a new one when the cached token is missing or about to expire.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := c.tokens.get(c.now()); ok {
		return tok, nil
	}

	v, err, _ := c.tokens.refresh.Do("access_token", func() (any, error) {
		if tok, ok := c.tokens.get(c.now()); ok {
			return tok, nil
		}
		// detached: every waiting caller shares this exchange
		resp, err := c.fetchToken(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		ttl := time.Duration(resp.ExpiresIn)*time.Second - tokenExpirySkew
		if ttl <= 0 {
			ttl = time.Duration(resp.ExpiresIn) * time.Second / 2
		}
		c.tokens.set(resp.AccessToken, c.now().Add(ttl))
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (*tokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("token request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: token endpoint returned status %d: %s", ErrAuthFailed, resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return nil, unavailable("token request", fmt.Errorf("status %d: %s", resp.StatusCode, readSnippet(resp.Body)))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, unavailable("decode token response", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}
	return &tok, nil
}

// STKPush asks the gateway to prompt the buyer's phone for payment. The
// returned CheckoutRequestID is what the gateway echoes back in its callback.
func (c *Client) STKPush(ctx context.Context, pr PushRequest) (*PushResponse, error) {
	ctx, span := tracer.Start(ctx, "mpesa stkpush",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("order.id", pr.OrderID),
			attribute.Int64("payment.amount", pr.Amount),
		),
	)
	defer span.End()

	resp, err := c.stkPush(ctx, pr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", resp.CheckoutRequestID))
	return resp, nil
}

func (c *Client) stkPush(ctx context.Context, pr PushRequest) (*PushResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().In(eat).Format("20060102150405")
	payload := stkPushPayload{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            pr.Amount,
		PartyA:            pr.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       pr.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  AccountReference(pr.OrderID),
		TransactionDesc:   transactionDesc,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal stk push: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create stk push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable("stk push", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.invalidate()
		return nil, fmt.Errorf("%w: stk push returned status 401: %s", ErrAuthFailed, readSnippet(resp.Body))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, unavailable("read stk push response", err)
	}

	var out stkPushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, unavailable("stk push", fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil, &RejectedError{Code: fmt.Sprint(resp.StatusCode), Description: "unreadable gateway response"}
	}

	if resp.StatusCode >= http.StatusInternalServerError && out.ErrorCode == "" && out.ResponseCode == "" {
		return nil, unavailable("stk push", fmt.Errorf("status %d", resp.StatusCode))
	}

	if resp.StatusCode/100 != 2 || out.ResponseCode != "0" {
		code := firstNonEmpty(out.ErrorCode, out.ResponseCode, fmt.Sprint(resp.StatusCode))
		desc := firstNonEmpty(out.ErrorMessage, out.ResponseDescription, "failed to initiate payment")
		return nil, &RejectedError{Code: code, Description: desc}
	}

	if out.CheckoutRequestID == "" {
		return nil, &RejectedError{Code: out.ResponseCode, Description: "gateway response missing CheckoutRequestID"}
	}

	return &PushResponse{
		MerchantRequestID:   out.MerchantRequestID,
		CheckoutRequestID:   out.CheckoutRequestID,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// AccountReference truncates the order id to the gateway's field limit.
func AccountReference(orderID string) string {
	if len(orderID) <= accountReferenceLimit {
		return orderID
	}
	return orderID[:accountReferenceLimit]
}

// IsRejected reports whether err is a gateway refusal rather than an
// infrastructure failure.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
