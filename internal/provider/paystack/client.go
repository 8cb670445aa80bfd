// Package paystack collects wallet top-ups through a Paystack-style checkout API.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/congo-pay/billpay/internal/money"
	"github.com/congo-pay/billpay/internal/provider"
)

// Code is the registry code of this backend.
const Code = "paystack"

// ErrRejected is returned when the API answers with status=false.
var ErrRejected = errors.New("paystack rejected request")

// Client is a payment collection backend authenticated with a secret key.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// New builds a client with a bounded HTTP timeout.
func New(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SecretKey:  secretKey,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Code() string { return Code }

func (c *Client) Capabilities() provider.Capability { return provider.CapPaymentCollection }

type response[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	PaidAt    *time.Time      `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// InitializePayment opens a checkout. Amounts are sent in minor units.
func (c *Client) InitializePayment(ctx context.Context, req provider.CollectRequest) (provider.Checkout, error) {
	if !req.Amount.IsPositive() {
		return provider.Checkout{}, money.ErrInvalidAmount
	}
	body := map[string]any{
		"email":     req.Email,
		"amount":    fmt.Sprintf("%d", req.Amount.Minor()),
		"reference": req.Reference,
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out response[initializeData]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return provider.Checkout{}, err
	}
	return provider.Checkout{
		Reference:        out.Data.Reference,
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
	}, nil
}

// VerifyPayment reads the authoritative status of a checkout.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (provider.Payment, error) {
	var out response[verifyData]
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return provider.Payment{}, err
	}

	p := provider.Payment{
		Reference: out.Data.Reference,
		Amount:    money.FromMinor(out.Data.Amount),
		Currency:  out.Data.Currency,
		Channel:   out.Data.Channel,
	}
	metadata, err := decodeMetadata(out.Data.Metadata)
	if err != nil {
		return provider.Payment{}, fmt.Errorf("payment %s: %w", reference, err)
	}
	p.Metadata = metadata
	if out.Data.PaidAt != nil {
		p.PaidAt = *out.Data.PaidAt
	}
	switch out.Data.Status {
	case "success":
		p.Status = provider.PaymentSuccess
	case "failed", "abandoned", "reversed":
		p.Status = provider.PaymentFailed
	default:
		p.Status = provider.PaymentPending
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out interface{ ok() (bool, string) }) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrAmbiguous, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", provider.ErrAmbiguous, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", provider.ErrAmbiguous, err)
	}
	if ok, msg := out.ok(); !ok {
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return nil
}

func (r *response[T]) ok() (bool, string) { return r.Status, r.Message }

// decodeMetadata reads the metadata object sent at initialization. Paystack
// answers "" or null when none was sent and may echo it back as a JSON string.
func decodeMetadata(raw json.RawMessage) (map[string]string, error) {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == `""` {
		return nil, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}
