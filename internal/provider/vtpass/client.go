// Package vtpass talks to a VTPass-style bill payment API over JSON/HTTPS.
package vtpass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/congo-pay/billpay/internal/catalog"
	"github.com/congo-pay/billpay/internal/provider"
)

// Code is the registry code of this backend.
const Code = "vtpass"

const (
	codeProcessed      = "000"
	codeProcessing     = "099"
	codeFailed         = "016"
	codeUnknownRequest = "015"
)

// Client is a fulfillment backend. It never retries: a request that did not get a
// definite answer is reported as provider.ErrAmbiguous and settled later by requery.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	logger     *slog.Logger
}

// New builds a client with a bounded HTTP timeout.
func New(baseURL, username, password string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Username:   username,
		Password:   password,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(slog.String("component", "vtpass")),
	}
}

func (c *Client) Code() string { return Code }

func (c *Client) Capabilities() provider.Capability { return provider.CapFulfillment }

type envelope struct {
	Code                string          `json:"code"`
	ResponseDescription string          `json:"response_description"`
	RequestID           string          `json:"requestId"`
	PurchasedCode       string          `json:"purchased_code"`
	Token               string          `json:"token"`
	MainToken           string          `json:"mainToken"`
	Content             json.RawMessage `json:"content"`
}

type payContent struct {
	Transactions struct {
		Status        string `json:"status"`
		TransactionID string `json:"transactionId"`
		ProductName   string `json:"product_name"`
	} `json:"transactions"`
	Error string `json:"error"`
}

// serviceID maps a product provider code to the VTPass service identifier.
func serviceID(serviceType catalog.ServiceType, providerCode string) string {
	code := strings.ToLower(providerCode)
	if serviceType == catalog.ServiceData && !strings.HasSuffix(code, "-data") {
		return code + "-data"
	}
	return code
}

// reserved request fields that Params may not override.
var reserved = map[string]bool{
	"request_id": true, "serviceID": true, "billersCode": true,
	"variation_code": true, "amount": true, "phone": true,
}

func (c *Client) Fulfill(ctx context.Context, req provider.FulfillRequest) (provider.Result, error) {
	body := map[string]any{
		"request_id":  req.IdempotencyKey,
		"serviceID":   serviceID(req.ServiceType, req.Provider),
		"billersCode": req.Recipient,
		"amount":      json.Number(req.Amount.String()),
		"phone":       req.Phone,
	}
	if body["phone"] == "" {
		body["phone"] = req.Recipient
	}

	variation := req.PlanID
	if req.ServiceType == catalog.ServiceElectricity && variation == "" {
		variation = req.Params["meter_type"]
	}
	if variation != "" {
		body["variation_code"] = variation
	}
	// insurance and education products carry provider specific fields
	for k, v := range req.Params {
		if !reserved[k] && k != "meter_type" {
			body[k] = v
		}
	}

	env, err := c.post(ctx, "/api/pay", body)
	if err != nil {
		return provider.Result{}, err
	}
	return c.toResult(env, req.IdempotencyKey)
}

func (c *Client) Requery(ctx context.Context, key string) (provider.Result, error) {
	env, err := c.post(ctx, "/api/requery", map[string]any{"request_id": key})
	if err != nil {
		return provider.Result{}, err
	}
	return c.toResult(env, key)
}

func (c *Client) toResult(env envelope, key string) (provider.Result, error) {
	res := provider.Result{Message: env.ResponseDescription}

	var content payContent
	if len(env.Content) > 0 {
		if err := json.Unmarshal(env.Content, &content); err != nil {
			return provider.Result{}, fmt.Errorf("%w: decode content: %v", provider.ErrAmbiguous, err)
		}
	}
	res.ProviderReference = content.Transactions.TransactionID
	res.PurchasedCode = firstNonEmpty(env.PurchasedCode, env.MainToken, env.Token)

	switch env.Code {
	case codeProcessed:
		switch strings.ToLower(content.Transactions.Status) {
		case "delivered":
			res.Status = provider.StatusSuccess
		case "failed", "reversed":
			res.Status = provider.StatusFailed
		default:
			res.Status = provider.StatusPending
		}
	case codeProcessing:
		res.Status = provider.StatusPending
	case codeFailed, codeUnknownRequest:
		res.Status = provider.StatusFailed
	default:
		res.Status = provider.StatusFailed
		if content.Error != "" {
			res.Message = content.Error
		}
	}

	c.logger.Debug("vtpass response",
		slog.String("request_id", key),
		slog.String("code", env.Code),
		slog.String("status", string(res.Status)),
	)
	return res, nil
}

type verifyContent struct {
	CustomerName   string `json:"Customer_Name"`
	Address        string `json:"Address"`
	MeterNumber    string `json:"Meter_Number"`
	CustomerNumber string `json:"Customer_Number"`
	Status         string `json:"Status"`
	DueDate        string `json:"Due_Date"`
	CurrentBouquet string `json:"Current_Bouquet"`
	Error          string `json:"error"`
}

// ErrCustomerNotFound is returned when the provider rejects the customer identifier.
var ErrCustomerNotFound = errors.New("customer not found")

func (c *Client) VerifyCustomer(ctx context.Context, serviceType catalog.ServiceType, providerCode, customerID string, params map[string]string) (provider.CustomerInfo, error) {
	body := map[string]any{
		"billersCode": customerID,
		"serviceID":   serviceID(serviceType, providerCode),
	}
	if t := params["meter_type"]; t != "" {
		body["type"] = t
	}

	env, err := c.post(ctx, "/api/merchant-verify", body)
	if err != nil {
		return provider.CustomerInfo{}, err
	}
	var content verifyContent
	if err := json.Unmarshal(env.Content, &content); err != nil {
		return provider.CustomerInfo{}, fmt.Errorf("decode verification: %w", err)
	}
	if env.Code != codeProcessed || content.Error != "" || content.CustomerName == "" {
		return provider.CustomerInfo{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, firstNonEmpty(content.Error, env.ResponseDescription))
	}

	info := provider.CustomerInfo{
		CustomerID: customerID,
		Name:       content.CustomerName,
		Address:    content.Address,
		Extra:      map[string]string{},
	}
	for k, v := range map[string]string{
		"meter_number":    content.MeterNumber,
		"customer_number": content.CustomerNumber,
		"status":          content.Status,
		"due_date":        content.DueDate,
		"current_bouquet": content.CurrentBouquet,
	} {
		if v != "" {
			info.Extra[k] = v
		}
	}
	return info, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.Username, c.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %v", provider.ErrAmbiguous, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: read body: %v", provider.ErrAmbiguous, err)
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		// the order may still have been taken
		return envelope{}, fmt.Errorf("%w: status %d", provider.ErrAmbiguous, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return envelope{Code: fmt.Sprintf("http_%d", resp.StatusCode), ResponseDescription: string(raw)}, nil
		}
		return envelope{}, fmt.Errorf("%w: decode response: %v", provider.ErrAmbiguous, err)
	}
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
