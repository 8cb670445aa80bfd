package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/congo-pay/billpay/internal/money"
	"github.com/congo-pay/billpay/internal/provider"
)

func TestInitializeAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing bearer token")
		}
		switch r.URL.Path {
		case "/transaction/initialize":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["amount"] != "250000" {
				t.Errorf("expected amount in kobo, got %v", body["amount"])
			}
			_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"TOPUP-1"}}`))
		case "/transaction/verify/TOPUP-1":
			_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"status":"success","reference":"TOPUP-1","amount":250000,"currency":"NGN","channel":"card","paid_at":"2026-01-02T10:00:00Z"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "sk_test")
	ctx := context.Background()

	checkout, err := c.InitializePayment(ctx, provider.CollectRequest{Reference: "TOPUP-1", Email: "a@b.com", Amount: money.FromMajor(2500)})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if checkout.AuthorizationURL != "https://checkout.paystack.com/abc" {
		t.Fatalf("unexpected checkout %+v", checkout)
	}

	p, err := c.VerifyPayment(ctx, "TOPUP-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Status != provider.PaymentSuccess || p.Amount != money.FromMajor(2500) || p.PaidAt.IsZero() {
		t.Fatalf("unexpected payment %+v", p)
	}

	if _, err := c.VerifyPayment(ctx, "missing"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestServerErrorIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "sk").VerifyPayment(context.Background(), "x"); !errors.Is(err, provider.ErrAmbiguous) {
		t.Fatalf("expected ambiguous, got %v", err)
	}
}

func TestVerifyPaymentMetadata(t *testing.T) {
	cases := []struct {
		metadata string
		want     map[string]string
		wantErr  bool
	}{
		{metadata: `{"wallet_id":"w-1","user_id":"u-1","custom_fields":[]}`, want: map[string]string{"wallet_id": "w-1", "user_id": "u-1"}},
		{metadata: `"{\"wallet_id\":\"w-1\"}"`, want: map[string]string{"wallet_id": "w-1"}},
		{metadata: `""`},
		{metadata: `null`},
		{metadata: `"not json"`, wantErr: true},
		{metadata: `[1,2]`, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":true,"data":{"status":"success","reference":"TOPUP-1","amount":500000,"currency":"NGN","metadata":` + tc.metadata + `}}`))
		}))

		p, err := New(srv.URL, "sk").VerifyPayment(context.Background(), "TOPUP-1")
		srv.Close()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("metadata %s: expected decode error", tc.metadata)
			}
			continue
		}
		if err != nil {
			t.Fatalf("metadata %s: %v", tc.metadata, err)
		}
		if len(p.Metadata) != len(tc.want) {
			t.Fatalf("metadata %s: got %v", tc.metadata, p.Metadata)
		}
		for k, v := range tc.want {
			if p.Metadata[k] != v {
				t.Fatalf("metadata %s: expected %s=%s, got %v", tc.metadata, k, v, p.Metadata)
			}
		}
	}
}
