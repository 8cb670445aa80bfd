package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/config"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/provider"
	"github.com/congo-pay/billpay/internal/provider/simulated"
	"github.com/congo-pay/billpay/internal/provider/vtpass"
)

type testApp struct {
	app     *fiber.App
	backend *simulated.Backend
	svc     *Services
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	backend := simulated.New()
	registry := provider.NewRegistry(backend)
	if err := registry.SetFulfiller(simulated.Code); err != nil {
		t.Fatalf("set fulfiller: %v", err)
	}
	if err := registry.SetCollector(simulated.Code); err != nil {
		t.Fatalf("set collector: %v", err)
	}

	d := Deps{
		Cfg:       config.Config{AppEnv: "test", Currency: "NGN"},
		Logger:    logging.Discard(),
		Providers: registry,
	}
	svc, err := NewServices(d)
	if err != nil {
		t.Fatalf("new services: %v", err)
	}
	app := fiber.New()
	Setup(app, d, svc)
	return testApp{app: app, backend: backend, svc: svc}
}

func (a testApp) do(t *testing.T, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := a.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestPurchaseFlow(t *testing.T) {
	a := newTestApp(t)

	status, body := a.do(t, fiber.MethodPost, "/api/v1/internal/users/u1/wallet", "", "")
	if status != fiber.StatusCreated {
		t.Fatalf("provision: expected 201 got %d %v", status, body)
	}
	if status, _ := a.do(t, fiber.MethodPost, "/api/v1/internal/users/u1/wallet", "", ""); status != fiber.StatusOK {
		t.Fatalf("second provision: expected 200 got %d", status)
	}

	status, body = a.do(t, fiber.MethodPost, "/api/v1/wallet/topups", "u1", `{"amount":"1000.00","email":"ada@example.com"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("topup: expected 201 got %d %v", status, body)
	}
	ref, _ := body["reference"].(string)
	a.backend.MarkPaid(ref)

	status, body = a.do(t, fiber.MethodPost, "/api/v1/wallet/topups/"+ref+"/verify", "u1", "")
	if status != fiber.StatusCreated || body["wallet_balance"] != "1000.00" {
		t.Fatalf("verify: expected credit got %d %v", status, body)
	}

	status, body = a.do(t, fiber.MethodPost, "/api/v1/purchases/airtime", "u1", `{"provider":"mtn","amount":"500","recipient":"08030000000"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("purchase: expected 201 got %d %v", status, body)
	}
	tx, _ := body["transaction"].(map[string]any)
	if tx["status"] != "success" || body["balance_after"] != "500.00" {
		t.Fatalf("unexpected receipt %v", body)
	}

	txID, _ := tx["id"].(string)
	status, body = a.do(t, fiber.MethodGet, "/api/v1/transactions/"+txID, "u1", "")
	if status != fiber.StatusOK || body["status"] != "success" {
		t.Fatalf("status: got %d %v", status, body)
	}
	if status, _ := a.do(t, fiber.MethodGet, "/api/v1/transactions/"+txID, "u2", ""); status != fiber.StatusNotFound {
		t.Fatalf("expected other users to get 404, got %d", status)
	}

	status, _ = a.do(t, fiber.MethodPost, "/api/v1/purchases/airtime", "u1", `{"provider":"mtn","amount":"600","recipient":"08030000000"}`)
	if status != fiber.StatusPaymentRequired {
		t.Fatalf("expected 402 for insufficient funds, got %d", status)
	}

	status, body = a.do(t, fiber.MethodGet, "/api/v1/wallet/audit", "u1", "")
	if status != fiber.StatusOK || body["consistent"] != true {
		t.Fatalf("audit: got %d %v", status, body)
	}
}

func TestPurchaseDuplicateClientReference(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	w, _, err := a.svc.WalletSvc.Provision(ctx, "u1", "")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := a.svc.Wallets.Release(ctx, w.ID, 100_000, "SEED_1", "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	payload := `{"provider":"mtn","amount":"100","recipient":"08030000000","client_reference":"order-1"}`
	if status, _ := a.do(t, fiber.MethodPost, "/api/v1/purchases/airtime", "u1", payload); status != fiber.StatusCreated {
		t.Fatalf("first purchase: expected 201 got %d", status)
	}
	status, body := a.do(t, fiber.MethodPost, "/api/v1/purchases/airtime", "u1", payload)
	if status != fiber.StatusConflict || body["transaction"] == nil {
		t.Fatalf("expected 409 with the original transaction, got %d %v", status, body)
	}
	if a.backend.Calls() != 1 {
		t.Fatalf("expected one provider call, got %d", a.backend.Calls())
	}
}

func TestPurchaseRejectsBadInput(t *testing.T) {
	a := newTestApp(t)
	if _, _, err := a.svc.WalletSvc.Provision(context.Background(), "u1", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}

	if status, _ := a.do(t, fiber.MethodPost, "/api/v1/purchases/airtime", "", `{}`); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without caller, got %d", status)
	}
	if status, _ := a.do(t, fiber.MethodPost, "/api/v1/purchases/lottery", "u1", `{"provider":"mtn","amount":"100","recipient":"0803"}`); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for unknown service type, got %d", status)
	}
	if status, _ := a.do(t, fiber.MethodPost, "/api/v1/purchases/airtime", "ghost", `{"provider":"mtn","amount":"100","recipient":"0803"}`); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 without a wallet, got %d", status)
	}
}

func TestHealthz(t *testing.T) {
	a := newTestApp(t)
	status, body := a.do(t, fiber.MethodGet, "/healthz", "", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	providers, _ := body["providers"].([]any)
	if len(providers) != 1 || providers[0] != simulated.Code {
		t.Fatalf("unexpected providers %v", body["providers"])
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.Config{AppEnv: "development", FulfillmentProvider: "simulated", CollectionProvider: "simulated"}
	registry, err := NewRegistry(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := registry.Fulfiller(); err != nil {
		t.Fatalf("fulfiller: %v", err)
	}

	cfg.AppEnv = "production"
	if _, err := NewRegistry(cfg, logging.Discard()); err == nil {
		t.Fatal("expected the simulated backend to be unavailable in production")
	}
}

func TestVerifyCustomerForwardsMeterType(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/merchant-verify" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"code":"000","content":{"Customer_Name":"ADA OBI","Address":"12 Allen Ave"}}`))
	}))
	t.Cleanup(srv.Close)

	registry := provider.NewRegistry(vtpass.New(srv.URL, "user@example.com", "secret", logging.Discard()))
	if err := registry.SetFulfiller(vtpass.Code); err != nil {
		t.Fatalf("set fulfiller: %v", err)
	}
	d := Deps{
		Cfg:       config.Config{AppEnv: "test", Currency: "NGN"},
		Logger:    logging.Discard(),
		Providers: registry,
	}
	svc, err := NewServices(d)
	if err != nil {
		t.Fatalf("new services: %v", err)
	}
	app := fiber.New()
	Setup(app, d, svc)
	a := testApp{app: app, svc: svc}

	for _, query := range []string{"meter_type=prepaid", "type=prepaid"} {
		got = nil
		path := "/api/v1/customers/verify?service_type=electricity&provider=ikeja-electric&customer_id=1111111111111&" + query
		status, body := a.do(t, fiber.MethodGet, path, "u1", "")
		if status != fiber.StatusOK || body["name"] != "ADA OBI" {
			t.Fatalf("%s: expected verified customer, got %d %v", query, status, body)
		}
		if got["type"] != "prepaid" || got["billersCode"] != "1111111111111" || got["serviceID"] != "ikeja-electric" {
			t.Fatalf("%s: unexpected verification request %v", query, got)
		}
	}
}
