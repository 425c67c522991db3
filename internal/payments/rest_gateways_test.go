package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return body
}

func checkoutRequest() InitializeRequest {
	return InitializeRequest{
		OrderID:        "ord_1",
		OrderReference: "ORD-01HZX",
		Amount:         1250050,
		Currency:       "ngn",
		Email:          "ada@example.com",
		CustomerName:   "Ada",
		CallbackURL:    "http://localhost:3000/payment/verify",
	}
}

func TestPaystackInitializeAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected authorization %q", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transaction/initialize":
			body := decodeBody(t, r)
			if body["reference"] != "ORD-01HZX" || body["amount"] != float64(1250050) || body["currency"] != "NGN" {
				t.Errorf("unexpected initialize body %v", body)
			}
			_, _ = w.Write([]byte(`{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/abc","reference":"ORD-01HZX"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/transaction/verify/ORD-01HZX":
			_, _ = w.Write([]byte(`{"status":true,"data":{"id":4099,"status":"success","reference":"ORD-01HZX","amount":1250050,"currency":"NGN","metadata":{"order_reference":"ORD-01HZX"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gw, err := NewPaystack(PaystackConfig{SecretKey: "sk_test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewPaystack: %v", err)
	}

	session, err := gw.Initialize(context.Background(), checkoutRequest())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if session.Reference != "ORD-01HZX" || session.RedirectURL != "https://checkout.paystack.com/abc" {
		t.Fatalf("unexpected session %+v", session)
	}

	result, err := gw.Verify(context.Background(), "ORD-01HZX")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != StatusSuccess || result.Amount != 1250050 || result.Currency != "NGN" || result.ExternalID != "4099" || result.OrderReference != "ORD-01HZX" {
		t.Fatalf("unexpected verification %+v", result)
	}

	if _, err := gw.Verify(context.Background(), "missing"); !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound, got %v", err)
	}
}

func TestPaystackVerifyFailedCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":true,"data":{"id":1,"status":"failed","reference":"ORD-2","amount":100,"currency":"NGN"}}`))
	}))
	defer srv.Close()

	gw, _ := NewPaystack(PaystackConfig{SecretKey: "sk", BaseURL: srv.URL})
	result, err := gw.Verify(context.Background(), "ORD-2")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != StatusFailed || result.OrderReference != "ORD-2" {
		t.Fatalf("unexpected verification %+v", result)
	}
}

func TestRESTClientMapsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw, _ := NewPaystack(PaystackConfig{SecretKey: "sk", BaseURL: srv.URL})
	if _, err := gw.Verify(context.Background(), "ORD-3"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if _, err := gw.Verify(context.Background(), "bad"); !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}

	srv.Close()
	if _, err := gw.Verify(context.Background(), "ORD-3"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected transport failure to be unavailable, got %v", err)
	}
}

func TestFlutterwaveInitializeAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v3/payments":
			body := decodeBody(t, r)
			if body["tx_ref"] != "ORD-01HZX" || body["amount"] != 12500.5 {
				t.Errorf("unexpected initialize body %v", body)
			}
			_, _ = w.Write([]byte(`{"status":"success","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/x"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v3/transactions/verify_by_reference":
			if r.URL.Query().Get("tx_ref") != "ORD-01HZX" {
				t.Errorf("unexpected tx_ref %q", r.URL.Query().Get("tx_ref"))
			}
			_, _ = w.Write([]byte(`{"status":"success","data":{"id":288200,"tx_ref":"ORD-01HZX","status":"successful","amount":12500.5,"currency":"NGN"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gw, err := NewFlutterwave(FlutterwaveConfig{SecretKey: "FLWSECK", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewFlutterwave: %v", err)
	}
	session, err := gw.Initialize(context.Background(), checkoutRequest())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if session.Reference != "ORD-01HZX" {
		t.Fatalf("unexpected session %+v", session)
	}

	result, err := gw.Verify(context.Background(), "ORD-01HZX")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != StatusSuccess || result.Amount != 1250050 || result.ExternalID != "288200" {
		t.Fatalf("unexpected verification %+v", result)
	}
}

func TestMonnifyCachesAccessToken(t *testing.T) {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			logins.Add(1)
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
				t.Errorf("expected basic auth on login")
			}
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"accessToken":"tok","expiresIn":3600}}`))
		case "/api/v1/merchant/transactions/init-transaction":
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("expected bearer token")
			}
			body := decodeBody(t, r)
			if body["contractCode"] != "C123" || body["paymentReference"] != "ORD-01HZX" {
				t.Errorf("unexpected init body %v", body)
			}
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"transactionReference":"MNFY|1","paymentReference":"ORD-01HZX","checkoutUrl":"https://sandbox.monnify.com/checkout/1"}}`))
		case "/api/v2/merchant/transactions/query":
			_, _ = w.Write([]byte(`{"requestSuccessful":true,"responseBody":{"transactionReference":"MNFY|1","paymentReference":"ORD-01HZX","amountPaid":12500.50,"paymentStatus":"PAID","currencyCode":"NGN"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	gw, err := NewMonnify(MonnifyConfig{APIKey: "MK", SecretKey: "SK", ContractCode: "C123", BaseURL: srv.URL, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewMonnify: %v", err)
	}

	if _, err := gw.Initialize(context.Background(), checkoutRequest()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	result, err := gw.Verify(context.Background(), "ORD-01HZX")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != StatusSuccess || result.Amount != 1250050 || result.ExternalID != "MNFY|1" {
		t.Fatalf("unexpected verification %+v", result)
	}
	if logins.Load() != 1 {
		t.Fatalf("expected token to be reused, got %d logins", logins.Load())
	}

	now = now.Add(2 * time.Hour)
	if _, err := gw.Verify(context.Background(), "ORD-01HZX"); err != nil {
		t.Fatalf("Verify after expiry: %v", err)
	}
	if logins.Load() != 2 {
		t.Fatalf("expected re-login after expiry, got %d logins", logins.Load())
	}
}

func TestRESTWebhookParsers(t *testing.T) {
	paystack, _ := NewPaystack(PaystackConfig{SecretKey: "sk"})
	flutterwave, _ := NewFlutterwave(FlutterwaveConfig{SecretKey: "sk"})
	monnify, _ := NewMonnify(MonnifyConfig{APIKey: "a", SecretKey: "b", ContractCode: "c"})

	cases := []struct {
		name      string
		parser    WebhookParser
		body      string
		reference string
		completed bool
	}{
		{"paystack charge", paystack, `{"event":"charge.success","data":{"reference":"ORD-1"}}`, "ORD-1", true},
		{"paystack transfer", paystack, `{"event":"transfer.success","data":{"reference":"T-1"}}`, "T-1", false},
		{"flutterwave charge", flutterwave, `{"event":"charge.completed","data":{"tx_ref":"ORD-2","status":"successful"}}`, "ORD-2", true},
		{"monnify success", monnify, `{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentReference":"ORD-3"}}`, "ORD-3", true},
		{"monnify refund", monnify, `{"eventType":"SUCCESSFUL_REFUND","eventData":{"paymentReference":"ORD-3"}}`, "ORD-3", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := tc.parser.ParseWebhook(context.Background(), nil, []byte(tc.body))
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			if event.Reference != tc.reference || event.Completed != tc.completed {
				t.Fatalf("unexpected event %+v", event)
			}
		})
	}

	if _, err := paystack.ParseWebhook(context.Background(), nil, []byte("not json")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
