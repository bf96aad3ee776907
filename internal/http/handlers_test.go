package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/courier-dispatch/internal/bus"
	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/geo"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/payments"
	"github.com/example/courier-dispatch/internal/reconcile"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/wallet"
)

type fakeGateway struct{}

func (fakeGateway) Initiate(ctx context.Context, req payments.InitiateRequest) (payments.InitiateResult, error) {
	return payments.InitiateResult{PollURL: "https://gw.test/poll/" + req.Reference}, nil
}

func (fakeGateway) Poll(ctx context.Context, pollURL string) (payments.PollResult, error) {
	return payments.PollResult{Status: payments.StatusPaid, AmountCents: 100}, nil
}

type apiRig struct {
	srv   *Server
	store *storage.MemoryStore
	index *geo.Index
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	index := geo.NewIndex(5000)
	notifier := bus.NewMemoryBus()
	ledger := wallet.NewLedger(store, logger)
	engine := dispatch.NewEngine(store, index, notifier, ledger, nil, logger, dispatch.Config{
		Window: time.Second, PollInterval: 5 * time.Millisecond, CandidateLimit: 8, CommissionPct: 0,
	})
	rec := reconcile.NewReconciler(store, ledger, map[string]payments.Gateway{"mobile_money": fakeGateway{}}, notifier, logger)
	srv := NewServer(context.Background(), engine, rec, ledger, store, notifier, index, logger, 3, time.Millisecond)
	return &apiRig{srv: srv, store: store, index: index}
}

func (r *apiRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	r.srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateRequestEndToEnd(t *testing.T) {
	r := newAPIRig(t)
	if err := r.index.Upsert(context.Background(), models.Driver{ID: 1, VehicleType: "bike", Loc: models.Coord{Lat: 43.24, Lon: 76.91}, Online: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	w := r.do(t, http.MethodPost, "/api/v1/requests", map[string]any{
		"customer_id":  7,
		"pickup":       map[string]float64{"lat": 43.24, "lon": 76.91},
		"dropoff":      map[string]float64{"lat": 43.26, "lon": 76.95},
		"vehicle_type": "bike",
		"fare_cents":   1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Request         models.DeliveryRequest `json:"request"`
		CandidatesCount int                    `json:"candidates_count"`
	}
	decodeBody(t, w, &resp)
	if resp.CandidatesCount != 1 {
		t.Fatalf("expected 1 candidate, got %d", resp.CandidatesCount)
	}
	if resp.Request.Status != models.RequestPending {
		t.Fatalf("expected pending, got %s", resp.Request.Status)
	}

	// driver accepts
	w = r.do(t, http.MethodPost, fmt.Sprintf("/api/v1/requests/%d/respond", resp.Request.ID), map[string]any{
		"driver_id": 1, "response": "accepted",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("respond: expected 200, got %d: %s", w.Code, w.Body)
	}
	var rr struct {
		Assigned bool                 `json:"assigned"`
		Status   models.RequestStatus `json:"status"`
	}
	decodeBody(t, w, &rr)
	if !rr.Assigned || rr.Status != models.RequestAccepted {
		t.Fatalf("unexpected respond result: %+v", rr)
	}

	w = r.do(t, http.MethodGet, fmt.Sprintf("/api/v1/requests/%d", resp.Request.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var got models.DeliveryRequest
	decodeBody(t, w, &got)
	if got.Status != models.RequestAccepted || got.AssignedDriverID != 1 {
		t.Fatalf("unexpected request state: %+v", got)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	r := newAPIRig(t)
	w := r.do(t, http.MethodPost, "/api/v1/requests", map[string]any{"customer_id": 0})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	r.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	r := newAPIRig(t)
	if w := r.do(t, http.MethodGet, "/api/v1/requests/12345", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := r.do(t, http.MethodGet, "/api/v1/requests/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRespondValidation(t *testing.T) {
	r := newAPIRig(t)
	w := r.do(t, http.MethodPost, "/api/v1/requests/1/respond", map[string]any{"driver_id": 1, "response": "maybe"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for bad kind, got %d", w.Code)
	}
	w = r.do(t, http.MethodPost, "/api/v1/requests/1/respond", map[string]any{"response": "accepted"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing driver, got %d", w.Code)
	}
}

func TestPaymentInitiateStatusAndWebhook(t *testing.T) {
	r := newAPIRig(t)

	w := r.do(t, http.MethodPost, "/api/v1/payments/initiate", map[string]any{
		"driver_id": 5, "amount_cents": 100, "phone": "+77001234567",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate: expected 201, got %d: %s", w.Code, w.Body)
	}
	var created struct {
		Reference string `json:"reference"`
		PollURL   string `json:"pollUrl"`
	}
	decodeBody(t, w, &created)
	if created.Reference == "" || created.PollURL == "" {
		t.Fatalf("incomplete initiate response: %+v", created)
	}

	w = r.do(t, http.MethodGet, "/api/v1/payments/"+created.Reference+"/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	var status struct {
		Paid bool `json:"paid"`
	}
	decodeBody(t, w, &status)
	if status.Paid {
		t.Fatal("must not be paid before any gateway signal")
	}

	w = r.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
		"reference": created.Reference, "status": "paid", "amount": 100,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", w.Code)
	}

	w = r.do(t, http.MethodGet, "/api/v1/payments/"+created.Reference+"/status", nil)
	decodeBody(t, w, &status)
	if !status.Paid {
		t.Fatal("expected paid after webhook")
	}

	w = r.do(t, http.MethodGet, "/api/v1/drivers/5/wallet", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("wallet: expected 200, got %d", w.Code)
	}
	var walletResp struct {
		BalanceCents int64                      `json:"balance_cents"`
		Transactions []models.DriverTransaction `json:"transactions"`
	}
	decodeBody(t, w, &walletResp)
	if walletResp.BalanceCents != 100 {
		t.Fatalf("expected balance 100, got %d", walletResp.BalanceCents)
	}
	if len(walletResp.Transactions) != 1 {
		t.Fatalf("expected one transaction, got %d", len(walletResp.Transactions))
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	r := newAPIRig(t)

	// unknown reference
	w := r.do(t, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
		"reference": "top-ghost", "status": "paid", "amount": 50,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unknown reference: expected 200, got %d", w.Code)
	}

	// undecodable body
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader("garbage"))
	rec := httptest.NewRecorder()
	r.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("garbage body: expected 200, got %d", rec.Code)
	}
}

func TestPaymentPollEndpoint(t *testing.T) {
	r := newAPIRig(t)
	w := r.do(t, http.MethodPost, "/api/v1/payments/initiate", map[string]any{
		"driver_id": 6, "amount_cents": 100,
	})
	var created struct {
		Reference string `json:"reference"`
	}
	decodeBody(t, w, &created)

	w = r.do(t, http.MethodPost, "/api/v1/payments/"+created.Reference+"/poll", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("poll: expected 200, got %d: %s", w.Code, w.Body)
	}
	var out struct {
		Outcome string `json:"outcome"`
	}
	decodeBody(t, w, &out)
	if out.Outcome != "paid" {
		t.Fatalf("expected paid, got %s", out.Outcome)
	}

	if w := r.do(t, http.MethodPost, "/api/v1/payments/top-ghost/poll", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestInitiateValidation(t *testing.T) {
	r := newAPIRig(t)
	w := r.do(t, http.MethodPost, "/api/v1/payments/initiate", map[string]any{"driver_id": 1, "amount_cents": 0})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for zero amount, got %d", w.Code)
	}
	w = r.do(t, http.MethodPost, "/api/v1/payments/initiate", map[string]any{"driver_id": 1, "amount_cents": 100, "method": "cheque"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown method, got %d", w.Code)
	}
}

func TestDriverLocationIngest(t *testing.T) {
	r := newAPIRig(t)
	w := r.do(t, http.MethodPost, "/internal/driver/locations", map[string]any{
		"id": 9, "vehicle_type": "bike", "loc": map[string]float64{"lat": 43.24, "lon": 76.91},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	ids, err := r.index.Nearby(context.Background(), models.Coord{Lat: 43.24, Lon: 76.91}, "bike", 5)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(ids) != 1 || ids[0] != 9 {
		t.Fatalf("driver not indexed: %v", ids)
	}
}

func TestWalletNotFound(t *testing.T) {
	r := newAPIRig(t)
	if w := r.do(t, http.MethodGet, "/api/v1/drivers/404/wallet", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
