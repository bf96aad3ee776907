package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/payments"
	"github.com/example/courier-dispatch/internal/reconcile"
	"github.com/example/courier-dispatch/internal/storage"
)

type createRequestBody struct {
	CustomerID      int64        `json:"customer_id"`
	Pickup          models.Coord `json:"pickup"`
	Dropoff         models.Coord `json:"dropoff"`
	PickupAddress   string       `json:"pickup_address"`
	DropoffAddress  string       `json:"dropoff_address"`
	VehicleType     string       `json:"vehicle_type"`
	DistanceMeters  float64      `json:"distance_meters"`
	FareCents       int64        `json:"fare_cents"`
	PreferredDriver int64        `json:"preferred_driver_id"`
	RecipientPhone  string       `json:"recipient_phone"`
	PackageNotes    string       `json:"package_notes"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := models.DeliveryRequest{
		CustomerID:      body.CustomerID,
		Pickup:          body.Pickup,
		Dropoff:         body.Dropoff,
		PickupAddress:   body.PickupAddress,
		DropoffAddress:  body.DropoffAddress,
		VehicleType:     body.VehicleType,
		DistanceMeters:  body.DistanceMeters,
		FareCents:       body.FareCents,
		PreferredDriver: body.PreferredDriver,
		RecipientPhone:  body.RecipientPhone,
		PackageNotes:    body.PackageNotes,
	}
	candidates, err := s.Engine.CreateAndDispatch(r.Context(), &req)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// a broadcast race resolves in the background; direct assignments
	// resolve on the driver's respond call instead
	if len(candidates) > 0 && req.PreferredDriver == 0 {
		go func(id int64) {
			if _, err := s.Engine.AwaitAcceptance(s.baseCtx, id); err != nil && !errors.Is(err, s.baseCtx.Err()) {
				s.logger.Error("acceptance race failed", "request_id", id, "error", err)
			}
		}(req.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"request":          req,
		"candidates_count": len(candidates),
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "bad request id", http.StatusBadRequest)
		return
	}
	req, err := s.Store.GetRequest(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// a pending request past its deadline reads as expired even if the
	// reaper has not caught up yet
	if req.Status == models.RequestPending && time.Now().After(req.ExpiresAt) {
		req.Status = models.RequestExpired
	}
	writeJSON(w, http.StatusOK, req)
}

type respondBody struct {
	DriverID int64  `json:"driver_id"`
	Response string `json:"response"`
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "bad request id", http.StatusBadRequest)
		return
	}
	var body respondBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind := models.ResponseKind(body.Response)
	if kind != models.ResponseAccepted && kind != models.ResponseRejected {
		http.Error(w, "response must be accepted or rejected", http.StatusUnprocessableEntity)
		return
	}
	if body.DriverID == 0 {
		http.Error(w, "driver_id required", http.StatusUnprocessableEntity)
		return
	}
	res, err := s.Engine.Respond(r.Context(), id, body.DriverID, kind)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assigned": res.Assigned,
		"status":   res.Status,
	})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "bad request id", http.StatusBadRequest)
		return
	}
	if err := s.Engine.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "request not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrRequestClosed):
			http.Error(w, "request already resolved", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type initiatePaymentBody struct {
	DriverID    int64  `json:"driver_id"`
	AmountCents int64  `json:"amount_cents"`
	Phone       string `json:"phone"`
	Method      string `json:"method"`
}

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var body initiatePaymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Method == "" {
		body.Method = "mobile_money"
	}
	if body.DriverID == 0 {
		http.Error(w, "driver_id required", http.StatusUnprocessableEntity)
		return
	}
	ref, err := s.Reconciler.IssueReference(r.Context(), body.DriverID, body.AmountCents, body.Phone, body.Method)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrInvalidAmount):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, reconcile.ErrUnknownMethod):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"reference": ref.Reference,
		"pollUrl":   ref.PollURL,
	})
}

type webhookBody struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
}

// handlePaymentWebhook acknowledges with 200 regardless of internal
// outcome: the gateway cannot fix a processing error by retrying
// forever, and reconcile is idempotent against the retries it does do.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.logger.Warn("webhook with undecodable body", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.Reconciler.Reconcile(r.Context(), body.Reference, payments.Status(body.Status), body.Amount); err != nil {
		s.logger.Warn("webhook reconcile failed", "reference", body.Reference, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	ref, err := s.Reconciler.Status(r.Context(), reference)
	if err != nil {
		if errors.Is(err, reconcile.ErrUnknownReference) {
			http.Error(w, "reference not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference": ref.Reference,
		"status":    ref.Status,
		"amount":    ref.AmountCents,
		"paid":      ref.Status == models.ReferenceCompleted,
	})
}

// handlePaymentPoll runs the bounded poll-until-terminal loop on behalf
// of the client. Exhaustion reports unknown, not failed.
func (s *Server) handlePaymentPoll(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	outcome, err := s.Reconciler.PollUntilTerminal(r.Context(), reference, s.pollAttempts, s.pollInterval)
	if err != nil {
		if errors.Is(err, reconcile.ErrUnknownReference) {
			http.Error(w, "reference not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "bad driver id", http.StatusBadRequest)
		return
	}
	driver, err := s.Ledger.Balance(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "driver not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	txs, err := s.Store.ListTransactions(r.Context(), id, 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"driver_id":     driver.ID,
		"balance_cents": driver.BalanceCents,
		"transactions":  txs,
	})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Online = true
	if err := s.Updater.Upsert(r.Context(), d); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	observability.DriversOnline.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
