// Package dispatch owns the delivery-request lifecycle: broadcast to
// candidate drivers, first-writer-wins acceptance, deterministic expiry
// and live-feed visibility.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/courier-dispatch/internal/bus"
	"github.com/example/courier-dispatch/internal/geo"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/wallet"
)

var ErrInvalidRequest = errors.New("missing required booking fields")

// EventSink archives dispatch lifecycle events to the stream pipeline.
// It is optional and always best-effort.
type EventSink interface {
	Emit(ctx context.Context, ev models.FeedEvent) error
}

// Config carries the dispatch knobs. The window and the poll interval
// are explicit so nothing about correctness hides in a constant.
type Config struct {
	Window         time.Duration
	PollInterval   time.Duration
	CandidateLimit int
	CommissionPct  int
}

type Engine struct {
	store    storage.Store
	resolver geo.Resolver
	notifier bus.Bus
	ledger   *wallet.Ledger
	events   EventSink
	logger   *slog.Logger
	cfg      Config
}

func NewEngine(store storage.Store, resolver geo.Resolver, notifier bus.Bus, ledger *wallet.Ledger, events EventSink, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{store: store, resolver: resolver, notifier: notifier, ledger: ledger, events: events, logger: logger, cfg: cfg}
}

// CreateAndDispatch persists the request, broadcasts it to candidates
// and reports who was notified. The caller decides whether to run the
// acceptance race (AwaitAcceptance) — a pre-selected driver skips it.
func (e *Engine) CreateAndDispatch(ctx context.Context, req *models.DeliveryRequest) ([]int64, error) {
	if req.CustomerID == 0 {
		return nil, ErrInvalidRequest
	}
	if req.Pickup == (models.Coord{}) || req.Dropoff == (models.Coord{}) {
		return nil, ErrInvalidRequest
	}
	if req.DistanceMeters == 0 {
		req.DistanceMeters = geo.Haversine(req.Pickup.Lat, req.Pickup.Lon, req.Dropoff.Lat, req.Dropoff.Lon)
	}
	req.Status = models.RequestPending
	req.ExpiresAt = time.Now().Add(e.cfg.Window)
	if err := e.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	area := geo.AreaLabel(req.Pickup)
	e.emitFeed(ctx, models.FeedEvent{
		Type: models.FeedNewRequest, RequestID: req.ID, Area: area,
		FareCents: req.FareCents, At: time.Now(),
	})

	candidates := e.resolveCandidates(ctx, req)
	if len(candidates) == 0 {
		// fail safe to "no drivers available", never to blocking
		if _, err := e.store.ExpireRequest(ctx, req.ID); err != nil {
			e.logger.Error("expire on empty candidates failed", "request_id", req.ID, "error", err)
		}
		req.Status = models.RequestExpired
		observability.RequestsExpired.Inc()
		e.notifyCustomer(ctx, req.CustomerID, models.CustomerNotice{
			Type: models.NoticeBookingRejected, RequestID: req.ID,
		})
		e.emitFeed(ctx, models.FeedEvent{
			Type: models.FeedRequestRejected, RequestID: req.ID, Area: area, At: time.Now(),
		})
		return nil, nil
	}

	e.Broadcast(ctx, *req, candidates)
	observability.RequestsDispatched.Inc()
	return candidates, nil
}

func (e *Engine) resolveCandidates(ctx context.Context, req *models.DeliveryRequest) []int64 {
	if req.PreferredDriver != 0 {
		return []int64{req.PreferredDriver}
	}
	ids, err := e.resolver.Nearby(ctx, req.Pickup, req.VehicleType, e.cfg.CandidateLimit)
	if err != nil {
		// unreachable resolver degrades to zero candidates
		e.logger.Warn("candidate resolver unavailable", "request_id", req.ID, "error", err)
		return nil
	}
	return ids
}

// Broadcast publishes the offer to each candidate's personal channel.
// A single undeliverable notification never aborts the rest.
func (e *Engine) Broadcast(ctx context.Context, req models.DeliveryRequest, candidates []int64) {
	offer := models.BookingOffer{
		RequestID:      req.ID,
		CustomerID:     req.CustomerID,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		VehicleType:    req.VehicleType,
		DistanceMeters: req.DistanceMeters,
		FareCents:      req.FareCents,
		ExpiresAt:      req.ExpiresAt,
	}
	for _, driverID := range candidates {
		if err := e.notifier.Publish(ctx, bus.DriverChannel(driverID), offer); err != nil {
			observability.BroadcastFailures.Inc()
			e.logger.Warn("offer publish failed", "request_id", req.ID, "driver_id", driverID, "error", err)
		}
	}
}

// RespondResult acknowledges a driver's reply. Assigned is true only
// for the single canonical acceptance.
type RespondResult struct {
	Assigned bool
	Status   models.RequestStatus
}

// Respond records the driver's reply and, for an acceptance, attempts
// the atomic claim. The claim creates the outcome; the poll loop only
// discovers it. A driver who accepts after the deadline, or after
// another driver won, is told the request is no longer open.
func (e *Engine) Respond(ctx context.Context, requestID, driverID int64, kind models.ResponseKind) (RespondResult, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return RespondResult{}, err
	}
	if err := e.store.AppendResponse(ctx, models.DriverResponse{
		RequestID: requestID, DriverID: driverID, Response: kind,
	}); err != nil {
		return RespondResult{}, err
	}
	if kind != models.ResponseAccepted {
		return RespondResult{Status: req.Status}, nil
	}

	if err := e.store.ClaimRequest(ctx, requestID, driverID); err != nil {
		if errors.Is(err, storage.ErrRequestClosed) {
			cur, gerr := e.store.GetRequest(ctx, requestID)
			if gerr != nil {
				return RespondResult{}, gerr
			}
			status := cur.Status
			if status == models.RequestPending && time.Now().After(cur.ExpiresAt) {
				// deadline passed but the reaper has not run yet
				status = models.RequestExpired
			}
			return RespondResult{Assigned: false, Status: status}, nil
		}
		return RespondResult{}, err
	}

	// direct assignments have no polling loop; finalize here
	if req.PreferredDriver != 0 {
		e.finalizeAcceptance(ctx, requestID, driverID, req.CustomerID, geo.AreaLabel(req.Pickup), req.FareCents)
	}
	return RespondResult{Assigned: true, Status: models.RequestAccepted}, nil
}

// Cancel aborts a still-pending request on behalf of the customer. The
// acceptance loop observes the terminal status and exits early.
func (e *Engine) Cancel(ctx context.Context, requestID int64) error {
	return e.store.CancelRequest(ctx, requestID)
}

// AwaitAcceptance watches the request until a driver claims it or the
// deadline passes. Each iteration is its own short read; no transaction
// or lock spans the sleeps, so accepts and webhooks are never blocked
// by this reader. Context cancellation exits before the deadline.
func (e *Engine) AwaitAcceptance(ctx context.Context, requestID int64) (models.RequestStatus, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		req, err := e.store.GetRequest(ctx, requestID)
		if err != nil {
			return "", err
		}
		switch {
		case req.Status == models.RequestAccepted:
			e.finalizeAcceptance(ctx, requestID, req.AssignedDriverID, req.CustomerID, geo.AreaLabel(req.Pickup), req.FareCents)
			return models.RequestAccepted, nil
		case req.Status.Terminal():
			return req.Status, nil
		case time.Now().After(req.ExpiresAt):
			expired, err := e.store.ExpireRequest(ctx, requestID)
			if err != nil {
				return "", err
			}
			if !expired {
				// a claim slipped in between the read and the expiry
				continue
			}
			observability.RequestsExpired.Inc()
			e.notifyCustomer(ctx, req.CustomerID, models.CustomerNotice{
				Type: models.NoticeBookingRejected, RequestID: requestID,
			})
			e.emitFeed(ctx, models.FeedEvent{
				Type: models.FeedRequestRejected, RequestID: requestID,
				Area: geo.AreaLabel(req.Pickup), At: time.Now(),
			})
			return models.RequestExpired, nil
		}

		select {
		case <-ctx.Done():
			return req.Status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Engine) finalizeAcceptance(ctx context.Context, requestID, driverID, customerID int64, area string, fareCents int64) {
	observability.RequestsAccepted.Inc()

	if e.cfg.CommissionPct > 0 && fareCents > 0 {
		commission := fareCents * int64(e.cfg.CommissionPct) / 100
		if _, err := e.ledger.Apply(ctx, driverID, -commission, true); err != nil {
			e.logger.Error("commission debit failed", "request_id", requestID, "driver_id", driverID, "error", err)
		}
	}

	e.notifyCustomer(ctx, customerID, models.CustomerNotice{
		Type: models.NoticeBookingAccepted, RequestID: requestID, DriverID: driverID,
	})
	if err := e.notifier.Publish(ctx, bus.BookingChannel(requestID), models.CustomerNotice{
		Type: models.NoticeBookingAccepted, RequestID: requestID, DriverID: driverID,
	}); err != nil {
		e.logger.Warn("booking channel publish failed", "request_id", requestID, "error", err)
	}
	e.emitFeed(ctx, models.FeedEvent{
		Type: models.FeedRequestAccepted, RequestID: requestID, Area: area,
		DriverID: driverID, At: time.Now(),
	})
}

// notifyCustomer is best-effort: the authoritative state change already
// happened and is never rolled back by a failed publish.
func (e *Engine) notifyCustomer(ctx context.Context, customerID int64, notice models.CustomerNotice) {
	if err := e.notifier.Publish(ctx, bus.CustomerChannel(customerID), notice); err != nil {
		e.logger.Warn("customer notify failed", "customer_id", customerID, "error", err)
	}
}

func (e *Engine) emitFeed(ctx context.Context, ev models.FeedEvent) {
	if err := e.notifier.Publish(ctx, bus.FeedChannel, ev); err != nil {
		e.logger.Warn("feed publish failed", "request_id", ev.RequestID, "error", err)
	}
	if e.events != nil {
		if err := e.events.Emit(ctx, ev); err != nil {
			e.logger.Warn("event stream emit failed", "request_id", ev.RequestID, "error", err)
		}
	}
}
