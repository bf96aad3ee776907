package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/courier-dispatch/internal/bus"
	"github.com/example/courier-dispatch/internal/config"
	"github.com/example/courier-dispatch/internal/dispatch"
	"github.com/example/courier-dispatch/internal/geo"
	"github.com/example/courier-dispatch/internal/ingest"
	"github.com/example/courier-dispatch/internal/logging"
	"github.com/example/courier-dispatch/internal/payments"
	"github.com/example/courier-dispatch/internal/reconcile"
	"github.com/example/courier-dispatch/internal/storage"
	"github.com/example/courier-dispatch/internal/wallet"
)

type Server struct {
	Engine     *dispatch.Engine
	Reconciler *reconcile.Reconciler
	Ledger     *wallet.Ledger
	Store      storage.Store
	Bus        bus.Bus
	Updater    geo.Updater

	pollAttempts int
	pollInterval time.Duration

	// baseCtx parents the background acceptance races so they survive
	// the request that started them but stop on shutdown.
	baseCtx context.Context
	logger  *slog.Logger
	mux     *mux.Router
}

// NewServer wires the handlers around already-constructed components.
func NewServer(baseCtx context.Context, engine *dispatch.Engine, rec *reconcile.Reconciler, ledger *wallet.Ledger, store storage.Store, notifier bus.Bus, updater geo.Updater, logger *slog.Logger, pollAttempts int, pollInterval time.Duration) *Server {
	s := &Server{
		Engine:       engine,
		Reconciler:   rec,
		Ledger:       ledger,
		Store:        store,
		Bus:          notifier,
		Updater:      updater,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
		baseCtx:      baseCtx,
		logger:       logger,
		mux:          mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromEnv builds the full production wiring: Redis for the bus
// and the candidate index when configured, Postgres when a DSN is set,
// Kafka when brokers are present, with in-memory fallbacks for local
// runs.
func NewServerFromEnv(baseCtx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var notifier bus.Bus
	var resolver geo.Resolver
	var updater geo.Updater
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		notifier = bus.NewRedisBus(rc)
		rr := geo.NewRedisResolver(rc, cfg.RedisGeoKey, cfg.SearchRadiusM)
		resolver, updater = rr, rr
	} else {
		notifier = bus.NewMemoryBus()
		idx := geo.NewIndex(cfg.SearchRadiusM)
		resolver, updater = idx, idx
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var events dispatch.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		events = ingest.NewEventProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	ledger := wallet.NewLedger(store, logging.WithComponent(logger, "wallet"))

	gateways := map[string]payments.Gateway{}
	if cfg.GatewayBaseURL != "" {
		gateways["mobile_money"] = payments.NewMobileMoneyClient(nil, cfg.GatewayBaseURL, cfg.GatewayMerchant, cfg.GatewaySecret, cfg.GatewayCallback)
	}
	if cfg.StripeAPIKey != "" {
		gateways["card"] = payments.NewStripeGateway(cfg.StripeAPIKey, "usd")
	}

	engine := dispatch.NewEngine(store, resolver, notifier, ledger, events, logging.WithComponent(logger, "dispatch"), dispatch.Config{
		Window:         cfg.DispatchWindow,
		PollInterval:   cfg.AcceptPoll,
		CandidateLimit: cfg.CandidateLimit,
		CommissionPct:  cfg.CommissionPct,
	})
	rec := reconcile.NewReconciler(store, ledger, gateways, notifier, logging.WithComponent(logger, "reconcile"))

	return NewServer(baseCtx, engine, rec, ledger, store, notifier, updater, logger, cfg.PaymentPollAttempts, cfg.PaymentPollInterval), nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleGetRequest).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}/respond", s.handleRespond).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/cancel", s.handleCancelRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/payments/initiate", s.handleInitiatePayment).Methods("POST")
	s.mux.HandleFunc("/api/v1/payments/webhook", s.handlePaymentWebhook).Methods("POST")
	s.mux.HandleFunc("/api/v1/payments/{reference}/status", s.handlePaymentStatus).Methods("GET")
	s.mux.HandleFunc("/api/v1/payments/{reference}/poll", s.handlePaymentPoll).Methods("POST")
	s.mux.HandleFunc("/api/v1/drivers/{id}/wallet", s.handleWallet).Methods("GET")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/drivers/{id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/feed", s.handleFeedWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
