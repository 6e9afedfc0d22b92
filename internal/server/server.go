package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"limitvault/internal/auth"
	"limitvault/internal/config"
	"limitvault/internal/escrow"
	"limitvault/internal/idempotency"
)

const headerRequestID = "X-Request-Id"

// HealthCheck probes one dependency. It must honour ctx.
type HealthCheck func(ctx context.Context) error

type Server struct {
	cfg        *config.AppConfig
	engine     *escrow.Engine
	store      idempotency.Store
	signer     *auth.SignerVerifier
	operator   *auth.OperatorVerifier
	limiter    *RateLimiter
	metrics    *metricsRegistry
	logger     *slog.Logger
	inflight   *keyLocks
	checks     map[string]HealthCheck
	now        func() time.Time
	router     chi.Router
	httpServer *http.Server
}

func NewServer(cfg *config.AppConfig, engine *escrow.Engine, store idempotency.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		engine: engine,
		store:  store,
		signer: &auth.SignerVerifier{MaxSkew: cfg.Service.ClockSkew},
		operator: &auth.OperatorVerifier{
			Secret:  cfg.Service.OperatorSecret,
			MaxSkew: cfg.Service.ClockSkew,
		},
		limiter:  NewRateLimiter(cfg.Service.RateLimit.RequestsPerMinute, cfg.Service.RateLimit.Burst),
		metrics:  newMetricsRegistry(),
		logger:   logger,
		inflight: newKeyLocks(),
		checks:   make(map[string]HealthCheck),
		now:      time.Now,
	}
	if s.limiter != nil {
		s.limiter.onLimited = s.metrics.rateLimited.Inc
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// AddHealthCheck registers a dependency probe reported by /api/v1/health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	if check != nil {
		s.checks[name] = check
	}
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Handle("/metrics", s.metrics.handler())

		api.Get("/escrows/derive", s.handleDerive)
		api.Get("/escrows/{address}", s.handleGetEscrow)
		api.Get("/escrows/{address}/events", s.handleEvents)
		api.Get("/escrows/{address}/holdings/{mint}", s.handleHolding)
		api.Get("/orders/active", s.handleActiveOrders)

		api.Group(func(op chi.Router) {
			op.Use(s.operator.Middleware)
			op.Post("/admin/escrows/{address}/undelegate", s.handleUndelegate)
		})

		api.Route("/{domain}", func(d chi.Router) {
			d.Use(s.domainMiddleware)
			d.Use(s.signer.Middleware)
			d.Use(s.limiter.Middleware)

			d.Post("/escrows", s.mutate("initialize", s.initialize))
			d.Post("/delegations", s.mutate("delegate", s.delegate))
			d.Post("/escrows/{address}/deposits/native", s.mutate("deposit_native", s.depositNative))
			d.Post("/escrows/{address}/deposits/asset", s.mutate("deposit_asset", s.depositAsset))
			d.Put("/escrows/{address}/order", s.mutate("create_limit_order", s.createOrder))
			d.Delete("/escrows/{address}/order", s.mutate("cancel_limit_order", s.cancelOrder))
			d.Post("/escrows/{address}/order/execute", s.mutate("execute_limit_order", s.executeOrder))
		})
	})
	return r
}

type entryKey struct{}

// domainMiddleware resolves the {domain} segment to the entry serving it.
// Domains this deployment does not serve look like unknown routes.
func (s *Server) domainMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "domain")
		d, err := escrow.ParseDomain(name)
		if err != nil || !s.cfg.ServesDomain(d.String()) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "NotFound", Message: "unknown domain " + strconv.Quote(name)})
			return
		}
		ctx := context.WithValue(r.Context(), entryKey{}, s.engine.Entry(d))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func entryFrom(ctx context.Context) *escrow.Entry {
	e, _ := ctx.Value(entryKey{}).(*escrow.Entry)
	return e
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type checkResult struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	results := make(map[string]checkResult, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		start := time.Now()
		err := s.checks[name](ctx)
		cancel()
		res := checkResult{Connected: err == nil, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
		if err != nil {
			res.Error = err.Error()
			healthy = false
		}
		results[name] = res
	}

	resp := struct {
		Status  string                 `json:"status"`
		Program string                 `json:"program"`
		Domains []string               `json:"domains"`
		Checks  map[string]checkResult `json:"checks"`
	}{
		Status:  "healthy",
		Program: s.engine.Program().ID.Hex(),
		Domains: s.cfg.Program.Domains,
		Checks:  results,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
