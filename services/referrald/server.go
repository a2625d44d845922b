package referrald

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"refchain/core/state"
	"refchain/native/bank"
	"refchain/native/referral"
	"refchain/observability"
	"refchain/services/referrald/audit"
)

// Config captures the dependencies required to construct the server. Audit is
// optional; audit listings answer 501 without it.
type Config struct {
	Store       *state.Store
	Registry    *referral.Registry
	Distributor *referral.Distributor
	Ledger      *bank.Ledger
	Audit       *audit.Sink
	Auth        AuthConfig
	RatePerSec  float64
	Burst       int
	TrustProxy  bool
	MetricsPath string
	Logger      *slog.Logger
}

// Server exposes the referral registry, the distribution pipeline and the
// admin capability over HTTP+JSON.
type Server struct {
	store       *state.Store
	registry    *referral.Registry
	distributor *referral.Distributor
	ledger      *bank.Ledger
	audit       *audit.Sink
	auth        *Authenticator
	limiter     *RateLimiter
	metrics     *observability.ReferralMetrics
	logger      *slog.Logger
	metricsPath string

	router http.Handler
}

// New constructs a configured server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Distributor == nil || cfg.Ledger == nil {
		return nil, errors.New("referrald: store, registry, distributor and ledger are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.Referral()
	srv := &Server{
		store:       cfg.Store,
		registry:    cfg.Registry,
		distributor: cfg.Distributor,
		ledger:      cfg.Ledger,
		audit:       cfg.Audit,
		auth:        NewAuthenticator(cfg.Auth, logger),
		limiter:     NewRateLimiter(cfg.RatePerSec, cfg.Burst, cfg.TrustProxy, metrics),
		metrics:     metrics,
		logger:      logger,
		metricsPath: strings.TrimSpace(cfg.MetricsPath),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/v1", func(api chi.Router) {
		api.Get("/config", s.handleConfig)

		api.With(s.limiter.Middleware).Post("/edges", s.handleRegister)
		api.Route("/groups/{group}/participants/{participant}", func(p chi.Router) {
			p.Get("/", s.handleStats)
			p.Get("/referrer", s.handleReferrer)
			p.Get("/children", s.handleChildren)
			p.Get("/ancestors", s.handleAncestors)
		})
		api.Get("/participants/{participant}/earned/{valueType}", s.handleEarned)
		api.Get("/participants/{participant}/balances/{asset}", s.handleBalance)
		api.Get("/authorizations/{set}", s.handleListAuthorized)
		api.Get("/authorizations/{set}/{identity}", s.handleIsAuthorized)

		api.With(s.limiter.Middleware).Post("/rewards", s.handleDistribute)
		api.Get("/rewards", s.handleListDistributions)
		api.Get("/rewards/{hash}", s.handleDistribution)
		api.Get("/audit/events", s.handleAuditEntries)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware)
			admin.Post("/authorizations/{set}", s.handleAuthorize)
			admin.Delete("/authorizations/{set}/{identity}", s.handleUnauthorize)
			admin.Put("/decay", s.handleSetDecay)
			admin.Put("/share", s.handleSetShare)
			admin.Put("/preset", s.handleApplyPreset)
			admin.Post("/pause", s.handlePause(true))
			admin.Post("/resume", s.handlePause(false))
			admin.Post("/authority", s.handleTransferAuthority)
			admin.Post("/treasury/fund", s.handleFund)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
