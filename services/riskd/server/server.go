package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendcore/native/comptroller"
	"lendcore/observability"
)

const moduleName = "riskd"

// Config carries the HTTP surface settings.
type Config struct {
	Auth      AuthConfig
	RateLimit RateLimit
	// OriginPatterns restricts websocket origins. Empty allows same-origin
	// only.
	OriginPatterns []string
}

// Server exposes the comptroller engine over HTTP.
type Server struct {
	engine         *comptroller.Engine
	hub            *Hub
	auth           *Authenticator
	limiter        *RateLimiter
	logger         *slog.Logger
	originPatterns []string
}

func New(engine *comptroller.Engine, hub *Hub, cfg Config, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine required")
	}
	if hub == nil {
		return nil, errors.New("effect hub required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		engine:         engine,
		hub:            hub,
		auth:           auth,
		limiter:        NewRateLimiter(cfg.RateLimit),
		logger:         logger,
		originPatterns: cfg.OriginPatterns,
	}, nil
}

// Handler builds the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Get("/healthz", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware())
		r.Use(s.limiter.Middleware)

		r.Get("/status", s.handleStatus)
		r.Get("/effects/ws", s.handleEffectsWS)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware(ScopeMarket))
			r.Post("/hooks/{action}", s.handleHook)
			r.Post("/verify/{action}", s.handleVerify)
		})

		r.Post("/markets/enter", s.handleEnterMarkets)
		r.Post("/markets/exit", s.handleExitMarket)
		r.Get("/markets", s.handleListMarkets)
		r.Get("/markets/{addr}", s.handleGetMarket)
		r.Post("/liquidations/seize-tokens", s.handleSeizeTokens)

		r.Get("/accounts/{addr}/liquidity", s.handleLiquidity)
		r.Post("/accounts/hypothetical", s.handleHypothetical)
		r.Get("/accounts/{addr}/assets", s.handleAssets)
		r.Get("/accounts/{addr}/rewards", s.handleRewards)

		r.Post("/rewards/claim", s.handleClaim)
		r.Post("/rewards/contributors/{addr}/update", s.handleContributorUpdate)

		r.Route("/admin", func(r chi.Router) {
			r.With(s.auth.Middleware(ScopeAdmin, ScopeGuardian)).Post("/pauses", s.handlePause)
			r.With(s.auth.Middleware(ScopeAdmin, ScopeGuardian)).Post("/borrow-caps", s.handleBorrowCaps)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware(ScopeAdmin))
				r.Get("/params", s.handleParams)
				r.Post("/markets", s.handleListMarket)
				r.Post("/markets/{addr}/collateral-factor", s.handleCollateralFactor)
				r.Post("/markets/{addr}/reward-speed", s.handleRewardSpeed)
				r.Post("/close-factor", s.handleCloseFactor)
				r.Post("/liquidation-incentive", s.handleLiquidationIncentive)
				r.Post("/max-assets", s.handleMaxAssets)
				r.Post("/oracle", s.handleOracle)
				r.Post("/pause-guardian", s.handlePauseGuardian)
				r.Post("/borrow-cap-guardian", s.handleBorrowCapGuardian)
				r.Post("/contributors/{addr}/speed", s.handleContributorSpeed)
				r.Post("/grants", s.handleGrant)
			})
		})
	})
	return otelhttp.NewHandler(r, moduleName)
}

// observe records latency and status per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.ModuleMetrics().Observe(moduleName, route, status, elapsed)
		s.logger.Debug("request served",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", elapsed),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.engine.Initialized()
	if err != nil || !initialized {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "uninitialized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.engine.Initialized()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Initialized: initialized,
		Comptroller: s.engine.Address().String(),
		BlockHeight: s.engine.BlockHeight(),
		LastCommit:  digestHex(s.engine.LastCommitDigest()),
	})
}

func principal(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}
