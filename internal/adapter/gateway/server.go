// Package gateway serves the HTTP API and the WebSocket event feed.
package gateway

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/metrics"
	"supplyintel/internal/infra/middleware"
	"supplyintel/internal/infra/tracer"
)

const (
	defaultRequestTimeout = 30 * time.Second
	feedBuffer            = 64
	writeTimeout          = 5 * time.Second
)

// Server is the HTTP gateway.
type Server struct {
	cfg       config.GatewayConfig
	deps      HandlerDeps
	logger    *slog.Logger
	router    http.Handler
	startTime time.Time

	ctx       context.Context // lifetime of background middleware work
	cancel    context.CancelFunc
	httpSrv   *http.Server
	boundAddr string
}

// NewServer builds the router. Call Start to listen or Handler to mount it elsewhere.
func NewServer(cfg config.GatewayConfig, deps HandlerDeps, logger *slog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With("component", "gateway"),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.observe)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.CORSOrigins}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", nil)
	})

	h := func(fn apiFunc) http.HandlerFunc { return adapt(s.cfg.RequestTimeout, fn) }
	deps := s.deps

	r.Get("/api/health", h(healthHandler(deps, s.startTime)))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if auth := NewStaticTokenAuth(s.cfg.APITokens); auth.Enabled() {
			r.Use(requireAuth(auth))
		}
		if rl := s.cfg.RateLimit; rl.Requests > 0 && rl.Window > 0 {
			r.Use(middleware.RateLimit(s.ctx, middleware.RateLimitConfig{
				Requests:       rl.Requests,
				Window:         rl.Window,
				TrustedProxies: rl.TrustedProxies,
				OnLimited: func(w http.ResponseWriter, _ *http.Request, retryAfter time.Duration) {
					writeError(w, http.StatusTooManyRequests, CodeRateLimit, "rate limit exceeded",
						map[string]any{"retry_after_seconds": int(retryAfter.Seconds()) + 1})
				},
			}))
		}

		r.Post("/api/agents/query", h(queryHandler(deps)))
		r.Get("/api/agents", h(agentListHandler(deps)))
		r.Get("/api/agents/{role}", h(agentGetHandler(deps)))
		r.Post("/api/agents/{role}", h(directHandler(deps)))
		r.Post("/api/confidence", h(confidenceHandler(deps)))
		r.Post("/api/decision-tree", h(decisionTreeHandler))
		if deps.History != nil {
			r.Get("/api/history", h(historyListHandler(deps)))
			r.Get("/api/history/{id}", h(historyGetHandler(deps)))
		}
		if deps.Feeds != nil {
			r.Get("/ws", s.handleFeed)
		}
	})
	return r
}

// statusRecorder captures the response status for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Hijack supports the WebSocket upgrade on /ws.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.StartSpan(r.Context(), "http.request")
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status))
		span.SetAttributes(
			tracer.StringAttr("http.method", r.Method),
			tracer.StringAttr("http.route", route),
			tracer.IntAttr("http.status_code", rec.status),
		)

		s.logger.Info("request completed",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// handleFeed streams bus events to a WebSocket client. The optional types
// query param is a comma-separated event type filter.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	var types []domain.EventType
	if v := r.URL.Query().Get("types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, domain.EventType(t))
			}
		}
	}

	feed := s.deps.Feeds.Feed(feedBuffer, types...)
	defer feed.Close()

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx := ws.CloseRead(s.ctx)
	s.logger.Info("feed client connected", "remote", r.RemoteAddr, "types", len(types))

	var reported uint64
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feed client disconnected", "remote", r.RemoteAddr)
			return
		case ev, ok := <-feed.C():
			if !ok {
				return
			}
			if n := feed.Dropped(); n > reported {
				if err := s.writeFrame(ctx, ws, Frame{Type: FrameTypeDropped, Dropped: n - reported, Time: now()}); err != nil {
					return
				}
				reported = n
			}
			if err := s.writeFrame(ctx, ws, eventFrame(ev)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, ws *websocket.Conn, f Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, ws, f)
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		opts.OriginPatterns = append(opts.OriginPatterns, strings.TrimRight(o, "/"))
	}
	return opts
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop ends feed streams and gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
