package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	metricsprom "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log"
	"github.com/railsync/railsync/metrics"
)

type RouterConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`
	// RequestsPerSecond limits requests per role. Zero disables limiting.
	RequestsPerSecond float64       `mapstructure:"requests-per-second" validate:"min=0"`
	Burst             int           `mapstructure:"burst" validate:"min=0"`
	AllowedOrigins    []string      `mapstructure:"allowed-origins"`
	MaxBodyBytes      int64         `mapstructure:"max-body-bytes" validate:"min=1"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown-timeout"`
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Listen:            "127.0.0.1:7480",
		RequestsPerSecond: 200,
		Burst:             50,
		MaxBodyBytes:      1 << 20,
		ShutdownTimeout:   5 * time.Second,
	}
}

type RouterOpt func(*Router)

func WithRouterLogger(logger *zap.Logger) RouterOpt {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithRegistry sets the registry HTTP metrics are registered with.
func WithRegistry(registry prometheus.Registerer) RouterOpt {
	return func(r *Router) {
		r.registry = registry
	}
}

// Router serves documents over HTTP on behalf of a Service.
type Router struct {
	*http.Server
	logger   *zap.Logger
	cfg      RouterConfig
	service  *Service
	registry prometheus.Registerer

	mu       sync.Mutex
	limiters map[Role]*rate.Limiter
}

func NewRouter(cfg RouterConfig, service *Service, opts ...RouterOpt) *Router {
	r := &Router{
		logger:   zap.NewNop(),
		cfg:      cfg,
		service:  service,
		registry: prometheus.DefaultRegisterer,
		limiters: map[Role]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.Server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return r
}

func (r *Router) handler() http.Handler {
	mdlw := middleware.New(middleware.Config{
		Recorder: metricsprom.NewRecorder(metricsprom.Config{
			Prefix:   metrics.Namespace,
			Registry: r.registry,
		}),
	})
	mux := http.NewServeMux()
	route := func(pattern, id string, h http.HandlerFunc) {
		mux.Handle(pattern, std.Handler(id, mdlw, h))
	}
	route("GET /healthz", "healthz", r.health)
	route("GET /v1/{role}/{doc}", "read", r.read)
	route("POST /v1/{role}/{doc}", "write", r.write)
	route("DELETE /v1/{role}/{doc}/{entity}", "remove", r.remove)

	return cors.New(cors.Options{
		AllowedOrigins: r.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader},
		ExposedHeaders: []string{ErrorHeader, RequestIDHeader},
	}).Handler(mux)
}

// Start serves until ctx is done, then shuts the server down.
func (r *Router) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.Addr, err)
	}
	r.logger.Info("router listening", zap.Stringer("addr", ln.Addr()))
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
		defer cancel()
		if err := r.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("router shutdown", zap.Error(err))
		}
	}()
	if err := r.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *Router) limiter(role Role) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[role]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)
		r.limiters[role] = l
	}
	return l
}

// begin attaches a request id to the request context and resolves the
// caller. It writes the error response itself when the request cannot
// proceed.
func (r *Router) begin(w http.ResponseWriter, req *http.Request) (context.Context, Caller, bool) {
	id := req.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)
	ctx := log.WithRequestId(req.Context(), id)

	role, err := ParseRole(req.PathValue("role"))
	if err != nil {
		r.fail(ctx, w, err, false)
		return nil, Caller{}, false
	}
	caller := Caller{Role: role, Unit: req.URL.Query().Get("unit")}
	if r.cfg.RequestsPerSecond > 0 && !r.limiter(role).Allow() {
		rateLimited.WithLabelValues(string(role)).Inc()
		r.fail(ctx, w, fmt.Errorf("%w: %s", ErrRateLimited, role), false)
		return nil, Caller{}, false
	}
	return ctx, caller, true
}

func (r *Router) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`+"\n")
}

func (r *Router) read(w http.ResponseWriter, req *http.Request) {
	ctx, caller, ok := r.begin(w, req)
	if !ok {
		return
	}
	doc, err := r.service.Read(ctx, caller, req.PathValue("doc"))
	if err != nil {
		r.fail(ctx, w, err, false)
		return
	}
	r.respond(ctx, w, doc)
}

func (r *Router) write(w http.ResponseWriter, req *http.Request) {
	ctx, caller, ok := r.begin(w, req)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes))
	if err != nil {
		r.fail(ctx, w, fmt.Errorf("%w: %w", ErrInvalidPatch, err), true)
		return
	}
	patch, err := document.Decode(body)
	if err != nil {
		r.fail(ctx, w, fmt.Errorf("%w: %w", ErrInvalidPatch, err), true)
		return
	}
	doc, err := r.service.Write(ctx, caller, req.PathValue("doc"), patch)
	if err != nil {
		r.fail(ctx, w, err, true)
		return
	}
	r.respond(ctx, w, doc)
}

func (r *Router) remove(w http.ResponseWriter, req *http.Request) {
	ctx, caller, ok := r.begin(w, req)
	if !ok {
		return
	}
	doc, err := r.service.Remove(ctx, caller, req.PathValue("doc"), req.PathValue("entity"))
	if err != nil {
		r.fail(ctx, w, err, true)
		return
	}
	r.respond(ctx, w, doc)
}

func (r *Router) respond(ctx context.Context, w http.ResponseWriter, doc document.Document) {
	data, err := document.Encode(doc)
	if err != nil {
		r.fail(ctx, w, err, false)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		r.logger.Debug("failed to write response", log.ZContext(ctx), zap.Error(err))
	}
}

func (r *Router) fail(ctx context.Context, w http.ResponseWriter, err error, write bool) {
	status, code := classify(err, write)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", log.ZContext(ctx), zap.String("code", code), zap.Error(err))
	} else {
		r.logger.Debug("request rejected", log.ZContext(ctx), zap.String("code", code), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ErrorHeader, code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Code: code})
}
