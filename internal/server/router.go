package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/slotexec/internal/dynexec"
	"github.com/loykin/slotexec/internal/executor"
	"github.com/loykin/slotexec/internal/slot"
)

// Facility is the part of *dynexec.Facility the router serves.
type Facility interface {
	Execute(ctx context.Context, statement string) (*executor.Result, error)
	Slots(ctx context.Context) ([]slot.Slot, error)
	Reset(ctx context.Context) ([]int, error)
}

// Router provides embeddable HTTP handlers for the execution facility.
// Endpoints:
//
//	POST {basePath}/execute      body: {"statement": "..."}
//	GET  {basePath}/slots
//	POST {basePath}/slots/reset
//	GET  {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	fac      Facility
	basePath string
	log      *slog.Logger
	limiter  *limiterStore
}

type Option func(*Router)

// WithRateLimit limits /execute to rps requests per second per client IP.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Router) {
		if rps > 0 {
			r.limiter = newLimiterStore(rps, burst)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/execute, /abc/slots.
func NewRouter(fac Facility, basePath string, opts ...Option) *Router {
	r := &Router{fac: fac, basePath: sanitizeBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// StartJanitor evicts idle rate limiter entries until ctx is done.
func (r *Router) StartJanitor(ctx context.Context) {
	if r.limiter != nil {
		r.limiter.janitor(ctx, 2*time.Minute)
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	exec := []gin.HandlerFunc{r.handleExecute}
	if r.limiter != nil {
		exec = append([]gin.HandlerFunc{rateLimit(r.limiter)}, exec...)
	}
	group.POST("/execute", exec...)
	group.GET("/slots", r.handleSlots)
	group.POST("/slots/reset", r.handleReset)
	group.GET("/healthz", r.handleHealth)
	return g
}

// NewServer wraps handler in an http.Server with the service timeouts.
// tlsCfg may be nil.
func NewServer(addr string, handler http.Handler, tlsCfg *tls.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

const (
	codeUsage       = "usage"
	codeStatement   = "statement"
	codeTimeout     = "timeout"
	codeUnavailable = "unavailable"
	codeRateLimited = "rate_limited"
	codeBackend     = "backend"
	codeContention  = "contention"
	codeInternal    = "internal"
)

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type resetResp struct {
	OK bool `json:"ok"`
	// Kept lists slots left busy because a statement is still running on them.
	Kept []int `json:"kept,omitempty"`
}

type executeReq struct {
	Statement string `json:"statement"`
}

func (r *Router) handleExecute(c *gin.Context) {
	var req executeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error(), Code: codeUsage})
		return
	}
	res, err := r.fac.Execute(c.Request.Context(), req.Statement)
	if err != nil {
		code, body := statusFor(err)
		if code == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
		}
		writeJSON(c, code, body)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// statusFor maps facility errors to HTTP responses. Slot table and executor
// failures are 500; anything else came from the statement and is 422.
func statusFor(err error) (int, errorResp) {
	var ex *dynexec.ExhaustedError
	var pe *executor.PanicError
	switch {
	case errors.As(err, &ex):
		return http.StatusServiceUnavailable, errorResp{Error: err.Error(), Code: ex.Code}
	case errors.Is(err, dynexec.ErrUsage):
		return http.StatusBadRequest, errorResp{Error: err.Error(), Code: codeUsage}
	case errors.Is(err, dynexec.ErrClosed):
		return http.StatusServiceUnavailable, errorResp{Error: err.Error(), Code: codeUnavailable}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResp{Error: err.Error(), Code: codeTimeout}
	case errors.Is(err, slot.ErrContention):
		return http.StatusServiceUnavailable, errorResp{Error: err.Error(), Code: codeContention}
	case errors.Is(err, dynexec.ErrBackend):
		return http.StatusInternalServerError, errorResp{Error: err.Error(), Code: codeBackend}
	case errors.Is(err, executor.ErrBusy), errors.Is(err, executor.ErrClosed),
		errors.Is(err, executor.ErrUnknownExecutor), errors.As(err, &pe):
		return http.StatusInternalServerError, errorResp{Error: err.Error(), Code: codeInternal}
	}
	return http.StatusUnprocessableEntity, errorResp{Error: err.Error(), Code: codeStatement}
}

func (r *Router) handleSlots(c *gin.Context) {
	slots, err := r.fac.Slots(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error(), Code: codeBackend})
		return
	}
	writeJSON(c, http.StatusOK, slots)
}

func (r *Router) handleReset(c *gin.Context) {
	kept, err := r.fac.Reset(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error(), Code: codeBackend})
		return
	}
	r.log.Warn("slot table reset via API", "remote", c.ClientIP(), "kept_running", kept)
	writeJSON(c, http.StatusOK, resetResp{OK: true, Kept: kept})
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
