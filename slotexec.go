// Package slotexec runs runtime-constructed statements on a small, fixed
// set of execution slots. A statement may itself call back into the
// facility; nesting deeper than the number of slots fails with a
// recognizable exhaustion error instead of colliding with its caller.
package slotexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/slotexec/internal/config"
	"github.com/loykin/slotexec/internal/dynexec"
	"github.com/loykin/slotexec/internal/engine"
	"github.com/loykin/slotexec/internal/executor"
	"github.com/loykin/slotexec/internal/history"
	hfactory "github.com/loykin/slotexec/internal/history/factory"
	"github.com/loykin/slotexec/internal/logger"
	"github.com/loykin/slotexec/internal/metrics"
	iapi "github.com/loykin/slotexec/internal/server"
	"github.com/loykin/slotexec/internal/slot"
	sfactory "github.com/loykin/slotexec/internal/slot/factory"
	"github.com/loykin/slotexec/internal/slot/memory"
	itls "github.com/loykin/slotexec/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type (
	Config         = cfg.Config
	Result         = executor.Result
	Engine         = executor.Engine
	EngineFunc     = executor.EngineFunc
	Slot           = slot.Slot
	SlotTable      = slot.Table
	HistorySink    = history.Sink
	HistoryEvent   = history.Event
	ExhaustedError = dynexec.ExhaustedError
	UsageError     = dynexec.UsageError
	BackendError   = dynexec.BackendError
	Facility       = dynexec.Facility
	Option         = dynexec.Option
)

const ExhaustedCode = dynexec.ExhaustedCode

var (
	ErrResourceExhausted = dynexec.ErrResourceExhausted
	ErrUsage             = dynexec.ErrUsage
	ErrBackend           = dynexec.ErrBackend
)

var (
	WithLogger         = dynexec.WithLogger
	WithTimeout        = dynexec.WithTimeout
	WithHistory        = dynexec.WithHistory
	WithReleaseTimeout = dynexec.WithReleaseTimeout
)

// New builds a facility over an explicit slot table and engine.
func New(table SlotTable, eng Engine, opts ...Option) (*Facility, error) {
	return dynexec.New(table, eng, opts...)
}

// NewInMemory builds a facility with a process-local table of size slots.
func NewInMemory(size int, eng Engine, opts ...Option) (*Facility, error) {
	return dynexec.New(memory.New(size), eng, opts...)
}

// SlotTableFromDSN opens a slot table backend (memory, sqlite, postgres,
// redis) chosen by the DSN scheme.
func SlotTableFromDSN(dsn string, size int, prefix string) (SlotTable, error) {
	return sfactory.NewFromDSN(dsn, size, prefix)
}

// HistorySinkFromDSN opens a history sink chosen by the DSN scheme.
func HistorySinkFromDSN(dsn string) (HistorySink, error) { return hfactory.NewSinkFromDSN(dsn) }

// OpenEngine opens the database statements are executed against.
func OpenEngine(dsn string, maxOpenConns int) (*engine.SQL, error) {
	return engine.Open(dsn, maxOpenConns)
}

// LoadConfig reads a TOML config file; an empty path yields defaults.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() Config { return cfg.Default() }

// Service owns everything built from a Config: the facility, its slot
// table, engine, history sinks and log file.
type Service struct {
	Facility *Facility
	Logger   *slog.Logger

	cfg     Config
	table   SlotTable
	engine  *engine.SQL
	closers []io.Closer
}

// Open wires a Service from c. The slot table schema is created lazily by
// the first facility call.
func Open(c Config) (*Service, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log, logCloser, err := logger.New(c.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	s := &Service{Logger: log, cfg: c, closers: []io.Closer{logCloser}}

	s.table, err = sfactory.NewFromDSN(c.Slots.DSN, c.Slots.Size, c.Slots.TablePrefix)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("slot table: %w", err)
	}
	s.engine, err = engine.Open(c.Engine.DSN, c.Engine.MaxOpenConns)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	sinks := make([]history.Sink, 0, len(c.History.DSNs))
	for _, dsn := range c.History.DSNs {
		sink, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		if cl, ok := sink.(io.Closer); ok {
			s.closers = append(s.closers, cl)
		}
		sinks = append(sinks, sink)
	}

	s.Facility, err = dynexec.New(s.table, s.engine,
		dynexec.WithLogger(log),
		dynexec.WithTimeout(c.Execution.Timeout),
		dynexec.WithReleaseTimeout(c.Execution.ReleaseTimeout),
		dynexec.WithHistory(sinks...),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info("slotexec ready", "slots", s.table.Size(), "engine", s.engine.Driver(), "history_sinks", len(sinks))
	return s, nil
}

// Execute is a shorthand for s.Facility.Execute.
func (s *Service) Execute(ctx context.Context, statement string) (*Result, error) {
	return s.Facility.Execute(ctx, statement)
}

// Handler returns the HTTP API configured by the [server] section.
func (s *Service) Handler() http.Handler {
	return s.Router().Handler()
}

// Router returns the HTTP API router; callers that mount it themselves
// should run StartJanitor when rate limiting is enabled.
func (s *Service) Router() *iapi.Router {
	return iapi.NewRouter(s.Facility, s.cfg.Server.BasePath,
		iapi.WithLogger(s.Logger),
		iapi.WithRateLimit(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst),
	)
}

// NewHTTPServer builds the API server, with TLS when [server.tls] is
// enabled. The caller starts it with ListenAndServe or ListenAndServeTLS("", "").
func (s *Service) NewHTTPServer(ctx context.Context) (*http.Server, error) {
	tlsCfg, err := itls.SetupTLS(s.cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	r := s.Router()
	r.StartJanitor(ctx)
	return iapi.NewServer(s.cfg.Server.Listen, r.Handler(), tlsCfg), nil
}

// Close stops the executors and closes every backend. It does not wait for
// statements still running on other goroutines beyond what Facility.Close
// waits for.
func (s *Service) Close() error {
	var errs []error
	if s.Facility != nil {
		errs = append(errs, s.Facility.Close())
	}
	if s.engine != nil {
		errs = append(errs, s.engine.Close())
	}
	if s.table != nil {
		errs = append(errs, s.table.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewMetricsServer returns a server exposing /metrics on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
