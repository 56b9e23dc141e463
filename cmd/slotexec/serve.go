package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/slotexec"
)

// runServe starts the API (and metrics, when enabled) and blocks until ctx
// is cancelled or SIGINT/SIGTERM arrives. ready, when set, receives the
// bound API address.
func runServe(ctx context.Context, w io.Writer, configPath string, ready func(addr string)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := slotexec.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	svc, err := slotexec.Open(*cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if err := slotexec.RegisterMetricsDefault(); err != nil {
			svc.Logger.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			metricsSrv = slotexec.NewMetricsServer(cfg.Metrics.Listen)
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					svc.Logger.Error("metrics server error", "error", err)
				}
			}()
		}
	}

	srv, err := svc.NewHTTPServer(ctx)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}

	protocol := "HTTP"
	errCh := make(chan error, 1)
	if srv.TLSConfig != nil {
		protocol = "HTTPS"
		go func() { errCh <- srv.ServeTLS(ln, "", "") }()
	} else {
		go func() { errCh <- srv.Serve(ln) }()
	}
	_, _ = fmt.Fprintf(w, "Starting slotexec %s server on %s%s (%d slots)\n",
		protocol, ln.Addr(), cfg.Server.BasePath, cfg.Slots.Size)
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	_, _ = fmt.Fprintln(w, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}
