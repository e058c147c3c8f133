package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sumatoshi-tech/histogram/internal/render"
	"github.com/Sumatoshi-tech/histogram/pkg/observability"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// errNoData is reported until the first segment has been merged.
var errNoData = errors.New("no histogram data yet")

// watch starts a session now and on every refresh tick, serving the latest
// result over HTTP until ctx is cancelled.
func (rc *RunCommand) watch(
	ctx context.Context,
	r *runner,
	latest *render.Latest,
	providers observability.Providers,
	opts render.Options,
) error {
	srv := &http.Server{
		Addr:              r.cfg.Observability.MetricsAddr,
		Handler:           observability.HTTPMiddleware(providers.Tracer, providers.Logger, newWatchMux(latest, providers.MetricsHandler, opts)),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	providers.Logger.InfoContext(ctx, "run: watching", "addr", srv.Addr, "refresh", rc.refresh)

	ticker := time.NewTicker(rc.refresh)
	defer ticker.Stop()

	for {
		_, err := r.start(ctx)
		if err != nil {
			return errors.Join(err, shutdown(srv))
		}

		select {
		case <-ctx.Done():
			return shutdown(srv)
		case err := <-serveErr:
			return fmt.Errorf("serve %s: %w", srv.Addr, err)
		case <-ticker.C:
		}
	}
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	return nil
}

func newWatchMux(latest *render.Latest, metrics http.Handler, opts render.Options) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", observability.HealthHandler())
	mux.Handle("GET /readyz", observability.ReadyHandler(func(context.Context) error {
		if _, ok := latest.Snapshot(); !ok {
			return errNoData
		}

		return nil
	}))

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("GET /{$}", func(rw http.ResponseWriter, _ *http.Request) {
		n, ok := latest.Snapshot()
		if !ok {
			http.Error(rw, errNoData.Error(), http.StatusServiceUnavailable)

			return
		}

		rw.Header().Set("Content-Type", "text/html; charset=utf-8")

		err := render.WriteHTML(rw, n, opts)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
		}
	})

	return mux
}
