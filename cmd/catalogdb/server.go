package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-catalog/internal/coredb"
	"media-catalog/internal/handlers"
	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
	"media-catalog/internal/middleware"
	"media-catalog/internal/startup"
)

const (
	statsInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// catalogStats reads the catalog statistics through the access lock.
type catalogStats struct {
	core *coredb.Core
}

func (s catalogStats) Stats(ctx context.Context) (metrics.Stats, error) {
	if s.core.State() != coredb.StateReady {
		return metrics.Stats{}, errors.New("catalog not ready")
	}
	var stats metrics.Stats
	err := s.core.WithAccess(ctx, func(a *coredb.Access) (err error) {
		stats, err = a.DB().Stats(ctx)
		return err
	})
	return stats, err
}

func (a *app) newRouter(h *handlers.Handlers) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Metrics)
	h.Register(router)
	if a.cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	return router
}

func (a *app) serve(ctx context.Context, _ []string) error {
	startTime := time.Now()
	startup.LogConfig(a.cfg)

	metrics.InitializeMetrics()
	metrics.AppInfo.WithLabelValues(startup.Version, startup.Commit, startup.GoVersion).Set(1)

	dbStart := time.Now()
	ready := a.core.CheckReadyForUse(ctx, coredb.LoggingObserver{})
	startup.LogDatabaseInit(time.Since(dbStart), ready)
	if !ready && a.core.MustAbort() {
		return errors.Errorf("catalog cannot be used with this version: %s", a.core.LastError())
	}
	// Otherwise /readyz keeps retrying the readiness gate.

	sc := a.newScanner()
	collector := metrics.NewCollector(catalogStats{core: a.core}, statsInterval)
	h := handlers.New(ctx, a.core, sc)
	router := a.newRouter(h)
	startup.LogHTTPRoutes(router)

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           middleware.Logger(middleware.DefaultLoggingConfig())(router),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sc.Start(ctx)
	collector.Start()

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	startup.LogServerStarted(a.cfg.Listen, a.cfg.MetricsEnabled, time.Since(startTime))

	var serveErr error
	select {
	case <-ctx.Done():
		startup.LogShutdownInitiated("signal")
	case serveErr = <-errc:
		startup.LogShutdownInitiated("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("HTTP server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}
	sc.Stop()
	startup.LogShutdownStepComplete("Scanner stopped")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")
	return serveErr
}
