// Package app wires the logger, aggregator, job worker pool,
// orchestrator, route map, and connection pool together behind an echo
// server, and owns the graceful-shutdown sequence (§9 Open Question 7).
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/psionic-labs/psionic/internal/aggregator"
	"github.com/psionic-labs/psionic/internal/config"
	"github.com/psionic-labs/psionic/internal/connpool"
	"github.com/psionic-labs/psionic/internal/handler/http/health"
	httpiface "github.com/psionic-labs/psionic/internal/handler/http/interface"
	"github.com/psionic-labs/psionic/internal/jobs"
	"github.com/psionic-labs/psionic/internal/logger"
	"github.com/psionic-labs/psionic/internal/route"
)

// App owns every long-lived component in the dispatch pipeline:
// acceptor (echo) -> connection pool -> route map -> orchestrator ->
// job pool -> aggregator, plus the logger all of them report to.
type App struct {
	config    *config.Config
	echo      *echo.Echo
	readiness *atomic.Bool

	logSink      *logger.Sink
	log          logger.Logger
	agg          *aggregator.Aggregator
	jobPool      *jobs.Pool
	orchestrator *jobs.Orchestrator
	routeMap     route.RouteMap
	connPool     *connpool.Pool
	httpHandlers []httpiface.HttpRouter

	cancel context.CancelFunc
}

// New spawns the logger, aggregator, job worker pool, and orchestrator,
// compiles cfg's routes against the orchestrator's job channel, and
// returns an App ready for Run. The leaf components (logger, aggregator,
// job pool, orchestrator) are already running by the time New returns;
// the connection pool and the echo acceptor are started in Run.
func New(cfg *config.Config, jobsCfg jobs.JobsConfiguration) (*App, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	sink := logger.Start(1024)
	log := sink.Logger()

	agg := aggregator.Start(log)
	jobPool := jobs.NewPool(cfg.JobPoolSize, cfg.JobQueueSize, cfg.ShutdownTimeout(), agg, log)
	jobPool.Start()
	orchestrator := jobs.Start(jobsCfg, jobPool, agg, log, cfg.OrchestratorQueueSize)

	routes, err := cfg.BuildRoutes()
	if err != nil {
		orchestrator.Stop()
		jobPool.Stop()
		agg.Stop()
		sink.Stop()
		return nil, fmt.Errorf("app: %w", err)
	}
	routeMap := route.New(orchestrator.Channel(), routes)

	connPool := connpool.NewPool(cfg.ConnectionPoolSize, cfg.ConnectionQueueSize, cfg.ShutdownTimeout(), log)

	readiness := atomic.NewBool(false)
	httpHandlers := []httpiface.HttpRouter{
		health.NewHealthHandler(readiness),
	}

	return &App{
		config:       cfg,
		echo:         e,
		readiness:    readiness,
		logSink:      sink,
		log:          log,
		agg:          agg,
		jobPool:      jobPool,
		orchestrator: orchestrator,
		routeMap:     routeMap,
		connPool:     connPool,
		httpHandlers: httpHandlers,
	}, nil
}

// Run starts the connection pool and the echo acceptor, then blocks
// until SIGINT/SIGTERM, at which point it drains and stops every
// component in dependency order (reverse of startup).
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.connPool.Start()

	e := a.echo
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	e.Use(a.readinessGate)

	e.Use(echoprometheus.NewMiddleware("psionic"))
	e.GET("/metrics", echoprometheus.NewHandler())

	for _, handler := range a.httpHandlers {
		handler.SetupRoutes(e)
	}

	e.Any("/*", a.dispatch)

	// The acceptor goroutine and the signal wait are coordinated through
	// an errgroup: a server error cancels gctx exactly like a signal
	// would, so shutdown runs either way and the acceptor's error (if
	// any) surfaces from g.Wait() below.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("app", "Starting server on %s", a.config.Address)
		a.readiness.Store(true)
		if err := e.Start(a.config.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.reportProgressPeriodically(gctx)
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	a.log.Info("app", "Ready. Waiting for interrupt signal...")
	select {
	case <-quit:
		a.log.Info("app", "Interrupt signal received")
	case <-gctx.Done():
		a.log.Error("app", "Acceptor stopped unexpectedly")
	}

	shutdownErr := a.shutdown()
	cancel()
	if err := g.Wait(); err != nil {
		a.log.Error("app", "Acceptor error: %v", err)
		if shutdownErr == nil {
			shutdownErr = err
		}
	}
	return shutdownErr
}

// readinessGate is the readiness middleware: reject new work while
// draining, but always allow health and metrics endpoints through.
func (a *App) readinessGate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !a.readiness.Load() {
			p := c.Request().URL.Path
			if p != "/healthz" && p != "/readyz" && p != "/metrics" {
				return c.NoContent(http.StatusServiceUnavailable)
			}
		}
		return next(c)
	}
}

// reportProgressPeriodically drives the Aggregator's ProgressReport
// operation (§4.2) on a fixed interval so the outstanding-jobs count
// shows up in the log even when nothing completes or starts in the
// meantime. Stops as soon as ctx is cancelled.
func (a *App) reportProgressPeriodically(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.agg.GetProgress()
		}
	}
}

func (a *App) shutdown() error {
	a.log.Info("app", "Shutting down gracefully...")

	a.readiness.Store(false)
	drain := a.config.DrainDuration()
	a.log.Info("app", "readiness=false: draining for %v", drain)
	time.Sleep(drain)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout())
	defer shutdownCancel()

	var err error
	if shutdownErr := a.echo.Shutdown(shutdownCtx); shutdownErr != nil {
		a.log.Error("app", "Echo shutdown error: %v", shutdownErr)
		err = shutdownErr
	}

	a.connPool.Stop()
	a.orchestrator.Stop()
	a.jobPool.Stop()
	a.agg.Stop()

	a.cancel()
	a.log.Info("app", "Server stopped gracefully")
	a.logSink.Stop()

	return err
}

// dispatch submits each request as a closure to the connection pool
// (§4.6), blocking until that worker has read the request, routed it,
// and produced a response or error. A full connection queue is
// surfaced to the client as 503 rather than a blocking accept.
func (a *App) dispatch(c echo.Context) error {
	type outcome struct {
		resp *route.Response
		err  error
	}
	done := make(chan outcome, 1)

	submitErr := a.connPool.Execute(func() {
		req, err := a.buildRequest(c)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		resp, err := a.routeMap.Handle(req)
		done <- outcome{resp: resp, err: err}
	})
	if submitErr != nil {
		return writeJSONError(c, http.StatusServiceUnavailable, "Connection queue full")
	}

	res := <-done
	if res.err != nil {
		return a.writeError(c, res.err)
	}
	return writeResponse(c, res.resp)
}

// buildRequest adapts echo's already-parsed net/http request into the
// core's Request data model, folding header names to uppercase per §3
// and bounding the body read per §9 Open Question 5.
func (a *App) buildRequest(c echo.Context) (route.Request, error) {
	r := c.Request()

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[strings.ToUpper(k)] = v[0]
		}
	}

	var body []byte
	if r.ContentLength != 0 {
		limited := http.MaxBytesReader(c.Response(), r.Body, a.config.MaxRequestBodyBytes)
		b, err := io.ReadAll(limited)
		if err != nil {
			return route.Request{}, err
		}
		body = b
	}

	return route.Request{
		Method:        r.Method,
		Path:          r.URL.Path,
		Version:       r.Proto,
		Headers:       headers,
		Body:          body,
		ContentLength: len(body),
	}, nil
}

func writeResponse(c echo.Context, resp *route.Response) error {
	w := c.Response()
	h := w.Header()
	for k, v := range resp.Headers {
		h.Set(k, v)
	}
	w.WriteHeader(resp.Code)
	_, err := w.Write(resp.Body)
	return err
}

func writeJSONError(c echo.Context, code int, message string) error {
	return c.JSON(code, map[string]string{"message": message})
}

// writeError maps a route-dispatch error onto the reason-phrase table
// in §6 / the taxonomy in §7.
func (a *App) writeError(c echo.Context, err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return writeJSONError(c, http.StatusRequestEntityTooLarge, "Payload too large")
	case errors.Is(err, route.ErrRouteNotFound):
		return writeJSONError(c, http.StatusNotFound, "Route not found")
	default:
		a.log.Error("app", "request handling failed: %v", err)
		return writeJSONError(c, http.StatusInternalServerError, "Server error")
	}
}
