/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/holdkeeper/internal/alarm"
	"github.com/friendsincode/holdkeeper/internal/api"
	"github.com/friendsincode/holdkeeper/internal/clock"
	"github.com/friendsincode/holdkeeper/internal/config"
	"github.com/friendsincode/holdkeeper/internal/coordinator"
	"github.com/friendsincode/holdkeeper/internal/db"
	"github.com/friendsincode/holdkeeper/internal/eventbus"
	"github.com/friendsincode/holdkeeper/internal/events"
	"github.com/friendsincode/holdkeeper/internal/logbuffer"
	"github.com/friendsincode/holdkeeper/internal/storage"
	"github.com/friendsincode/holdkeeper/internal/telemetry"
	"github.com/friendsincode/holdkeeper/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	store     storage.Store
	bus       eventbus.Bus
	alarms    *alarm.Service
	pool      *coordinator.Pool
	api       *api.API
	logBuffer *logbuffer.Buffer

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. Background workers start
// immediately; call Close to stop them.
func New(ctx context.Context, cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("holdkeeper-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(30 * time.Second))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	store, err := storage.Open(ctx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.store = store
	s.DeferClose(store.Close)

	bus, err := eventbus.Open(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	s.bus = bus
	s.DeferClose(bus.Close)

	clk := clock.NewSystem()
	s.alarms = alarm.New(store, clk, s.logger)
	s.DeferClose(func() error {
		s.alarms.Wait()
		return nil
	})

	s.pool = coordinator.NewPool(coordinator.PoolConfig{
		InstanceID:  s.cfg.InstanceID,
		Peers:       s.cfg.Peers,
		IdleTimeout: s.cfg.ActorIdleTimeout,
		Options: coordinator.Options{
			DefaultTTL:     s.cfg.DefaultHoldTTL,
			MaxTTL:         s.cfg.MaxHoldTTL,
			StorageTimeout: s.cfg.StorageTimeout,
			Clock:          clk,
			Events:         bus,
			Logger:         s.logger,
		},
	}, store, s.alarms)
	s.alarms.SetHandler(s.pool.HandleAlarm)
	s.DeferClose(func() error {
		s.pool.Stop()
		return nil
	})

	var adminSecret []byte
	if s.cfg.AdminEnabled() {
		adminSecret = []byte(s.cfg.JWTSigningKey)
	} else {
		s.logger.Warn().Msg("HOLDKEEPER_JWT_SIGNING_KEY not set; admin routes disabled")
	}
	s.api = api.New(s.pool, adminSecret, s.logger)
	if s.logBuffer != nil {
		s.api.SetLogBuffer(s.logBuffer)
	}

	s.logger.Info().
		Str("version", version.Version).
		Str("instance_id", s.cfg.InstanceID).
		Str("storage", string(s.cfg.StorageBackend)).
		Str("events", string(s.cfg.EventsBackend)).
		Msg("dependencies initialized")
	return nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the metrics listener, or nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Pool returns the coordinator pool.
func (s *Server) Pool() *coordinator.Pool {
	return s.pool
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Alarms restore their persisted wake times before the first tick.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.alarms.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("alarm loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("coordinator pool exited")
		}
	}()

	if conn := storage.DB(s.store); conn != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(conn)
				}
			}
		}()
	}

	subs := make(map[events.EventType]events.Subscriber, len(events.AllHoldEvents))
	for _, eventType := range events.AllHoldEvents {
		subs[eventType] = s.bus.Subscribe(eventType)
	}
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runEventLogger(ctx, subs)
	}()
}

type busEvent struct {
	eventType events.EventType
	payload   events.Payload
}

// runEventLogger records hold lifecycle events, including those relayed from peers.
func (s *Server) runEventLogger(ctx context.Context, subs map[events.EventType]events.Subscriber) {
	merged := make(chan busEvent, 64)

	var wg sync.WaitGroup
	for eventType, sub := range subs {
		wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- busEvent{eventType: eventType, payload: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}

	defer func() {
		for eventType, sub := range subs {
			s.bus.Unsubscribe(eventType, sub)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			unitID, _ := ev.payload["unit_id"].(string)
			s.logger.Debug().
				Str("component", "events").
				Str("event", string(ev.eventType)).
				Str("unit_id", unitID).
				Msg("hold event")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","instance":%q,"coordinators":%d,"alarms":%d}`,
			s.cfg.InstanceID, s.pool.Len(), s.alarms.Len())
	})

	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		info := version.Get()
		_, _ = fmt.Fprintf(w, `{"version":%q,"commit":%q,"goVersion":%q}`, info.Version, info.Commit, info.GoVersion)
	})

	s.api.Routes(s.router)
}
