/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/collexions/internal/config"
	"github.com/friendsincode/collexions/internal/db"
	"github.com/friendsincode/collexions/internal/eventbus"
	"github.com/friendsincode/collexions/internal/leadership"
	"github.com/friendsincode/collexions/internal/logbuffer"
	"github.com/friendsincode/collexions/internal/scheduler"
	"github.com/friendsincode/collexions/internal/telemetry"
	"github.com/friendsincode/collexions/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	runtime              *Runtime
	logBuffer            *logbuffer.Buffer
	api                  *API
	scheduler            *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAwareScheduler
	bridge               *eventbus.Bridge
	updateChecker        *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	rt, err := NewRuntime(context.Background(), s.cfg, true, s.logger)
	if err != nil {
		return err
	}
	s.runtime = rt
	s.DeferClose(rt.Close)

	s.scheduler = scheduler.New(rt.Coordinator, rt.Interval, rt.Status, s.logger)
	if rt.DB != nil {
		database := rt.DB
		s.scheduler.OnCycle(func(context.Context) { db.UpdateConnectionMetrics(database) })
	}

	s.api = NewAPI(rt.Status, rt.Store, rt.Coordinator, s.scheduler, s.logBuffer, s.logger)
	s.api.lastReport = s.scheduler.LastReport

	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.DefaultConfig()
		if s.cfg.InstanceID != "" {
			electionConfig.InstanceID = s.cfg.InstanceID
		}
		election := leadership.NewElection(rt.Redis, electionConfig, s.logger)
		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.api.trigger = s.leaderAwareScheduler
		s.api.isLeader = s.leaderAwareScheduler.IsLeader
		s.logger.Info().Str("instance_id", election.InstanceID()).Msg("leader election enabled")
	}

	sink, err := s.eventSink()
	if err != nil {
		return err
	}
	if sink != nil {
		s.bridge = eventbus.NewBridge(rt.Bus, sink, eventbus.BridgeConfig{NodeID: s.cfg.InstanceID}, s.logger)
	}

	s.updateChecker = version.NewChecker(version.CheckerOptions{}, s.logger)
	s.api.updates = s.updateChecker.Info

	return nil
}

// eventSink picks NATS when configured, then Redis pub/sub, else nothing.
func (s *Server) eventSink() (eventbus.Sink, error) {
	switch {
	case s.cfg.NATSURL != "":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		if s.cfg.InstanceID != "" {
			natsCfg.Name = "collexions-" + s.cfg.InstanceID
		}
		sink, err := eventbus.NewNATSSink(natsCfg, s.logger)
		if err != nil {
			return nil, fmt.Errorf("connect event bus: %w", err)
		}
		return sink, nil
	case s.cfg.RedisEvents && s.runtime.Redis != nil:
		return eventbus.NewRedisSinkFromClient(s.runtime.Redis, s.logger), nil
	default:
		return nil, nil
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
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

	if s.leaderAwareScheduler != nil {
		// Leader-aware scheduler manages its own goroutines
		s.leaderAwareScheduler.Start(ctx)
	} else if s.scheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("scheduler loop exited")
			}
		}()
	}

	if s.runtime != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runtime.Notifier.Start(ctx)
		}()
	}

	if s.bridge != nil {
		s.bridge.Start(ctx)
	}

	if s.updateChecker != nil {
		s.updateChecker.Start(ctx)
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.leaderAwareScheduler != nil {
		s.leaderAwareScheduler.Stop()
	}
	if s.updateChecker != nil {
		s.updateChecker.Stop()
	}
	s.bgCancel()
	s.bgWG.Wait()
	if s.bridge != nil {
		if err := s.bridge.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("event bridge close failed")
		}
	}
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		// Add leader status if leader election is enabled
		if s.leaderAwareScheduler != nil {
			resp["leader"] = s.leaderAwareScheduler.IsLeader()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
