/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the process together: config, catalog, persistence,
// room store, engine, event mirror, and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/api"
	"github.com/friendsincode/mixroom/internal/catalog"
	"github.com/friendsincode/mixroom/internal/config"
	"github.com/friendsincode/mixroom/internal/engine"
	"github.com/friendsincode/mixroom/internal/eventbus"
	"github.com/friendsincode/mixroom/internal/events"
	"github.com/friendsincode/mixroom/internal/idempotency"
	"github.com/friendsincode/mixroom/internal/logbuffer"
	"github.com/friendsincode/mixroom/internal/persistence"
	"github.com/friendsincode/mixroom/internal/ratelimit"
	"github.com/friendsincode/mixroom/internal/room"
	"github.com/friendsincode/mixroom/internal/storage"
	"github.com/friendsincode/mixroom/internal/telemetry"
	"github.com/friendsincode/mixroom/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	bus       *events.Bus
	rooms     *room.Store
	engine    *engine.Engine
	catalogDB *catalog.DB
	mirror    eventbus.Mirror
	api       *api.API
	logBuffer *logbuffer.Buffer
	checker   *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("mixroom-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Websocket connections are long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Header deadline protects against slowloris; read/write deadlines
		// stay off so websocket sessions are not cut.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

// corsMiddleware answers cross-origin requests for the configured origins.
// Each origin is accepted with and without a www. prefix. An empty list
// allows any origin (development only).
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins)*2)
	for _, origin := range origins {
		allowed[origin] = struct{}{}
		if after, ok := strings.CutPrefix(origin, "https://"); ok {
			allowed["https://www."+after] = struct{}{}
		}
		if after, ok := strings.CutPrefix(origin, "http://"); ok {
			allowed["http://www."+after] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				_, ok := allowed[origin]
				if ok || len(allowed) == 0 {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; connect-src 'self' ws: wss:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	// Track catalog.
	catalogDB, err := catalog.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect catalog: %w", err)
	}
	s.catalogDB = catalogDB
	s.DeferClose(catalogDB.Close)

	// Snapshot persistence.
	sink, err := s.buildSink()
	if err != nil {
		return err
	}
	s.DeferClose(sink.Close)

	ownership := room.OwnershipStrict
	if s.cfg.OwnershipMode == "permissive" {
		ownership = room.OwnershipPermissive
	}
	s.rooms = room.NewStore(room.Config{
		BeaconInterval: s.cfg.BeaconInterval,
		EmptyRoomGrace: s.cfg.EmptyRoomGrace,
		OwnershipTTLMs: s.cfg.OwnershipTTLMs,
		OwnershipMode:  ownership,
		CodeLength:     s.cfg.RoomCodeLength,
	}, s.bus, s.logger)
	s.DeferClose(func() error { s.rooms.Close(); return nil })

	s.engine = engine.New(
		engine.Config{PersistInterval: s.cfg.PersistInterval},
		s.rooms,
		idempotency.New(0),
		ratelimit.New(nil),
		sink,
		s.bus,
		s.logger,
	)
	s.engine.SetCatalog(catalogDB)
	s.DeferClose(func() error { s.engine.Close(); return nil })

	// Cross-instance event mirror.
	switch s.cfg.EventBus {
	case "nats":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		mirror, err := eventbus.NewNATSMirror(natsCfg, s.cfg.InstanceID, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats mirror unavailable, events stay local")
		} else {
			s.mirror = mirror
		}
	case "redis":
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		mirror, err := eventbus.NewRedisMirror(redisCfg, s.cfg.InstanceID, s.bus, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis mirror unavailable, events stay local")
		} else {
			s.mirror = mirror
		}
	}

	// Bring persisted rooms back before accepting traffic.
	restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.engine.RestoreRooms(restoreCtx); err != nil {
		s.logger.Warn().Err(err).Msg("room restore failed, starting empty")
	}

	s.checker = version.NewChecker(s.logger)
	s.api = api.New(s.cfg, s.engine, s.logBuffer, s.logger)
	return nil
}

// buildSink assembles the snapshot sink chain for the configured backends.
func (s *Server) buildSink() (persistence.Sink, error) {
	var sinks []persistence.Sink

	if s.cfg.Persistence == config.PersistenceRedis || s.cfg.Persistence == config.PersistenceBoth {
		redisSink, err := persistence.NewRedisSink(persistence.RedisConfig{
			Addr:           s.cfg.RedisAddr,
			Password:       s.cfg.RedisPassword,
			DB:             s.cfg.RedisDB,
			SnapshotTTL:    s.cfg.SnapshotTTL,
			DisableOnError: true,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		sinks = append(sinks, redisSink)
	}

	if s.cfg.Persistence == config.PersistenceS3 || s.cfg.Persistence == config.PersistenceBoth {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:        s.cfg.S3Endpoint,
			Region:          s.cfg.S3Region,
			Bucket:          s.cfg.S3Bucket,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		sinks = append(sinks, persistence.NewArchiveSink(store, s.logger))
	}

	switch len(sinks) {
	case 0:
		return persistence.Noop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return persistence.NewMulti(sinks...), nil
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Engine exposes the event pipeline, mainly for tests.
func (s *Server) Engine() *engine.Engine {
	return s.engine
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
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.engine.Run(ctx)
	}()

	if s.mirror != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.mirror.Run()
		}()
	}

	// Catalog connection pool gauge.
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
				s.catalogDB.UpdateConnectionMetrics()
			}
		}
	}()

	s.checker.Start(ctx)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	// Closing the mirror unblocks its forward loop.
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("event mirror close failed")
		}
		s.mirror = nil
	}
	s.checker.Stop()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.api.Routes(s.router)
}
