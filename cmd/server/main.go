// Package main runs the tabletop sync server: REST endpoints for host
// and player login plus the websocket fan-out loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/config"
	"github.com/galen-hood/tabletop/internal/game/dice"
	"github.com/galen-hood/tabletop/internal/game/registry"
	"github.com/galen-hood/tabletop/internal/game/room"
	"github.com/galen-hood/tabletop/internal/observability"
	"github.com/galen-hood/tabletop/internal/server"
	"github.com/galen-hood/tabletop/internal/storage/postgres"
	"github.com/galen-hood/tabletop/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	store := postgres.NewStore(pool)
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	src := dice.NewCryptoSource()

	// Every host shares the one backing database in this deployment,
	// so the opener hands out the shared store after a liveness check.
	reg := registry.NewRegistry(logger, cfg.Session, src, func(ctx context.Context, hostURL string) (room.Store, error) {
		if err := pool.Health(ctx, 5*time.Second); err != nil {
			return nil, fmt.Errorf("store for host %s: %w", hostURL, err)
		}
		return store, nil
	})

	handler := ws.NewHandler(logger, cfg.Session, reg, store, src, func(ctx context.Context) error {
		return pool.Health(ctx, 2*time.Second)
	})

	// WriteTimeout stays zero: the websocket route holds connections
	// open for the life of a session, and per-frame write deadlines are
	// enforced by the session channel instead.
	httpSrv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     handler.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	dbStop := make(chan struct{})

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				case <-dbStop:
					return nil
				}
			}
		},
		StopFn: func() {
			close(dbStop)
			pool.Close()
		},
	})
	lifecycle.Add("janitor", registry.NewJanitor(logger, cfg.Session, reg))
	lifecycle.Add("http", server.NewHTTPService(logger, httpSrv, 10*time.Second))

	logger.Info("sync server initialized",
		zap.String("addr", cfg.Server.Addr()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
