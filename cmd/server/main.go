package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"syscall"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DoyleJ11/planning-poker-backend/internal/config"
	"github.com/DoyleJ11/planning-poker-backend/internal/coordinator"
	"github.com/DoyleJ11/planning-poker-backend/internal/eventbus"
	"github.com/DoyleJ11/planning-poker-backend/internal/graph"
	"github.com/DoyleJ11/planning-poker-backend/internal/httpapi"
	"github.com/DoyleJ11/planning-poker-backend/internal/logging"
	"github.com/DoyleJ11/planning-poker-backend/internal/storage"
	"github.com/DoyleJ11/planning-poker-backend/internal/tasks"
	"github.com/DoyleJ11/planning-poker-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	os.Exit(run(cfg, logger))
}

func run(cfg *config.Config, logger *zap.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var repo storage.Repository = storage.Nop{}
	var db *gorm.DB
	if cfg.DatabaseDriver != "" {
		var err error
		db, err = storage.Open(cfg.DatabaseDriver, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("failed to open database", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
			return 1
		}
		repo = storage.NewRepository(db)
	} else {
		logger.Warn("no DATABASE_DRIVER set; rooms live in memory only")
	}

	bus := eventbus.New(logger)
	svc := coordinator.New(ctx, coordinator.Options{
		Bus:              bus,
		Repo:             repo,
		Logger:           logger,
		MutationTimeout:  cfg.MutationTimeout,
		TickInterval:     cfg.CountdownTick,
		CountdownFrom:    cfg.CountdownFrom,
		ChatRetention:    cfg.ChatRetention,
		ChatRateInterval: cfg.ChatRateInterval,
		ChatBurst:        cfg.ChatBurst,
	})

	reaper := tasks.NewRoomReaper(svc, cfg.EmptyRoomTTL, logger)
	if err := reaper.Start(cfg.ReaperSchedule); err != nil {
		logger.Error("invalid reaper schedule", zap.String("schedule", cfg.ReaperSchedule), zap.Error(err))
		return 1
	}

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Rooms:  svc,
		Schema: graph.NewSchema(svc, logger),
		Log:    logger,
		WS:     ws.Options{OriginPatterns: cfg.AllowedOrigins},
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			// Route the failure through the same shutdown path as a signal.
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(syscall.SIGTERM)
			}
		}
	}()

	// One ordered operation: in-flight requests drain before the reaper and
	// lobbies stop, and lobbies flush their last write-through before the
	// database closes.
	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"server": sequence(logger,
			step{"http-server", srv.Shutdown},
			step{"room-reaper", reaper.Stop},
			step{"rooms", svc.Shutdown},
			step{"database", func(context.Context) error { return closeDB(db) }},
		),
	})

	code := <-wait
	logger.Info("server exited", zap.Int("code", code))
	return code
}

type step struct {
	name string
	run  func(context.Context) error
}

// sequence runs steps in order. A failing step is logged and does not stop
// the ones after it; the errors are joined.
func sequence(logger *zap.Logger, steps ...step) gfshutdown.Operation {
	return func(ctx context.Context) error {
		var errs []error
		for _, s := range steps {
			if err := s.run(ctx); err != nil {
				logger.Error("shutdown step failed", zap.String("step", s.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				continue
			}
			logger.Info("shutdown step done", zap.String("step", s.name))
		}
		return errors.Join(errs...)
	}
}

func closeDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	return sqlDB.Close()
}
