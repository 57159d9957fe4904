package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"quiz-session-core/internal/auth"
	"quiz-session-core/internal/config"
	"quiz-session-core/internal/engine"
	"quiz-session-core/internal/httpserver"
	"quiz-session-core/internal/logging"
	"quiz-session-core/internal/membership"
	"quiz-session-core/internal/registry"
	"quiz-session-core/internal/scoring"
	"quiz-session-core/internal/store"
	"quiz-session-core/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		logger.Fatal("failed to reach database", zap.Error(err))
	}
	cancel()

	redisStore := store.NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, logging.Component(logger, "redis"))
	defer redisStore.Close()

	membersStore := membership.NewStore(db, logging.Component(logger, "membership"))
	scoreUpdater := scoring.NewUpdater(membersStore, logging.Component(logger, "scoring"))
	questionBank := engine.NewQuestionBank(db)

	reg := registry.New(cfg.Quiz.MaxConnectionsPerUser, logging.Component(logger, "registry"))
	manager := engine.NewManager(membersStore, scoreUpdater, questionBank, reg, cfg.Quiz, logging.Component(logger, "engine"))

	rateLimiter, err := registry.NewRateLimiter(redisStore.Client(), cfg.Quiz.RateLimitMax, cfg.Quiz.RateLimitWindow, logging.Component(logger, "ratelimit"))
	if err != nil {
		logger.Fatal("failed to build rate limiter", zap.Error(err))
	}

	verifier := auth.NewJWTVerifier(cfg.Session.Secret)
	gateway := registry.NewGateway(verifier, reg, rateLimiter, manager, cfg.Quiz.MaxFrameBytes, logging.Component(logger, "gateway"))

	super := supervisor.New(manager, reg, scoreUpdater, cfg.Quiz, logging.Component(logger, "supervisor"))
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go super.Run(sweepCtx)

	httpSrv := httpserver.New(cfg, logging.Component(logger, "http"), gateway, reg)

	go func() {
		logger.Info("starting server", zap.String("address", cfg.Server.Address))
		if err := httpSrv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopSweep()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Quiz.ShutdownGrace)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", zap.Error(err))
	}
	super.Shutdown(shutdownCtx)

	logger.Info("server exited")
}
