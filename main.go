package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chxlky/trello-signoff/api"
	"github.com/chxlky/trello-signoff/database"
	"github.com/chxlky/trello-signoff/integrations"
	"github.com/chxlky/trello-signoff/internal/config"
	"github.com/chxlky/trello-signoff/internal/metrics"
	"github.com/chxlky/trello-signoff/internal/reconcile"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(levelStr string) *zap.Logger {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		levelStr = env
	}
	level, err := zapcore.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      level == zapcore.DebugLevel,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := logConfig.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

func main() {
	cfg, err := config.Load(os.Getenv("SIGNOFF_CONFIG"))
	if err != nil {
		zap.NewExample().Fatal("Error reading config", zap.Error(err))
	}

	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	db, err := database.Init(cfg.Database.Path)
	if err != nil {
		zap.L().Fatal("Failed to initialise database", zap.Error(err))
	}
	sqlDB, _ := db.DB()

	collector := metrics.NewCollector()
	factory := integrations.NewFactory(cfg, collector, logger)

	notifier, err := integrations.NewNotifier(context.Background(), cfg.Google, logger.Named("notifier"))
	if err != nil {
		zap.L().Fatal("Failed to initialise Gmail notifier", zap.Error(err))
	}

	engine := reconcile.New(cfg, database.New(db), reconcile.FromFactory(factory), notifier, collector, logger.Named("engine"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	apiHandler := &api.Handler{
		Engine:            engine,
		TrelloSecret:      cfg.Trello.APISecret,
		TrelloCallbackURL: cfg.TrelloCallbackURL(),
		Metrics:           collector,
		Logger:            logger.Named("api"),
	}
	api.Register(router, apiHandler, cfg.Server.AdminToken, collector.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zap.L().Info("Starting server",
		zap.String("port", cfg.Server.Port),
		zap.String("publicURL", cfg.Server.PublicURL),
		zap.Int("workers", cfg.Server.Workers),
	)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once

	cleanup := func(reason string) {
		zap.L().Info("Shutdown initiated", zap.String("reason", reason))

		// Shutdown waits for in-flight reconciliations to commit or roll back.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		zap.L().Info("Shutting down HTTP server...")
		if err := srv.Shutdown(ctx); err != nil {
			zap.L().Error("Error shutting down server", zap.Error(err))
		} else {
			zap.L().Info("HTTP server shut down gracefully.")
		}

		if sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				zap.L().Error("Error closing database", zap.Error(err))
			} else {
				zap.L().Info("Database connection closed.")
			}
		}
		close(done)
	}

	go func() {
		sig := <-sigCh
		once.Do(func() {
			cleanup(sig.String())
		})

		// if a second signal is caught, exit immediately
		go func() {
			<-sigCh
			zap.L().Info("Second interrupt signal received. Exiting immediately.")
			os.Exit(1)
		}()
	}()

	<-done
	zap.L().Info("Exiting...")
}
