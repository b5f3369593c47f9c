package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/caffeinebuddy/internal/engine"
	"github.com/lazypower/caffeinebuddy/internal/logging"
	"github.com/lazypower/caffeinebuddy/internal/notify"
	"github.com/lazypower/caffeinebuddy/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.New(db, cfg.Model, logger)

	if cfg.Reminders.Enabled {
		notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
		if cfg.Reminders.WebhookURL != "" {
			notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Reminders.WebhookURL))
		}
		eng.SetNotifier(notifiers)

		interval, _ := cfg.ReminderInterval() // validated in loadConfig
		eng.StartReminderTimer(interval)
		defer eng.Stop()
	}

	srv := server.New(eng, VersionString(), server.Options{
		Logger:      logger,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("caffeinebuddy serving",
			zap.String("addr", addr),
			zap.String("db", db.Path),
			zap.Float64("half_life_hours", cfg.Model.HalfLifeHours),
			zap.Float64("clearance_threshold_mg", cfg.Model.ClearanceThresholdMg),
			zap.Bool("reminders", cfg.Reminders.Enabled),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
