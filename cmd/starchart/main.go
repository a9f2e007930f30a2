package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/starchart/internal/config"
	"github.com/dukerupert/starchart/internal/database"
	"github.com/dukerupert/starchart/internal/logging"
	"github.com/dukerupert/starchart/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("STARCHART_CONFIG"), "path to a YAML config file")
	restoreID := flag.Int64("restore", 0, "download and decrypt backup `id`, then exit")
	restoreTo := flag.String("restore-to", "star-chart.restored.db", "destination for -restore")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(db, cfg, logger)
	if err := srv.ChartStore().Initialize(); err != nil {
		logger.Error("failed to initialize chart", "error", err)
		os.Exit(1)
	}

	if *restoreID > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := srv.BackupManager().Restore(ctx, *restoreID, *restoreTo); err != nil {
			logger.Error("restore failed", "backup_id", *restoreID, "error", err)
			os.Exit(1)
		}
		logger.Info("backup restored", "backup_id", *restoreID, "path", *restoreTo)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv.BackupManager().Start(ctx)
	go srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("star chart running", "addr", "http://localhost:"+cfg.Port, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	cancel()
	srv.BackupManager().Stop()
}
