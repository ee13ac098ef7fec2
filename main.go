package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paramdnoid/weppixpress-sub004/internal/api"
	"github.com/paramdnoid/weppixpress-sub004/internal/config"
	"github.com/paramdnoid/weppixpress-sub004/internal/db"
	"github.com/paramdnoid/weppixpress-sub004/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	// Init Redis and SQLite
	db.InitRedis(cfg.Redis)
	db.InitSQLite(cfg.Storage.SQLitePath)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	for _, dir := range []string{cfg.Storage.UserRoot, cfg.Storage.TempRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("Failed to create storage dir %s: %v", dir, err)
		}
	}

	store := upload.NewRedisStore(db.RDB, cfg.Upload.SessionTTL)
	connManager := api.NewConnectionManager()
	manager := upload.NewManager(store, connManager, cfg.Upload, cfg.Storage)
	manager.OnComplete = catalogCompleted

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pick up finalizations interrupted by the previous run before
	// accepting new traffic.
	manager.Recover(ctx)

	reaper := upload.NewReaper(ctx, store, cfg.Upload.StaleAfter, cfg.Upload.ReapInterval)
	reaper.Start()

	r := gin.Default()
	api.SetupRoutes(r, cfg, &api.Handler{
		Manager: manager,
		Reaper:  reaper,
		Timeout: cfg.Upload.RequestTimeout,
	}, connManager)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logrus.Infof("Starting File Workspace API server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("server shutdown error: %v", err)
	}
	if err := reaper.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("reaper shutdown error: %v", err)
	}
	if err := db.RDB.Close(); err != nil {
		logrus.Errorf("redis close error: %v", err)
	}

	logrus.Info("graceful shutdown complete")
}

// catalogCompleted records a finalized upload in the relational catalog.
func catalogCompleted(sess *upload.Session) {
	rec := &db.FileRecord{
		ID:     uuid.NewString(),
		UserID: sess.UserID,
		Name:   sess.FileName,
		Path:   sess.TargetPath,
		Size:   sess.FileSize,
	}
	if err := db.CreateFile(rec); err != nil {
		// Catalog lag is recoverable; the artifact itself is in place.
		if !strings.Contains(err.Error(), "UNIQUE") {
			logrus.WithField("path", filepath.Base(sess.TargetPath)).Errorf("catalog insert failed: %v", err)
		}
	}
}
