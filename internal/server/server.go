package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/starchart/internal/backup"
	"github.com/dukerupert/starchart/internal/config"
	"github.com/dukerupert/starchart/internal/handler"
	"github.com/dukerupert/starchart/internal/middleware"
	"github.com/dukerupert/starchart/internal/store"
)

type Server struct {
	db            *sql.DB
	cfg           *config.Config
	chartStore    *store.ChartStore
	chartH        *handler.ChartHandler
	healthH       *handler.HealthHandler
	rateLimiter   *middleware.RateLimiter
	metrics       *middleware.Metrics
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	chartStore := store.NewChartStore(db)

	backupLogger := logger.With("component", "backup")
	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		},
		Passphrase:    cfg.Backup.Passphrase,
		Interval:      cfg.Backup.Interval,
		RetentionDays: cfg.Backup.RetentionDays,
	}, db, store.NewBackupStore(db), func(s backup.Status) {
		backupLogger.Debug("backup state changed", "state", s.State, "in_progress", s.InProgress, "error", s.Error)
	}, backupLogger)

	var metrics *middleware.Metrics
	if cfg.MetricsEnabled {
		metrics = middleware.NewMetrics()
	}

	return &Server{
		db:            db,
		cfg:           cfg,
		chartStore:    chartStore,
		chartH:        handler.NewChartHandler(chartStore, cfg.TotalStars, logger.With("component", "chart")),
		healthH:       handler.NewHealthHandler(db, backupMgr),
		rateLimiter:   middleware.NewRateLimiter(),
		metrics:       metrics,
		backupManager: backupMgr,
		logger:        logger,
	}
}

// ChartStore returns the chart store for startup seeding.
func (s *Server) ChartStore() *store.ChartStore {
	return s.chartStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /data/current", s.chartH.Current)
	mux.HandleFunc("GET /data/star-chart-data.json", s.chartH.Current)
	mux.HandleFunc("GET /data/sync", s.chartH.Sync)
	mux.HandleFunc("POST /data/save", s.rateLimitedHandler(s.chartH.Save))
	mux.HandleFunc("GET /health", s.healthH.Health)

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	var h http.Handler = mux
	if s.metrics != nil {
		// Instrument must see the request after the mux sets r.Pattern.
		h = s.metrics.Instrument(h)
	}
	h = gzhttp.GzipHandler(h)

	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, s.cfg.SaveRateLimit, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
