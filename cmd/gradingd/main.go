package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	api "github.com/mind-engage/mindengage-grading/internal/api/http"
	auth "github.com/mind-engage/mindengage-grading/internal/auth/middleware"
	"github.com/mind-engage/mindengage-grading/internal/config"
	"github.com/mind-engage/mindengage-grading/internal/db"
	"github.com/mind-engage/mindengage-grading/internal/logging"
	"github.com/mind-engage/mindengage-grading/internal/metrics"
	"github.com/mind-engage/mindengage-grading/internal/queue"
	"github.com/mind-engage/mindengage-grading/internal/storage"
	syncx "github.com/mind-engage/mindengage-grading/internal/sync"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook/sqlstore"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default ./config.yaml if present)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// no logger yet
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("gradingd stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	driver, err := db.ParseDriver(cfg.DB.Driver)
	if err != nil {
		return err
	}
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, driver, cfg.DB.DSN)
	cancel()
	if err != nil {
		return err
	}
	defer dbh.Close()
	store := sqlstore.New(dbh, cfg.SiteID)

	// --- Engine ---
	rec := metrics.New()
	recalc := gradebook.New(store, time.Now,
		gradebook.WithConcurrency(cfg.Grading.MaxConcurrency),
		gradebook.WithObserver(gradebook.Observers{logging.NewReportObserver(log), rec}),
	)

	blobs, err := storage.NewFSStore(cfg.Blob.BasePath)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// --- Triggers ---
	var triggers queue.Sink = queue.Inline{Recalc: recalc}
	if cfg.QueueEnabled() {
		q, err := queue.NewRedisQueue(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer q.Close()
		triggers = q

		w := queue.NewWorker(q, recalc, log)
		w.OnHandled = rec.Trigger
		g.Go(func() error { return w.Run(gctx) })
		log.Info("trigger queue enabled", zap.String("addr", cfg.Redis.Addr), zap.String("queue", cfg.Redis.Queue))
	}

	// --- Transcript publisher ---
	if cfg.SyncEnabled() {
		pub := syncx.NewPublisher(store.Events, syncx.NewHTTPPoster(syncx.PosterConfig{
			URL:          cfg.Sync.WebhookURL,
			Token:        cfg.Sync.Token,
			TokenURL:     cfg.Sync.TokenURL,
			ClientID:     cfg.Sync.ClientID,
			ClientSecret: cfg.Sync.ClientSecret,
			Timeout:      cfg.Sync.Timeout,
		}), log)
		g.Go(func() error { return pub.Run(gctx, cfg.Sync.Interval) })
		log.Info("grade publisher enabled", zap.String("url", cfg.Sync.WebhookURL), zap.Duration("every", cfg.Sync.Interval))
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.RequestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.Origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition", "X-Archive-Key"},
		AllowCredentials: cfg.Mode == config.ModeOnline,
		MaxAge:           300,
	}))
	r.Mount("/", api.NewRouter(api.Deps{
		Store:    store,
		Events:   store.Events,
		Recalc:   recalc,
		Triggers: triggers,
		Blobs:    blobs,
		Auth:     auth.NewAuthService(cfg.Auth.HMACSecret),
		Metrics:  rec.Handler(),
		Ready:    dbh.PingContext,
	}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("mode", string(cfg.Mode)), zap.String("db", string(driver)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
