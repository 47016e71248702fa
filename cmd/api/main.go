package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/faceid/internal/api"
	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/queue"
	"github.com/your-org/faceid/internal/session"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceid API service",
		"port", cfg.Server.Port,
		"dimensionality", cfg.Matching.Dimensionality,
		"threshold", cfg.Matching.Threshold,
		"index", cfg.Matching.Index,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := map[string]handlers.Check{}

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}
	checks["postgres"] = db.Ping

	policy, err := faceid.ParsePolicy(cfg.Enrollment.Policy)
	if err != nil {
		slog.Error("enrollment policy", "error", err)
		os.Exit(1)
	}
	enrollments := db.Enrollments(cfg.Matching.Dimensionality, policy)
	var store faceid.Store = enrollments
	switch cfg.Matching.Index {
	case config.IndexHNSW:
		indexed, err := faceid.NewIndexedStore(ctx, store, cfg.Matching.IndexCandidates)
		if err != nil {
			slog.Error("build hnsw index", "error", err)
			os.Exit(1)
		}
		slog.Info("hnsw candidate index ready", "records", indexed.Size())
		store = indexed
	case config.IndexPGVector:
		store = enrollments.NearestCandidates(cfg.Matching.IndexCandidates)
	}

	// MinIO is optional: without it source images are not archived.
	var images handlers.ImageArchive
	if cfg.MinIO.Endpoint != "" {
		imageStore, err := storage.NewImageStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := imageStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		images = imageStore
		checks["minio"] = imageStore.Ping
	}

	issuer, err := session.NewIssuer(cfg.Session.Secret, cfg.Session.Issuer, cfg.Session.TTL)
	if err != nil {
		slog.Error("session issuer", "error", err)
		os.Exit(1)
	}

	extractor := vision.NewExtractor(cfg.Vision, cfg.Matching.Dimensionality)
	defer extractor.Close()
	if !cfg.Vision.Lazy {
		if err := extractor.Load(); err != nil {
			slog.Warn("vision models unavailable, image endpoints will retry on demand", "error", err)
		}
	}
	checks["extractor"] = func(context.Context) error {
		if !extractor.Ready() {
			return errors.New("models not loaded")
		}
		return nil
	}

	matcher := &faceid.Matcher{
		Workers:     cfg.Matching.Workers,
		ParallelMin: cfg.Matching.ParallelMinRecords,
		Logger:      slog.Default(),
	}
	authn := faceid.NewAuthenticator(store, extractor, matcher, issuer, faceid.AuthenticatorConfig{
		Threshold:      cfg.Matching.Threshold,
		ExtractTimeout: cfg.Vision.ExtractTimeout,
	})
	authn.AddListener(observability.AttemptMetrics{})

	routerCfg := api.RouterConfig{
		APIKey:        cfg.Server.APIKey,
		Store:         store,
		Authenticator: authn,
		Sessions:      issuer,
		Identities:    db,
		Images:        images,
		Events:        db,
		ResetTTL:      cfg.Session.ResetTTL,
		Checks:        checks,
	}

	// NATS is optional: without it attempts are not audited or streamed and
	// password recovery is disabled, since reset links have no way out.
	if cfg.NATS.URL != "" {
		publisher, err := queue.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		if err := publisher.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		authn.AddListener(publisher)
		routerCfg.Publisher = publisher
		routerCfg.Mailer = publisher
		checks["nats"] = func(context.Context) error { return publisher.Ping() }

		hub := ws.NewHub()
		go hub.Run(ctx)
		routerCfg.Hub = hub

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		// Each API instance needs its own live feed.
		hostname, _ := os.Hostname()
		err = consumer.ConsumeAuthEvents(ctx, queue.ConsumerOptions{
			Name:    "api-ws-" + hostname,
			NewOnly: true,
		}, hub.BroadcastAuthEvent)
		if err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	}

	router := api.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
