package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"dealgraph/api/internal/app"
	"dealgraph/api/internal/config"
	"dealgraph/api/internal/docstore"
	"dealgraph/api/internal/ledger"
	"dealgraph/api/internal/logging"
	"dealgraph/api/internal/metrics"
	"dealgraph/api/internal/search"
	"dealgraph/api/internal/snapshot"
	"dealgraph/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		zap.L().Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.Database.MigrationsDir); err != nil {
		zap.L().Fatal("migrations failed", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Ledger.Dir, 0o755); err != nil {
		zap.L().Fatal("ledger dir create failed", zap.Error(err))
	}

	metrics.Init()

	dataStore := store.NewPostgresStore(db)
	ledgerService := ledger.New(cfg.Ledger.Dir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.Meili.URL) != "" {
		meiliClient = search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var snapshots snapshot.Store
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		zap.L().Info("using redis for graph snapshots")
		redisStore, err := snapshot.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			zap.L().Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		snapshots = redisStore
	} else {
		zap.L().Info("using postgres for graph snapshots")
		snapshots = snapshot.NewPostgresStore(dataStore)
	}

	var docs *docstore.Store
	if strings.TrimSpace(cfg.Minio.Endpoint) != "" {
		docs, err = docstore.New(ctx, cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			zap.L().Fatal("object store connection failed", zap.Error(err))
		}
	} else {
		zap.L().Info("object store not configured, markup originals will not be retained")
	}

	deps := app.Deps{
		Store:     dataStore,
		Snapshots: snapshots,
		Search:    searchService,
		Ledger:    ledgerService,
	}
	if docs != nil {
		deps.Docs = docs
	}
	service := app.New(*cfg, deps)

	if err := service.Bootstrap(ctx); err != nil {
		zap.L().Warn("bootstrap failed, will retry on next restart", zap.Error(err))
	}
	searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.Server.CORSOrigin)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zap.L().Info("dealgraph api listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("shutdown error", zap.Error(err))
	}
}
