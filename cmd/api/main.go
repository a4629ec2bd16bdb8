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

	"github.com/hereje/commonwealth/internal/analytics"
	"github.com/hereje/commonwealth/internal/app"
	"github.com/hereje/commonwealth/internal/balance"
	"github.com/hereje/commonwealth/internal/bancache"
	"github.com/hereje/commonwealth/internal/config"
	"github.com/hereje/commonwealth/internal/email"
	"github.com/hereje/commonwealth/internal/gating"
	"github.com/hereje/commonwealth/internal/history"
	"github.com/hereje/commonwealth/internal/notify"
	"github.com/hereje/commonwealth/internal/search"
	"github.com/hereje/commonwealth/internal/store"
	"github.com/hereje/commonwealth/internal/uploads"
	"github.com/hereje/commonwealth/internal/webhook"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir)

	var banCache *bancache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		banCache, err = bancache.New(cfg.RedisURL, dataStore, cfg.BanTTL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, ban checks go straight to Postgres: %v", err)
			banCache = nil
		} else {
			defer banCache.Close()
		}
	}

	var gate *gating.Evaluator
	if strings.TrimSpace(cfg.EthRPCURL) != "" {
		gate = gating.NewEvaluator(balance.NewEthFetcher(cfg.EthRPCURL))
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAllFromPG(ctx)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var emailer notify.Emailer
	if emailService.IsConfigured() {
		emailer = emailService
	}
	lookupEmail := func(ctx context.Context, addressID int64) (string, bool) {
		addr, ok, err := dataStore.GetAddressEmail(ctx, addressID)
		if err != nil {
			log.Printf("lookup address email %d: %v", addressID, err)
			return "", false
		}
		return addr, ok
	}
	notifyService := notify.NewDispatcher(dataStore, webhook.NewDispatcher(), emailer, lookupEmail)

	var uploadsService *uploads.Service
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		uploadsService, err = uploads.New(uploads.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
	}

	var sink analytics.Sink = analytics.LogSink{}
	if strings.TrimSpace(cfg.AnalyticsURL) != "" {
		sink = analytics.NewHTTPSink(cfg.AnalyticsURL)
	}

	service := app.New(cfg, dataStore, banCache, gate, searchService, historyService, notifyService, sink)

	httpServer := app.NewHTTPServer(service, searchService, uploadsService, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Commonwealth API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
