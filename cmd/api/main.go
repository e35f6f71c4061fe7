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

	"toolshed/api/internal/app"
	"toolshed/api/internal/authpw"
	"toolshed/api/internal/config"
	"toolshed/api/internal/email"
	"toolshed/api/internal/engine"
	"toolshed/api/internal/export"
	"toolshed/api/internal/gitmirror"
	"toolshed/api/internal/search"
	"toolshed/api/internal/session"
	"toolshed/api/internal/store"
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

	if err := os.MkdirAll(cfg.MirrorDir, 0o755); err != nil {
		log.Fatalf("failed to create mirror dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	mirror := gitmirror.New(cfg.MirrorDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	mailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	notifier := email.NewNotifier(mailService, cfg.BaseURL)

	emitter := engine.FanOut{
		search.NewSyncer(dataStore, searchService),
		gitmirror.NewSyncer(dataStore, mirror),
		email.NewSuggestionWatcher(dataStore, mailService, cfg.BaseURL),
		engine.LogEmitter{},
	}
	versionEngine := engine.New(dataStore, emitter)

	deps := app.Deps{
		Store:     dataStore,
		Engine:    versionEngine,
		Passwords: authpw.NewService(dataStore),
		Search:    searchService,
		Exports:   export.NewService(),
		Mirror:    mirror,
		Mailer:    notifier,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Refresh = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}
	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Toolshed API listening on %s", cfg.Addr)
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
