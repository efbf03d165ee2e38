package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sitewatch.org/internal/broker"
	"sitewatch.org/internal/cache"
	"sitewatch.org/internal/config"
	"sitewatch.org/internal/hazard"
	"sitewatch.org/internal/httpapi"
	"sitewatch.org/internal/obs"
	"sitewatch.org/internal/site"
	"sitewatch.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Local overrides only; the file is absent in deployed environments.
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var store site.Store = site.NewInMemory()
	probe := httpapi.ReadyProbe{}
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe.DB = pgStore.DB()
	} else {
		log.Println("SITEWATCH_PG_DSN not set, using in-memory store")
	}

	var reportCache hazard.ReportCache
	if cfg.RedisAddr != "" {
		rc, err := cache.New(cfg.RedisAddr, cfg.ReportCacheTTL)
		if err != nil {
			log.Fatalf("open redis: %v", err)
		}
		reportCache = rc
	}

	api := httpapi.New(probe, version, store, broker.New(cfg.EventBuffer), reportCache)
	api.Tune(cfg.RateLimitBurst, cfg.RateLimitRPS, cfg.MaxBodyBytes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sitewatch-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
