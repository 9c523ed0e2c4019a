package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/arcs-relay/internal/api"
	"github.com/technosupport/arcs-relay/internal/audit"
	"github.com/technosupport/arcs-relay/internal/config"
	"github.com/technosupport/arcs-relay/internal/devices"
	"github.com/technosupport/arcs-relay/internal/metrics"
	"github.com/technosupport/arcs-relay/internal/ratelimit"
	"github.com/technosupport/arcs-relay/internal/relay"
	"github.com/technosupport/arcs-relay/internal/router"
	"github.com/technosupport/arcs-relay/internal/session"
	"github.com/technosupport/arcs-relay/internal/stream"
	"github.com/technosupport/arcs-relay/internal/tokens"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if cfg.Auth.JWTSigningKey == "" {
		log.Printf("[MAIN] WARNING: no JWT signing key configured, using dev key (set JWT_SIGNING_KEY)")
		cfg.Auth.JWTSigningKey = "dev-secret-do-not-use-in-prod"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Audit trail first; everything below reports into it.
	auditLog, err := audit.NewLogger(cfg.Audit.LogFile)
	if err != nil {
		log.Fatalf("Audit log open error: %v", err)
	}
	defer auditLog.Close()

	if cfg.NATS.URL != "" {
		pub, err := audit.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("NATS connect error: %v", err)
		}
		defer pub.Close()
		auditLog.SetPublisher(pub)
		log.Printf("[MAIN] Audit events publishing to %s", cfg.NATS.URL)
	}

	// Device registry, optionally backed by Postgres.
	var registry *devices.Registry
	if cfg.Devices.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.Devices.PostgresDSN)
		if err != nil {
			log.Fatalf("DB open error: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("DB ping error: %v", err)
		}
		defer db.Close()

		registry, err = devices.NewRegistryWithStore(ctx, devices.NewPostgresStore(db))
		if err != nil {
			log.Fatalf("Registry load error: %v", err)
		}
		log.Printf("[MAIN] Device registry backed by Postgres (%d devices)", registry.Count())
	} else {
		registry = devices.NewRegistry()
	}

	if cfg.Devices.CredentialsFile != "" {
		n, err := registry.LoadCredentials(cfg.Devices.CredentialsFile)
		if err != nil {
			log.Fatalf("Credentials load error: %v", err)
		}
		log.Printf("[MAIN] Loaded %d device credentials from %s", n, cfg.Devices.CredentialsFile)
		registry.WatchCredentials(ctx, cfg.Devices.CredentialsFile)
	}

	// Token revocation, in-memory unless Redis is configured.
	var revoked tokens.RevocationList = tokens.NewMemoryRevocationList()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Redis ping error: %v", err)
		}
		defer rdb.Close()
		revoked = tokens.NewRedisRevocationList(rdb)
		log.Printf("[MAIN] Token revocation backed by Redis at %s", cfg.Redis.Addr)
	}

	tokenMgr := tokens.NewManagerWithOptions(cfg.Auth.JWTSigningKey, cfg.Auth.TokenExpiry, revoked)
	sessionMgr := session.NewManager()
	streamRouter := stream.NewRouter()
	limiter := ratelimit.NewLimiterWithConfig(cfg.RateLimits)
	commandRouter := router.NewCommandRouter(limiter, auditLog)
	collector := metrics.NewCollector()

	relaySrv := relay.NewServer(relay.Deps{
		Registry: registry,
		Tokens:   tokenMgr,
		Sessions: sessionMgr,
		Streams:  streamRouter,
		Limiter:  limiter,
		Commands: commandRouter,
		Audit:    auditLog,
		Metrics:  collector,
	})

	// Idle sessions get torn down the same way a device disconnect does.
	sessionMgr.StartReaper(func(sessionIDs []string) {
		for _, id := range sessionIDs {
			relaySrv.CloseSession(id)
		}
	})
	defer sessionMgr.Stop()

	apiHandler := api.NewHandler(registry, sessionMgr, streamRouter, relaySrv)
	mux := api.NewRouter(apiHandler, cfg.Server.WSPath, relaySrv.ServeWS, collector.Handler())

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("[MAIN] Listening on %s (ws at %s)", cfg.Server.ListenAddr, cfg.Server.WSPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[MAIN] Received %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := relaySrv.Stop(shutdownCtx); err != nil {
		log.Printf("[MAIN] Relay drain incomplete: %v", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[MAIN] HTTP shutdown error: %v", err)
	}
	auditLog.Flush()
	log.Printf("[MAIN] Shutdown complete")
}
