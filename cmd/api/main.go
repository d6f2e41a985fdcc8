package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mahainsight.org/internal/account"
	"mahainsight.org/internal/config"
	"mahainsight.org/internal/httpapi"
	"mahainsight.org/internal/identity"
	"mahainsight.org/internal/identity/google"
	"mahainsight.org/internal/obs"
	"mahainsight.org/internal/quota"
	"mahainsight.org/internal/session"
	"mahainsight.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg := config.Load()
	if cfg.TokenSecret == "" {
		log.Fatal("INSIGHT_TOKEN_SECRET is required")
	}

	// Postgres when a DSN is configured; in-memory stores otherwise, which is
	// enough for local development.
	var (
		db           *sql.DB
		accountStore account.Store
		sessionStore session.RevocationStore
		quotaStore   quota.Store
	)
	if cfg.PGDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		accountStore = account.NewPGStore(db)
		sessionStore = session.NewPGStore(db)
		quotaStore = quota.NewPGStore(db)
	} else {
		log.Print("no INSIGHT_PG_DSN set, using in-memory stores")
		accountStore = account.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		quotaStore = quota.NewMemoryStore()
	}

	codec, err := token.NewCodec(cfg.TokenSecret, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	sessions, err := session.NewService(codec, sessionStore, accountStore)
	if err != nil {
		log.Fatalf("session service: %v", err)
	}
	linker, err := identity.NewLinker(accountStore)
	if err != nil {
		log.Fatalf("identity linker: %v", err)
	}
	tracker, err := quota.NewTracker(quotaStore)
	if err != nil {
		log.Fatalf("quota tracker: %v", err)
	}
	provider := google.NewProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	if !provider.Configured() {
		log.Print("google sign-in not configured, provider endpoints disabled")
	}

	api, err := httpapi.New(httpapi.Options{
		Sessions:   sessions,
		Accounts:   accountStore,
		Linker:     linker,
		Quota:      tracker,
		Google:     provider,
		Ready:      httpapi.ReadyProbe{DB: db},
		Version:    version,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		AskPolicy:  quota.Policy{Limit: cfg.AskQuotaLimit, Window: cfg.AskQuotaWindow},
	})
	if err != nil {
		log.Fatalf("httpapi: %v", err)
	}

	handler := api.Handler()
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, cfg.RateLimitPerSecond)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Expired revocation records are dead weight; sweep them on a timer.
	gcCtx, gcCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.SessionGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gcCtx.Done():
				return
			case <-ticker.C:
				removed, err := sessions.GarbageCollect(gcCtx, cfg.SessionGCRetention)
				if err != nil {
					log.Printf("session gc: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("session gc: removed %d expired records", removed)
				}
			}
		}
	}()

	log.Printf("Starting mahainsight-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	gcCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
