package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scolara.org/internal/auth"
	"scolara.org/internal/config"
	"scolara.org/internal/httpapi"
	"scolara.org/internal/ledger"
	"scolara.org/internal/notify"
	"scolara.org/internal/obs"
	"scolara.org/internal/store/pg"
	"scolara.org/internal/tenant"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.AuthSecret == "" {
		log.Fatal("SCOLARA_AUTH_SECRET is required")
	}
	tokens, err := auth.NewTokenService(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	var (
		store   ledger.Store
		users   auth.UserStore
		probe   httpapi.ReadyProbe
		pgStore *pg.Store
	)
	if cfg.PGDSN != "" {
		pgStore, err = pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		users = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// No DSN: in-memory everything, for local development only.
		if cfg.IsProd() {
			log.Fatal("SCOLARA_PG_DSN is required in prod")
		}
		log.Println("no SCOLARA_PG_DSN set, using in-memory storage")
		store = ledger.NewInMemory()
		users = auth.NewInMemoryUsers()
	}

	var mailer notify.Mailer = notify.ConsoleMailer{}
	if cfg.SendgridAPIKey != "" {
		mailer = notify.NewSendgridMailer(cfg.SendgridAPIKey, cfg.EmailFrom)
	}

	svc := ledger.NewService(store, auth.NewResolver(users), tenant.NewResolver(users),
		ledger.WithMailer(mailer))

	api := httpapi.New(httpapi.Config{
		Ledger:     svc,
		Users:      users,
		Tokens:     tokens,
		ReadyProbe: probe,
		Version:    version,
		TokenTTL:   cfg.TokenTTL,
	})

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), cfg.RateLimitBurst, cfg.RateLimitPerSecond),
						cfg.MaxBodyBytes)))))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting scolara-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
