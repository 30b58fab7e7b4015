package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/mail-watch-broker/internal/alerts"
	"github.com/pysugar/mail-watch-broker/internal/auth/google"
	"github.com/pysugar/mail-watch-broker/internal/config"
	"github.com/pysugar/mail-watch-broker/internal/credential"
	"github.com/pysugar/mail-watch-broker/internal/db"
	"github.com/pysugar/mail-watch-broker/internal/mailbox"
	"github.com/pysugar/mail-watch-broker/internal/secrets"
	"github.com/pysugar/mail-watch-broker/internal/server/handlers"
	"github.com/pysugar/mail-watch-broker/internal/server/middleware"
	"github.com/pysugar/mail-watch-broker/internal/session"
	"github.com/pysugar/mail-watch-broker/internal/version"
	"github.com/pysugar/mail-watch-broker/internal/watch"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type storage struct {
	creds    credential.Store
	receipts watch.ReceiptStore
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Mail watch broker %s", version.String())
	if cfg.SessionSecretGenerated {
		log.Printf("SESSION_SECRET not set, generated a per-process key; sessions will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer

	// Secret store
	secretStore, err := openSecretStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s secret store: %v", cfg.SecretBackend, err)
	}
	if c, ok := secretStore.(io.Closer); ok {
		closers = append(closers, c)
	}
	provider := secrets.NewProvider(secretStore, cfg.OAuthSecretName, cfg.CallTimeout)

	// Credential and receipt storage
	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer store.close()

	// Operator alerts
	var notifier alerts.Notifier = alerts.LogNotifier{}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := alerts.DialAMQP(cfg.AMQPURL, cfg.AlertExchange, cfg.CallTimeout)
		if err != nil {
			log.Printf("Alert broker unavailable, alerts go to the log only: %v", err)
		} else {
			notifier = alerts.Multi{alerts.LogNotifier{}, amqpNotifier}
			closers = append(closers, amqpNotifier)
		}
	}

	// Sessions
	var sessionStore session.Store = session.NewMemoryStore()
	if cfg.SessionBackend == "redis" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect session store: %v", err)
		}
		sessionStore = redisStore
		closers = append(closers, redisStore)
	}
	gate := session.NewGate(sessionStore, cfg.SessionSecret, cfg.SessionTTL, session.WithStoreTimeout(cfg.CallTimeout))

	mail := mailbox.NewClient()
	flow := google.NewFlow(provider, mail, cfg.CallTimeout, google.WithForceConsent(cfg.ForceConsent))

	var registrar *watch.Registrar
	var renewer *watch.Renewer
	if cfg.WatchEnabled {
		registrar = watch.NewRegistrar(mail, store.receipts, notifier, watch.RegistrarConfig{
			Topic:   cfg.WatchTopic,
			Labels:  cfg.WatchLabels,
			Timeout: cfg.CallTimeout,
		})
		renewer = watch.NewRenewer(registrar, store.creds, store.receipts, watch.RenewerConfig{
			Interval:    cfg.WatchRenewInterval,
			RenewBefore: cfg.WatchRenewBefore,
			Timeout:     cfg.CallTimeout,
		})
		renewer.Start()
		defer renewer.Stop()
	}

	// Create router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handlers.HealthHandler(store.creds, cfg.CallTimeout))

	// Browser login flow
	r.Group(func(r chi.Router) {
		r.Use(gate.Middleware)
		r.Get("/", handlers.IndexHandler(gate))
		r.Get("/authorize", handlers.AuthorizeHandler(flow, gate, cfg.PublicURL))
		if registrar != nil {
			r.Get(handlers.CallbackPath, handlers.CallbackHandler(flow, store.creds, registrar, gate, cfg.PublicURL, cfg.CallTimeout))
		} else {
			r.Get(handlers.CallbackPath, handlers.CallbackHandler(flow, store.creds, nil, gate, cfg.PublicURL, cfg.CallTimeout))
		}
		r.Get("/logout", handlers.LogoutHandler(gate))
	})

	// Operator API (protected if ADMIN_PASSWORD is set)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminPassword))
		r.Get("/watches", handlers.WatchesHandler(store.receipts))
		if renewer != nil {
			r.Post("/watches/{account}/renew", handlers.RenewWatchHandler(renewer))
		}
	})
	if cfg.AdminPassword == "" {
		log.Printf("ADMIN_PASSWORD not set, /api is unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Broker listening on http://%s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("Close failed: %v", err)
		}
	}
}

func openSecretStore(ctx context.Context, cfg config.Config) (secrets.Store, error) {
	switch cfg.SecretBackend {
	case "gcp":
		return secrets.NewGCPStore(ctx, cfg.ProjectID)
	case "aws":
		return secrets.NewAWSStore(ctx, cfg.AWSRegion)
	default:
		return secrets.FileStore{}, nil
	}
}

func openStorage(ctx context.Context, cfg config.Config) (*storage, error) {
	if cfg.StoreBackend == "mongo" {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, err
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		database := client.Database(cfg.MongoDatabase)
		return &storage{
			creds:    credential.NewMongoStore(database),
			receipts: watch.NewMongoReceipts(database),
			close:    func() { client.Disconnect(context.Background()) },
		}, nil
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &storage{
		creds:    credential.NewGormStore(database),
		receipts: watch.NewGormReceipts(database),
		close: func() {
			if sqlDB, err := database.DB(); err == nil {
				sqlDB.Close()
			}
		},
	}, nil
}
