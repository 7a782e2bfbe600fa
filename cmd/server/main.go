// Command server wires the dependencies and runs the HTTP API. Business
// logic lives in the internal service packages; main only assembles them and
// owns the lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"civis/internal/audit"
	auditkafka "civis/internal/audit/store/kafka"
	auditmemory "civis/internal/audit/store/memory"
	auditpostgres "civis/internal/audit/store/postgres"
	"civis/internal/biometric"
	faceclient "civis/internal/biometric/client"
	"civis/internal/crypto/envelope"
	"civis/internal/crypto/password"
	"civis/internal/identity"
	identitymemory "civis/internal/identity/store/memory"
	identitypostgres "civis/internal/identity/store/postgres"
	"civis/internal/kyc"
	registryclient "civis/internal/kyc/client"
	kycmemory "civis/internal/kyc/store/memory"
	kycredis "civis/internal/kyc/store/redis"
	"civis/internal/login"
	"civis/internal/notify"
	"civis/internal/platform/config"
	"civis/internal/platform/httpserver"
	"civis/internal/platform/logger"
	platformpg "civis/internal/platform/postgres"
	platformredis "civis/internal/platform/redis"
	"civis/internal/ratelimit"
	ratelimitmemory "civis/internal/ratelimit/store/memory"
	ratelimitredis "civis/internal/ratelimit/store/redis"
	"civis/internal/token"
	httptransport "civis/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.IsDev())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backends. Postgres and Redis are optional in dev; missing URLs fall
	// back to in-memory stores.
	pool, err := platformpg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var identityStore identity.Store
	if pool != nil {
		pgStore := identitypostgres.New(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return err
		}
		identityStore = pgStore
		log.Info("using postgres identity store")
	} else {
		identityStore = identitymemory.New()
		log.Warn("no database configured, identity records are in-memory")
	}

	var limiterStore ratelimit.Store
	if rdb != nil {
		limiterStore = ratelimitredis.New(rdb.Client)
	} else {
		limiterStore = ratelimitmemory.New()
	}
	limiter, err := ratelimit.New(limiterStore, ratelimit.WithLogger(log))
	if err != nil {
		return err
	}

	var pendingStore kyc.PendingStore
	if rdb != nil {
		pendingStore = kycredis.New(rdb.Client)
	} else {
		pendingStore = kycmemory.New()
	}

	// Audit pipeline.
	auditor := audit.NewPublisher(audit.WithLogger(log))
	var sink audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := auditkafka.New(cfg.Kafka.Brokers, auditkafka.WithTopic(cfg.Kafka.AuditTopic))
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		if err := kafkaSink.EnsureTopic(ctx, 3, 1); err != nil {
			return err
		}
		sink = kafkaSink
		log.Info("audit events flowing to kafka", "topic", cfg.Kafka.AuditTopic)
	} else if cfg.Database.URL != "" {
		pgSink, err := auditpostgres.Open(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pgSink.Close()
		if err := pgSink.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = pgSink
		log.Info("audit events archived to postgres")
	} else {
		sink = auditmemory.New()
		log.Warn("no kafka brokers or database configured, audit events stay in-memory")
	}

	// Crypto and tokens.
	crypt, err := envelope.New(cfg.Encryption.Key)
	if err != nil {
		return err
	}
	hasher := password.NewHasher(12)
	tokens, err := token.NewService(token.Config{
		AccessSecret:  cfg.Tokens.AccessSecret,
		RefreshSecret: cfg.Tokens.RefreshSecret,
		Issuer:        cfg.Tokens.Issuer,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
		StepUpTTL:     cfg.Tokens.StepUpTTL,
	})
	if err != nil {
		return err
	}

	var notifier login.Notifier
	if cfg.SMTP.Host != "" {
		notifier, err = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return err
		}
	} else {
		notifier = notify.NewLogSender(log)
		log.Warn("no smtp host configured, codes are not delivered")
	}

	// Services.
	loginSvc, err := login.New(identityStore, tokens, hasher, notifier,
		login.WithLogger(log),
		login.WithLimiter(limiter),
		login.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	var matcher biometric.Matcher
	if cfg.FaceService.URL != "" {
		matcher, err = faceclient.New(cfg.FaceService.URL, faceclient.WithAPIKey(cfg.FaceService.APIKey))
		if err != nil {
			return err
		}
	} else {
		return errors.New("CIVIS_FACE_SERVICE_URL is required")
	}
	bioSvc, err := biometric.New(identityStore, matcher, crypt, loginSvc,
		biometric.WithLogger(log),
		biometric.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	var registry kyc.Registry
	if cfg.DocumentRegistry.URL != "" {
		registry, err = registryclient.New(cfg.DocumentRegistry.URL, registryclient.WithAPIKey(cfg.DocumentRegistry.APIKey))
		if err != nil {
			return err
		}
	} else {
		return errors.New("CIVIS_REGISTRY_URL is required")
	}
	kycSvc, err := kyc.New(identityStore, registry, pendingStore, crypt,
		kyc.WithLogger(log),
		kyc.WithLimiter(limiter),
		kyc.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Login:     loginSvc,
		Biometric: bioSvc,
		KYC:       kycSvc,
		Tokens:    tokens,
		Ready: func() error {
			if pool != nil {
				if err := pool.Ping(ctx); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
			}
			if rdb != nil {
				if err := rdb.Health(ctx); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := auditor.Run(gctx, sink)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}
