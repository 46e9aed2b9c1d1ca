package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eyecare-realtime/internal/api"
	"eyecare-realtime/internal/auth"
	"eyecare-realtime/internal/config"
	"eyecare-realtime/internal/events"
	"eyecare-realtime/internal/logging"
	"eyecare-realtime/internal/push"
	"eyecare-realtime/internal/redis"
	"eyecare-realtime/internal/store"
	"eyecare-realtime/internal/ws"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	validator, err := newValidator(ctx, cfg)
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	// Redis fans events out across instances; without it the hub delivers
	// in-process only.
	var (
		broker      push.Broker
		registry    ws.ConsultRegistry = ws.NewMemoryRegistry()
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		broker = redisClient
		registry = redis.NewConsultRegistry(redisClient, cfg.ConsultRoomTTL)
	} else {
		slog.Warn("REDIS_URL not set, running as a single instance")
	}

	hub := ws.NewHub(broker, db, registry)
	hub.AllowOrigins(cfg.AllowedOrigins)
	go hub.Run(ctx)

	if redisClient != nil {
		go func() {
			if err := redis.SubscribeToEvents(ctx, redisClient, hub); err != nil {
				slog.Error("[REDIS] Subscription stopped", "error", err)
			}
		}()
	}

	pusher := push.New(hub.Broker())

	if cfg.AMQPURI != "" {
		consumer, err := events.NewConsumer(&events.AMQPSettings{
			URI:          cfg.AMQPURI,
			ExchangeName: cfg.AMQPExchange,
			QueueName:    cfg.AMQPQueue,
		}, map[string]events.MessageHandler{
			"notification": events.NewNotifications(db, pusher),
			"message":      events.NewMessages(db, pusher),
		})
		if err != nil {
			return err
		}
		defer consumer.Close()

		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("[AMQP] Consumer stopped", "error", err)
			}
		}()
	}

	socket := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, validator, w, r)
	})
	router := api.NewRouter(api.NewHandler(db, pusher), validator, socket)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Realtime server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newValidator(ctx context.Context, cfg *config.Config) (*auth.Validator, error) {
	if cfg.JWKSURL != "" {
		return auth.NewJWKSValidator(ctx, cfg.JWKSURL, cfg.JWTIssuer, nil)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("either JWKS_URL or JWT_SECRET must be set")
	}
	return auth.NewHMACValidator(cfg.JWTSecret, cfg.JWTIssuer), nil
}
