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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Bernabe-03/oplaisir/internal/broker/kafka"
	"github.com/Bernabe-03/oplaisir/internal/broker/logsink"
	"github.com/Bernabe-03/oplaisir/internal/broker/rabbitmq"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
	"github.com/Bernabe-03/oplaisir/internal/config"
	"github.com/Bernabe-03/oplaisir/internal/db"
	"github.com/Bernabe-03/oplaisir/internal/handler"
	"github.com/Bernabe-03/oplaisir/internal/notification"
	"github.com/Bernabe-03/oplaisir/internal/order"
	"github.com/Bernabe-03/oplaisir/internal/outbox"
	"github.com/Bernabe-03/oplaisir/internal/storage/memory"
)

type stores struct {
	orders        order.Repository
	catalog       catalog.Store
	outbox        outbox.Store
	notifications notification.Repository
	pinger        handler.Pinger
	close         func()
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(os.Stdout)
	if cfg.Env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	log.Logger = logger.With().Timestamp().Str("service", cfg.Name).Logger()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		mem := memory.New()
		return &stores{
			orders:        mem,
			catalog:       mem,
			outbox:        mem,
			notifications: mem,
			close:         func() {},
		}, nil
	}

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		return nil, err
	}
	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	return &stores{
		orders:        order.NewRepository(pg.Pool),
		catalog:       catalog.NewRepository(pg.Pool),
		outbox:        outbox.NewPostgresStore(pg.Pool),
		notifications: notification.NewRepository(pg.SQLX),
		pinger:        pg.Pool,
		close:         pg.Close,
	}, nil
}

// openBroker returns the event publisher and a func releasing its connection.
func openBroker(cfg config.BrokerConfig) (outbox.Publisher, func(), error) {
	switch cfg.Driver {
	case config.BrokerDriverRabbitMQ:
		conn, ch, err := rabbitmq.SetupConn(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, 5)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			_ = ch.Close()
			_ = conn.Close()
		}
		return rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange), closeFn, nil
	case config.BrokerDriverKafka:
		producer, err := kafka.NewProducer(kafka.Config{
			BootstrapServers: cfg.Kafka.BootstrapServers,
			ClientID:         cfg.Kafka.ClientID,
			Topic:            cfg.Kafka.Topic,
		})
		if err != nil {
			return nil, nil, err
		}
		return producer, producer.Close, nil
	default:
		return logsink.New(log.Logger), func() {}, nil
	}
}

func openBroadcaster(ctx context.Context, cfg config.RedisConfig) (notification.Broadcaster, func()) {
	if cfg.Addr == "" {
		log.Info().Msg("REDIS_ADDR not set, dashboard events are only logged")
		return notification.LogBroadcaster{}, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis not reachable yet, broadcasts will fail until it is")
	}
	return notification.NewRedisBroadcaster(client, cfg.Channel), func() { _ = client.Close() }
}

func run() error {
	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogger(cfg.App)
	log.Info().Str("store", cfg.Store.Driver).Str("broker", cfg.Broker.Driver).Msg("Starting oplaisir")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	brokerPublisher, closeBroker, err := openBroker(cfg.Broker)
	if err != nil {
		return err
	}
	defer closeBroker()

	broadcaster, closeRedis := openBroadcaster(ctx, cfg.Redis)
	defer closeRedis()

	notificationSvc := notification.NewService(st.notifications, broadcaster, nil)
	orderSvc := order.NewService(order.Deps{
		Orders:   st.orders,
		Catalog:  st.catalog,
		Notifier: notificationSvc,
	})
	notificationSvc.SetPendingCounter(orderSvc)

	relay := outbox.NewRelay(st.outbox, outbox.FanOut{
		outbox.NewBreaker(cfg.Broker.Driver, brokerPublisher),
		notificationSvc,
	}, outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	sweeper := notification.NewPendingSweeper(orderSvc, broadcaster, cfg.Notifications.SweepInterval)

	router := handler.NewRouter(st.pinger,
		handler.NewOrderHandler(orderSvc),
		handler.NewNotificationHandler(notificationSvc),
	)
	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", cfg.App.Port, err)
		}
		return nil
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("oplaisir stopped gracefully")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("oplaisir failed")
	}
}
