package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/billpay/internal/config"
	"github.com/congo-pay/billpay/internal/infra"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/routes"
	"github.com/congo-pay/billpay/internal/server"
	"github.com/congo-pay/billpay/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate postgres", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("REDIS_URL not set, idempotency and rate limiting disabled")
	}

	notifier, closeSinks, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Error("event sinks", "error", err)
		os.Exit(1)
	}
	defer closeSinks()

	srv, err := server.New(routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Notifier: notifier})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	var sweep *sweeper.Sweeper
	if cfg.Sweep.Enabled {
		services := srv.Services()
		sweep = sweeper.New(services.Engine, services.Transactions, sweeper.Config{
			Interval:    cfg.Sweep.Interval,
			MaxAge:      cfg.Sweep.MaxAge,
			MaxAttempts: cfg.Sweep.MaxAttempts,
			Concurrency: cfg.Sweep.Concurrency,
			BatchSize:   cfg.Sweep.BatchSize,
		}, logger)
		go sweep.Start(ctx)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	if sweep != nil {
		sweep.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

// buildNotifier connects every configured event sink and fans events out to them.
func buildNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (notification.Notifier, func(), error) {
	var (
		sinks   notification.Multi
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	for _, name := range cfg.EventSinks {
		switch name {
		case "log":
			sinks = append(sinks, notification.NewLoggerNotifier(logging.Component(logger, "events")))
		case "kafka":
			writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, func() {
				if err := writer.Close(); err != nil {
					logger.Warn("close kafka writer", "error", err)
				}
			})
			sinks = append(sinks, notification.NewKafkaNotifier(writer))
		case "amqp":
			conn, err := infra.NewAMQP(cfg.AMQPURL, cfg.AppName, cfg.AMQPExchange)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, func() {
				if err := conn.Close(); err != nil {
					logger.Warn("close amqp", "error", err)
				}
			})
			sinks = append(sinks, notification.NewAMQPNotifier(conn.Channel, cfg.AMQPExchange))
		case "mongo":
			client, err := infra.NewMongoClient(ctx, cfg.MongoURI)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, func() {
				if err := client.Disconnect(context.Background()); err != nil {
					logger.Warn("disconnect mongo", "error", err)
				}
			})
			sinks = append(sinks, notification.NewMongoAuditNotifier(client, cfg.MongoDatabase))
		}
	}

	if len(sinks) == 0 {
		return notification.NewLoggerNotifier(logger), closeAll, nil
	}
	return sinks, closeAll, nil
}
