package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/notify"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/ariefcatur/go-realtime-checkout/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The sweeper cancels open orders whose products ran out of stock. It
// consumes inventory depletions published by the API.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName+"-sweeper", cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.ServiceName+"-sweeper")
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable at boot", zap.Error(err))
	}

	var sink notify.Sink = notify.LogSink{Log: log}
	var notifications *kafkax.Producer
	if cfg.Notify.Sink == "kafka" {
		notifications = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024, log)
		notifications.Start(ctx)
		sink = &notify.KafkaSink{Writer: notifications, Service: cfg.ServiceName + "-sweeper"}
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify, nil, log)

	sweeper := &orders.Sweeper{
		Orders: &orders.Service{
			Tx:       &postgres.TxRunner{DB: db},
			Repo:     &orders.Repo{DB: db},
			Notifier: dispatcher,
			Cache:    &redisx.StatusCache{Client: rdb},
			Log:      log,
		},
		Dedup: &redisx.Dedup{Client: rdb, Service: cfg.Sweeper.Group},
		Log:   log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Sweeper.Group, inventory.TopicDepleted, cfg.Sweeper.Workers, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		log.Info("sweeper consumer started",
			zap.String("group", cfg.Sweeper.Group),
			zap.String("topic", inventory.TopicDepleted),
			zap.Int("workers", cfg.Sweeper.Workers),
		)
		return cons.Start(gctx, sweeper.HandleDepleted)
	})

	// graceful shutdown
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			log.Info("shutting down sweeper")
			cancel()
		case <-gctx.Done():
		}
	}()

	if err := g.Wait(); err != nil {
		log.Error("sweeper stopped", zap.Error(err))
	}
	if notifications != nil {
		notifications.Close()
		notifications.WaitClosed()
	}
}
