package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ariefcatur/go-realtime-checkout/internal/config"
	"github.com/ariefcatur/go-realtime-checkout/internal/httpx"
	"github.com/ariefcatur/go-realtime-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-checkout/internal/kafka"
	"github.com/ariefcatur/go-realtime-checkout/internal/logging"
	"github.com/ariefcatur/go-realtime-checkout/internal/notify"
	"github.com/ariefcatur/go-realtime-checkout/internal/orders"
	"github.com/ariefcatur/go-realtime-checkout/internal/payments"
	"github.com/ariefcatur/go-realtime-checkout/internal/postgres"
	"github.com/ariefcatur/go-realtime-checkout/internal/redisx"
	"github.com/ariefcatur/go-realtime-checkout/internal/sales"
	"github.com/ariefcatur/go-realtime-checkout/internal/stripex"
	"github.com/ariefcatur/go-realtime-checkout/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("tracing setup", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.ServiceName)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, log); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Redis backs the status cache and webhook dedup; both degrade to the
	// database when it is down.
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable at boot", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Kafka producers
	depletions := kafkax.NewProducer(cfg.KafkaBrokers, inventory.TopicDepleted, 1024, log)
	depletions.Start(ctx)
	producers := []*kafkax.Producer{depletions}

	var sink notify.Sink = notify.LogSink{Log: log}
	if cfg.Notify.Sink == "kafka" {
		notifications := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024, log)
		notifications.Start(ctx)
		producers = append(producers, notifications)
		sink = &notify.KafkaSink{Writer: notifications, Service: cfg.ServiceName, Timeout: 5 * time.Second}
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify, reg, log)

	// Services
	tx := &postgres.TxRunner{DB: db}
	guard := &inventory.Guard{
		Tx:        tx,
		Repo:      &inventory.Repo{DB: db},
		Depletion: &inventory.KafkaDepletion{Producer: depletions, Service: cfg.ServiceName},
		Log:       log,
	}
	statusCache := &redisx.StatusCache{Client: rdb}
	orderSvc := &orders.Service{
		Tx:       tx,
		Repo:     &orders.Repo{DB: db},
		Stock:    guard,
		Notifier: dispatcher,
		Cache:    statusCache,
		Log:      log,
	}
	paymentMetrics := payments.NewMetrics(reg)
	paymentSvc := &payments.Service{
		Tx:        tx,
		Repo:      &payments.Repo{DB: db},
		Orders:    orderSvc,
		Gateway:   stripex.New(cfg.StripeSecretKey),
		Metrics:   paymentMetrics,
		Dedup:     &redisx.Dedup{Client: rdb, Service: "payments"},
		Currency:  cfg.Payment.Currency,
		MaxAmount: cfg.Payment.MaxAmount,
		Log:       log,
	}
	saleSvc := &sales.Service{
		Tx:     tx,
		Repo:   &sales.Repo{DB: db},
		Stock:  guard,
		Orders: orderSvc,
		Log:    log,
	}

	// HTTP
	router := httpx.NewRouter(log, reg,
		&httpx.OrdersHandler{Orders: orderSvc, Cache: statusCache},
		&httpx.InventoryHandler{Stock: guard},
		&httpx.PaymentsHandler{
			Payments: paymentSvc,
			Metrics:  paymentMetrics,
			ParseEvent: func(payload []byte, signature string) (payments.Event, error) {
				return stripex.ParseEvent(payload, signature, cfg.StripeWebhookSecret)
			},
			Auth: httpx.Authenticator{Secret: []byte(cfg.JWTSecret)},
		},
		&httpx.SalesHandler{Sales: saleSvc},
	)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx); err != nil {
			log.Error("notifier stopped", zap.Error(err))
		}
	}()

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	wg.Wait()
	for _, p := range producers {
		p.Close()
		p.WaitClosed()
	}
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
