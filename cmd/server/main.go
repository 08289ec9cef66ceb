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

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/sync/errgroup"

	"orderflow/cmd/server/config"
	"orderflow/internal/httpapi"
	"orderflow/internal/notify"
	"orderflow/internal/observability"
	"orderflow/internal/orders"
	"orderflow/internal/payments"
	"orderflow/internal/realtime"
	"orderflow/internal/saga"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	busCfg, err := config.LoadBus()
	if err != nil {
		return err
	}
	paymentCfg, err := config.LoadPayment()
	if err != nil {
		return err
	}
	cacheCfg, err := config.LoadCache()
	if err != nil {
		return err
	}

	stores, err := buildStores(ctx, config.LoadStore(), log)
	if err != nil {
		return err
	}
	defer stores.cleanup()

	buses, err := buildBus(ctx, busCfg, log)
	if err != nil {
		return err
	}
	defer buses.cleanup()

	cache, cacheCleanup, err := buildStatusCache(ctx, cacheCfg, log)
	if err != nil {
		return err
	}
	defer cacheCleanup()

	metrics := observability.NewMetrics()
	hub := realtime.NewHub(log)

	var sinks []notify.Sink
	if cache != nil {
		sinks = append(sinks, cache)
	}
	fanout := notify.NewFanout(hub, sinks...)

	orderSvc := orders.NewService(stores.orders, buses.publisher, fanout, uuid.NewString, time.Now, log)
	paymentSvc := payments.NewService(stores.payments, buses.publisher, payments.CeilingDecider(paymentCfg.Ceiling), uuid.NewString, time.Now, log)

	apiOpts := []httpapi.Option{
		httpapi.WithWebSocket(hub.HandleWS),
		httpapi.WithReadyChecks(stores.ready...),
	}
	if buses.ready != nil {
		apiOpts = append(apiOpts, httpapi.WithReadyChecks(buses.ready))
	}
	if httpCfg.RateLimitPerMinute > 0 {
		lim := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: httpCfg.RateLimitPerMinute})
		apiOpts = append(apiOpts, httpapi.WithRateLimiter(lim))
	}
	api := httpapi.New(orderSvc, paymentSvc, metrics, log, apiOpts...)

	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: api.Router(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		hub.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return buses.consumer.Consume(groupCtx, saga.PaymentSubscription(paymentSvc, metrics))
	})
	group.Go(func() error {
		return buses.consumer.Consume(groupCtx, saga.OrderResultSubscription(orderSvc, metrics))
	})
	group.Go(func() error {
		log.Info("http server listening", "addr", httpCfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		log.Info("shutting down", "timeout", httpCfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown incomplete, closing", "error", err)
			return srv.Close()
		}
		return nil
	})

	return group.Wait()
}
