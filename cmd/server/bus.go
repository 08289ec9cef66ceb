package main

import (
	"context"
	"log/slog"
	"time"

	"orderflow/cmd/server/config"
	"orderflow/internal/bus"
	"orderflow/internal/reliability"
)

type busSet struct {
	publisher reliability.Publisher
	consumer  bus.Consumer
	ready     func(context.Context) error
	cleanup   func()
}

// buildBus connects to RabbitMQ when AMQP_URL is set, retrying with bounded
// backoff because the broker commonly comes up after the service in
// container deployments. Without a URL the whole saga runs on the in-process
// bus. Either way the publisher is wrapped with retry, a circuit breaker,
// and a rate limiter.
func buildBus(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*busSet, error) {
	if cfg.URL == "" {
		log.Warn("AMQP_URL not set, using in-process bus")
		localBus := bus.NewLocalBus(log)
		return &busSet{
			publisher: wrapPublisher(localBus),
			consumer:  localBus,
			cleanup:   func() {},
		}, nil
	}

	connectRetry := reliability.RetryPolicy{
		MaxAttempts: cfg.ConnectAttempts,
		BaseDelay:   cfg.ConnectBackoff,
		MaxDelay:    30 * time.Second,
	}

	var amqpBus *bus.AMQPBus
	err := connectRetry.Do(ctx, func() error {
		var dialErr error
		amqpBus, dialErr = bus.DialAMQP(cfg.URL, cfg.Exchange, log)
		if dialErr != nil {
			log.Warn("amqp dial failed, retrying", "error", dialErr)
		}
		return dialErr
	})
	if err != nil {
		return nil, err
	}

	publisher, err := amqpBus.Publisher()
	if err != nil {
		_ = amqpBus.Close()
		return nil, err
	}

	return &busSet{
		publisher: wrapPublisher(publisher),
		consumer:  amqpBus,
		ready:     amqpBus.Ready,
		cleanup: func() {
			if err := publisher.Close(); err != nil {
				log.Error("close publisher", "error", err)
			}
			if err := amqpBus.Close(); err != nil {
				log.Error("close amqp", "error", err)
			}
		},
	}, nil
}

func wrapPublisher(base reliability.Publisher) reliability.Publisher {
	return reliability.NewReliablePublisher(
		base,
		reliability.NewRateLimiter(time.Millisecond, 100),
		reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 5 * time.Second,
		}),
		reliability.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
		},
	)
}
