package reliability

import "context"

// Publisher mirrors the bus publisher surface so the wrapper does not depend
// on the bus package.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// ReliablePublisher wraps a Publisher with pacing, circuit breaking, and
// retries. Any of the controls may be nil to disable it.
type ReliablePublisher struct {
	base    Publisher
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliablePublisher constructs a reliability-wrapped publisher.
func NewReliablePublisher(base Publisher, limiter *RateLimiter, breaker *CircuitBreaker, retry RetryPolicy) *ReliablePublisher {
	return &ReliablePublisher{
		base:    base,
		limiter: limiter,
		breaker: breaker,
		retry:   retry,
	}
}

func (p *ReliablePublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	attempt := func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		publish := func() error {
			return p.base.Publish(ctx, routingKey, payload)
		}
		if p.breaker != nil {
			return p.breaker.Execute(publish)
		}
		return publish()
	}
	return p.retry.Do(ctx, attempt)
}
