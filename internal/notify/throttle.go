package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled wraps a Notifier with a token-bucket rate limit so a burst
// of due reminders cannot flood the downstream transport. Send blocks
// until a token is available or ctx expires.
type Throttled struct {
	inner   Notifier
	limiter *rate.Limiter
}

func NewThrottled(inner Notifier, perSecond float64, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *Throttled) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("throttle: %w", err)
	}
	return t.inner.Send(ctx, msg)
}
