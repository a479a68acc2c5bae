package providers

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimited paces Send calls to the provider's configured rate.
type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

func withRateLimit(p Provider, perSecond float64) Provider {
	if perSecond <= 0 {
		return p
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *rateLimited) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			return nil, Transient("cancelled", "send cancelled: %v", err)
		}
		// Wait also fails when the reservation would overrun ctx's deadline.
		return nil, ErrTimeout
	}
	return r.Provider.Send(ctx, msg)
}

func (r *rateLimited) Close() error {
	return Close(r.Provider)
}
