package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// limitedProvider gates Chat calls through a token bucket.
type limitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// Limit wraps p so that at most requestsPerMinute calls reach the
// upstream API, with a burst of one.
func Limit(p Provider, requestsPerMinute int) Provider {
	return &limitedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
	}
}

func (l *limitedProvider) Name() string { return l.inner.Name() }

func (l *limitedProvider) Chat(ctx context.Context, req *Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return l.inner.Chat(ctx, req)
}
