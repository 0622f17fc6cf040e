package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// LimitedCompleter paces calls through a token bucket and bounds each call
// with a timeout. Timeouts surface as ordinary errors.
type LimitedCompleter struct {
	next    Completer
	limiter *rate.Limiter
	timeout time.Duration
}

// LimitCompleter wraps c. rps <= 0 disables pacing; timeout <= 0 disables
// the per-call deadline.
func LimitCompleter(c Completer, rps float64, timeout time.Duration) *LimitedCompleter {
	return &LimitedCompleter{next: c, limiter: newLimiter(rps), timeout: timeout}
}

func (l *LimitedCompleter) Name() string { return l.next.Name() }

func (l *LimitedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limit: %w", err)
	}
	return l.next.Complete(ctx, req)
}

// LimitedEmbedder is the Embedder counterpart of LimitedCompleter.
type LimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
	timeout time.Duration
}

func LimitEmbedder(e Embedder, rps float64, timeout time.Duration) *LimitedEmbedder {
	return &LimitedEmbedder{next: e, limiter: newLimiter(rps), timeout: timeout}
}

func (l *LimitedEmbedder) Name() string { return l.next.Name() }

func (l *LimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}
	return l.next.EmbedBatch(ctx, texts)
}
