package scheduler

import (
	"context"

	"github.com/antigravity-dev/ain/internal/config"
	"golang.org/x/time/rate"
)

// NewDispatchLimiter builds the dreamer/coder dispatch throttle from
// RateLimits config, replacing the teacher's tier-based
// internal/dispatch.RateLimiter (which keys off a provider-tier/project
// store shape this spec has no equivalent of — a fixed two-role dreamer/
// coder dispatcher needs only a flat requests-per-minute bucket).
func NewDispatchLimiter(cfg config.RateLimits) *rate.Limiter {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
}

// FallbackEmbedder produces a deterministic pseudo-embedding local to this
// deployment's declared vector dimension, used when no external embedding
// provider is configured (§1 embedding provider is out of scope).
type FallbackEmbedder struct {
	Dimension int
}

// Embed implements Embedder.
func (f FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	_ = ctx
	return embedFallback(text, f.Dimension), nil
}
