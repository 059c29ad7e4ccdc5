package ocrclient

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// RateLimitedClient paces every call to the wrapped client.
type RateLimitedClient struct {
	inner   JobClient
	limiter *rate.Limiter
}

// WithRateLimit wraps inner when rps is positive; otherwise inner is returned as is.
func WithRateLimit(inner JobClient, rps float64, burst int) JobClient {
	if rps <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c *RateLimitedClient) Submit(ctx context.Context, partPath string, opts SubmitOptions) (SubmitResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return SubmitResponse{}, err
	}
	return c.inner.Submit(ctx, partPath, opts)
}

func (c *RateLimitedClient) Poll(ctx context.Context, handle models.JobHandle) (RawStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return RawStatus{}, err
	}
	return c.inner.Poll(ctx, handle)
}

func (c *RateLimitedClient) FetchResult(ctx context.Context, handle models.JobHandle) (models.ResultPayload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.ResultPayload{}, err
	}
	return c.inner.FetchResult(ctx, handle)
}

func (c *RateLimitedClient) DeleteJob(ctx context.Context, handle models.JobHandle) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.inner.DeleteJob(ctx, handle)
}
