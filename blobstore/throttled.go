package blobstore

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits the bytes per second moved through a Store. Transfers
// larger than the burst are charged in burst-sized steps.
type Throttled struct {
	inner   Store
	limiter *rate.Limiter
}

// NewThrottled wraps inner with a limit of bytesPerSec and the given burst.
// A burst below one second of traffic is raised to it.
func NewThrottled(inner Store, bytesPerSec, burst int) *Throttled {
	if burst < bytesPerSec {
		burst = bytesPerSec
	}
	return &Throttled{inner: inner, limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

func (t *Throttled) wait(ctx context.Context, n int64) error {
	burst := int64(t.limiter.Burst())
	for n > 0 {
		step := min(n, burst)
		if err := t.limiter.WaitN(ctx, int(step)); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Open charges the whole blob size up front.
func (t *Throttled) Open(ctx context.Context, name string) (Blob, error) {
	b, err := t.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := t.wait(ctx, b.Size()); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (t *Throttled) Put(ctx context.Context, name string, data []byte) error {
	if err := t.wait(ctx, int64(len(data))); err != nil {
		return err
	}
	return t.inner.Put(ctx, name, data)
}

func (t *Throttled) Delete(ctx context.Context, name string) error {
	return t.inner.Delete(ctx, name)
}

func (t *Throttled) List(ctx context.Context, prefix string) ([]string, error) {
	return t.inner.List(ctx, prefix)
}
