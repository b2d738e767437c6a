package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kamar-Folarin/mobile-sync/internal/config"
)

// Processor runs units of sync work with a bounded retry budget and worker pool
type Processor struct {
	config *config.BatchConfig
}

// NewProcessor creates a new batch processor
func NewProcessor(cfg *config.BatchConfig) *Processor {
	if cfg == nil {
		cfg = &config.DefaultSyncConfig().BatchConfig
	}
	return &Processor{config: cfg}
}

// Config returns the processor configuration
func (p *Processor) Config() *config.BatchConfig {
	return p.config
}

// retryable is implemented by errors that know whether repeating the call can help
type retryable interface {
	Retryable() bool
}

// Retry calls fn until it succeeds or the retry budget is exhausted.
// Errors wrapping context cancellation, or reporting themselves as not
// retryable, are returned at once.
func (p *Processor) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for retry := 0; retry <= p.config.MaxRetries; retry++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		var r retryable
		if errors.As(err, &r) && !r.Retryable() {
			return err
		}

		lastErr = err
		if retry < p.config.MaxRetries {
			backoff := time.Duration(float64(p.config.RetryDelay) * float64(retry+1))
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", p.config.MaxRetries, lastErr)
}

// ForEach runs fn for every index in [0, n) on at most Workers goroutines and
// joins the errors
func (p *Processor) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}

	workers := p.config.Workers
	if workers <= 0 {
		workers = 1
	}

	workerChan := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return errors.Join(append(errs, ctx.Err())...)
		case workerChan <- struct{}{}:
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() { <-workerChan }()

				if err := fn(ctx, i); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(i)
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Chunk splits ids into consecutive slices of at most size elements
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
