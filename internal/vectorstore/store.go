// Package vectorstore provides similarity-search backends for Kestrel.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a vector store based on configuration.
func New(cfg domain.VectorStoreConfig) (domain.VectorStore, error) {
	switch cfg.Type {
	case "chromem":
		return NewChromemStore(cfg)
	case "memory":
		return NewMemoryStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}

// withRetry runs op with bounded exponential backoff. Used for upserts only:
// upserts are idempotent per point ID, searches must never be retried.
func withRetry(ctx context.Context, maxRetries int, baseWait time.Duration, op func() error) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if baseWait <= 0 {
		baseWait = 100 * time.Millisecond
	}

	var lastErr error
	wait := baseWait
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		// Mismatches are never transient.
		if errors.Is(lastErr, domain.ErrEncoderMismatch) {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}

		slog.Warn("vector store upsert failed, retrying",
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return lastErr
}

// ctxErr maps a context failure during a store call onto the taxonomy.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
