package health

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/unalkalkan/bookcast/internal/storage"
)

const sentinelPrefix = "health/"

// StorageCheck writes, reads back and deletes a small sentinel object.
func StorageCheck(adapter storage.Adapter) CheckFunc {
	return func(ctx context.Context) (Status, error) {
		key := path.Join(sentinelPrefix, fmt.Sprintf("sentinel-%d", time.Now().UnixNano()))
		want := []byte("ok")

		if err := storage.PutBytes(ctx, adapter, key, want); err != nil {
			return StatusUnhealthy, fmt.Errorf("write sentinel: %w", err)
		}
		defer adapter.Delete(context.WithoutCancel(ctx), key)

		got, err := storage.GetBytes(ctx, adapter, key)
		if err != nil {
			return StatusUnhealthy, fmt.Errorf("read sentinel: %w", err)
		}
		if string(got) != string(want) {
			return StatusUnhealthy, fmt.Errorf("sentinel mismatch: got %q", got)
		}
		return StatusHealthy, nil
	}
}

// PingCheck adapts a context-aware ping such as a database handle's.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) (Status, error) {
		if err := ping(ctx); err != nil {
			return StatusUnhealthy, err
		}
		return StatusHealthy, nil
	}
}

// DegradedOnError reports failures of a non-critical dependency as degraded.
func DegradedOnError(ping func() error) CheckFunc {
	return func(ctx context.Context) (Status, error) {
		if err := ping(); err != nil {
			return StatusDegraded, err
		}
		return StatusHealthy, nil
	}
}

// ProvidersCheck is unhealthy when no TTS provider is registered.
func ProvidersCheck(list func() []string) CheckFunc {
	return func(ctx context.Context) (Status, error) {
		if len(list()) == 0 {
			return StatusUnhealthy, fmt.Errorf("no TTS providers configured")
		}
		return StatusHealthy, nil
	}
}
