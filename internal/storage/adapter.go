package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
)

// Adapter is the object storage contract used by documents, conversion
// outputs and the audio cache. Keys are slash separated.
type Adapter interface {
	// Put stores data at key, replacing any previous object.
	Put(ctx context.Context, key string, data io.Reader) error

	// Get opens the object at key. A missing object yields an error
	// matching errors.ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// PutBytes stores b at key.
func PutBytes(ctx context.Context, a Adapter, key string, b []byte) error {
	return a.Put(ctx, key, bytes.NewReader(b))
}

// GetBytes reads the whole object at key.
func GetBytes(ctx context.Context, a Adapter, key string) ([]byte, error) {
	rc, err := a.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// PutJSON stores v encoded as JSON at key.
func PutJSON(ctx context.Context, a Adapter, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return PutBytes(ctx, a, key, data)
}

// GetJSON decodes the JSON object at key into v.
func GetJSON(ctx context.Context, a Adapter, key string, v any) error {
	data, err := GetBytes(ctx, a, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every object under prefix and returns how many were removed.
func DeletePrefix(ctx context.Context, a Adapter, prefix string) (int, error) {
	keys, err := a.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := a.Delete(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

func notFound(key string) error {
	return domainerrors.NotFoundf("object not found: %s", key)
}
