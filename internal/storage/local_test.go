package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/bookcast/internal/errors"
)

func newTestAdapter(t *testing.T) *LocalAdapter {
	t.Helper()
	adapter, err := NewLocalAdapter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestLocalAdapter(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	key := "documents/doc-1/raw.txt"
	data := []byte("Hello, World!")

	t.Run("Put", func(t *testing.T) {
		require.NoError(t, adapter.Put(ctx, key, bytes.NewReader(data)))
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := adapter.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Get", func(t *testing.T) {
		rc, err := adapter.Get(ctx, key)
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, PutBytes(ctx, adapter, key, []byte("v2")))
		got, err := GetBytes(ctx, adapter, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(got))
	})

	t.Run("ListSorted", func(t *testing.T) {
		require.NoError(t, PutBytes(ctx, adapter, "documents/doc-1/a.json", []byte("{}")))
		require.NoError(t, PutBytes(ctx, adapter, "documents/doc-2/metadata.json", []byte("{}")))

		keys, err := adapter.List(ctx, "documents/doc-1/")
		require.NoError(t, err)
		assert.Equal(t, []string{"documents/doc-1/a.json", "documents/doc-1/raw.txt"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, adapter.Delete(ctx, key))
		ok, err := adapter.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		// deleting twice is fine
		assert.NoError(t, adapter.Delete(ctx, key))
	})

	t.Run("GetMissingIsNotFound", func(t *testing.T) {
		_, err := adapter.Get(ctx, "non-existent.txt")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestLocalAdapter_RejectsEscapingKeys(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	assert.Error(t, adapter.Put(ctx, "../outside.txt", bytes.NewReader(nil)))
	_, err := adapter.Get(ctx, "a/../../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, adapter.Put(ctx, "", bytes.NewReader(nil)))
}

func TestDeletePrefix(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, PutBytes(ctx, adapter, fmt.Sprintf("conversions/job-1/chunks/%d.mp3", i), []byte{0xFF}))
	}
	require.NoError(t, PutBytes(ctx, adapter, "conversions/job-2/full.mp3", []byte{0xFF}))

	n, err := DeletePrefix(ctx, adapter, "conversions/job-1/")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	keys, err := adapter.List(ctx, "conversions/")
	require.NoError(t, err)
	assert.Equal(t, []string{"conversions/job-2/full.mp3"}, keys)
}

func TestLocalAdapterConcurrency(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			// all writers target the same key to exercise the rename path
			assert.NoError(t, PutBytes(ctx, adapter, "cache/ab/shared.mp3", []byte(fmt.Sprintf("writer-%d", idx))))
		}(i)
	}
	wg.Wait()

	got, err := GetBytes(ctx, adapter, "cache/ab/shared.mp3")
	require.NoError(t, err)
	assert.Contains(t, string(got), "writer-")

	keys, err := adapter.List(ctx, "cache/")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", contentType("conversions/j/full.mp3"))
	assert.Equal(t, "application/json", contentType("documents/d/metadata.json"))
	assert.Equal(t, "application/octet-stream", contentType("blob"))
}
