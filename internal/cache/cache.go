// Package cache stores synthesized audio by content hash. Blobs live in the
// object storage adapter; a badger index tracks size, age and use so the
// cache can be pruned least-recently-used first.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/logger"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const entryPrefix = "entry:"

// ContentHash identifies one synthesis: the same text through the same
// provider, voice, format and rate always produces the same key.
func ContentHash(provider, voice, format string, rate float64, text string) string {
	h := sha256.New()
	for _, part := range []string{"v1", provider, voice, format, strconv.FormatFloat(rate, 'f', -1, 64), text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is the index record for one cached blob.
type Entry struct {
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
	Hits       int64     `json:"hits"`
}

// Stats summarizes the cache.
type Stats struct {
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max_bytes"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// Cache is safe for concurrent use.
type Cache struct {
	db       *badger.DB
	store    storage.Adapter
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New opens the index at cfg.Path. An empty path keeps the index in memory.
func New(store storage.Adapter, cfg types.CacheConfig, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = logger.Discard()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}

	c := &Cache{
		db:       db,
		store:    store,
		maxBytes: cfg.MaxBytes,
		now:      time.Now,
		logger:   logger.Component(log, "cache"),
	}
	if cfg.TTLHours > 0 {
		c.ttl = time.Duration(cfg.TTLHours) * time.Hour
	}

	c.logger.Info("cache opened", "path", cfg.Path, "max_bytes", cfg.MaxBytes, "ttl", c.ttl)
	return c, nil
}

// Get returns the cached audio for key. An index entry without its blob,
// or a blob without an index entry, is a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := c.entry(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}

	data, err := storage.GetBytes(ctx, c.store, util.CacheBlobKey(key))
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			c.logger.Warn("cache blob missing, dropping entry", "key", key)
			if err := c.deleteEntry(key); err != nil {
				return nil, false, err
			}
			c.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, err
	}

	entry.LastAccess = c.now()
	entry.Hits++
	if err := c.setEntry(key, entry); err != nil {
		return nil, false, err
	}

	c.hits.Add(1)
	return data, true, nil
}

// Put stores data under key, replacing any previous blob.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	if err := storage.PutBytes(ctx, c.store, util.CacheBlobKey(key), data); err != nil {
		return fmt.Errorf("failed to store cache blob: %w", err)
	}
	now := c.now()
	return c.setEntry(key, Entry{
		Size:       int64(len(data)),
		CreatedAt:  now,
		LastAccess: now,
	})
}

// Delete removes key from the index and its blob from storage.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.deleteEntry(key); err != nil {
		return err
	}
	return c.store.Delete(ctx, util.CacheBlobKey(key))
}

// Stats counts indexed entries and their total size.
func (c *Cache) Stats() Stats {
	s := Stats{
		MaxBytes: c.maxBytes,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
	_ = c.scan(func(_ string, e Entry) {
		s.Entries++
		s.Bytes += e.Size
	})
	return s
}

// Prune removes blobs whose index entry has expired, then evicts
// least-recently-accessed entries until the total size is at most MaxBytes.
// It returns the number of removed blobs.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	orphans, err := c.removeOrphans(ctx)
	if err != nil {
		return orphans, err
	}
	if c.maxBytes <= 0 {
		return orphans, nil
	}
	evicted, err := c.evict(ctx)
	return orphans + evicted, err
}

// removeOrphans deletes blobs under the cache prefix that have no index
// entry, such as those left behind when an entry's TTL runs out.
func (c *Cache) removeOrphans(ctx context.Context) (int, error) {
	indexed := make(map[string]struct{})
	if err := c.scan(func(key string, _ Entry) {
		indexed[key] = struct{}{}
	}); err != nil {
		return 0, err
	}

	blobs, err := c.store.List(ctx, util.CacheBlobPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache blobs: %w", err)
	}

	removed := 0
	for _, blob := range blobs {
		key := strings.TrimSuffix(path.Base(blob), ".mp3")
		if _, ok := indexed[key]; ok || util.CacheBlobKey(key) != blob {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		// A concurrent Put writes the blob before its entry.
		if _, ok, err := c.entry(key); err != nil || ok {
			continue
		}
		if err := c.store.Delete(ctx, blob); err != nil {
			return removed, fmt.Errorf("failed to delete orphaned blob %s: %w", blob, err)
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("orphaned cache blobs removed", "count", removed)
	}
	return removed, nil
}

func (c *Cache) evict(ctx context.Context) (int, error) {

	type keyed struct {
		key string
		Entry
	}
	var (
		entries []keyed
		total   int64
	)
	if err := c.scan(func(key string, e Entry) {
		entries = append(entries, keyed{key, e})
		total += e.Size
	}); err != nil {
		return 0, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})

	evicted := 0
	for _, e := range entries {
		if total <= c.maxBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			return evicted, err
		}
		if err := c.Delete(ctx, e.key); err != nil {
			return evicted, fmt.Errorf("failed to evict %s: %w", e.key, err)
		}
		total -= e.Size
		evicted++
	}

	if evicted > 0 {
		c.logger.Info("cache pruned", "evicted", evicted, "bytes", total)
	}
	return evicted, nil
}

// Ping checks that the index is usable.
func (c *Cache) Ping() error {
	return c.db.View(func(*badger.Txn) error { return nil })
}

// Close closes the index.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) entry(key string) (Entry, bool, error) {
	var e Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(entryPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return e, true, nil
}

// setEntry writes e. With a TTL configured, every write restarts the
// expiry, so entries expire TTL after their last use.
func (c *Cache) setEntry(key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(entryPrefix+key), data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (c *Cache) deleteEntry(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(entryPrefix + key))
	})
}

func (c *Cache) scan(fn func(key string, e Entry)) error {
	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(entryPrefix):])

			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("failed to decode cache entry %s: %w", key, err)
			}
			fn(key, e)
		}
		return nil
	})
}
