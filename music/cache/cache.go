package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

// MetadataStore is the persistent bookkeeping the cache keeps per entry.
// Implemented by storage.Store.
type MetadataStore interface {
	UpsertCacheEntry(fingerprint string, bytes int64) error
	GetCacheEntry(fingerprint string) (*types.CacheEntry, error)
	TouchCacheEntry(fingerprint string) error
	RemoveCacheEntry(fingerprint string) error
	ListCacheEntriesLRU() ([]types.CacheEntry, error)
	ListRecentCacheEntries(limit int) ([]types.CacheEntry, error)
	TotalCacheBytes() (int64, error)
	CountCacheEntries() (int, error)
}

// Stats is a point-in-time summary of cache usage.
type Stats struct {
	Bytes  int64
	Limit  int64
	Files  int
	Recent []types.CacheEntry
}

// FileCache is a content-addressed on-disk store of downloaded audio shared
// across all guild players. Committed files live at <dir>/<fingerprint>;
// in-flight downloads live under <dir>/tmp and are purged at startup.
type FileCache struct {
	dir      string
	limit    int64
	store    MetadataStore
	httpc    *http.Client
	mu       sync.Mutex
	inflight map[string]bool
	evicting atomic.Bool
}

// evictionTarget is the fraction of the budget eviction shrinks to, so a
// cache hovering at the limit does not evict on every commit.
const evictionTarget = 0.9

const downloadTimeout = 10 * time.Minute

// Fingerprint derives the cache key for an origin URL.
func Fingerprint(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// New opens the cache rooted at dir with the given byte budget. The tmp
// directory is purged and tracked entries whose files vanished are dropped.
func New(dir string, limit int64, store MetadataStore) (*FileCache, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 4 * time.Second
	retry.Logger = nil

	c := &FileCache{
		dir:      dir,
		limit:    limit,
		store:    store,
		httpc:    retry.StandardClient(),
		inflight: make(map[string]bool),
	}

	if err := c.purgeTemp(); err != nil {
		return nil, err
	}
	if err := c.reconcile(); err != nil {
		return nil, err
	}
	return c, nil
}

// purgeTemp removes leftover partial downloads from a previous run.
func (c *FileCache) purgeTemp() error {
	tmpDir := filepath.Join(c.dir, "tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("read cache tmp directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(tmpDir, entry.Name())); err != nil {
			utils.LogWarn("Failed to remove stale temp file %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// reconcile drops tracked entries whose committed file no longer exists.
// Files on disk without a metadata row are left alone and ignored.
func (c *FileCache) reconcile() error {
	entries, err := c.store.ListCacheEntriesLRU()
	if err != nil {
		return fmt.Errorf("list cache entries: %w", err)
	}
	for _, entry := range entries {
		if _, err := os.Stat(c.pathFor(entry.Fingerprint)); os.IsNotExist(err) {
			utils.LogWarn("Cache entry %s has no file on disk, dropping", entry.Fingerprint)
			if err := c.store.RemoveCacheEntry(entry.Fingerprint); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *FileCache) pathFor(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint)
}

func (c *FileCache) tmpPathFor(fingerprint string) string {
	return filepath.Join(c.dir, "tmp", fingerprint+".tmp")
}

// Lookup returns the committed path for a fingerprint if present, recording
// the access. A tracked entry whose file is missing is dropped.
func (c *FileCache) Lookup(fingerprint string) (string, bool) {
	entry, err := c.store.GetCacheEntry(fingerprint)
	if err != nil {
		utils.LogError("Cache metadata lookup failed for %s: %v", fingerprint, err)
		return "", false
	}
	if entry == nil {
		return "", false
	}

	path := c.pathFor(fingerprint)
	if _, err := os.Stat(path); err != nil {
		utils.LogWarn("Cache file missing for tracked entry %s, dropping", fingerprint)
		if err := c.store.RemoveCacheEntry(fingerprint); err != nil {
			utils.LogError("Failed to drop cache entry %s: %v", fingerprint, err)
		}
		return "", false
	}

	if err := c.store.TouchCacheEntry(fingerprint); err != nil {
		utils.LogWarn("Failed to touch cache entry %s: %v", fingerprint, err)
	}
	return path, true
}

// Slot is an exclusive claim on populating one fingerprint.
type Slot struct {
	TmpPath     string
	fingerprint string
	cache       *FileCache
	settled     bool
}

// AcquireSlot claims the single-flight population slot for a fingerprint.
// It returns nil when another caller already holds the slot or the entry is
// already committed, meaning the caller must not download.
func (c *FileCache) AcquireSlot(fingerprint string) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[fingerprint] {
		return nil
	}
	if entry, err := c.store.GetCacheEntry(fingerprint); err == nil && entry != nil {
		return nil
	}

	c.inflight[fingerprint] = true
	return &Slot{
		TmpPath:     c.tmpPathFor(fingerprint),
		fingerprint: fingerprint,
		cache:       c,
	}
}

// Commit atomically promotes the slot's temp file to the committed path and
// records its metadata. On failure the temp file is deleted and no entry is
// created.
func (s *Slot) Commit() error {
	if s.settled {
		return fmt.Errorf("cache slot for %s already settled", s.fingerprint)
	}
	s.settled = true
	defer s.cache.release(s.fingerprint)

	info, err := os.Stat(s.TmpPath)
	if err != nil {
		return fmt.Errorf("stat cache temp file: %w", err)
	}

	final := s.cache.pathFor(s.fingerprint)
	if err := os.Rename(s.TmpPath, final); err != nil {
		os.Remove(s.TmpPath)
		return fmt.Errorf("commit cache file: %w", err)
	}

	if err := s.cache.store.UpsertCacheEntry(s.fingerprint, info.Size()); err != nil {
		os.Remove(final)
		return fmt.Errorf("record cache entry: %w", err)
	}

	s.cache.EvictIfOverBudget()
	return nil
}

// Abandon releases the slot and removes any partial download.
func (s *Slot) Abandon() {
	if s.settled {
		return
	}
	s.settled = true
	os.Remove(s.TmpPath)
	s.cache.release(s.fingerprint)
}

func (c *FileCache) release(fingerprint string) {
	c.mu.Lock()
	delete(c.inflight, fingerprint)
	c.mu.Unlock()
}

// Fill downloads url into the cache under fingerprint. It is a no-op when
// the entry is committed or another fill is in flight, so concurrent players
// resolving the same origin trigger exactly one download.
func (c *FileCache) Fill(ctx context.Context, url, fingerprint string) error {
	slot := c.AcquireSlot(fingerprint)
	if slot == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	if err := c.download(ctx, url, slot.TmpPath); err != nil {
		slot.Abandon()
		return fmt.Errorf("cache fill for %s: %w", fingerprint, err)
	}

	if err := slot.Commit(); err != nil {
		return err
	}

	utils.LogInfo("Cached %s (%s)", fingerprint, url)
	return nil
}

func (c *FileCache) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; chord-bot)")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	_, err = io.Copy(file, resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("write temp file: %w", err)
	}
	return nil
}

// EvictIfOverBudget kicks off an asynchronous eviction pass when total
// committed bytes exceed the budget. It never blocks the caller; if a pass
// is already running this is a no-op.
func (c *FileCache) EvictIfOverBudget() {
	if !c.evicting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.evicting.Store(false)
		if err := c.evict(); err != nil {
			utils.LogError("Cache eviction failed: %v", err)
		}
	}()
}

func (c *FileCache) evict() error {
	total, err := c.store.TotalCacheBytes()
	if err != nil {
		return err
	}
	if total <= c.limit {
		return nil
	}

	target := int64(float64(c.limit) * evictionTarget)
	entries, err := c.store.ListCacheEntriesLRU()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if total <= target {
			break
		}
		if err := os.Remove(c.pathFor(entry.Fingerprint)); err != nil && !os.IsNotExist(err) {
			utils.LogWarn("Failed to remove cache file %s: %v", entry.Fingerprint, err)
			continue
		}
		if err := c.store.RemoveCacheEntry(entry.Fingerprint); err != nil {
			return err
		}
		total -= entry.Bytes
		utils.LogInfo("Evicted cache entry %s (%d bytes)", entry.Fingerprint, entry.Bytes)
	}
	return nil
}

// Stats reports current usage for the cache-info surface.
func (c *FileCache) Stats() (*Stats, error) {
	total, err := c.store.TotalCacheBytes()
	if err != nil {
		return nil, err
	}
	count, err := c.store.CountCacheEntries()
	if err != nil {
		return nil, err
	}
	recent, err := c.store.ListRecentCacheEntries(5)
	if err != nil {
		return nil, err
	}
	return &Stats{Bytes: total, Limit: c.limit, Files: count, Recent: recent}, nil
}

// Dir returns the cache root directory.
func (c *FileCache) Dir() string {
	return c.dir
}
