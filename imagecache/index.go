// Package imagecache provides a content-addressed cache of generated images.
//
// index.go implements the Index organism: an in-memory mirror of the cache
// directory supporting identity and generation-key lookups, atomic inserts,
// TTL eviction, and filtered bulk clears.
package imagecache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lyricdeck/logging"

	"go.uber.org/zap"
)

// Index is the shared cache index. Safe for concurrent use; all entries are
// returned by value.
//
// A filesystem failure while building the index disables caching for the
// process lifetime instead of crashing: lookups miss, inserts no-op, and the
// caller's generations still succeed, only uncached.
type Index struct {
	mu       sync.RWMutex
	dir      string
	ttl      time.Duration
	disabled bool
	logger   *logging.Logger

	entries map[string]Entry    // fileID -> entry
	byTitle map[string][]string // normalized title -> fileIDs
	byKey   map[string]string   // generation key -> fileID
}

// ClearFilter selects entries for bulk deletion. Zero-value fields match
// everything.
type ClearFilter struct {
	Provider  string
	Model     string
	OlderThan time.Duration // Entries last accessed longer ago than this
}

// NewIndex builds the index by scanning dir. Entries whose file was last
// touched more than ttl ago are evicted during the scan (ttl <= 0 disables
// expiry). A scan failure logs a warning and returns a disabled index.
func NewIndex(dir string, ttl time.Duration, logger *logging.Logger) *Index {
	if logger == nil {
		logger = logging.NewNop()
	}
	idx := &Index{
		dir:     dir,
		ttl:     ttl,
		logger:  logger.Named("imagecache"),
		entries: make(map[string]Entry),
		byTitle: make(map[string][]string),
		byKey:   make(map[string]string),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		idx.logger.Warn("cache directory unavailable, caching disabled",
			zap.String("dir", dir), zap.Error(err))
		idx.disabled = true
		return idx
	}

	if err := idx.rebuild(); err != nil {
		idx.logger.Warn("cache index rebuild failed, caching disabled",
			zap.String("dir", dir), zap.Error(err))
		idx.disabled = true
	}
	return idx
}

// NewDisabledIndex returns an index with caching switched off: lookups miss
// and inserts error, but the API stays available. Used when caching is
// disabled by configuration rather than by filesystem failure.
func NewDisabledIndex(logger *logging.Logger) *Index {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Index{
		disabled: true,
		logger:   logger.Named("imagecache"),
		entries:  make(map[string]Entry),
		byTitle:  make(map[string][]string),
		byKey:    make(map[string]string),
	}
}

// Disabled reports whether caching is off for the process lifetime.
func (idx *Index) Disabled() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.disabled
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Dir returns the cache directory path.
func (idx *Index) Dir() string {
	return idx.dir
}

// rebuild scans the cache directory and registers every parseable image
// file, evicting expired ones along the way. Must not be called
// concurrently with other methods; NewIndex calls it before the index
// escapes.
func (idx *Index) rebuild() error {
	dirEntries, err := os.ReadDir(idx.dir)
	if err != nil {
		return fmt.Errorf("imagecache: failed to read cache directory: %w", err)
	}

	now := time.Now()
	evicted := 0
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasSuffix(de.Name(), thumbSuffix) {
			continue
		}

		ext := filepath.Ext(de.Name())
		fileID := strings.TrimSuffix(de.Name(), ext)
		entry, ok := parseFileID(fileID)
		if !ok {
			continue // Foreign file, leave it alone
		}

		info, err := de.Info()
		if err != nil {
			continue
		}

		if idx.ttl > 0 && now.Sub(info.ModTime()) > idx.ttl {
			idx.removeFiles(fileID, ext)
			evicted++
			continue
		}

		entry.FilePath = filepath.Join(idx.dir, de.Name())
		entry.CreatedAt = info.ModTime()
		entry.LastAccessedAt = info.ModTime()
		idx.register(entry)
	}

	idx.logger.Info("cache index rebuilt",
		zap.Int("entries", len(idx.entries)),
		zap.Int("evicted", evicted))
	return nil
}

// register adds an entry to the in-memory maps. Caller holds the lock (or
// the index has not escaped yet).
func (idx *Index) register(e Entry) {
	idx.entries[e.FileID] = e
	if e.HasIdentity() {
		title := normalizeTitle(e.SongTitle)
		idx.byTitle[title] = append(idx.byTitle[title], e.FileID)
	} else {
		idx.byKey[KeyFileID(e.PromptHash, e.Model, e.Size, e.Quality, e.Style)] = e.FileID
	}
}

// unregister removes an entry from the in-memory maps. Caller holds the lock.
func (idx *Index) unregister(e Entry) {
	delete(idx.entries, e.FileID)
	if e.HasIdentity() {
		title := normalizeTitle(e.SongTitle)
		ids := idx.byTitle[title]
		for i, id := range ids {
			if id == e.FileID {
				idx.byTitle[title] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(idx.byTitle[title]) == 0 {
			delete(idx.byTitle, title)
		}
	} else {
		delete(idx.byKey, KeyFileID(e.PromptHash, e.Model, e.Size, e.Quality, e.Style))
	}
}

// LookupByIdentity finds a cached image for a song: case-insensitive exact
// match on title, and on artist only when both sides supply one. A hit
// refreshes the entry's last-access time.
func (idx *Index) LookupByIdentity(title, artist string) (Entry, bool) {
	if title == "" {
		return Entry{}, false
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.disabled {
		return Entry{}, false
	}

	for _, fileID := range idx.byTitle[normalizeTitle(title)] {
		e := idx.entries[fileID]
		if identityMatches(e, title, artist) {
			return idx.touch(e), true
		}
	}
	return Entry{}, false
}

// LookupByKey finds a cached image by exact generation key. A hit refreshes
// the entry's last-access time.
func (idx *Index) LookupByKey(promptHash, model, size, quality, style string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.disabled {
		return Entry{}, false
	}

	fileID, ok := idx.byKey[KeyFileID(promptHash, model, size, quality, style)]
	if !ok {
		return Entry{}, false
	}
	return idx.touch(idx.entries[fileID]), true
}

// touch refreshes an entry's last-access time in memory and, best effort, on
// the file itself so the timestamp survives a restart. Caller holds the lock.
func (idx *Index) touch(e Entry) Entry {
	now := time.Now()
	e.LastAccessedAt = now
	idx.entries[e.FileID] = e
	if err := os.Chtimes(e.FilePath, now, now); err != nil {
		idx.logger.Debug("failed to touch cache file", zap.String("file", e.FilePath), zap.Error(err))
	}
	return e
}

// Insert writes bytes to the entry's deterministic path and registers it.
// The write is atomic (temp file + rename), so concurrent inserts for the
// same key resolve to last-writer-wins on a single file; content for the
// same key is equivalent by construction. A thumbnail preview is written
// best effort next to the image.
//
// Insert failure is returned as a KindCacheIO error; callers are expected to
// degrade to "generated but uncached" rather than failing the request.
func (idx *Index) Insert(e Entry, data []byte, mimeType string) (Entry, error) {
	e, err := idx.insert(e, data, mimeType)
	if err != nil {
		return e, err
	}

	// Thumbnail generation decodes and rescales the image; keep it outside
	// the index lock so lookups are never stalled behind it.
	if err := writeThumbnail(e.FilePath, filepath.Join(idx.dir, e.FileID+thumbSuffix)); err != nil {
		idx.logger.Debug("failed to write thumbnail", zap.String("file", e.FileID), zap.Error(err))
	}

	idx.logger.Info("cached generated image",
		zap.String("file_id", e.FileID),
		zap.String("provider", e.Provider),
		zap.Int("bytes", len(data)))
	return e, nil
}

// insert performs the locked part of Insert: the atomic file write and the
// index registration.
func (idx *Index) insert(e Entry, data []byte, mimeType string) (Entry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.disabled {
		return e, fmt.Errorf("imagecache: caching disabled")
	}
	if len(data) == 0 {
		return e, fmt.Errorf("imagecache: refusing to cache empty image")
	}

	e.FileID = FileIDFor(e)
	ext := extensionForMIME(mimeType)
	finalPath := filepath.Join(idx.dir, e.FileID+ext)

	tmp, err := os.CreateTemp(idx.dir, ".insert-*")
	if err != nil {
		return e, fmt.Errorf("imagecache: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return e, fmt.Errorf("imagecache: failed to write image data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return e, fmt.Errorf("imagecache: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return e, fmt.Errorf("imagecache: failed to move image into cache: %w", err)
	}

	now := time.Now()
	e.FilePath = finalPath
	e.CreatedAt = now
	e.LastAccessedAt = now

	// Same fileID may already be registered from a racing insert; replace.
	// A previous entry with a different content type lives under a
	// different extension, so its file must go too or it would be orphaned.
	if old, ok := idx.entries[e.FileID]; ok {
		idx.unregister(old)
		if old.FilePath != finalPath {
			if err := os.Remove(old.FilePath); err != nil && !os.IsNotExist(err) {
				idx.logger.Warn("failed to remove replaced cache file",
					zap.String("file", old.FilePath), zap.Error(err))
			}
		}
	}
	idx.register(e)
	return e, nil
}

// EvictExpired removes entries whose last access is older than the index
// TTL. Returns the number of evicted entries.
func (idx *Index) EvictExpired() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.disabled || idx.ttl <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-idx.ttl)
	evicted := 0
	for _, e := range idx.snapshotLocked() {
		if e.LastAccessedAt.Before(cutoff) {
			idx.deleteEntryLocked(e)
			evicted++
		}
	}
	if evicted > 0 {
		idx.logger.Info("evicted expired cache entries", zap.Int("count", evicted))
	}
	return evicted
}

// Clear bulk-deletes entries matching the filter and returns how many were
// removed.
func (idx *Index) Clear(filter ClearFilter) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.disabled {
		return 0, fmt.Errorf("imagecache: caching disabled")
	}

	var cutoff time.Time
	if filter.OlderThan > 0 {
		cutoff = time.Now().Add(-filter.OlderThan)
	}

	removed := 0
	for _, e := range idx.snapshotLocked() {
		if filter.Provider != "" && !strings.EqualFold(e.Provider, filter.Provider) {
			continue
		}
		if filter.Model != "" && !strings.EqualFold(e.Model, filter.Model) {
			continue
		}
		if !cutoff.IsZero() && e.LastAccessedAt.After(cutoff) {
			continue
		}
		idx.deleteEntryLocked(e)
		removed++
	}

	idx.logger.Info("cleared cache entries", zap.Int("count", removed))
	return removed, nil
}

// Entries returns a copy of all entries, for diagnostics and the UI gallery.
func (idx *Index) Entries() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.snapshotLocked()
}

// snapshotLocked copies the entry set. Caller holds at least a read lock.
func (idx *Index) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	return out
}

// deleteEntryLocked removes an entry's files and index records. Caller holds
// the write lock.
func (idx *Index) deleteEntryLocked(e Entry) {
	idx.unregister(e)
	if err := os.Remove(e.FilePath); err != nil && !os.IsNotExist(err) {
		idx.logger.Warn("failed to remove cache file", zap.String("file", e.FilePath), zap.Error(err))
	}
	thumb := filepath.Join(idx.dir, e.FileID+thumbSuffix)
	if err := os.Remove(thumb); err != nil && !os.IsNotExist(err) {
		idx.logger.Debug("failed to remove thumbnail", zap.String("file", thumb), zap.Error(err))
	}
}

// removeFiles deletes an image and its thumbnail during rebuild, before the
// entry is registered.
func (idx *Index) removeFiles(fileID, ext string) {
	os.Remove(filepath.Join(idx.dir, fileID+ext))
	os.Remove(filepath.Join(idx.dir, fileID+thumbSuffix))
}
