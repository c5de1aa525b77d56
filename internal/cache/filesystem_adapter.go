package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const fileSuffix = ".cache"

// FilesystemAdapter stores one file per record under a directory.
//
// File names are <tag>-<sha256(namespace:key)>.cache, where tag is derived
// from the namespace alone, so bulk operations can list a namespace with a
// single glob while per-key lookups never have to read a directory.
type FilesystemAdapter struct {
	dir       string
	namespace string
	tag       string
	now       func() time.Time
	rename    func(oldpath, newpath string) error

	// mu guards the deferred queue and orders renames against lazy eviction
	mu       sync.Mutex
	deferred deferredQueue
}

var _ Adapter = (*FilesystemAdapter)(nil)

// NewFilesystem creates the directory if needed and checks that it is writable
func NewFilesystem(dir, namespace string) (*FilesystemAdapter, error) {
	if dir == "" {
		return nil, ConnectionFailed(AdapterFilesystem, "cache directory is not set", nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ConnectionFailed(AdapterFilesystem, fmt.Sprintf("cannot create cache directory '%s'", dir), err)
	}

	sum := sha256.Sum256([]byte(namespace))
	f := &FilesystemAdapter{
		dir:       filepath.Clean(dir),
		namespace: namespace,
		tag:       hex.EncodeToString(sum[:])[:16],
		now:       time.Now,
		rename:    os.Rename,
	}
	if err := f.probe(); err != nil {
		return nil, ConnectionFailed(AdapterFilesystem, fmt.Sprintf("cache directory is not writable '%s'", dir), err)
	}
	return f, nil
}

func (f *FilesystemAdapter) Name() string { return AdapterFilesystem }

func (f *FilesystemAdapter) IsAvailable() bool {
	return f.probe() == nil
}

// Dir returns the storage directory
func (f *FilesystemAdapter) Dir() string { return f.dir }

// probe creates and removes a file to check the directory is writable
func (f *FilesystemAdapter) probe() error {
	tmp, err := os.CreateTemp(f.dir, ".probe-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// path returns the file backing key
func (f *FilesystemAdapter) path(key string) string {
	hash := sha256.Sum256([]byte(namespacedKey(f.namespace, key)))
	return filepath.Join(f.dir, f.tag+"-"+hex.EncodeToString(hash[:])+fileSuffix)
}

// files lists every record file of the namespace
func (f *FilesystemAdapter) files() ([]string, error) {
	return filepath.Glob(filepath.Join(f.dir, f.tag+"-*"+fileSuffix))
}

func (f *FilesystemAdapter) GetItem(key string) (*Item, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	cachePath := f.path(key)

	data, err := os.ReadFile(cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		CacheMisses.WithLabelValues(AdapterFilesystem).Inc()
		return Miss(key), nil
	}
	if err != nil {
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpRead)).Inc()
		return nil, ReadFailed(AdapterFilesystem, key, "cannot read cache file", err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		// A record that does not decode is never going to; drop it
		if rmErr := os.Remove(cachePath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			logrus.Errorf("Failed to remove corrupted cache file %s: %v", cachePath, rmErr)
		}
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpRead)).Inc()
		return nil, ReadFailed(AdapterFilesystem, key, "corrupted cache file "+cachePath, err)
	}

	if rec.expiredAt(f.now()) {
		f.evictExpired(cachePath, rec)
		CacheEvictions.WithLabelValues(AdapterFilesystem).Inc()
		CacheMisses.WithLabelValues(AdapterFilesystem).Inc()
		return Miss(key), nil
	}

	CacheHits.WithLabelValues(AdapterFilesystem).Inc()
	return Hit(key, rec.Value, rec.Expiry), nil
}

// evictExpired removes cachePath if it still holds stale. A record saved
// after stale was read is kept.
func (f *FilesystemAdapter) evictExpired(cachePath string, stale *record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := readRecord(cachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err == nil && !current.sameAs(stale) {
		logrus.Debugf("Cache file %s was rewritten, keeping it", cachePath)
		return
	}
	if err := os.Remove(cachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Errorf("Failed to remove expired cache file %s: %v", cachePath, err)
	}
}

func (f *FilesystemAdapter) GetItems(keys []string) []ItemResult {
	results := make([]ItemResult, 0, len(keys))
	for _, key := range keys {
		item, err := f.GetItem(key)
		results = append(results, ItemResult{Key: key, Item: item, Err: err})
	}
	return results
}

func (f *FilesystemAdapter) HasItem(key string) (bool, error) {
	item, err := f.GetItem(key)
	if err != nil {
		return false, err
	}
	return item.IsHit(), nil
}

// Save writes the record to a temporary file and renames it over the target,
// so readers see either the previous record or the new one.
func (f *FilesystemAdapter) Save(item *Item) error {
	key := item.Key()
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := json.Marshal(newRecord(f.namespace, item, f.now()))
	if err != nil {
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpWrite)).Inc()
		return WriteFailed(AdapterFilesystem, key, "cannot encode record", err)
	}

	cachePath := f.path(key)
	tempPath := cachePath + "." + uuid.NewString() + ".tmp"
	if err := writeFileSync(tempPath, data); err != nil {
		f.removeTemp(tempPath)
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpWrite)).Inc()
		if IsStorageFull(err) {
			return OutOfMemory(AdapterFilesystem, key, err)
		}
		return WriteFailed(AdapterFilesystem, key, "cannot write temporary file", err)
	}

	f.mu.Lock()
	err = f.rename(tempPath, cachePath)
	f.mu.Unlock()
	if err != nil {
		f.removeTemp(tempPath)
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpWrite)).Inc()
		return WriteFailed(AdapterFilesystem, key, "cannot move cache file to its destination", err)
	}

	logrus.Debugf("Cached item %s in %s", key, cachePath)
	return nil
}

func (f *FilesystemAdapter) removeTemp(tempPath string) {
	if err := os.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("Failed to remove temporary cache file %s: %v", tempPath, err)
	}
}

func writeFileSync(name string, data []byte) error {
	file, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *FilesystemAdapter) SaveDeferred(item *Item) error {
	if err := validateKey(item.Key()); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.deferred.put(item)
	return nil
}

func (f *FilesystemAdapter) Commit() CommitResult {
	f.mu.Lock()
	items := f.deferred.drain()
	f.mu.Unlock()

	results := commitDeferred(items, f.Save)
	for _, res := range results {
		if res.Err != nil {
			logrus.Warnf("Dropped deferred cache item %s: %v", res.Key, res.Err)
		}
	}
	return results
}

func (f *FilesystemAdapter) DeleteItem(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpDelete)).Inc()
		return DeleteFailed(AdapterFilesystem, key, err)
	}
	return nil
}

func (f *FilesystemAdapter) DeleteItems(keys []string) []DeleteResult {
	results := make([]DeleteResult, 0, len(keys))
	for _, key := range keys {
		results = append(results, DeleteResult{Key: key, Err: f.DeleteItem(key)})
	}
	return results
}

func (f *FilesystemAdapter) Clear() error {
	files, err := f.files()
	if err != nil {
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpClear)).Inc()
		return ClearFailed(AdapterFilesystem, err)
	}

	var errs []error
	for _, file := range files {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpClear)).Inc()
		return ClearFailed(AdapterFilesystem, errors.Join(errs...))
	}
	return nil
}

func (f *FilesystemAdapter) ClearPattern(prefix string) (bool, error) {
	files, err := f.files()
	if err != nil {
		CacheErrors.WithLabelValues(AdapterFilesystem, string(OpClear)).Inc()
		return false, ClearFailed(AdapterFilesystem, err)
	}

	deleted := 0
	for _, file := range files {
		rec, err := readRecord(file)
		if err != nil {
			logrus.Warnf("Skipping unreadable cache file %s: %v", file, err)
			continue
		}
		if rec.Namespace != f.namespace || !hasNamespacedPrefix(f.namespace, rec.Key, prefix) {
			continue
		}
		if err := os.Remove(file); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logrus.Errorf("Failed to remove cache file %s: %v", file, err)
			}
			continue
		}
		deleted++
	}
	logrus.Debugf("Cleared %d cache files matching %q", deleted, namespacedKey(f.namespace, prefix))
	return deleted > 0, nil
}

func (f *FilesystemAdapter) Stats() (Stats, error) {
	files, err := f.files()
	if err != nil {
		return Stats{}, ReadFailed(AdapterFilesystem, "", "cannot list cache directory", err)
	}

	f.mu.Lock()
	deferredCount := f.deferred.len()
	f.mu.Unlock()

	now := f.now()
	stats := Stats{
		Adapter:       AdapterFilesystem,
		Namespace:     f.namespace,
		DeferredCount: deferredCount,
		Directory:     f.dir,
	}
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			// Removed since the glob
			continue
		}
		stats.ItemsCount++
		stats.TotalSize += info.Size()

		rec, err := readRecord(file)
		if err != nil {
			continue
		}
		if rec.expiredAt(now) {
			stats.ExpiredItems++
		}
	}
	stats.TotalSizeHuman = humanSize(stats.TotalSize)
	return stats, nil
}

func readRecord(path string) (*record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Key == "" || rec.Value == nil {
		return nil, errors.New("record has no key or value")
	}
	return &rec, nil
}
