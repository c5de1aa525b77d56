package cache

import (
	"bytes"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ArrayAdapter keeps records in process memory. Nothing survives the process.
type ArrayAdapter struct {
	namespace string
	now       func() time.Time

	mu       sync.Mutex
	storage  map[string]*record
	deferred deferredQueue
}

var _ Adapter = (*ArrayAdapter)(nil)

// NewArray creates an empty in-memory adapter
func NewArray(namespace string) *ArrayAdapter {
	return &ArrayAdapter{
		namespace: namespace,
		now:       time.Now,
		storage:   make(map[string]*record),
	}
}

func (a *ArrayAdapter) Name() string { return AdapterArray }

func (a *ArrayAdapter) IsAvailable() bool { return true }

func (a *ArrayAdapter) GetItem(key string) (*Item, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	realKey := namespacedKey(a.namespace, key)

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.storage[realKey]
	if !ok {
		CacheMisses.WithLabelValues(AdapterArray).Inc()
		return Miss(key), nil
	}
	if rec.expiredAt(a.now()) {
		delete(a.storage, realKey)
		logrus.Debugf("Evicted expired cache item %s", realKey)
		CacheEvictions.WithLabelValues(AdapterArray).Inc()
		CacheMisses.WithLabelValues(AdapterArray).Inc()
		return Miss(key), nil
	}

	CacheHits.WithLabelValues(AdapterArray).Inc()
	return Hit(key, bytes.Clone(rec.Value), rec.Expiry), nil
}

func (a *ArrayAdapter) GetItems(keys []string) []ItemResult {
	results := make([]ItemResult, 0, len(keys))
	for _, key := range keys {
		item, err := a.GetItem(key)
		results = append(results, ItemResult{Key: key, Item: item, Err: err})
	}
	return results
}

func (a *ArrayAdapter) HasItem(key string) (bool, error) {
	item, err := a.GetItem(key)
	if err != nil {
		return false, err
	}
	return item.IsHit(), nil
}

func (a *ArrayAdapter) Save(item *Item) error {
	if err := validateKey(item.Key()); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.storage[namespacedKey(a.namespace, item.Key())] = newRecord(a.namespace, item, a.now())
	return nil
}

func (a *ArrayAdapter) SaveDeferred(item *Item) error {
	if err := validateKey(item.Key()); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.deferred.put(item)
	return nil
}

func (a *ArrayAdapter) Commit() CommitResult {
	a.mu.Lock()
	items := a.deferred.drain()
	a.mu.Unlock()

	return commitDeferred(items, a.Save)
}

func (a *ArrayAdapter) DeleteItem(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.storage, namespacedKey(a.namespace, key))
	return nil
}

func (a *ArrayAdapter) DeleteItems(keys []string) []DeleteResult {
	results := make([]DeleteResult, 0, len(keys))
	for _, key := range keys {
		results = append(results, DeleteResult{Key: key, Err: a.DeleteItem(key)})
	}
	return results
}

func (a *ArrayAdapter) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.storage = make(map[string]*record)
	return nil
}

func (a *ArrayAdapter) ClearPattern(prefix string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cleared := 0
	for realKey, rec := range a.storage {
		if hasNamespacedPrefix(a.namespace, rec.Key, prefix) {
			delete(a.storage, realKey)
			cleared++
		}
	}
	logrus.Debugf("Cleared %d cache items matching %q", cleared, namespacedKey(a.namespace, prefix))
	return cleared > 0, nil
}

func (a *ArrayAdapter) Stats() (Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	stats := Stats{
		Adapter:       AdapterArray,
		ItemsCount:    len(a.storage),
		Namespace:     a.namespace,
		DeferredCount: a.deferred.len(),
	}
	for _, rec := range a.storage {
		if rec.expiredAt(now) {
			stats.ExpiredItems++
		}
		stats.TotalSize += int64(len(rec.Value))
	}
	stats.TotalSizeHuman = humanSize(stats.TotalSize)
	return stats, nil
}
