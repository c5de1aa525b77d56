// Handles storage of cache items behind interchangeable adapters
package cache

import (
	"bytes"
	"strings"
	"time"
)

// Adapter is a namespaced key/value store of cache items
type Adapter interface {
	// Name returns the adapter identifier ("array" or "filesystem")
	Name() string
	// IsAvailable reports whether the backing store can currently be written to
	IsAvailable() bool

	// GetItem returns a hit item for a live record, or a miss item.
	// Expired records are removed on the way. Only an empty key or a storage
	// failure produce an error.
	GetItem(key string) (*Item, error)
	// GetItems looks up every key and reports one result per key, in order
	GetItems(keys []string) []ItemResult
	// HasItem reports whether GetItem would return a hit
	HasItem(key string) (bool, error)

	// Save persists the item under the adapter's namespace
	Save(item *Item) error
	// SaveDeferred buffers the item until the next Commit
	SaveDeferred(item *Item) error
	// Commit saves every buffered item and empties the buffer, whatever happens
	Commit() CommitResult

	// DeleteItem removes a record. Deleting an absent key is not an error.
	DeleteItem(key string) error
	// DeleteItems deletes every key and reports one result per key, in order
	DeleteItems(keys []string) []DeleteResult
	// Clear removes every record of the adapter's namespace
	Clear() error
	// ClearPattern removes the records whose key starts with prefix.
	// It reports whether at least one record was removed.
	ClearPattern(prefix string) (bool, error)

	// Stats returns a snapshot of the namespace content
	Stats() (Stats, error)
}

// Stats is a snapshot of an adapter's content
type Stats struct {
	Adapter        string `json:"adapter" yaml:"adapter"`
	ItemsCount     int    `json:"items_count" yaml:"items_count"`
	ExpiredItems   int    `json:"expired_items" yaml:"expired_items"`
	TotalSize      int64  `json:"total_size" yaml:"total_size"`
	TotalSizeHuman string `json:"total_size_human" yaml:"total_size_human"`
	Namespace      string `json:"namespace" yaml:"namespace"`
	DeferredCount  int    `json:"deferred_count" yaml:"deferred_count"`
	Directory      string `json:"directory,omitempty" yaml:"directory,omitempty"`
}

// ItemResult is the outcome of one lookup in GetItems
type ItemResult struct {
	Key  string
	Item *Item
	Err  error
}

// DeleteResult is the outcome of one deletion in DeleteItems
type DeleteResult struct {
	Key string
	Err error
}

// SaveResult is the outcome of one deferred save
type SaveResult struct {
	Key string
	Err error
}

// CommitResult lists the outcome of every deferred save, in buffer order
type CommitResult []SaveResult

// OK reports whether every deferred save succeeded
func (r CommitResult) OK() bool {
	for _, res := range r {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the keys whose deferred save failed
func (r CommitResult) Failed() []string {
	var keys []string
	for _, res := range r {
		if res.Err != nil {
			keys = append(keys, res.Key)
		}
	}
	return keys
}

// DeletedAll reports whether every deletion in results succeeded
func DeletedAll(results []DeleteResult) bool {
	for _, res := range results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// record is the stored envelope around an item's payload
type record struct {
	Key       string     `json:"key"`
	Namespace string     `json:"namespace"`
	Value     []byte     `json:"value"`
	Expiry    *time.Time `json:"expiry"`
	Created   time.Time  `json:"created"`
}

func (r *record) expiredAt(now time.Time) bool {
	return r.Expiry != nil && now.After(*r.Expiry)
}

// sameAs reports whether both records come from the same save
func (r *record) sameAs(other *record) bool {
	if !r.Created.Equal(other.Created) || r.Key != other.Key {
		return false
	}
	if (r.Expiry == nil) != (other.Expiry == nil) {
		return false
	}
	if r.Expiry != nil && !r.Expiry.Equal(*other.Expiry) {
		return false
	}
	return bytes.Equal(r.Value, other.Value)
}

func newRecord(namespace string, item *Item, now time.Time) *record {
	value := append([]byte{}, item.Get()...)
	rec := &record{
		Key:       item.Key(),
		Namespace: namespace,
		Value:     value,
		Created:   now.UTC(),
	}
	if exp, ok := item.Expiration(); ok {
		exp = exp.UTC()
		rec.Expiry = &exp
	}
	return rec
}

// namespacedKey is the form under which a key is stored and matched
func namespacedKey(namespace, key string) string {
	return namespace + ":" + key
}

func hasNamespacedPrefix(namespace, key, prefix string) bool {
	return strings.HasPrefix(namespacedKey(namespace, key), namespacedKey(namespace, prefix))
}

func validateKey(key string) error {
	if key == "" {
		return invalidArgument("cache key is empty")
	}
	return nil
}
