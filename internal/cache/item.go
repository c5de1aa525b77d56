package cache

import (
	"fmt"
	"math"
	"time"
)

// Item is one cached entry: a key, its payload and an optional absolute expiration
type Item struct {
	key        string
	value      []byte
	isHit      bool
	expiration time.Time // zero => never expires
}

// NewItem creates an empty item to be filled and saved by the caller
func NewItem(key string) *Item {
	return &Item{key: key}
}

// Hit creates an item returned by a successful lookup
func Hit(key string, value []byte, expiration *time.Time) *Item {
	item := &Item{key: key, value: value, isHit: true}
	if expiration != nil {
		item.expiration = *expiration
	}
	return item
}

// Miss creates an item returned by an unsuccessful lookup
func Miss(key string) *Item {
	return &Item{key: key}
}

func (i *Item) Key() string { return i.key }

// Get returns the payload. It is only meaningful when IsHit is true or after Set.
func (i *Item) Get() []byte { return i.value }

func (i *Item) IsHit() bool { return i.isHit }

// Set replaces the payload
func (i *Item) Set(value []byte) *Item {
	i.value = value
	return i
}

// ExpiresAt sets the absolute expiration. The zero time removes it.
func (i *Item) ExpiresAt(t time.Time) *Item {
	i.expiration = t
	return i
}

// ExpiresAfter sets the expiration to now + ttl
func (i *Item) ExpiresAfter(ttl time.Duration) *Item {
	return i.expiresAfterFrom(time.Now(), ttl)
}

func (i *Item) expiresAfterFrom(now time.Time, ttl time.Duration) *Item {
	i.expiration = now.Add(ttl)
	return i
}

// ExpiresAfterValue sets the expiration from a loosely typed TTL: integer
// seconds, a time.Duration, or nil for no expiration.
func (i *Item) ExpiresAfterValue(ttl any) error {
	switch v := ttl.(type) {
	case nil:
		i.expiration = time.Time{}
	case time.Duration:
		i.ExpiresAfter(v)
	case *time.Duration:
		if v == nil {
			i.expiration = time.Time{}
			return nil
		}
		i.ExpiresAfter(*v)
	case int:
		return i.expiresAfterSeconds(int64(v))
	case int8:
		return i.expiresAfterSeconds(int64(v))
	case int16:
		return i.expiresAfterSeconds(int64(v))
	case int32:
		return i.expiresAfterSeconds(int64(v))
	case int64:
		return i.expiresAfterSeconds(v)
	case uint:
		return i.expiresAfterUnsignedSeconds(uint64(v))
	case uint8:
		return i.expiresAfterSeconds(int64(v))
	case uint16:
		return i.expiresAfterSeconds(int64(v))
	case uint32:
		return i.expiresAfterSeconds(int64(v))
	case uint64:
		return i.expiresAfterUnsignedSeconds(v)
	default:
		return invalidArgument(fmt.Sprintf("time must be an integer, a duration or nil, got %T", ttl))
	}
	return nil
}

// maxTTLSeconds is the longest TTL in seconds a time.Duration can hold
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

func (i *Item) expiresAfterSeconds(seconds int64) error {
	if seconds > maxTTLSeconds || seconds < -maxTTLSeconds {
		return invalidArgument(fmt.Sprintf("time of %d seconds is out of range", seconds))
	}
	i.ExpiresAfter(time.Duration(seconds) * time.Second)
	return nil
}

func (i *Item) expiresAfterUnsignedSeconds(seconds uint64) error {
	if seconds > uint64(maxTTLSeconds) {
		return invalidArgument(fmt.Sprintf("time of %d seconds is out of range", seconds))
	}
	return i.expiresAfterSeconds(int64(seconds))
}

// Expiration returns the absolute expiration, if any
func (i *Item) Expiration() (time.Time, bool) {
	if i.expiration.IsZero() {
		return time.Time{}, false
	}
	return i.expiration, true
}

// IsExpired reports whether the expiration has passed
func (i *Item) IsExpired() bool {
	return i.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the expiration has passed at now
func (i *Item) IsExpiredAt(now time.Time) bool {
	if i.expiration.IsZero() {
		return false
	}
	return now.After(i.expiration)
}

// TTL returns the time left before expiration, floored at 0.
// The boolean is false when the item never expires.
func (i *Item) TTL() (time.Duration, bool) {
	return i.ttlAt(time.Now())
}

func (i *Item) ttlAt(now time.Time) (time.Duration, bool) {
	if i.expiration.IsZero() {
		return 0, false
	}
	ttl := i.expiration.Sub(now)
	if ttl < 0 {
		return 0, true
	}
	return ttl, true
}
