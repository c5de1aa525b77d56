package cache

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
)

// ErrInvalidArgument is returned for malformed input such as an empty key
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

// Op identifies the kind of storage operation that failed
type Op string

const (
	OpRead    Op = "read"
	OpWrite   Op = "write"
	OpDelete  Op = "delete"
	OpClear   Op = "clear"
	OpConnect Op = "connect"
)

// Error is a storage failure raised by an adapter
type Error struct {
	Op      Op
	Key     string
	Adapter string
	// Code is an HTTP-like status for callers that want to surface the failure
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	parts := []string{"cache error"}
	if e.Adapter != "" {
		parts = append(parts, fmt.Sprintf("[adapter: %s]", e.Adapter))
	}
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("[operation: %s]", e.Op))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("[key: %s]", e.Key))
	}
	msg := strings.Join(parts, " ") + " " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ConnectionFailed reports that the backing store cannot be reached or initialized
func ConnectionFailed(adapter, details string, err error) *Error {
	return &Error{
		Op:      OpConnect,
		Adapter: adapter,
		Code:    http.StatusInternalServerError,
		Message: "failed to connect to cache: " + details,
		Err:     err,
	}
}

// ReadFailed reports that a record could not be read
func ReadFailed(adapter, key, details string, err error) *Error {
	return &Error{
		Op:      OpRead,
		Key:     key,
		Adapter: adapter,
		Code:    http.StatusInternalServerError,
		Message: withDetails("failed to read from cache", details),
		Err:     err,
	}
}

// WriteFailed reports that a record could not be written
func WriteFailed(adapter, key, details string, err error) *Error {
	return &Error{
		Op:      OpWrite,
		Key:     key,
		Adapter: adapter,
		Code:    http.StatusInternalServerError,
		Message: withDetails("failed to write to cache", details),
		Err:     err,
	}
}

// DeleteFailed reports that a record could not be removed
func DeleteFailed(adapter, key string, err error) *Error {
	return &Error{
		Op:      OpDelete,
		Key:     key,
		Adapter: adapter,
		Code:    http.StatusInternalServerError,
		Message: "failed to delete from cache",
		Err:     err,
	}
}

// ClearFailed reports that a bulk removal could not complete
func ClearFailed(adapter string, err error) *Error {
	return &Error{
		Op:      OpClear,
		Adapter: adapter,
		Code:    http.StatusInternalServerError,
		Message: "failed to clear cache",
		Err:     err,
	}
}

// OutOfMemory reports that the backing store is full
func OutOfMemory(adapter, key string, err error) *Error {
	return &Error{
		Op:      OpWrite,
		Key:     key,
		Adapter: adapter,
		Code:    http.StatusInsufficientStorage,
		Message: "cache storage is full or out of memory",
		Err:     err,
	}
}

// ItemTooLarge reports an item above the accepted size
func ItemTooLarge(adapter, key string, size, maxSize int64) *Error {
	return &Error{
		Op:      OpWrite,
		Key:     key,
		Adapter: adapter,
		Code:    http.StatusRequestEntityTooLarge,
		Message: fmt.Sprintf("cache item too large: %d bytes (max: %d bytes)", size, maxSize),
	}
}

// CorruptedData reports a stored record that does not decode into an envelope
func CorruptedData(adapter, key string, err error) *Error {
	return &Error{
		Op:      OpRead,
		Key:     key,
		Adapter: adapter,
		Code:    http.StatusInternalServerError,
		Message: "corrupted cache data",
		Err:     err,
	}
}

// IsStorageFull reports whether err was caused by a full device
func IsStorageFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

func withDetails(msg, details string) string {
	if details == "" {
		return msg
	}
	return msg + ": " + details
}
