package cache

import (
	"fmt"

	"github.com/docker/go-units"
)

const (
	AdapterArray      = "array"
	AdapterFilesystem = "filesystem"
)

// Options selects and configures an adapter
type Options struct {
	// Adapter is AdapterArray or AdapterFilesystem
	Adapter   string
	Namespace string
	// Folder is the storage directory of the filesystem adapter
	Folder string
}

// NewAdapter creates the adapter named by opts.Adapter
func NewAdapter(opts Options) (Adapter, error) {
	switch opts.Adapter {
	case AdapterArray:
		return NewArray(opts.Namespace), nil
	case AdapterFilesystem:
		return NewFilesystem(opts.Folder, opts.Namespace)
	default:
		return nil, invalidArgument(fmt.Sprintf("unsupported cache adapter: %q", opts.Adapter))
	}
}

func humanSize(size int64) string {
	return units.HumanSize(float64(size))
}
