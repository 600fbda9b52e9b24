package storage

import (
	"context"
	"io"
	"time"
)

// Container is a named grouping of objects. Metadata is restricted to size
// and timestamps; ownership and permission bits from the backend are never
// exposed.
type Container struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"ctime"`
	ModifiedAt time.Time `json:"mtime"`
	AccessedAt time.Time `json:"atime"`
}

// Object is a named blob inside exactly one container. Like Container, it
// carries sanitized metadata only.
type Object struct {
	Container   string    `json:"container"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"ctime"`
	ModifiedAt  time.Time `json:"mtime"`
	AccessedAt  time.Time `json:"atime"`
}

// ByteRange is an inclusive byte offset window into an object.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes the range covers.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// WriteStream is an open write to a single backend object.
//
// Close blocks until the backend confirms the object is persisted and returns
// nil only on logical completion; a nil Close is the sole success signal, a
// closed OS file handle alone is not. Abort discards whatever was written so
// a cancelled transfer never leaves a partial object that looks complete.
// After either call the stream must not be used again.
type WriteStream interface {
	io.Writer
	Close() error
	Abort() error
}

// Provider is the storage backend capability. Implementations must validate
// names with ValidName before any backend call and must fail closed: an
// invalid name or unresolvable path returns an error instead of a stream.
type Provider interface {
	// ListContainers enumerates all containers. A failing metadata lookup
	// aborts the whole call rather than returning a partial listing.
	ListContainers(ctx context.Context) ([]Container, error)

	// CreateContainer creates a new, empty container.
	CreateContainer(ctx context.Context, name string) (Container, error)

	// GetContainer returns metadata for a single container.
	GetContainer(ctx context.Context, name string) (Container, error)

	// DestroyContainer removes all member objects and then the container itself.
	DestroyContainer(ctx context.Context, name string) error

	// ListObjects enumerates the objects in a container.
	ListObjects(ctx context.Context, container string) ([]Object, error)

	// StatObject returns metadata for a single object.
	StatObject(ctx context.Context, container, name string) (Object, error)

	// RemoveObject deletes a single object.
	RemoveObject(ctx context.Context, container, name string) error

	// OpenWrite opens a write stream for (container, name).
	OpenWrite(ctx context.Context, container, name string) (WriteStream, error)

	// OpenRead opens a read stream for (container, name), bounded to rng
	// when non-nil.
	OpenRead(ctx context.Context, container, name string, rng *ByteRange) (io.ReadCloser, error)

	// URL returns the backend-specific addressable location of an object.
	// It is not guaranteed to be externally reachable for all backends.
	URL(container, name string) string
}
