package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local is the reference filesystem provider. Every container is a directory
// directly under the root and every object is a regular file inside its
// container directory. It is safe for concurrent use; two writers targeting
// the same object race at the filesystem level and the last rename wins.
type Local struct {
	root    string // absolute storage root, fixed at construction
	baseURL string
}

// LocalOption configures a Local provider.
type LocalOption func(*Local)

// WithBaseURL sets the base used by URL to build object locators.
func WithBaseURL(base string) LocalOption {
	return func(l *Local) {
		l.baseURL = strings.TrimSuffix(base, "/")
	}
}

// NewLocal creates a filesystem provider rooted at root. The root must
// already exist and be a directory; construction fails immediately otherwise.
func NewLocal(root string, opts ...LocalOption) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", root)
	}

	l := &Local{root: abs}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// containerPath validates name and resolves the container directory.
func (l *Local) containerPath(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.root, name), nil
}

// objectPath validates both names and resolves the object file path.
func (l *Local) objectPath(container, name string) (string, error) {
	dir, err := l.containerPath(container)
	if err != nil {
		return "", err
	}
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(dir, name), nil
}

// ListContainers enumerates container directories under the root. A failing
// metadata lookup aborts the whole listing.
func (l *Local) ListContainers(ctx context.Context) ([]Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	containers := make([]Container, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat container %q: %w", entry.Name(), err)
		}
		containers = append(containers, containerFromInfo(info))
	}
	return containers, nil
}

// CreateContainer creates a new container directory.
func (l *Local) CreateContainer(ctx context.Context, name string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return Container{}, err
	}

	dir, err := l.containerPath(name)
	if err != nil {
		return Container{}, err
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return Container{}, fmt.Errorf("%w: %q", ErrContainerExists, name)
		}
		return Container{}, fmt.Errorf("create container %q: %w", name, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Container{}, fmt.Errorf("stat container %q: %w", name, err)
	}
	return containerFromInfo(info), nil
}

// GetContainer returns metadata for one container.
func (l *Local) GetContainer(ctx context.Context, name string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return Container{}, err
	}

	dir, err := l.containerPath(name)
	if err != nil {
		return Container{}, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Container{}, fmt.Errorf("%w: %q", ErrContainerNotFound, name)
		}
		return Container{}, fmt.Errorf("stat container %q: %w", name, err)
	}
	if !info.IsDir() {
		return Container{}, fmt.Errorf("%w: %q", ErrContainerNotFound, name)
	}
	return containerFromInfo(info), nil
}

// DestroyContainer removes every member file and then the container directory.
func (l *Local) DestroyContainer(ctx context.Context, name string) error {
	dir, err := l.containerPath(name)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrContainerNotFound, name)
		}
		return fmt.Errorf("read container %q: %w", name, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return fmt.Errorf("%w: %q holds directory %q", ErrContainerNotEmpty, name, entry.Name())
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("%w: remove %q: %v", ErrContainerNotEmpty, entry.Name(), err)
		}
	}

	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("remove container %q: %w", name, err)
	}
	return nil
}

// ListObjects enumerates the regular files in a container.
func (l *Local) ListObjects(ctx context.Context, container string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := l.containerPath(container)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrContainerNotFound, container)
		}
		return nil, fmt.Errorf("read container %q: %w", container, err)
	}

	objects := make([]Object, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat file %q: %w", entry.Name(), err)
		}
		objects = append(objects, objectFromInfo(container, info))
	}
	return objects, nil
}

// StatObject returns metadata for one object.
func (l *Local) StatObject(ctx context.Context, container, name string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	path, err := l.objectPath(container, name)
	if err != nil {
		return Object{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Object{}, fmt.Errorf("%w: %q", ErrObjectNotFound, name)
		}
		return Object{}, fmt.Errorf("stat file %q: %w", name, err)
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("%w: %q", ErrObjectNotFound, name)
	}
	return objectFromInfo(container, info), nil
}

// RemoveObject deletes one object.
func (l *Local) RemoveObject(ctx context.Context, container, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := l.objectPath(container, name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrObjectNotFound, name)
		}
		return fmt.Errorf("remove file %q: %w", name, err)
	}
	return nil
}

// OpenWrite opens a write stream for (container, name). Bytes land in a temp
// file under the storage root, outside every container, so in-flight uploads
// never surface in listings; Close renames the temp file into place, which is
// the persistence signal, so readers never observe a half-written object
// under the final name.
func (l *Local) OpenWrite(ctx context.Context, container, name string) (WriteStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := l.objectPath(container, name)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %q", ErrContainerNotFound, container)
	}

	tmp, err := os.CreateTemp(l.root, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create file %q: %w", name, err)
	}

	return &localWriteStream{f: tmp, tmp: tmp.Name(), final: path}, nil
}

type localWriteStream struct {
	f     *os.File
	tmp   string
	final string
	done  bool
}

func (w *localWriteStream) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close flushes the temp file and renames it to the final name. A nil return
// means the object is persisted and visible.
func (w *localWriteStream) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmp)
		return fmt.Errorf("flush %q: %w", filepath.Base(w.final), err)
	}
	if err := os.Rename(w.tmp, w.final); err != nil {
		_ = os.Remove(w.tmp)
		return fmt.Errorf("persist %q: %w", filepath.Base(w.final), err)
	}
	return nil
}

// Abort drops the temp file; the final name is never touched.
func (w *localWriteStream) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	_ = w.f.Close()
	if err := os.Remove(w.tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard partial upload: %w", err)
	}
	return nil
}

// OpenRead opens a read stream for (container, name), bounded to rng when
// non-nil.
func (l *Local) OpenRead(ctx context.Context, container, name string, rng *ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := l.objectPath(container, name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrObjectNotFound, name)
		}
		return nil, fmt.Errorf("open file %q: %w", name, err)
	}

	if rng == nil {
		return f, nil
	}
	if rng.Start < 0 || rng.End < rng.Start {
		_ = f.Close()
		return nil, fmt.Errorf("%w: invalid byte range", ErrInvalidName)
	}
	return &sectionReadCloser{
		Reader: io.NewSectionReader(f, rng.Start, rng.Length()),
		f:      f,
	}, nil
}

type sectionReadCloser struct {
	io.Reader
	f *os.File
}

func (s *sectionReadCloser) Close() error { return s.f.Close() }

// URL returns a path-style locator for the object under the configured base
// URL. Segments are escaped so the locator is always a single URL path.
func (l *Local) URL(container, name string) string {
	return l.baseURL + "/" + url.PathEscape(container) + "/" + url.PathEscape(name)
}

func containerFromInfo(info os.FileInfo) Container {
	atime, mtime, ctime := fileTimes(info)
	return Container{
		Name:       info.Name(),
		Size:       info.Size(),
		CreatedAt:  ctime,
		ModifiedAt: mtime,
		AccessedAt: atime,
	}
}

func objectFromInfo(container string, info os.FileInfo) Object {
	atime, mtime, ctime := fileTimes(info)
	return Object{
		Container:   container,
		Name:        info.Name(),
		Size:        info.Size(),
		ContentType: contentTypeByName(info.Name()),
		CreatedAt:   ctime,
		ModifiedAt:  mtime,
		AccessedAt:  atime,
	}
}

func contentTypeByName(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ Provider = (*Local)(nil)
