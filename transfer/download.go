package transfer

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitrymomot/filegate/storage"
)

// Downloader streams objects from a storage provider to HTTP responses.
type Downloader struct {
	provider storage.Provider
	log      *slog.Logger
}

// DownloadOption configures a Downloader.
type DownloadOption func(*Downloader)

// WithDownloadLogger sets the logger for mid-stream copy failures, which can
// no longer change the response status.
func WithDownloadLogger(log *slog.Logger) DownloadOption {
	return func(d *Downloader) {
		if log != nil {
			d.log = log
		}
	}
}

// NewDownloader creates a Downloader over provider.
func NewDownloader(provider storage.Provider, opts ...DownloadOption) *Downloader {
	d := &Downloader{
		provider: provider,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download writes the object (container, name) to w, honoring a single
// "bytes=start-end" or suffix "bytes=-n" Range header with a 206 response. Errors are returned
// exactly once and only before the body started flowing; not-found errors
// name the file, never the backend path. A malformed Range header is ignored
// and the full object is served, per RFC 9110.
func (d *Downloader) Download(w http.ResponseWriter, r *http.Request, container, name string) error {
	if container == "" || name == "" {
		return fmt.Errorf("%w: container and file name are required", storage.ErrInvalidName)
	}

	var rng *storage.ByteRange
	var totalSize int64
	status := http.StatusOK

	w.Header().Set("Accept-Ranges", "bytes")

	if raw := r.Header.Get("Range"); raw != "" {
		obj, err := d.provider.StatObject(r.Context(), container, name)
		if err != nil {
			return err
		}
		br, ok, err := parseRange(raw, obj.Size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", obj.Size))
			return err
		}
		if ok {
			rng = &br
			totalSize = obj.Size
			status = http.StatusPartialContent
		}
	}

	rc, err := d.provider.OpenRead(r.Context(), container, name, rng)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if rng != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, totalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	}

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)

	// Headers are out the door; a copy failure here can only be logged.
	if _, err := io.Copy(w, rc); err != nil {
		d.log.Warn("stream download",
			"container", container, "file", name, "error", err)
	}
	return nil
}

// parseRange interprets a single-range "bytes=start-end" or suffix
// "bytes=-n" header against the object size. The end offset is optional and
// clamps to size-1. It returns ok=false for syntax the pipeline does not
// serve partially (malformed headers; multiple ranges beyond the first are
// ignored), and ErrRangeNotSatisfiable for a well-formed range outside the
// object.
func parseRange(header string, size int64) (storage.ByteRange, bool, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return storage.ByteRange{}, false, nil
	}

	spec := strings.TrimPrefix(header, prefix)
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	spec = strings.TrimSpace(spec)

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return storage.ByteRange{}, false, nil
	}

	// Suffix form asks for the last n bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return storage.ByteRange{}, false, nil
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		if start >= size {
			return storage.ByteRange{}, false, fmt.Errorf("%w: empty object", ErrRangeNotSatisfiable)
		}
		return storage.ByteRange{Start: start, End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return storage.ByteRange{}, false, nil
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return storage.ByteRange{}, false, nil
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size {
		return storage.ByteRange{}, false, fmt.Errorf("%w: start %d beyond size %d", ErrRangeNotSatisfiable, start, size)
	}
	return storage.ByteRange{Start: start, End: end}, true, nil
}
