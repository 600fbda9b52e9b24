package transfer

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/filegate/storage"
)

// File is the result record for one stored file. Digests are computed over
// the exact bytes written and are only assembled after the backend confirmed
// persistence.
type File struct {
	Container        string `json:"container"`
	Name             string `json:"name"`
	Size             int64  `json:"size"`
	ContentType      string `json:"type"`
	Field            string `json:"field"`
	OriginalFilename string `json:"originalFilename,omitempty"`
	ACL              string `json:"acl,omitempty"`
	MD5              string `json:"md5"`
	SHA256           string `json:"sha256"`
}

// Result aggregates one upload call: stored files grouped by form field, in
// arrival order, plus plain form field values.
type Result struct {
	Files  map[string][]File   `json:"files"`
	Fields map[string][]string `json:"fields"`
}

// Uploader streams multipart uploads into a storage provider.
type Uploader struct {
	provider storage.Provider
	cfg      uploadConfig
}

// NewUploader creates an Uploader over provider.
func NewUploader(provider storage.Provider, opts ...UploadOption) *Uploader {
	cfg := defaultUploadConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Uploader{provider: provider, cfg: cfg}
}

// Upload consumes the request's multipart body part by part and stores every
// file part in container. The first error aborts the whole upload; parts that
// were already persisted stay (last-writer-wins namespace, no transactional
// rollback across files), but the failing part itself is cleaned up. A body
// with zero file parts fails with ErrNoFileProvided.
func (u *Uploader) Upload(ctx context.Context, r *http.Request, container string) (*Result, error) {
	if !storage.ValidName(container) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, container)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotMultipart, err)
	}

	res := &Result{
		Files:  make(map[string][]File),
		Fields: make(map[string][]string),
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart body: %w", err)
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(part)
			_ = part.Close()
			if err != nil {
				return nil, fmt.Errorf("read form field %q: %w", part.FormName(), err)
			}
			// Repeated field names accumulate in arrival order.
			res.Fields[part.FormName()] = append(res.Fields[part.FormName()], string(value))
			continue
		}

		file, err := u.saveFilePart(ctx, r, part, container)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		res.Files[file.Field] = append(res.Files[file.Field], *file)
	}

	if len(res.Files) == 0 {
		return nil, ErrNoFileProvided
	}
	return res, nil
}

// saveFilePart runs the header-only policy checks, then pipes the part into
// the backend while metering size and accumulating digests chunk by chunk.
func (u *Uploader) saveFilePart(ctx context.Context, r *http.Request, part *multipart.Part, container string) (*File, error) {
	fp := FilePart{
		Field:       part.FormName(),
		Filename:    filepath.Base(part.FileName()),
		ContentType: partContentType(part),
	}
	if !storage.ValidName(fp.Filename) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, part.FileName())
	}

	// Header-derived policy runs before any byte is written.
	ext := strings.ToLower(filepath.Ext(fp.Filename))
	if _, forbidden := u.cfg.forbidExt[ext]; forbidden {
		return nil, fmt.Errorf("%w: %s", ErrExtensionForbidden, ext)
	}

	if allowed := u.allowedTypes(r, fp); len(allowed) > 0 && !slices.Contains(allowed, fp.ContentType) {
		return nil, fmt.Errorf("%w: %s", ErrContentTypeForbidden, fp.ContentType)
	}

	maxSize := u.maxFileSize(r, fp)
	name := u.storedName(r, fp)
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}

	ws, err := u.provider.OpenWrite(ctx, container, name)
	if err != nil {
		return nil, err
	}

	md5sum := md5.New()
	sha := sha256.New()
	size, err := u.pipe(ctx, part, ws, maxSize, md5sum, sha)
	if err != nil {
		u.discard(ws, container, name)
		return nil, err
	}

	// Close is the backend's persistence signal; only a nil return makes the
	// file part of the result. A failed Close leaves nothing new under the
	// final name, so there is nothing more to clean up.
	if err := ws.Close(); err != nil {
		return nil, err
	}

	file := &File{
		Container:   container,
		Name:        name,
		Size:        size,
		ContentType: fp.ContentType,
		Field:       fp.Field,
		ACL:         u.acl(r, fp),
		MD5:         hex.EncodeToString(md5sum.Sum(nil)),
		SHA256:      hex.EncodeToString(sha.Sum(nil)),
	}
	if name != fp.Filename {
		file.OriginalFilename = fp.Filename
	}
	return file, nil
}

// pipe copies part into ws, feeding every chunk to the digests and enforcing
// the size cap before the excess chunk is written. It returns the byte count
// on success; on error the caller owns cleanup.
func (u *Uploader) pipe(ctx context.Context, part io.Reader, ws storage.WriteStream, maxSize int64, digests ...hash.Hash) (int64, error) {
	writers := make([]io.Writer, 0, len(digests)+1)
	writers = append(writers, ws)
	for _, d := range digests {
		writers = append(writers, d)
	}
	w := io.MultiWriter(writers...)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := part.Read(buf)
		if n > 0 {
			if maxSize > 0 && written+int64(n) > maxSize {
				return written, fmt.Errorf("%w: limit %d bytes", ErrSizeExceeded, maxSize)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write upload stream: %w", err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read upload part: %w", readErr)
		}
	}
}

// discard aborts an open write stream. Backends keep in-flight bytes away
// from the final name until Close succeeds, so aborting drops the partial
// while an object previously stored under the same name stays intact. Abort
// failures are logged, never returned, so they cannot mask the original error.
func (u *Uploader) discard(ws storage.WriteStream, container, name string) {
	if err := ws.Abort(); err != nil {
		u.cfg.log.Warn("abort upload stream",
			"container", container, "file", name, "error", err)
	}
}

func (u *Uploader) maxFileSize(r *http.Request, fp FilePart) int64 {
	if u.cfg.maxFileSizeFunc != nil {
		if n := u.cfg.maxFileSizeFunc(r, fp); n > 0 {
			return n
		}
	}
	return u.cfg.maxFileSize
}

func (u *Uploader) allowedTypes(r *http.Request, fp FilePart) []string {
	if u.cfg.allowedTypesFunc != nil {
		return u.cfg.allowedTypesFunc(r, fp)
	}
	return u.cfg.allowedTypes
}

func (u *Uploader) acl(r *http.Request, fp FilePart) string {
	if u.cfg.aclFunc != nil {
		return u.cfg.aclFunc(r, fp)
	}
	return u.cfg.acl
}

func (u *Uploader) storedName(r *http.Request, fp FilePart) string {
	if u.cfg.rename != nil {
		return u.cfg.rename(r, fp.Filename)
	}
	if u.cfg.uniqueNames {
		return uuid.NewString() + strings.ToLower(filepath.Ext(fp.Filename))
	}
	return fp.Filename
}

// partContentType resolves the declared media type of a part, falling back to
// the filename extension.
func partContentType(part *multipart.Part) string {
	if ct := part.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
	}
	if ct := mime.TypeByExtension(filepath.Ext(part.FileName())); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}
