package transfer

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultMaxFileSize caps each uploaded file at 10 MiB unless overridden.
const DefaultMaxFileSize int64 = 10 << 20

// FilePart describes a file part before its bytes are consumed. It is the
// input to the per-file policy callbacks.
type FilePart struct {
	// Field is the multipart form field the file arrived under.
	Field string
	// Filename is the client-declared filename, base name only.
	Filename string
	// ContentType is the declared media type of the part.
	ContentType string
}

type uploadConfig struct {
	maxFileSize      int64
	maxFileSizeFunc  func(r *http.Request, f FilePart) int64
	forbidExt        map[string]struct{}
	allowedTypes     []string
	allowedTypesFunc func(r *http.Request, f FilePart) []string
	rename           func(r *http.Request, original string) string
	uniqueNames      bool
	acl              string
	aclFunc          func(r *http.Request, f FilePart) string
	log              *slog.Logger
}

// UploadOption configures an Uploader.
type UploadOption func(*uploadConfig)

// WithMaxFileSize sets a static per-file size cap in bytes.
func WithMaxFileSize(n int64) UploadOption {
	return func(c *uploadConfig) {
		if n > 0 {
			c.maxFileSize = n
		}
	}
}

// WithMaxFileSizeFunc computes the per-file size cap at decision time. It
// takes precedence over WithMaxFileSize when both are set.
func WithMaxFileSizeFunc(fn func(r *http.Request, f FilePart) int64) UploadOption {
	return func(c *uploadConfig) { c.maxFileSizeFunc = fn }
}

// WithForbiddenExtensions rejects files whose original extension, compared
// case-insensitively, is in the list. Extensions may be given with or
// without the leading dot.
func WithForbiddenExtensions(exts ...string) UploadOption {
	return func(c *uploadConfig) {
		for _, ext := range exts {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			c.forbidExt[ext] = struct{}{}
		}
	}
}

// WithAllowedContentTypes restricts uploads to the listed declared media
// types. An empty list allows everything.
func WithAllowedContentTypes(types ...string) UploadOption {
	return func(c *uploadConfig) { c.allowedTypes = types }
}

// WithAllowedContentTypesFunc computes the allowed media types at decision
// time. It takes precedence over WithAllowedContentTypes when both are set.
func WithAllowedContentTypesFunc(fn func(r *http.Request, f FilePart) []string) UploadOption {
	return func(c *uploadConfig) { c.allowedTypesFunc = fn }
}

// WithRename stores files under the name fn returns instead of the original
// filename. The original name is kept in the result record whenever the two
// differ.
func WithRename(fn func(r *http.Request, original string) string) UploadOption {
	return func(c *uploadConfig) { c.rename = fn }
}

// WithUniqueNames stores files under a collision-resistant generated name
// that keeps the original extension. Ignored when WithRename is set.
func WithUniqueNames() UploadOption {
	return func(c *uploadConfig) { c.uniqueNames = true }
}

// WithACL tags every uploaded file with a static ACL value.
func WithACL(acl string) UploadOption {
	return func(c *uploadConfig) { c.acl = acl }
}

// WithACLFunc computes the ACL tag per file at decision time. It takes
// precedence over WithACL when both are set.
func WithACLFunc(fn func(r *http.Request, f FilePart) string) UploadOption {
	return func(c *uploadConfig) { c.aclFunc = fn }
}

// WithLogger sets the logger used for cleanup failures. Cleanup errors are
// logged and never mask the error that triggered the cleanup.
func WithLogger(log *slog.Logger) UploadOption {
	return func(c *uploadConfig) {
		if log != nil {
			c.log = log
		}
	}
}

func defaultUploadConfig() uploadConfig {
	return uploadConfig{
		maxFileSize: DefaultMaxFileSize,
		forbidExt:   make(map[string]struct{}),
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
