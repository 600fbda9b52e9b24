package transfer

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/filegate/storage"
)

var (
	// ErrNotMultipart is returned when the request body is not multipart/form-data.
	ErrNotMultipart = errors.New("request is not multipart/form-data")

	// ErrExtensionForbidden is returned when the original filename carries a
	// forbidden extension.
	ErrExtensionForbidden = errors.New("file extension is not allowed")

	// ErrContentTypeForbidden is returned when the declared content type is
	// not in the allowed list.
	ErrContentTypeForbidden = errors.New("content type is not allowed")

	// ErrSizeExceeded is returned when a file grows past the effective size
	// cap mid-stream. The partial object is removed before this is reported.
	ErrSizeExceeded = errors.New("file size exceeds maximum allowed size")

	// ErrNoFileProvided is returned when the multipart body held no file parts.
	ErrNoFileProvided = errors.New("no file uploaded")

	// ErrRangeNotSatisfiable is returned when a Range header asks for bytes
	// outside the object.
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")
)

// StatusCode maps transfer and storage errors to HTTP status codes. Unknown
// errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNoFileProvided),
		errors.Is(err, ErrNotMultipart),
		errors.Is(err, ErrExtensionForbidden),
		errors.Is(err, storage.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, ErrContentTypeForbidden):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrSizeExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, storage.ErrContainerNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrContainerExists),
		errors.Is(err, storage.ErrContainerNotEmpty):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
