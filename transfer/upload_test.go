package transfer_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filegate/storage"
	"github.com/dmitrymomot/filegate/transfer"
)

type testFile struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

// multipartRequest builds a multipart/form-data request from plain fields and
// file parts, preserving part order.
func multipartRequest(t *testing.T, fields [][2]string, files ...testFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for _, kv := range fields {
		require.NoError(t, w.WriteField(kv[0], kv[1]))
	}
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		header.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r := httptest.NewRequest(http.MethodPost, "/upload", &body)
	r.Header.Set("Content-Type", w.FormDataContentType())
	return r
}

func newUploadEnv(t *testing.T, opts ...transfer.UploadOption) (*transfer.Uploader, storage.Provider) {
	t.Helper()
	provider, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = provider.CreateContainer(context.Background(), "box")
	require.NoError(t, err)
	return transfer.NewUploader(provider, opts...), provider
}

// jpegFixture builds a deterministic fixture of the given size.
func jpegFixture(size int) []byte {
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i * 31)
	}
	return content
}

func TestUpload_SingleJPEG(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t)

	content := jpegFixture(60475)
	r := multipartRequest(t, nil, testFile{
		field: "image", filename: "test.jpg", contentType: "image/jpeg", content: content,
	})

	result, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)
	require.Len(t, result.Files["image"], 1)

	file := result.Files["image"][0]
	assert.Equal(t, "box", file.Container)
	assert.Equal(t, "test.jpg", file.Name)
	assert.Equal(t, "image/jpeg", file.ContentType)
	assert.Equal(t, "image", file.Field)
	assert.Equal(t, int64(60475), file.Size)
	assert.Empty(t, file.OriginalFilename)

	wantMD5 := md5.Sum(content)
	wantSHA := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(wantMD5[:]), file.MD5)
	assert.Equal(t, hex.EncodeToString(wantSHA[:]), file.SHA256)
}

func TestUpload_RoundTrip(t *testing.T) {
	t.Parallel()
	uploader, provider := newUploadEnv(t)

	content := jpegFixture(4096)
	r := multipartRequest(t, nil, testFile{
		field: "data", filename: "blob.bin", contentType: "application/octet-stream", content: content,
	})

	result, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)

	rc, err := provider.OpenRead(context.Background(), "box", "blob.bin", nil)
	require.NoError(t, err)
	defer rc.Close()

	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	gotSHA := sha256.Sum256(stored)
	assert.Equal(t, hex.EncodeToString(gotSHA[:]), result.Files["data"][0].SHA256)
}

func TestUpload_FieldsAccumulate(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t)

	r := multipartRequest(t,
		[][2]string{{"tag", "first"}, {"tag", "second"}, {"note", "hello"}},
		testFile{field: "f", filename: "a.txt", contentType: "text/plain", content: []byte("x")},
	)

	result, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, result.Fields["tag"])
	assert.Equal(t, []string{"hello"}, result.Fields["note"])
}

func TestUpload_MultipleFilesSameField(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t)

	r := multipartRequest(t, nil,
		testFile{field: "docs", filename: "one.txt", contentType: "text/plain", content: []byte("1")},
		testFile{field: "docs", filename: "two.txt", contentType: "text/plain", content: []byte("22")},
	)

	result, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)
	require.Len(t, result.Files["docs"], 2)
	assert.Equal(t, "one.txt", result.Files["docs"][0].Name)
	assert.Equal(t, "two.txt", result.Files["docs"][1].Name)
}

func TestUpload_NoFile(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t)

	r := multipartRequest(t, [][2]string{{"only", "fields"}})

	_, err := uploader.Upload(context.Background(), r, "box")
	require.ErrorIs(t, err, transfer.ErrNoFileProvided)
	assert.Equal(t, http.StatusBadRequest, transfer.StatusCode(err))
}

func TestUpload_NotMultipart(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")

	_, err := uploader.Upload(context.Background(), r, "box")
	require.ErrorIs(t, err, transfer.ErrNotMultipart)
	assert.Equal(t, http.StatusBadRequest, transfer.StatusCode(err))
}

func TestUpload_InvalidContainer(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t)

	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "a.txt", contentType: "text/plain", content: []byte("x"),
	})

	_, err := uploader.Upload(context.Background(), r, "../outside")
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}

func TestUpload_ForbiddenExtension(t *testing.T) {
	t.Parallel()
	uploader, provider := newUploadEnv(t, transfer.WithForbiddenExtensions("exe", ".bat"))

	for _, filename := range []string{"virus.exe", "VIRUS.EXE", "script.BAT"} {
		r := multipartRequest(t, nil, testFile{
			field: "f", filename: filename, contentType: "application/octet-stream", content: []byte("mz"),
		})
		_, err := uploader.Upload(context.Background(), r, "box")
		assert.ErrorIs(t, err, transfer.ErrExtensionForbidden, filename)
	}

	objects, err := provider.ListObjects(context.Background(), "box")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestUpload_ContentTypeNotAllowed(t *testing.T) {
	t.Parallel()
	uploader, provider := newUploadEnv(t, transfer.WithAllowedContentTypes("image/png", "image/gif"))

	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "pic.jpg", contentType: "image/jpeg", content: jpegFixture(128),
	})

	_, err := uploader.Upload(context.Background(), r, "box")
	require.ErrorIs(t, err, transfer.ErrContentTypeForbidden)
	assert.Equal(t, http.StatusUnsupportedMediaType, transfer.StatusCode(err))

	// Rejected from headers alone: nothing may have reached the backend.
	objects, err := provider.ListObjects(context.Background(), "box")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestUpload_SizeExceeded(t *testing.T) {
	t.Parallel()
	uploader, provider := newUploadEnv(t, transfer.WithMaxFileSize(1024))

	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "big.bin", contentType: "application/octet-stream", content: jpegFixture(100_000),
	})

	_, err := uploader.Upload(context.Background(), r, "box")
	require.ErrorIs(t, err, transfer.ErrSizeExceeded)
	assert.Equal(t, http.StatusRequestEntityTooLarge, transfer.StatusCode(err))

	// The aborted transfer must not leave a residual partial object.
	objects, err := provider.ListObjects(context.Background(), "box")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestUpload_FailedReuploadKeepsExisting(t *testing.T) {
	t.Parallel()
	uploader, provider := newUploadEnv(t)

	original := jpegFixture(64)
	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "a.bin", contentType: "application/octet-stream", content: original,
	})
	_, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)

	// A rejected re-upload of the same name must not disturb the stored object.
	capped := transfer.NewUploader(provider, transfer.WithMaxFileSize(4))
	r = multipartRequest(t, nil, testFile{
		field: "f", filename: "a.bin", contentType: "application/octet-stream", content: jpegFixture(64),
	})
	_, err = capped.Upload(context.Background(), r, "box")
	require.ErrorIs(t, err, transfer.ErrSizeExceeded)

	obj, err := provider.StatObject(context.Background(), "box", "a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(64), obj.Size)

	rc, err := provider.OpenRead(context.Background(), "box", "a.bin", nil)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestUpload_SizeAtLimit(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t, transfer.WithMaxFileSize(1024))

	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "exact.bin", contentType: "application/octet-stream", content: jpegFixture(1024),
	})

	result, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), result.Files["f"][0].Size)
}

func TestUpload_DynamicMaxSize(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t, transfer.WithMaxFileSizeFunc(
		func(r *http.Request, f transfer.FilePart) int64 {
			if f.ContentType == "image/jpeg" {
				return 64
			}
			return 1 << 20
		},
	))

	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "pic.jpg", contentType: "image/jpeg", content: jpegFixture(128),
	})
	_, err := uploader.Upload(context.Background(), r, "box")
	assert.ErrorIs(t, err, transfer.ErrSizeExceeded)

	r = multipartRequest(t, nil, testFile{
		field: "f", filename: "doc.txt", contentType: "text/plain", content: jpegFixture(128),
	})
	_, err = uploader.Upload(context.Background(), r, "box")
	assert.NoError(t, err)
}

func TestUpload_UniqueNames(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t, transfer.WithUniqueNames())

	r := multipartRequest(t, nil, testFile{
		field: "image", filename: "test.jpg", contentType: "image/jpeg", content: jpegFixture(64),
	})

	result, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)

	file := result.Files["image"][0]
	assert.NotEqual(t, "test.jpg", file.Name)
	assert.True(t, strings.HasSuffix(file.Name, ".jpg"))
	assert.Equal(t, "test.jpg", file.OriginalFilename)
}

func TestUpload_Rename(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t, transfer.WithRename(
		func(r *http.Request, original string) string {
			return "renamed-" + original
		},
	))

	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "a.txt", contentType: "text/plain", content: []byte("x"),
	})

	result, err := uploader.Upload(context.Background(), r, "box")
	require.NoError(t, err)

	file := result.Files["f"][0]
	assert.Equal(t, "renamed-a.txt", file.Name)
	assert.Equal(t, "a.txt", file.OriginalFilename)
}

func TestUpload_ACL(t *testing.T) {
	t.Parallel()

	t.Run("static", func(t *testing.T) {
		t.Parallel()
		uploader, _ := newUploadEnv(t, transfer.WithACL("public-read"))
		r := multipartRequest(t, nil, testFile{
			field: "f", filename: "a.txt", contentType: "text/plain", content: []byte("x"),
		})
		result, err := uploader.Upload(context.Background(), r, "box")
		require.NoError(t, err)
		assert.Equal(t, "public-read", result.Files["f"][0].ACL)
	})

	t.Run("computed", func(t *testing.T) {
		t.Parallel()
		uploader, _ := newUploadEnv(t, transfer.WithACLFunc(
			func(r *http.Request, f transfer.FilePart) string {
				return "field:" + f.Field
			},
		))
		r := multipartRequest(t, nil, testFile{
			field: "f", filename: "a.txt", contentType: "text/plain", content: []byte("x"),
		})
		result, err := uploader.Upload(context.Background(), r, "box")
		require.NoError(t, err)
		assert.Equal(t, "field:f", result.Files["f"][0].ACL)
	})
}

func TestUpload_TraversalFilenameRejected(t *testing.T) {
	t.Parallel()
	uploader, _ := newUploadEnv(t)

	r := multipartRequest(t, nil, testFile{
		field: "f", filename: "..", contentType: "text/plain", content: []byte("x"),
	})

	_, err := uploader.Upload(context.Background(), r, "box")
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}
