package files_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/filegate/modules/files"
	"github.com/dmitrymomot/filegate/storage"
	"github.com/dmitrymomot/filegate/transfer"
)

func newServer(t *testing.T, opts ...files.Option) *httptest.Server {
	t.Helper()
	provider, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	srv := httptest.NewServer(files.NewService(provider, opts...).Router())
	t.Cleanup(srv.Close)
	return srv
}

func createContainer(t *testing.T, srv *httptest.Server, name string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/containers", "application/json",
		strings.NewReader(`{"name":"`+name+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func uploadFile(t *testing.T, srv *httptest.Server, container, field, filename string, content []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(srv.URL+"/containers/"+container+"/upload",
		w.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestService_ContainerLifecycle(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	createContainer(t, srv, "c1")
	createContainer(t, srv, "c2")

	// duplicate
	resp, err := http.Post(srv.URL+"/containers", "application/json",
		strings.NewReader(`{"name":"c1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/containers/c1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/containers")
	require.NoError(t, err)
	defer resp.Body.Close()

	var containers []storage.Container
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&containers))
	require.Len(t, containers, 1)
	assert.Equal(t, "c2", containers[0].Name)
}

func TestService_UploadAndDownload(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	createContainer(t, srv, "media")

	content := []byte(strings.Repeat("filegate!", 1000))
	resp := uploadFile(t, srv, "media", "doc", "notes.txt", content)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result transfer.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Files["doc"], 1)
	assert.Equal(t, "notes.txt", result.Files["doc"][0].Name)
	assert.Equal(t, int64(len(content)), result.Files["doc"][0].Size)
	assert.NotEmpty(t, result.Files["doc"][0].MD5)
	assert.NotEmpty(t, result.Files["doc"][0].SHA256)

	// full download
	dl, err := http.Get(srv.URL + "/containers/media/download/notes.txt")
	require.NoError(t, err)
	defer dl.Body.Close()
	assert.Equal(t, http.StatusOK, dl.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())

	// ranged download
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/containers/media/download/notes.txt", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-99")
	partial, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer partial.Body.Close()

	assert.Equal(t, http.StatusPartialContent, partial.StatusCode)
	assert.Equal(t, "100", partial.Header.Get("Content-Length"))

	buf.Reset()
	_, err = buf.ReadFrom(partial.Body)
	require.NoError(t, err)
	assert.Equal(t, content[:100], buf.Bytes())
}

func TestService_FileMetadataAndRemoval(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	createContainer(t, srv, "c")

	resp := uploadFile(t, srv, "c", "f", "data.bin", []byte{1, 2, 3, 4})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stat, err := http.Get(srv.URL + "/containers/c/files/data.bin")
	require.NoError(t, err)
	defer stat.Body.Close()
	require.Equal(t, http.StatusOK, stat.StatusCode)

	var obj storage.Object
	require.NoError(t, json.NewDecoder(stat.Body).Decode(&obj))
	assert.Equal(t, int64(4), obj.Size)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/containers/c/files/data.bin", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	listResp, err := http.Get(srv.URL + "/containers/c/files")
	require.NoError(t, err)
	defer listResp.Body.Close()

	var objects []storage.Object
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&objects))
	assert.Empty(t, objects)
}

func TestService_Errors(t *testing.T) {
	t.Parallel()
	srv := newServer(t, files.WithUploadOptions(transfer.WithMaxFileSize(16)))
	createContainer(t, srv, "c")

	t.Run("download missing file is 404 without host paths", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/containers/c/download/nope.bin")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body["error"], "nope.bin")
		assert.NotContains(t, body["error"], "/tmp")
	})

	t.Run("missing container is 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/containers/ghost")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("upload without files is 400", func(t *testing.T) {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		require.NoError(t, w.WriteField("k", "v"))
		require.NoError(t, w.Close())

		resp, err := http.Post(srv.URL+"/containers/c/upload", w.FormDataContentType(), &body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("oversized upload is 413 and leaves nothing", func(t *testing.T) {
		resp := uploadFile(t, srv, "c", "f", "big.bin", bytes.Repeat([]byte("x"), 1024))
		resp.Body.Close()
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

		listResp, err := http.Get(srv.URL + "/containers/c/files")
		require.NoError(t, err)
		defer listResp.Body.Close()

		var objects []storage.Object
		require.NoError(t, json.NewDecoder(listResp.Body).Decode(&objects))
		assert.Empty(t, objects)
	})

	t.Run("traversal in container name is rejected", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/containers", "application/json",
			strings.NewReader(`{"name":"../evil"}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("encoded traversal in path is rejected", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/containers/%2e%2e")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
