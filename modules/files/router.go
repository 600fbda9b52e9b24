package files

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/filegate/storage"
	"github.com/dmitrymomot/filegate/transfer"
)

// Service exposes the gateway over HTTP: container CRUD, multipart upload and
// range-aware download.
type Service struct {
	provider   storage.Provider
	uploader   *transfer.Uploader
	downloader *transfer.Downloader
	log        *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithUploadOptions forwards options to the upload pipeline.
func WithUploadOptions(opts ...transfer.UploadOption) Option {
	return func(s *Service) {
		s.uploader = transfer.NewUploader(s.provider, opts...)
	}
}

// NewService creates a files service over provider.
func NewService(provider storage.Provider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.uploader == nil {
		s.uploader = transfer.NewUploader(provider)
	}
	s.downloader = transfer.NewDownloader(provider, transfer.WithDownloadLogger(s.log))
	return s
}

// Router mounts the service endpoints.
//
//	GET    /containers                                  list containers
//	POST   /containers                                  create container
//	GET    /containers/{container}                      container metadata
//	DELETE /containers/{container}                      destroy container
//	GET    /containers/{container}/files                list files
//	GET    /containers/{container}/files/{file}         file metadata
//	DELETE /containers/{container}/files/{file}         remove file
//	POST   /containers/{container}/upload               multipart upload
//	GET    /containers/{container}/download/{file}      download, Range honored
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/containers", func(r chi.Router) {
		r.Get("/", s.listContainers)
		r.Post("/", s.createContainer)

		r.Route("/{container}", func(r chi.Router) {
			r.Get("/", s.getContainer)
			r.Delete("/", s.destroyContainer)
			r.Get("/files", s.listFiles)
			r.Get("/files/{file}", s.getFile)
			r.Delete("/files/{file}", s.removeFile)
			r.Post("/upload", s.upload)
			r.Get("/download/{file}", s.download)
		})
	})

	return r
}

func (s *Service) listContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.provider.ListContainers(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, containers)
}

func (s *Service) createContainer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	container, err := s.provider.CreateContainer(r.Context(), req.Name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, container)
}

func (s *Service) getContainer(w http.ResponseWriter, r *http.Request) {
	container, err := s.provider.GetContainer(r.Context(), pathParam(r, "container"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, container)
}

func (s *Service) destroyContainer(w http.ResponseWriter, r *http.Request) {
	if err := s.provider.DestroyContainer(r.Context(), pathParam(r, "container")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) listFiles(w http.ResponseWriter, r *http.Request) {
	objects, err := s.provider.ListObjects(r.Context(), pathParam(r, "container"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, objects)
}

func (s *Service) getFile(w http.ResponseWriter, r *http.Request) {
	object, err := s.provider.StatObject(r.Context(),
		pathParam(r, "container"), pathParam(r, "file"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, object)
}

func (s *Service) removeFile(w http.ResponseWriter, r *http.Request) {
	err := s.provider.RemoveObject(r.Context(),
		pathParam(r, "container"), pathParam(r, "file"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) upload(w http.ResponseWriter, r *http.Request) {
	result, err := s.uploader.Upload(r.Context(), r, pathParam(r, "container"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Service) download(w http.ResponseWriter, r *http.Request) {
	err := s.downloader.Download(w, r,
		pathParam(r, "container"), pathParam(r, "file"))
	if err != nil {
		s.respondError(w, r, err)
	}
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", "error", err)
	}
}

func (s *Service) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := transfer.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.respondJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// pathParam returns a URL parameter percent-decoded, so an encoded traversal
// like %2e%2e reaches the name validator in its decoded form.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}
