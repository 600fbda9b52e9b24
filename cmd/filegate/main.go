package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/filegate/modules/files"
	"github.com/dmitrymomot/filegate/pkg/config"
	"github.com/dmitrymomot/filegate/pkg/httpserver"
	"github.com/dmitrymomot/filegate/pkg/logger"
	"github.com/dmitrymomot/filegate/storage"
	"github.com/dmitrymomot/filegate/transfer"
)

type appConfig struct {
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"local"`
	BaseURL       string `env:"STORAGE_BASE_URL"`

	LocalRoot string `env:"STORAGE_LOCAL_ROOT" envDefault:"./data"`

	S3Bucket         string `env:"S3_BUCKET"`
	S3Region         string `env:"S3_REGION"`
	S3AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`

	MaxFileSize         int64    `env:"UPLOAD_MAX_FILE_SIZE" envDefault:"10485760"`
	ForbiddenExtensions []string `env:"UPLOAD_FORBIDDEN_EXTENSIONS" envSeparator:","`
	AllowedContentTypes []string `env:"UPLOAD_ALLOWED_CONTENT_TYPES" envSeparator:","`
	UniqueNames         bool     `env:"UPLOAD_UNIQUE_NAMES" envDefault:"false"`
	ACL                 string   `env:"UPLOAD_ACL"`
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.New(
		logger.WithFormat(logger.Format(cfg.LogFormat)),
		logger.WithService("filegate"),
	)

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage provider: %w", err)
	}
	log.Info("storage provider ready", "driver", cfg.StorageDriver)

	uploadOpts := []transfer.UploadOption{
		transfer.WithMaxFileSize(cfg.MaxFileSize),
		transfer.WithForbiddenExtensions(cfg.ForbiddenExtensions...),
		transfer.WithAllowedContentTypes(cfg.AllowedContentTypes...),
		transfer.WithACL(cfg.ACL),
		transfer.WithLogger(log),
	}
	if cfg.UniqueNames {
		uploadOpts = append(uploadOpts, transfer.WithUniqueNames())
	}

	svc := files.NewService(provider,
		files.WithLogger(log),
		files.WithUploadOptions(uploadOpts...),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Mount("/", svc.Router())

	srv := httpserver.New(
		httpserver.WithAddr(cfg.HTTPAddr),
		httpserver.WithLogger(log),
	)
	return srv.Run(ctx, r)
}

func newProvider(ctx context.Context, cfg appConfig) (storage.Provider, error) {
	switch cfg.StorageDriver {
	case "local":
		if err := os.MkdirAll(cfg.LocalRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create storage root: %w", err)
		}
		return storage.NewLocal(cfg.LocalRoot, storage.WithBaseURL(cfg.BaseURL))
	case "s3":
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			AccessKeyID:    cfg.S3AccessKeyID,
			SecretKey:      cfg.S3SecretKey,
			Endpoint:       cfg.S3Endpoint,
			BaseURL:        cfg.BaseURL,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
