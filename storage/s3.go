package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client is the subset of the S3 API the provider uses. It exists so tests
// can substitute a mock.
type S3Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Config contains configuration for the S3 provider.
type S3Config struct {
	Bucket         string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // optional, for S3-compatible services
	BaseURL        string // public URL base for URL()
	ForcePathStyle bool   // for S3-compatible services like MinIO
}

// S3Option configures the S3 provider.
type S3Option func(*s3Options)

type s3Options struct {
	client S3Client
}

// WithS3Client sets a pre-configured client. Useful for testing with mocks.
func WithS3Client(client S3Client) S3Option {
	return func(o *s3Options) { o.client = client }
}

// S3 stores containers as key prefixes inside a single bucket: the object
// (c, f) lives at key "c/f" and an empty marker object at "c/" records the
// container itself. It is safe for concurrent use.
type S3 struct {
	client  S3Client
	bucket  string
	baseURL string
}

// NewS3 creates an S3-backed provider.
func NewS3(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	options := &s3Options{}
	for _, opt := range opts {
		opt(options)
	}

	client := options.client
	if client == nil {
		if cfg.Region == "" {
			return nil, errors.New("s3 region is required")
		}

		awsOptions := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretKey, "",
				)),
			)
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}

		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &S3{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

func (p *S3) containerPrefix(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name + "/", nil
}

func (p *S3) objectKey(container, name string) (string, error) {
	prefix, err := p.containerPrefix(container)
	if err != nil {
		return "", err
	}
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return prefix + name, nil
}

// ListContainers enumerates top-level key prefixes in the bucket. Marker
// objects may surface either as common prefixes or as "name/" keys depending
// on the server, so both shapes are merged; marker timestamps become the
// container timestamps when available.
func (p *S3) ListContainers(ctx context.Context) ([]Container, error) {
	byName := make(map[string]Container)
	var order []string

	add := func(name string) {
		if _, seen := byName[name]; !seen {
			byName[name] = Container{Name: name}
			order = append(order, name)
		}
	}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Delimiter: aws.String("/"),
	}
	for {
		out, err := p.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list containers: %w", err)
		}
		for _, cp := range out.CommonPrefixes {
			add(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"))
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, "/") {
				continue
			}
			name := strings.TrimSuffix(key, "/")
			add(name)
			c := byName[name]
			ts := aws.ToTime(obj.LastModified)
			c.CreatedAt, c.ModifiedAt, c.AccessedAt = ts, ts, ts
			byName[name] = c
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	containers := make([]Container, 0, len(order))
	for _, name := range order {
		containers = append(containers, byName[name])
	}
	return containers, nil
}

// CreateContainer writes the container marker object.
func (p *S3) CreateContainer(ctx context.Context, name string) (Container, error) {
	prefix, err := p.containerPrefix(name)
	if err != nil {
		return Container{}, err
	}

	if _, err := p.GetContainer(ctx, name); err == nil {
		return Container{}, fmt.Errorf("%w: %q", ErrContainerExists, name)
	} else if !errors.Is(err, ErrContainerNotFound) {
		return Container{}, err
	}

	if _, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(prefix),
		Body:   strings.NewReader(""),
	}); err != nil {
		return Container{}, fmt.Errorf("create container %q: %w", name, err)
	}
	return p.GetContainer(ctx, name)
}

// GetContainer resolves a container from its marker object, falling back to
// any object under the prefix for containers created out of band.
func (p *S3) GetContainer(ctx context.Context, name string) (Container, error) {
	prefix, err := p.containerPrefix(name)
	if err != nil {
		return Container{}, err
	}

	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(prefix),
	})
	if err == nil {
		ts := aws.ToTime(head.LastModified)
		return Container{Name: name, CreatedAt: ts, ModifiedAt: ts, AccessedAt: ts}, nil
	}
	if !isS3NotFound(err) {
		return Container{}, fmt.Errorf("stat container %q: %w", name, err)
	}

	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return Container{}, fmt.Errorf("stat container %q: %w", name, err)
	}
	if len(out.Contents) == 0 {
		return Container{}, fmt.Errorf("%w: %q", ErrContainerNotFound, name)
	}
	return Container{Name: name}, nil
}

// DestroyContainer deletes every key under the container prefix, marker
// included, in batches.
func (p *S3) DestroyContainer(ctx context.Context, name string) error {
	prefix, err := p.containerPrefix(name)
	if err != nil {
		return err
	}
	if _, err := p.GetContainer(ctx, name); err != nil {
		return err
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		out, err := p.client.ListObjectsV2(ctx, input)
		if err != nil {
			return fmt.Errorf("list container %q: %w", name, err)
		}
		if len(out.Contents) > 0 {
			ids := make([]types.ObjectIdentifier, 0, len(out.Contents))
			for _, obj := range out.Contents {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			del, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(p.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return fmt.Errorf("destroy container %q: %w", name, err)
			}
			if len(del.Errors) > 0 {
				first := del.Errors[0]
				return fmt.Errorf("%w: delete %q: %s", ErrContainerNotEmpty,
					aws.ToString(first.Key), aws.ToString(first.Message))
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

// ListObjects enumerates the objects directly under the container prefix.
func (p *S3) ListObjects(ctx context.Context, container string) ([]Object, error) {
	prefix, err := p.containerPrefix(container)
	if err != nil {
		return nil, err
	}
	if _, err := p.GetContainer(ctx, container); err != nil {
		return nil, err
	}

	var objects []Object
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	for {
		out, err := p.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list container %q: %w", container, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue // container marker
			}
			ts := aws.ToTime(obj.LastModified)
			objects = append(objects, Object{
				Container:   container,
				Name:        name,
				Size:        aws.ToInt64(obj.Size),
				ContentType: contentTypeByName(name),
				CreatedAt:   ts,
				ModifiedAt:  ts,
				AccessedAt:  ts,
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			return objects, nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

// StatObject returns metadata for one object.
func (p *S3) StatObject(ctx context.Context, container, name string) (Object, error) {
	key, err := p.objectKey(container, name)
	if err != nil {
		return Object{}, err
	}

	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Object{}, fmt.Errorf("%w: %q", ErrObjectNotFound, name)
		}
		return Object{}, fmt.Errorf("stat file %q: %w", name, err)
	}

	ts := aws.ToTime(head.LastModified)
	ct := aws.ToString(head.ContentType)
	if ct == "" {
		ct = contentTypeByName(name)
	}
	return Object{
		Container:   container,
		Name:        name,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: ct,
		CreatedAt:   ts,
		ModifiedAt:  ts,
		AccessedAt:  ts,
	}, nil
}

// RemoveObject deletes one object. S3 deletes are idempotent, so existence is
// checked first to preserve not-found semantics.
func (p *S3) RemoveObject(ctx context.Context, container, name string) error {
	key, err := p.objectKey(container, name)
	if err != nil {
		return err
	}
	if _, err := p.StatObject(ctx, container, name); err != nil {
		return err
	}

	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("remove file %q: %w", name, err)
	}
	return nil
}

// OpenWrite streams bytes into a PutObject via a pipe. Close returns only
// after PutObject reports the upload complete, which is the persistence
// signal for this backend.
func (p *S3) OpenWrite(ctx context.Context, container, name string) (WriteStream, error) {
	key, err := p.objectKey(container, name)
	if err != nil {
		return nil, err
	}
	if _, err := p.GetContainer(ctx, container); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        pr,
			ContentType: aws.String(contentTypeByName(name)),
		})
		// Unblock the writer if the upload dies mid-stream.
		_ = pr.CloseWithError(err)
		done <- err
	}()

	return &s3WriteStream{pw: pw, done: done}, nil
}

type s3WriteStream struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func (w *s3WriteStream) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3WriteStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	_ = w.pw.Close()
	if err := <-w.done; err != nil {
		return fmt.Errorf("persist object: %w", err)
	}
	return nil
}

// Abort cancels the in-flight PutObject; S3 discards partial uploads whose
// request fails, so no residual object remains.
func (w *s3WriteStream) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true

	_ = w.pw.CloseWithError(errors.New("upload aborted"))
	<-w.done
	return nil
}

// OpenRead fetches the object, using an HTTP Range header when rng is set.
func (p *S3) OpenRead(ctx context.Context, container, name string, rng *ByteRange) (io.ReadCloser, error) {
	key, err := p.objectKey(container, name)
	if err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if rng != nil {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End))
	}

	out, err := p.client.GetObject(ctx, input)
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %q", ErrObjectNotFound, name)
		}
		return nil, fmt.Errorf("open file %q: %w", name, err)
	}
	return out.Body, nil
}

// URL returns the public locator for an object.
func (p *S3) URL(container, name string) string {
	base := p.baseURL
	if base == "" {
		base = "https://" + p.bucket + ".s3.amazonaws.com"
	}
	return base + "/" + url.PathEscape(container) + "/" + url.PathEscape(name)
}

// isS3NotFound classifies missing-key errors across the GetObject/HeadObject
// API shapes.
func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

var _ Provider = (*S3)(nil)
