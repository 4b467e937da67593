// S3-compatible [ObjectStore] implementation
//
// Works against any S3 API (MinIO on the LAN, a hosted bucket) using path-style addressing.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/shared"
)

const (
	defaultRegion = "us-east-1"
	partSize      = 8 * 1024 * 1024
	probeTimeout  = 3 * time.Second
)

// S3Store implements [ObjectStore] and [Presigner] for an S3-compatible bucket.
type S3Store struct {
	cfg      shared.S3Config
	endpoint string
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	logger   *log.Logger
}

// NewS3Store creates a new S3Store.
//
// When both endpoints are configured, the local one is used if the probe object can be read through it;
// otherwise the server endpoint is used.
func NewS3Store(ctx context.Context, cfg shared.S3Config, logger *log.Logger) (*S3Store, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: s3 access key and secret key", shared.ErrMissingCredentials)
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	logger = shared.WithLogger(logger, "component", "s3")

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	endpoint := selectEndpoint(ctx, awsCfg, cfg, logger)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no s3 endpoint configured", shared.ErrInvalidConfig)
	}

	client := newS3Client(awsCfg, endpoint)
	return &S3Store{
		cfg:      cfg,
		endpoint: endpoint,
		client:   client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) { u.PartSize = partSize }),
		presign:  s3.NewPresignClient(client),
		logger:   logger,
	}, nil
}

func newS3Client(awsCfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
}

func selectEndpoint(ctx context.Context, awsCfg aws.Config, cfg shared.S3Config, logger *log.Logger) string {
	switch {
	case cfg.EndpointLocal == "":
		return cfg.EndpointServer
	case cfg.EndpointServer == "":
		return cfg.EndpointLocal
	}

	probe := cfg.ProbeKey
	if probe == "" {
		probe = "home.txt"
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	local := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.EndpointLocal)
		o.UsePathStyle = true
		o.RetryMaxAttempts = 1
	})
	_, err := local.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(probe),
	})
	if err != nil {
		logger.Debug("local endpoint unreachable, using server", "endpoint", cfg.EndpointLocal, "error", err)
		return cfg.EndpointServer
	}
	logger.Debug("using local endpoint", "endpoint", cfg.EndpointLocal)
	return cfg.EndpointLocal
}

// Name returns the store name.
func (s *S3Store) Name() string {
	return "s3"
}

// Endpoint returns the endpoint selected at construction.
func (s *S3Store) Endpoint() string {
	return s.endpoint
}

func isNotFound(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusNotFound {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// Exists reports whether an object is present at key.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: head %s: %v", shared.ErrTransferIO, key, err)
	}
	return true, nil
}

// Get returns the object content.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", shared.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("%w: get %s: %v", shared.ErrTransferIO, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", shared.ErrTransferIO, key, err)
	}
	return data, nil
}

// Put uploads data to key through the multipart uploader.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, onProgress ProgressFunc) error {
	total := int64(len(data))
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   newProgressReader(bytes.NewReader(data), total, onProgress),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", shared.ErrTransferIO, key, err)
	}
	s.logger.Debug("uploaded", "key", key, "bytes", total)
	return nil
}

// List returns every object under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", shared.ErrTransferIO, prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				info.Modified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

// Delete removes the object at key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", shared.ErrTransferIO, key, err)
	}
	return nil
}

// ContentHash returns the object's ETag.
func (s *S3Store) ContentHash(ctx context.Context, key string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", shared.ErrObjectNotFound, key)
		}
		return "", fmt.Errorf("%w: head %s: %v", shared.ErrTransferIO, key, err)
	}
	if etag := strings.Trim(aws.ToString(out.ETag), `"`); etag != "" {
		return etag, nil
	}

	data, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return shared.ContentHash(data), nil
}

// PresignURL returns a GET URL for key valid for the configured presign TTL.
func (s *S3Store) PresignURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.cfg.PresignDuration()))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}
