package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config configures an S3Store. Endpoint and ForcePathStyle are for
// S3-compatible servers such as MinIO. Prefix is required: every key the
// store reads, writes, lists or deletes lives under it.
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
	Prefix         string
}

// S3Store stores blobs as objects under a key prefix in a single bucket.
type S3Store struct {
	bucket   string
	prefix   string // always ends in "/"
	client   *s3.S3
	uploader *s3manager.Uploader
	pageSize int64 // ListObjectsV2 MaxKeys, 0 for the server default
}

// NewS3Store creates an S3 store using the default AWS credential chain.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	prefix, err := normalizePrefix(cfg.Prefix)
	if err != nil {
		return nil, err
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Region).WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	client := s3.New(sess)
	return &S3Store{
		bucket:   cfg.Bucket,
		prefix:   prefix,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}, nil
}

// Write uploads r to key path. s3manager splits large bodies into parts.
func (s *S3Store) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	key, err := s.key(p)
	if err != nil {
		return 0, err
	}

	cr := &countingReader{r: r}
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   cr,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return cr.n, nil
}

// Open returns the object body for key path.
func (s *S3Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	key, err := s.key(p)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return obj.Body, nil
}

// Delete removes key path. S3 deletes are idempotent.
func (s *S3Store) Delete(ctx context.Context, p string) error {
	key, err := s.key(p)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Exists issues a HEAD request for key path.
func (s *S3Store) Exists(ctx context.Context, p string) (bool, error) {
	key, err := s.key(p)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return true, nil
}

// List pages through every object under the store prefix. Paths are
// returned relative to the prefix.
func (s *S3Store) List(ctx context.Context) ([]BlobInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	if s.pageSize > 0 {
		input.MaxKeys = aws.Int64(s.pageSize)
	}

	var blobs []BlobInfo
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				key := strings.TrimPrefix(aws.StringValue(obj.Key), s.prefix)
				if key == "" || key == aws.StringValue(obj.Key) {
					continue
				}
				blobs = append(blobs, BlobInfo{
					Path:    key,
					Size:    aws.Int64Value(obj.Size),
					ModTime: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return blobs, nil
}

// HealthCheck verifies the bucket is reachable.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Store) String() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

// key maps a store path to its object key under the prefix.
func (s *S3Store) key(p string) (string, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return s.prefix + cleaned, nil
}

// normalizePrefix validates prefix and gives it exactly one trailing slash.
func normalizePrefix(prefix string) (string, error) {
	trimmed := strings.Trim(prefix, "/")
	if trimmed == "" {
		return "", fmt.Errorf("s3 key prefix is required")
	}
	cleaned, err := cleanPath(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid s3 key prefix %q", prefix)
	}
	return cleaned + "/", nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
