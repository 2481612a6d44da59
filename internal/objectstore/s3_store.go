package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/book-expert/podcast-service/internal/core"
)

// errCodeNotFound is the code S3 returns for HEAD requests on missing keys.
const errCodeNotFound = "NotFound"

// S3Store implements core.ObjectStore and core.URLSigner on an S3 bucket.
type S3Store struct {
	s3Svc  s3iface.S3API
	bucket string
	prefix string
}

// NewS3Store creates an S3 backed store. Keys are stored under the prefix
// directory; "podcasts" and "podcasts/" name the same location.
func NewS3Store(s3Svc s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		s3Svc:  s3Svc,
		bucket: bucket,
		prefix: prefix,
	}
}

// Upload puts the object with its content type.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	putInput := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}

	_, err := s.s3Svc.PutObjectWithContext(ctx, putInput)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Download reads the whole object.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.s3Svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.wrapError(key, "get", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

// Stat issues a HEAD request for the object.
func (s *S3Store) Stat(ctx context.Context, key string) (*core.ObjectInfo, error) {
	out, err := s.s3Svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.wrapError(key, "stat", err)
	}

	return &core.ObjectInfo{
		Key:         key,
		ContentType: aws.StringValue(out.ContentType),
		Size:        aws.Int64Value(out.ContentLength),
	}, nil
}

// Delete removes the object.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3Svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return s.wrapError(key, "delete", err)
	}

	return nil
}

// SignedURL presigns a GET for the object, valid for ttl.
func (s *S3Store) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	req, _ := s.s3Svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})

	signed, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("failed to presign object '%s': %w", key, err)
	}

	return signed, nil
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}

	return path.Join(s.prefix, key)
}

func (s *S3Store) wrapError(key, operation string, err error) error {
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, errCodeNotFound:
			return fmt.Errorf("%w: '%s' in bucket '%s'", core.ErrObjectNotFound, key, s.bucket)
		}
	}

	return fmt.Errorf("failed to %s object '%s' in bucket '%s': %w", operation, key, s.bucket, err)
}
