package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// expiresMetaKey is the object metadata field holding the expiry.
const expiresMetaKey = "expires-at"

// ObjectAPI is the subset of the S3 client used by S3Backend.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend stores each snapshot as one object under bucket/prefix.
type S3Backend struct {
	api    ObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3 returns an S3Backend over api.
func NewS3(api ObjectAPI, bucket, prefix string) *S3Backend {
	return &S3Backend{api: api, bucket: bucket, prefix: prefix, now: time.Now}
}

// NewS3FromEnv builds an S3 client from the default AWS configuration.
func NewS3FromEnv(ctx context.Context, bucket, prefix string) (*S3Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

// Get implements Backend.
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	objKey := b.objectKey(key)
	resp, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get object s3://%s/%s: %w", b.bucket, objKey, err)
	}
	defer resp.Body.Close()

	if raw, ok := resp.Metadata[expiresMetaKey]; ok {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil && expired(b.now(), at) {
			if err := b.Delete(ctx, key); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read object s3://%s/%s: %w", b.bucket, objKey, err)
	}
	return payload, true, nil
}

// Set implements Backend.
func (b *S3Backend) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	objKey := b.objectKey(key)
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objKey),
		Body:   bytes.NewReader(payload),
	}
	if at := expiresAt(b.now(), ttl); !at.IsZero() {
		in.Metadata = map[string]string{expiresMetaKey: at.UTC().Format(time.RFC3339Nano)}
	}
	if _, err := b.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object s3://%s/%s: %w", b.bucket, objKey, err)
	}
	return nil
}

// Delete implements Backend.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	objKey := b.objectKey(key)
	if _, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objKey),
	}); err != nil {
		return fmt.Errorf("delete object s3://%s/%s: %w", b.bucket, objKey, err)
	}
	return nil
}

// Close implements Backend.
func (b *S3Backend) Close() error { return nil }
