// Package form serves the purchase form page kept in object storage.
package form

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/notifyhub/purchase-notify/internal/domain"
)

// maxFormSize caps how much of the object is read into memory.
const maxFormSize = 1 << 20

// Source returns the current form document.
type Source interface {
	Form(ctx context.Context) ([]byte, error)
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the form from bucket/key on every call, so edits to the
// object show up without a restart.
type S3Source struct {
	client s3API
	bucket string
	key    string
	logger *zap.Logger
}

func NewS3Source(client s3API, bucket, key string, logger *zap.Logger) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key, logger: logger}
}

func (s *S3Source) Form(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3 get %s/%s: %w", domain.ErrProvider, s.bucket, s.key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxFormSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: s3 read %s/%s: %w", domain.ErrProvider, s.bucket, s.key, err)
	}
	if len(body) > maxFormSize {
		return nil, fmt.Errorf("%w: form %s/%s exceeds %d bytes", domain.ErrProvider, s.bucket, s.key, maxFormSize)
	}

	s.logger.Debug("form fetched", zap.String("bucket", s.bucket), zap.String("key", s.key), zap.Int("bytes", len(body)))
	return body, nil
}

// compile-time check
var _ Source = (*S3Source)(nil)
