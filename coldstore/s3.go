package coldstore

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get/Stat when the backend has no such object.
var ErrNotFound = errors.New("coldstore: object not found")

// S3Backend stores objects in one bucket via the AWS SDK v2.
type S3Backend struct {
	cli    *s3.Client
	bucket string
}

// NewS3Backend loads the default AWS credential chain and region config.
func NewS3Backend(ctx context.Context, bucket string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "coldstore: loading aws config")
	}
	return &S3Backend{cli: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.cli.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if stderrors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "coldstore: s3 get")
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.cli.PutObject(ctx, &s3.PutObjectInput{Bucket: &b.bucket, Key: &key, Body: bytes.NewReader(data)})
	return errors.Wrap(err, "coldstore: s3 put")
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.cli.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &key})
	return errors.Wrap(err, "coldstore: s3 delete")
}

func (b *S3Backend) Stat(ctx context.Context, key string) (int64, error) {
	out, err := b.cli.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: &key})
	if err != nil {
		var nf *types.NotFound
		if stderrors.As(err, &nf) {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "coldstore: s3 head")
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}
