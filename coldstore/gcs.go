package coldstore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSBackend stores objects in one bucket via the Google Cloud Storage SDK.
type GCSBackend struct {
	bucket *storage.BucketHandle
}

// NewGCSBackend uses application-default credentials, the same ambient
// discovery style as the S3 and Azure backends.
func NewGCSBackend(ctx context.Context, bucketName string) (*GCSBackend, error) {
	cli, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "coldstore: gcs client")
	}
	return &GCSBackend{bucket: cli.Bucket(bucketName)}, nil
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "coldstore: gcs get")
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.Wrap(err, "coldstore: gcs put")
	}
	return errors.Wrap(w.Close(), "coldstore: gcs put close")
}

func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	err := b.bucket.Object(key).Delete(ctx)
	if err == storage.ErrObjectNotExist {
		return nil
	}
	return errors.Wrap(err, "coldstore: gcs delete")
}

func (b *GCSBackend) Stat(ctx context.Context, key string) (int64, error) {
	attrs, err := b.bucket.Object(key).Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "coldstore: gcs attrs")
	}
	return attrs.Size, nil
}
