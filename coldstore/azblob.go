package coldstore

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/pkg/errors"
)

// AzblobBackend stores objects as blobs in one container via the Azure SDK.
type AzblobBackend struct {
	cli       *azblob.Client
	container string
}

// NewAzblobBackend connects to serviceURL with the caller-supplied cred; it
// does no credential discovery of its own (cuckoo-node and cuckoo-cli pass
// azidentity's default credential chain).
func NewAzblobBackend(serviceURL, containerName string, cred azcore.TokenCredential) (*AzblobBackend, error) {
	cli, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, "coldstore: azblob client")
	}
	return &AzblobBackend{cli: cli, container: containerName}, nil
}

func (b *AzblobBackend) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.cli.DownloadStream(ctx, b.container, key, nil)
	if err != nil {
		if isAzNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "coldstore: azblob get")
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (b *AzblobBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.cli.UploadBuffer(ctx, b.container, key, data, nil)
	return errors.Wrap(err, "coldstore: azblob put")
}

func (b *AzblobBackend) Delete(ctx context.Context, key string) error {
	_, err := b.cli.DeleteBlob(ctx, b.container, key, nil)
	if err != nil && isAzNotFound(err) {
		return nil
	}
	return errors.Wrap(err, "coldstore: azblob delete")
}

func (b *AzblobBackend) Stat(ctx context.Context, key string) (int64, error) {
	props, err := b.cli.ServiceClient().NewContainerClient(b.container).NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if isAzNotFound(err) {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "coldstore: azblob properties")
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func isAzNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if stderrors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	return false
}
