package store

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
)

// lz4Compress and lz4Decompress carry the payload across any path that
// leaves local disk: a peer RPC or the cold object backend (spec's
// domain-stack compression requirement). Local cache files are kept
// uncompressed since they're read with ordinary pread-style offsets.
func lz4Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "store: lz4 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "store: lz4 compress close")
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, errors.Wrap(err, "store: lz4 decompress")
	}
	return out, nil
}
