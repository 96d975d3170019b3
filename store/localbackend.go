package store

import (
	"context"
	"io"
	"os"

	"github.com/cuckoofs/cuckoo/coldstore"
	"github.com/cuckoofs/cuckoo/peer"
)

var _ peer.Backend = (*LocalBackend)(nil)

// LocalBackend adapts a CuckooStore to peer.Backend, letting the Data RPC
// server answer a remote node's block/small-file/append/truncate/close
// requests directly against this node's cache, without going through an
// OpenInstance the remote caller doesn't hold.
type LocalBackend struct {
	s *CuckooStore
}

// NewLocalBackend wraps s for use as a peer.Backend.
func NewLocalBackend(s *CuckooStore) *LocalBackend { return &LocalBackend{s: s} }

func (l *LocalBackend) ReadBlockLocal(inodeID uint64, blockIndex, blockSize int) ([]byte, bool, error) {
	f, err := os.Open(l.s.cachePathFor(inodeID))
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	buf := make([]byte, blockSize)
	n, err := f.ReadAt(buf, int64(blockIndex)*int64(blockSize))
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	wire, cerr := lz4Compress(buf[:n])
	if cerr != nil {
		return nil, false, cerr
	}
	info, statErr := f.Stat()
	eof := statErr == nil && int64(blockIndex+1)*int64(blockSize) >= info.Size()
	return wire, eof, nil
}

func (l *LocalBackend) ReadSmallFileLocal(inodeID uint64) ([]byte, error) {
	data, err := os.ReadFile(l.s.cachePathFor(inodeID))
	if err != nil {
		return nil, err
	}
	return lz4Compress(data)
}

func (l *LocalBackend) AppendWriteLocal(inodeID uint64, data []byte, offset int64) error {
	plain, err := lz4Decompress(data)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.s.cachePathFor(inodeID), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(plain, offset); err != nil {
		return err
	}
	l.s.filter.add(inodeID)
	return l.s.index.touch(inodeID, offset+int64(len(plain)))
}

func (l *LocalBackend) TruncateLocal(inodeID uint64, size int64) error {
	return os.Truncate(l.s.cachePathFor(inodeID), size)
}

// CloseCommitLocal publishes a remotely-written file's bytes to the cold
// backend. CuckooStore.CloseFile has no matching step for a locally owned
// file: its bytes stay in the local cache only.
func (l *LocalBackend) CloseCommitLocal(inodeID uint64, size, mtime int64) error {
	data, err := os.ReadFile(l.s.cachePathFor(inodeID))
	if err != nil {
		return err
	}
	wire, err := lz4Compress(data)
	if err != nil {
		return err
	}
	return l.s.cold.Put(context.Background(), coldstore.ObjectKey(inodeID), wire)
}
