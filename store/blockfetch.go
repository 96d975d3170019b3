package store

import (
	"context"
	"io"
	"os"

	"github.com/cuckoofs/cuckoo/meta"
)

// localBlockFetcher serves ReadStream blocks from the node's own cache
// file via ReadAt, the local half of spec §4.9's routing table.
type localBlockFetcher struct {
	path       string
	blockSize  int
	fileBlocks int
}

func (f *localBlockFetcher) FetchBlock(blockIndex int, dst []byte) (int, bool, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return 0, false, err
	}
	defer file.Close()
	n, err := file.ReadAt(dst, int64(blockIndex)*int64(f.blockSize))
	if err != nil && err != io.EOF {
		return 0, false, err
	}
	return n, blockIndex >= f.fileBlocks-1, nil
}

// remoteBlockFetcher serves ReadStream blocks from a peer's Data RPC block
// endpoint, decompressing each block (spec's domain-stack compression
// requirement covers every payload that crosses the wire).
type remoteBlockFetcher struct {
	ctx        context.Context
	peers      PeerClient
	server     meta.ServerIdentifier
	inodeID    uint64
	nodeID     int32
	blockSize  int
	fileBlocks int
}

func (f *remoteBlockFetcher) FetchBlock(blockIndex int, dst []byte) (int, bool, error) {
	wire := make([]byte, f.blockSize)
	n, eof, err := f.peers.ReadBlock(f.ctx, f.server, f.inodeID, f.nodeID, blockIndex, wire)
	if err != nil {
		return 0, false, err
	}
	plain, err := lz4Decompress(wire[:n])
	if err != nil {
		return 0, false, err
	}
	copy(dst, plain)
	return len(plain), eof || blockIndex >= f.fileBlocks-1, nil
}
