package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/sync/semaphore"

	"github.com/cuckoofs/cuckoo/cerr"
	"github.com/cuckoofs/cuckoo/client"
	"github.com/cuckoofs/cuckoo/coldstore"
	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/metrics"
	"github.com/cuckoofs/cuckoo/xlog"
)

// StreamMaxSize bounds how much a WriteStream coalesces before flushing
// (the original's CUCKOO_STORE_STREAM_MAX_SIZE, spec §3). It's a store
// package constant rather than a conf key since it governs in-memory
// buffering, not a deployment-time knob.
const StreamMaxSize = 4 << 20

// readStreamPipes is the ring depth backing every ReadStream (spec §4.7);
// fixed rather than configurable since nothing in spec ties it to a
// CUCKOO_* key.
const readStreamPipes = 4

// CuckooStore is the per-node payload engine (spec §4.9). It owns the local
// cache directory tree, the open-instance registry, and the routing table
// that picks local disk, a peer node, or the cold object backend for every
// read and write.
type CuckooStore struct {
	cfg   *conf.Config
	meta  *client.Connection
	cold  coldstore.Backend
	peers PeerClient

	localNodeID int32
	nodeServers map[int32]meta.ServerIdentifier
	numShards   int

	filter *presenceFilter
	index  *cacheIndex

	coldSem *semaphore.Weighted

	mu   sync.Mutex
	open map[uint64]*OpenInstance
}

// NewCuckooStore pre-creates the totalDirectory cache buckets (spec §6
// Cache file layout) and opens the cache index. nodeServers maps a file's
// owning node id to the peer endpoint serving its Data RPCs; numShards
// governs how a path is hashed onto a metadata shard.
func NewCuckooStore(cfg *conf.Config, metaConn *client.Connection, cold coldstore.Backend, peers PeerClient, localNodeID int32, nodeServers map[int32]meta.ServerIdentifier, numShards int) (*CuckooStore, error) {
	for i := 0; i < cfg.TotalDirectory; i++ {
		if err := os.MkdirAll(filepath.Join(cfg.CacheRoot, strconv.Itoa(i)), 0o755); err != nil {
			return nil, err
		}
	}
	idx, err := openCacheIndex(cfg.CacheRoot)
	if err != nil {
		return nil, err
	}
	return &CuckooStore{
		cfg:         cfg,
		meta:        metaConn,
		cold:        cold,
		peers:       peers,
		localNodeID: localNodeID,
		nodeServers: nodeServers,
		numShards:   numShards,
		filter:      newPresenceFilter(),
		index:       idx,
		coldSem:     semaphore.NewWeighted(cfg.ColdFetchConcurrency),
		open:        make(map[uint64]*OpenInstance),
	}, nil
}

// Close releases the cache index; callers should Stop every open
// OpenInstance's streams first.
func (s *CuckooStore) Close() error { return s.index.Close() }

// ShardFor hashes path onto one of numShards metadata shards (a
// PGConnectionPool is addressed per shard, not per path). Exported so
// callers that only hold a client.Connection, not a full CuckooStore
// (the admin CLI), can still address the right shard.
func ShardFor(path string, numShards int) int32 {
	if numShards <= 0 {
		return 0
	}
	return int32(xxhash.ChecksumString64(path) % uint64(numShards))
}

func (s *CuckooStore) shardFor(path string) int32 { return ShardFor(path, s.numShards) }

func (s *CuckooStore) cachePathFor(inodeID uint64) string {
	return cachePath(s.cfg.CacheRoot, s.cfg.TotalDirectory, inodeID)
}

func (s *CuckooStore) server(nodeID int32) meta.ServerIdentifier { return s.nodeServers[nodeID] }

func (s *CuckooStore) isLocal(oi *OpenInstance) bool { return oi.NodeID == s.localNodeID }

func (s *CuckooStore) isSmall(oi *OpenInstance) bool {
	return oi.CurrentSize.Load() < int64(s.cfg.BigFileReadSize)
}

// Open resolves path through the metadata layer, creating it first if
// oflags requests O_CREATE and it doesn't exist yet (the original's
// OPEN_SUB_CREATE_IF_MISSING), and registers the resulting OpenInstance.
func (s *CuckooStore) Open(path string, oflags int, mode uint32) (*OpenInstance, cerr.Code) {
	shard := s.shardFor(path)
	st, nodeID, code := s.meta.Open(shard, path)
	if code == cerr.NOT_FOUND && oflags&os.O_CREATE != 0 {
		st, nodeID, code = s.meta.Create(shard, path, mode)
	}
	if code != cerr.SUCCESS {
		return nil, code
	}
	oi := NewOpenInstance(st.Ino, nodeID, path, oflags, st.Size)
	s.mu.Lock()
	s.open[st.Ino] = oi
	s.mu.Unlock()
	return oi, cerr.SUCCESS
}

// Lookup returns the OpenInstance already registered for inodeID, if any.
func (s *CuckooStore) Lookup(inodeID uint64) (*OpenInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oi, ok := s.open[inodeID]
	return oi, ok
}

// Read serves buf per the locality/size routing table (spec §4.9). A small
// file is loaded whole from local cache, the owning peer, or the cold
// backend, and a peer or cold fetch is cached locally. A large file is
// streamed sequentially from local disk or the owning peer through its
// ReadStream: offset is not used, and that path has no cold-backend
// fallback and caches nothing locally.
func (s *CuckooStore) Read(ctx context.Context, oi *OpenInstance, buf []byte, offset int64) (int, cerr.Code) {
	var n int
	var code cerr.Code
	if s.isSmall(oi) {
		n, code = s.readSmall(ctx, oi, buf, offset)
	} else {
		n, code = s.readLarge(oi, buf)
	}
	if code == cerr.SUCCESS {
		metrics.ReadBytes.Add(float64(n))
	}
	return n, code
}

func (s *CuckooStore) readSmall(ctx context.Context, oi *OpenInstance, buf []byte, offset int64) (int, cerr.Code) {
	data := oi.readBuffer()
	if data == nil {
		var err error
		data, err = s.loadWhole(ctx, oi)
		if err != nil {
			xlog.Warningf("store: read %s: %v", oi.Path, err)
			return 0, cerr.IO_ERROR
		}
		oi.setReadBuffer(data)
	}
	if offset >= int64(len(data)) {
		return 0, cerr.SUCCESS
	}
	return copy(buf, data[offset:]), cerr.SUCCESS
}

// loadWhole fetches a small file's entire payload, trying local disk, then
// (for a remotely-owned file) the peer's whole-file RPC, then the cold
// backend — caching the result locally on every path so later opens hit
// the fast path directly.
func (s *CuckooStore) loadWhole(ctx context.Context, oi *OpenInstance) ([]byte, error) {
	if s.isLocal(oi) || s.filter.mightContain(oi.InodeID) {
		data, err := os.ReadFile(s.cachePathFor(oi.InodeID))
		if err == nil {
			metrics.CacheHits.Inc()
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	metrics.CacheMisses.Inc()
	if !s.isLocal(oi) {
		wire, err := s.peers.ReadSmallFile(ctx, s.server(oi.NodeID), oi.InodeID, oi.NodeID)
		if err == nil {
			plain, derr := lz4Decompress(wire)
			if derr != nil {
				return nil, derr
			}
			s.cacheLocally(oi.InodeID, plain)
			return plain, nil
		}
	}
	return s.fetchCold(oi.InodeID)
}

// fetchCold pulls a cold-miss object through a weighted semaphore so a burst
// of concurrent misses (e.g. many readers opening the same cold file at
// once) can't drive unbounded concurrent requests at the backend.
func (s *CuckooStore) fetchCold(inodeID uint64) ([]byte, error) {
	if !s.cfg.TestOBS() {
		return nil, os.ErrNotExist
	}
	ctx := context.Background()
	if err := s.coldSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.coldSem.Release(1)

	wire, err := s.cold.Get(ctx, coldstore.ObjectKey(inodeID))
	if err != nil {
		return nil, err
	}
	plain, err := lz4Decompress(wire)
	if err != nil {
		return nil, err
	}
	s.cacheLocally(inodeID, plain)
	return plain, nil
}

func (s *CuckooStore) cacheLocally(inodeID uint64, data []byte) {
	if err := os.WriteFile(s.cachePathFor(inodeID), data, 0o644); err != nil {
		xlog.Warningf("store: caching inode %d locally: %v", inodeID, err)
		return
	}
	s.filter.add(inodeID)
	if err := s.index.touch(inodeID, int64(len(data))); err != nil {
		xlog.Warningf("store: indexing inode %d: %v", inodeID, err)
	}
}

// readLarge drains the file's ReadStream, starting it on first use. Like
// the original, a large file is consumed sequentially through one stream
// per OpenInstance rather than seeked within.
func (s *CuckooStore) readLarge(oi *OpenInstance, buf []byte) (int, cerr.Code) {
	if err := s.ensureReadStream(oi); err != nil {
		xlog.Warningf("store: starting read stream for %s: %v", oi.Path, err)
		return 0, cerr.IO_ERROR
	}
	return oi.ReadStream.WaitPop(buf), cerr.SUCCESS
}

func (s *CuckooStore) ensureReadStream(oi *OpenInstance) error {
	oi.initMu.Lock()
	defer oi.initMu.Unlock()
	if oi.ReadStream != nil {
		return nil
	}
	blockSize := int(s.cfg.BlockSize)
	fileBlocks := int((oi.CurrentSize.Load() + int64(blockSize) - 1) / int64(blockSize))
	if fileBlocks == 0 {
		fileBlocks = 1
	}
	var fetcher BlockFetcher
	if s.isLocal(oi) {
		fetcher = &localBlockFetcher{path: s.cachePathFor(oi.InodeID), blockSize: blockSize, fileBlocks: fileBlocks}
	} else {
		fetcher = &remoteBlockFetcher{
			ctx: context.Background(), peers: s.peers, server: s.server(oi.NodeID),
			inodeID: oi.InodeID, nodeID: oi.NodeID, blockSize: blockSize, fileBlocks: fileBlocks,
		}
	}
	rs := NewReadStream(fetcher, fileBlocks, blockSize, readStreamPipes)
	rs.StartPushThreaded()
	oi.ReadStream = rs
	return nil
}

// Write absorbs data into the OpenInstance's WriteStream, flushing to local
// disk or a peer depending on ownership (spec §4.8/§4.9's write-through vs
// write-back decision lives inside WriteStream itself, keyed off
// StreamMaxSize).
func (s *CuckooStore) Write(oi *OpenInstance, data []byte, offset int64) (int, cerr.Code) {
	s.ensureWriteStream(oi)
	n, err := oi.WriteStream.Append(data, offset)
	if err != nil {
		xlog.Warningf("store: write %s: %v", oi.Path, err)
		return 0, cerr.IO_ERROR
	}
	growCurrentSize(oi, offset+int64(n))
	metrics.WriteBytes.Add(float64(n))
	return n, cerr.SUCCESS
}

// growCurrentSize raises oi.CurrentSize to end if it isn't already at least
// that large, via CAS retry rather than Load-then-Store: two concurrent
// writers at different offsets racing a plain load/store can each read the
// pre-write size and stomp each other's Store, leaving CurrentSize short of
// the true high-water mark (spec §8's S2 scenario requires it land exactly
// on 2*(STREAM_MAX+1)).
func growCurrentSize(oi *OpenInstance, end int64) {
	for {
		cur := oi.CurrentSize.Load()
		if end <= cur {
			return
		}
		if oi.CurrentSize.CompareAndSwap(cur, end) {
			return
		}
	}
}

func (s *CuckooStore) ensureWriteStream(oi *OpenInstance) {
	oi.initMu.Lock()
	defer oi.initMu.Unlock()
	if oi.WriteStream != nil {
		return
	}
	local := s.isLocal(oi)
	oi.WriteStream = NewWriteStream(StreamMaxSize, func(buf []byte, off int64) error {
		if local {
			return s.flushLocal(oi, buf, off)
		}
		return s.flushRemote(oi, buf, off)
	})
}

func (s *CuckooStore) flushLocal(oi *OpenInstance, buf []byte, off int64) error {
	f, err := os.OpenFile(s.cachePathFor(oi.InodeID), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(buf, off); err != nil {
		return err
	}
	s.filter.add(oi.InodeID)
	return s.index.touch(oi.InodeID, oi.CurrentSize.Load())
}

func (s *CuckooStore) flushRemote(oi *OpenInstance, buf []byte, off int64) error {
	wire, err := lz4Compress(buf)
	if err != nil {
		return err
	}
	return s.peers.AppendWrite(context.Background(), s.server(oi.NodeID), oi.InodeID, oi.NodeID, wire, off)
}

// CloseFile flushes any buffered write, stops the read pusher if one was
// started, publishes the final size through the metadata layer, and — for
// a remotely-owned file that was written to — tells the owning node to
// commit it (spec §4.9's close path).
func (s *CuckooStore) CloseFile(oi *OpenInstance, mtime int64) cerr.Code {
	wrote := oi.WriteStream != nil
	if oi.WriteStream != nil {
		if err := oi.WriteStream.Flush(); err != nil {
			xlog.Warningf("store: flush on close %s: %v", oi.Path, err)
			return cerr.IO_ERROR
		}
	}
	if oi.ReadStream != nil {
		oi.ReadStream.Stop()
	}
	if wrote && !s.isLocal(oi) {
		size := oi.CurrentSize.Load()
		if err := s.peers.CloseCommit(context.Background(), s.server(oi.NodeID), oi.InodeID, oi.NodeID, size, mtime); err != nil {
			xlog.Warningf("store: close-commit %s: %v", oi.Path, err)
			return cerr.IO_ERROR
		}
	}

	shard := s.shardFor(oi.Path)
	code := s.meta.Close(shard, oi.Path, oi.CurrentSize.Load(), mtime, oi.NodeID)

	s.mu.Lock()
	delete(s.open, oi.InodeID)
	s.mu.Unlock()
	return code
}

// Truncate changes a file's length, flushing any pending write buffer
// first so a coalesced write can't clobber the new length afterward.
func (s *CuckooStore) Truncate(oi *OpenInstance, size int64) cerr.Code {
	if oi.WriteStream != nil {
		if err := oi.WriteStream.Flush(); err != nil {
			xlog.Warningf("store: flush before truncate %s: %v", oi.Path, err)
			return cerr.IO_ERROR
		}
	}
	if s.isLocal(oi) {
		if err := os.Truncate(s.cachePathFor(oi.InodeID), size); err != nil && !os.IsNotExist(err) {
			xlog.Warningf("store: truncate %s: %v", oi.Path, err)
			return cerr.IO_ERROR
		}
	} else if err := s.peers.Truncate(context.Background(), s.server(oi.NodeID), oi.InodeID, oi.NodeID, size); err != nil {
		xlog.Warningf("store: remote truncate %s: %v", oi.Path, err)
		return cerr.IO_ERROR
	}
	oi.CurrentSize.Store(size)
	return cerr.SUCCESS
}

// Unlink removes path's metadata entry and, on success, evicts any local
// cache copy and the cold backend's object.
func (s *CuckooStore) Unlink(path string) cerr.Code {
	shard := s.shardFor(path)
	inodeID, _, _, code := s.meta.Unlink(shard, path)
	if code != cerr.SUCCESS {
		return code
	}
	s.evictInode(inodeID)
	if err := s.cold.Delete(context.Background(), coldstore.ObjectKey(inodeID)); err != nil {
		xlog.Warningf("store: cold delete inode %d: %v", inodeID, err)
	}
	return cerr.SUCCESS
}
