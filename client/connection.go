// Package client implements the synchronous per-operation metadata API
// (spec §4.3): one Connection per caller-visible session, routing each call
// to the PGConnectionPool owning the path's shard and translating the
// resulting MetaProcessInfo back into plain return values.
package client

import (
	"sync"

	"github.com/cuckoofs/cuckoo/cerr"
	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/connpool"
	"github.com/cuckoofs/cuckoo/meta"
)

// Connection is the client-facing handle the store engine and the CLI call
// into. It owns one PGConnectionPool per metadata shard, created lazily on
// first use and torn down together by Shutdown.
type Connection struct {
	cfg       *conf.Config
	transport connpool.Transport
	servers   map[int32]meta.ServerIdentifier

	mu    sync.RWMutex
	pools map[int32]*connpool.PGConnectionPool
}

// NewConnection builds a Connection that routes shard id to servers[id].
func NewConnection(cfg *conf.Config, servers map[int32]meta.ServerIdentifier, transport connpool.Transport) *Connection {
	return &Connection{
		cfg:       cfg,
		transport: transport,
		servers:   servers,
		pools:     make(map[int32]*connpool.PGConnectionPool),
	}
}

func (c *Connection) poolFor(shard int32) *connpool.PGConnectionPool {
	c.mu.RLock()
	p, ok := c.pools[shard]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pools[shard]; ok {
		return p
	}
	server, ok := c.servers[shard]
	if !ok {
		server = c.servers[0]
	}
	p = connpool.NewPGConnectionPool(c.cfg, server, c.transport)
	c.pools[shard] = p
	return p
}

// call dispatches a single-item task against shard's pool and blocks for
// the outcome, translating a transport-level failure into PROGRAM_ERROR/
// IO_ERROR on the item per spec §4.3/§4.4. The request's encoding buffer
// comes from a pooled Scratch (spec §9's Design Note on globals) rather
// than a fresh allocation per call.
func (c *Connection) call(shard int32, item meta.MetaProcessInfo) meta.MetaProcessInfo {
	sc := meta.NewScratch()
	task := meta.NewTaskWithScratch(item.Kind, []meta.MetaProcessInfo{item}, sc)
	c.poolFor(shard).DispatchAsyncMetaServiceJob(task)
	err := task.Wait()
	sc.Retain(task)
	meta.PutScratch(sc)
	if err != nil && task.Items[0].ErrorCode.Ok() {
		task.Items[0].ErrorCode = cerr.CodeOf(err)
	}
	return task.Items[0]
}

// Mkdir creates a directory at path.
func (c *Connection) Mkdir(shard int32, path string, mode uint32) cerr.Code {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.MKDIR, Path: path, Mode: mode})
	return out.ErrorCode
}

// Create creates a regular file and returns its initial stat/owning node.
func (c *Connection) Create(shard int32, path string, mode uint32) (meta.Stat, int32, cerr.Code) {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.CREATE, Path: path, Mode: mode})
	return out.St, out.NodeID, out.ErrorCode
}

// Stat returns the stat block and owning node for path.
func (c *Connection) Stat(shard int32, path string) (meta.Stat, int32, cerr.Code) {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.STAT, Path: path})
	return out.St, out.NodeID, out.ErrorCode
}

// Open resolves path to its stat/owning node for a read or write open.
func (c *Connection) Open(shard int32, path string) (meta.Stat, int32, cerr.Code) {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.OPEN, Path: path})
	return out.St, out.NodeID, out.ErrorCode
}

// Close publishes the final size/mtime/owning-node of a just-closed file.
func (c *Connection) Close(shard int32, path string, size, mtime int64, nodeID int32) cerr.Code {
	out := c.call(shard, meta.MetaProcessInfo{
		Kind: meta.CLOSE, Path: path, St: meta.Stat{Size: size}, Mtim: mtime, NodeID: nodeID,
	})
	return out.ErrorCode
}

// Unlink removes a regular file, returning its inode/size/owning-node for
// the caller to issue the matching data-plane delete.
func (c *Connection) Unlink(shard int32, path string) (uint64, int64, int32, cerr.Code) {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.UNLINK, Path: path})
	return out.InodeID, out.St.Size, out.NodeID, out.ErrorCode
}

// ReadDir lists one page of directory entries starting after
// (lastShardIndex, lastFileName); a non-empty returned lastFileName means
// more pages follow.
func (c *Connection) ReadDir(shard int32, path string, lastShardIndex int32, lastFileName string) ([]meta.DirEntry, string, cerr.Code) {
	out := c.call(shard, meta.MetaProcessInfo{
		Kind: meta.READDIR, Path: path, LastShardIndex: lastShardIndex, LastFileName: lastFileName,
	})
	return out.Entries, out.LastFileName, out.ErrorCode
}

// OpenDir resolves a directory's inode for a readdir session.
func (c *Connection) OpenDir(shard int32, path string) (uint64, cerr.Code) {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.OPENDIR, Path: path})
	return out.InodeID, out.ErrorCode
}

// Rmdir removes an empty directory.
func (c *Connection) Rmdir(shard int32, path string) cerr.Code {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.RMDIR, Path: path})
	return out.ErrorCode
}

// Rename moves src to dst, threading the shard-crossing identity fields of
// spec §9 through unconflated (ParentIDPartID vs DstParentIDPartID).
func (c *Connection) Rename(shard int32, src, dst string, parentID uint64, parentPartID int32, dstParentID uint64, dstParentPartID int32) (meta.Stat, cerr.Code) {
	out := c.call(shard, meta.MetaProcessInfo{
		Kind: meta.RENAME, Path: src, DstPath: dst,
		ParentID: parentID, ParentIDPartID: parentPartID,
		DstParentID: dstParentID, DstParentIDPartID: dstParentPartID,
	})
	return out.St, out.ErrorCode
}

// Utimens updates access/modification times.
func (c *Connection) Utimens(shard int32, path string, atime, mtime int64) cerr.Code {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.UTIMENS, Path: path, Atim: atime, Mtim: mtime})
	return out.ErrorCode
}

// Chown updates owner/group.
func (c *Connection) Chown(shard int32, path string, uid, gid uint32) cerr.Code {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.CHOWN, Path: path, Uid: uid, Gid: gid})
	return out.ErrorCode
}

// Chmod updates the mode bits.
func (c *Connection) Chmod(shard int32, path string, mode uint32) cerr.Code {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.CHMOD, Path: path, Mode: mode})
	return out.ErrorCode
}

// PlainCommand issues an administrative command with no per-item payload.
func (c *Connection) PlainCommand(shard int32, command string) cerr.Code {
	out := c.call(shard, meta.MetaProcessInfo{Kind: meta.PLAIN_COMMAND, Path: command})
	return out.ErrorCode
}

// Shutdown stops every shard pool this Connection opened.
func (c *Connection) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		p.Stop()
	}
}
