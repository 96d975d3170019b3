// Package meta implements the data model shared by the connection pool and
// the store engine: ServerIdentifier, the ServiceKind enum, Task, and the
// MetaProcessInfo record, plus the serialized byte stream and codec that
// turn a []MetaProcessInfo into the opaque request/response blobs the wire
// (spec §6) carries.
package meta

import (
	"github.com/OneOfOne/xxhash"

	"github.com/cuckoofs/cuckoo/cerr"
)

// ServiceKind enumerates the ~20 metadata service kinds from spec §3,
// including the internal sub-kinds used by two-phase operations like
// cross-shard rename.
type ServiceKind int32

const (
	MKDIR ServiceKind = iota
	CREATE
	STAT
	OPEN
	CLOSE
	UNLINK
	OPENDIR
	READDIR
	RMDIR
	RENAME
	UTIMENS
	CHOWN
	CHMOD
	PLAIN_COMMAND

	RENAME_SUB_RENAME_LOCALLY
	RENAME_SUB_LINK_REMOTE
	RENAME_SUB_UNLINK_REMOTE
	UNLINK_SUB_DEC_REFCOUNT
	OPEN_SUB_CREATE_IF_MISSING
	CLOSE_SUB_PUBLISH_SIZE
)

func (k ServiceKind) String() string {
	names := [...]string{
		"MKDIR", "CREATE", "STAT", "OPEN", "CLOSE", "UNLINK", "OPENDIR",
		"READDIR", "RMDIR", "RENAME", "UTIMENS", "CHOWN", "CHMOD",
		"PLAIN_COMMAND", "RENAME_SUB_RENAME_LOCALLY", "RENAME_SUB_LINK_REMOTE",
		"RENAME_SUB_UNLINK_REMOTE", "UNLINK_SUB_DEC_REFCOUNT",
		"OPEN_SUB_CREATE_IF_MISSING", "CLOSE_SUB_PUBLISH_SIZE",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "UNKNOWN"
	}
	return names[k]
}

// BatchKind is the result of ConvertMetaServiceTypeToTaskSupportBatchType
// (spec §4.5): the six primary kinds that can be aggregated, or NotSupport.
type BatchKind int32

const (
	BatchMkdir BatchKind = iota
	BatchCreate
	BatchStat
	BatchUnlink
	BatchOpen
	BatchClose
	NotSupport
)

// NumBatchKinds is the size of the per-kind batch accumulator slot array
// (spec §4.5's supportBatchTaskList).
const NumBatchKinds = int(NotSupport)

// ClassifyBatchKind maps a ServiceKind to its batch slot, or NotSupport for
// everything outside the six primary batchable kinds (spec §4.5).
func ClassifyBatchKind(k ServiceKind) BatchKind {
	switch k {
	case MKDIR:
		return BatchMkdir
	case CREATE:
		return BatchCreate
	case STAT:
		return BatchStat
	case UNLINK:
		return BatchUnlink
	case OPEN:
		return BatchOpen
	case CLOSE:
		return BatchClose
	default:
		return NotSupport
	}
}

// ServerIdentifier is (ip, port, id) with equality/hash over all three
// (spec §3).
type ServerIdentifier struct {
	IP   string
	Port uint16
	ID   int32
}

func (s ServerIdentifier) Equal(o ServerIdentifier) bool {
	return s.IP == o.IP && s.Port == o.Port && s.ID == o.ID
}

// Hash returns a 64-bit hash of the triple using xxhash, the way
// ServerIdentifierHash (cuckoo_client/src/include/connection.h) combines
// ip/port/id, reused here for both the unordered-map key role and for
// consistent-hash-style peer selection.
func (s ServerIdentifier) Hash() uint64 {
	h := xxhash.New64()
	_, _ = h.WriteString(s.IP)
	var buf [8]byte
	putU64(buf[:], uint64(s.Port)<<32|uint64(uint32(s.ID)))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// Stat is the subset of struct stat fields MetaProcessInfo carries (spec §3,
// §4.2's "full stat block").
type Stat struct {
	Ino   uint64
	Mode  uint32
	Size  int64
	Atim  int64
	Mtim  int64
	Ctim  int64
	Uid   uint32
	Gid   uint32
	Nlink uint32
}

// DirEntry is one (fileName, mode) pair returned by READDIR (spec §4.2).
type DirEntry struct {
	Name string
	Mode uint32
}

// MetaProcessInfo is the per-item denormalized record carried by a Task
// (spec §3). Which fields are populated depends on the ServiceKind; §4.2
// documents the subset per kind.
type MetaProcessInfo struct {
	Kind ServiceKind

	Path    string
	DstPath string

	ParentID        uint64
	ParentIDPartID  int32
	Name            string
	DstName         string
	DstParentID     uint64
	// DstParentIDPartID and DstParentID are kept as two distinct fields per
	// the Open Question in spec §9 (the original's dstParentIdPartId vs
	// dstParentId naming confusion) — never conflated into one.
	DstParentIDPartID int32

	InodeID uint64
	NodeID  int32
	St      Stat

	Atim, Mtim, Ctim int64

	// READDIR cursor fields.
	LastShardIndex int32
	LastFileName   string
	Entries        []DirEntry

	// UTIMENS/CHOWN/CHMOD parameters.
	Uid, Gid uint32
	Mode     uint32

	LockOrderHint int32

	ErrorCode cerr.Code
}
