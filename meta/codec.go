package meta

import (
	"encoding/binary"

	"github.com/cuckoofs/cuckoo/cerr"
)

// codec.go implements the meta parameter/response codec (spec §4.2): for
// each ServiceKind, which MetaProcessInfo fields are packed into the
// parameter record a client sends, and which fields are read back from the
// response record the server returns. Both directions write through
// SerializedData (§4.1), so the wire format is always an opaque,
// length-prefixed, aligned sequence of records — callable identically from
// client and server, per §4.2's "purely bytes-in/bytes-out" requirement.

// a small self-describing cursor over one record's payload, bounds-checked
// on every read so a truncated/corrupt record surfaces as an error instead
// of a panic or silent misread.
type cursor struct {
	b   []byte
	pos int
	err bool
}

func (c *cursor) u8() byte {
	if c.pos+1 > len(c.b) {
		c.err = true
		return 0
	}
	v := c.b[c.pos]
	c.pos++
	return v
}

func (c *cursor) u32() uint32 {
	if c.pos+4 > len(c.b) {
		c.err = true
		return 0
	}
	v := binary.LittleEndian.Uint32(c.b[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) i32() int32 { return int32(c.u32()) }

func (c *cursor) u64() uint64 {
	if c.pos+8 > len(c.b) {
		c.err = true
		return 0
	}
	v := binary.LittleEndian.Uint64(c.b[c.pos:])
	c.pos += 8
	return v
}

func (c *cursor) i64() int64 { return int64(c.u64()) }

func (c *cursor) str() string {
	n := int(c.u32())
	if c.err || n < 0 || c.pos+n > len(c.b) {
		c.err = true
		return ""
	}
	s := string(c.b[c.pos : c.pos+n])
	c.pos += n
	return s
}

type builder struct{ b []byte }

func (w *builder) u8(v byte)    { w.b = append(w.b, v) }
func (w *builder) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *builder) i32(v int32)  { w.u32(uint32(v)) }
func (w *builder) u64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }
func (w *builder) i64(v int64)  { w.u64(uint64(v)) }
func (w *builder) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

func writeStat(w *builder, st Stat) {
	w.u64(st.Ino)
	w.u32(st.Mode)
	w.i64(st.Size)
	w.i64(st.Atim)
	w.i64(st.Mtim)
	w.i64(st.Ctim)
	w.u32(st.Uid)
	w.u32(st.Gid)
	w.u32(st.Nlink)
}

func readStat(c *cursor) Stat {
	return Stat{
		Ino: c.u64(), Mode: c.u32(), Size: c.i64(),
		Atim: c.i64(), Mtim: c.i64(), Ctim: c.i64(),
		Uid: c.u32(), Gid: c.u32(), Nlink: c.u32(),
	}
}

// EncodeParam packs the request fields of one item into a new record and
// appends it to scratch (§4.1's ApplyForSegment).
func EncodeParam(scratch *SerializedData, info *MetaProcessInfo) {
	var w builder
	switch info.Kind {
	case MKDIR, RMDIR, OPENDIR, STAT:
		w.str(info.Path)
	case CREATE, OPEN:
		w.str(info.Path)
	case CLOSE:
		w.str(info.Path)
		w.i64(info.St.Size)
		w.i64(info.Mtim)
		w.i32(info.NodeID)
	case UNLINK:
		w.str(info.Path)
	case READDIR:
		w.str(info.Path)
		w.i32(info.LastShardIndex)
		w.str(info.LastFileName)
	case RENAME, RENAME_SUB_RENAME_LOCALLY, RENAME_SUB_LINK_REMOTE, RENAME_SUB_UNLINK_REMOTE:
		w.str(info.Path)
		w.str(info.DstPath)
		w.u64(info.ParentID)
		w.i32(info.ParentIDPartID)
		w.u64(info.DstParentID)
		w.i32(info.DstParentIDPartID)
	case UTIMENS:
		w.str(info.Path)
		w.i64(info.Atim)
		w.i64(info.Mtim)
	case CHOWN:
		w.str(info.Path)
		w.u32(info.Uid)
		w.u32(info.Gid)
	case CHMOD:
		w.str(info.Path)
		w.u32(info.Mode)
	case PLAIN_COMMAND:
		w.str(info.Path)
	default:
		w.str(info.Path)
	}
	dst := scratch.ApplyForSegment(len(w.b))
	copy(dst, w.b)
}

// DecodeParam is the server-side counterpart of EncodeParam: it reads one
// item's request fields out of a record payload previously produced by
// EncodeParam. Returns false on corruption.
func DecodeParam(kind ServiceKind, payload []byte, info *MetaProcessInfo) bool {
	c := cursor{b: payload}
	info.Kind = kind
	switch kind {
	case MKDIR, RMDIR, OPENDIR, STAT, CREATE, OPEN, UNLINK, PLAIN_COMMAND:
		info.Path = c.str()
	case CLOSE:
		info.Path = c.str()
		info.St.Size = c.i64()
		info.Mtim = c.i64()
		info.NodeID = c.i32()
	case READDIR:
		info.Path = c.str()
		info.LastShardIndex = c.i32()
		info.LastFileName = c.str()
	case RENAME, RENAME_SUB_RENAME_LOCALLY, RENAME_SUB_LINK_REMOTE, RENAME_SUB_UNLINK_REMOTE:
		info.Path = c.str()
		info.DstPath = c.str()
		info.ParentID = c.u64()
		info.ParentIDPartID = c.i32()
		info.DstParentID = c.u64()
		info.DstParentIDPartID = c.i32()
	case UTIMENS:
		info.Path = c.str()
		info.Atim = c.i64()
		info.Mtim = c.i64()
	case CHOWN:
		info.Path = c.str()
		info.Uid = c.u32()
		info.Gid = c.u32()
	case CHMOD:
		info.Path = c.str()
		info.Mode = c.u32()
	default:
		info.Path = c.str()
	}
	return !c.err
}

// carriesStatOnRenameLocally reports whether a RENAME_SUB_RENAME_LOCALLY response
// carries a full stat block: only when the rename crossed a shard boundary
// (spec §4.2's heuristic).
func carriesStatOnRenameLocally(info *MetaProcessInfo) bool {
	return info.ParentIDPartID != 0 && info.DstParentIDPartID == 0
}

// EncodeResponse packs the response fields of one item (error code always
// first, per §4.2) and appends the record to scratch.
func EncodeResponse(scratch *SerializedData, info *MetaProcessInfo) {
	var w builder
	w.i32(int32(info.ErrorCode))
	switch info.Kind {
	case STAT, OPEN, CREATE:
		writeStat(&w, info.St)
		w.i32(info.NodeID)
	case UNLINK:
		w.u64(info.InodeID)
		w.i64(info.St.Size)
		w.i32(info.NodeID)
	case READDIR:
		w.i32(info.LastShardIndex)
		w.str(info.LastFileName)
		w.u32(uint32(len(info.Entries)))
		for _, e := range info.Entries {
			w.str(e.Name)
			w.u32(e.Mode)
		}
	case OPENDIR:
		w.u64(info.InodeID)
	case RENAME_SUB_RENAME_LOCALLY:
		if carriesStatOnRenameLocally(info) {
			w.u8(1)
			writeStat(&w, info.St)
		} else {
			w.u8(0)
		}
	case CLOSE, MKDIR, RMDIR, RENAME, UTIMENS, CHOWN, CHMOD,
		RENAME_SUB_LINK_REMOTE, RENAME_SUB_UNLINK_REMOTE,
		UNLINK_SUB_DEC_REFCOUNT, OPEN_SUB_CREATE_IF_MISSING, CLOSE_SUB_PUBLISH_SIZE:
		// error code only
	default:
	}
	dst := scratch.ApplyForSegment(len(w.b))
	copy(dst, w.b)
}

// DecodeResponse is the client-side counterpart of EncodeResponse.
func DecodeResponse(kind ServiceKind, payload []byte, info *MetaProcessInfo) bool {
	c := cursor{b: payload}
	info.ErrorCode = cerr.Code(c.i32())
	switch kind {
	case STAT, OPEN, CREATE:
		info.St = readStat(&c)
		info.NodeID = c.i32()
	case UNLINK:
		info.InodeID = c.u64()
		info.St.Size = c.i64()
		info.NodeID = c.i32()
	case READDIR:
		info.LastShardIndex = c.i32()
		info.LastFileName = c.str()
		n := c.u32()
		info.Entries = make([]DirEntry, 0, n)
		for i := uint32(0); i < n && !c.err; i++ {
			info.Entries = append(info.Entries, DirEntry{Name: c.str(), Mode: c.u32()})
		}
	case OPENDIR:
		info.InodeID = c.u64()
	case RENAME_SUB_RENAME_LOCALLY:
		if c.u8() == 1 {
			info.St = readStat(&c)
		}
	default:
		// error code only
	}
	return !c.err
}
