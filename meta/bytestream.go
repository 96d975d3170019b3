package meta

import "encoding/binary"

// SerializedDataAlignment is the small power-of-two alignment every record
// begins on (spec §4.1).
const SerializedDataAlignment = 8

// recordHeaderSize is the length-prefix every record carries before its
// payload: a little-endian uint32 byte count.
const recordHeaderSize = 4

// ErrCorrupt is the sentinel NextSeveralItemSize returns when the header is
// truncated or the declared lengths run past the buffer end (spec §4.1:
// "corruption is never fatal — the decoder returns failure").
const ErrCorrupt = -1

// SerializedData is a growable, heap-owned buffer holding a sequence of
// variable-length, aligned records — the Go shape of the original's
// SerializedData (remote_connection_utils/serialized_data.h, referenced
// throughout cuckoo_client/src/include/connection.h). Unlike the C++
// version it never "adopts" a caller buffer without owning it; Go's GC makes
// that distinction unnecessary, so SerializedData always owns its backing
// slice.
type SerializedData struct {
	buf []byte
}

// Init resets the stream to reuse an existing (possibly nil) backing slice,
// mirroring the original's Init/Destroy pair without a separate destructor —
// Go's GC reclaims buf when the SerializedData is unreachable.
func (s *SerializedData) Init(initial []byte) {
	s.buf = initial[:0]
}

// Wrap replaces the stream's contents with data for reading (RecordAt,
// Count, NextSeveralItemSize) without copying — used on the receiving side
// of a wire call, where data is a complete blob to decode rather than a
// buffer being built up. Writing via ApplyForSegment after Wrap is allowed
// but will reallocate, since data's capacity is not assumed to be free.
func (s *SerializedData) Wrap(data []byte) { s.buf = data }

// Reset truncates the stream to empty while keeping the underlying array,
// so a per-call scratch instance (see Scratch) can be reused across calls
// without reallocating.
func (s *SerializedData) Reset() { s.buf = s.buf[:0] }

// Bytes returns the stream's current contents.
func (s *SerializedData) Bytes() []byte { return s.buf }

func alignUp(n int) int {
	return (n + SerializedDataAlignment - 1) &^ (SerializedDataAlignment - 1)
}

// ApplyForSegment reserves n bytes plus the record header, growing the
// buffer as needed, and returns a writable view over the payload region
// (spec §4.1). The caller fills the returned slice and must not retain it
// past the next ApplyForSegment call on the same stream.
func (s *SerializedData) ApplyForSegment(n int) []byte {
	start := len(s.buf)
	need := recordHeaderSize + n
	total := start + need
	if cap(s.buf) < total {
		grown := make([]byte, start, alignUp(total)*2+SerializedDataAlignment)
		copy(grown, s.buf)
		s.buf = grown
	}
	s.buf = s.buf[:total]
	binary.LittleEndian.PutUint32(s.buf[start:], uint32(n))
	payload := s.buf[start+recordHeaderSize : total]

	pad := alignUp(total) - total
	if pad > 0 {
		s.buf = append(s.buf, make([]byte, pad)...)
	}
	return payload
}

// NextSeveralItemSize returns the total byte span (including headers and
// alignment padding) covering the next k records starting at offset, or
// ErrCorrupt if the header is truncated or a declared length runs past the
// buffer end (spec §4.1).
func (s *SerializedData) NextSeveralItemSize(offset, k int) int {
	pos := offset
	for i := 0; i < k; i++ {
		if pos+recordHeaderSize > len(s.buf) {
			return ErrCorrupt
		}
		n := int(binary.LittleEndian.Uint32(s.buf[pos:]))
		end := pos + recordHeaderSize + n
		if n < 0 || end > len(s.buf) {
			return ErrCorrupt
		}
		pos = alignUp(end)
	}
	return pos - offset
}

// RecordAt returns the payload of the record at byte offset offset, and the
// aligned total span it occupies (header + payload + padding), or
// (nil, ErrCorrupt) on corruption.
func (s *SerializedData) RecordAt(offset int) ([]byte, int) {
	if offset+recordHeaderSize > len(s.buf) {
		return nil, ErrCorrupt
	}
	n := int(binary.LittleEndian.Uint32(s.buf[offset:]))
	end := offset + recordHeaderSize + n
	if n < 0 || end > len(s.buf) {
		return nil, ErrCorrupt
	}
	return s.buf[offset+recordHeaderSize : end], alignUp(end) - offset
}

// Count walks the stream from the start and returns how many well-formed
// records it holds, or ErrCorrupt on the first corrupt header.
func (s *SerializedData) Count() int {
	n := 0
	pos := 0
	for pos < len(s.buf) {
		_, span := s.RecordAt(pos)
		if span == ErrCorrupt {
			return ErrCorrupt
		}
		pos += span
		n++
	}
	return n
}
