package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1

	// KindDetail, KindList and KindFeed mirror the view kind of the parked entry.
	KindDetail byte = 1
	KindList   byte = 2
	KindFeed   byte = 3
)

var (
	ErrCorrupt = errors.New("viewcache: corrupt parked entry")
	magic4     = [...]byte{'V', 'W', 'C', 'P'}
)

const header = 4 + 1 + 1 + 8 + 8 + 8 + 4

// Frame is one parked cache entry.
type Frame struct {
	Kind      byte
	Gen       uint64 // park generation observed when the entry was parked
	Version   uint64 // entry version at park time
	UpdatedAt int64  // unix nanos
	Payload   []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode lays out:
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | version(u64 be) | updated(i64 be) | vlen(u32 be) | payload(vlen)
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(header + len(f.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(f.Kind)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], f.Gen)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], f.Version)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(f.UpdatedAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(f.Payload)))
	buf.Write(u4[:])

	buf.Write(f.Payload)
	return buf.Bytes()
}

// Decode parses a frame. Unknown kinds, short buffers and trailing bytes are corrupt.
// The returned payload aliases b.
func Decode(b []byte) (Frame, error) {
	if len(b) < header || !hasMagic(b) || b[4] != version {
		return Frame{}, ErrCorrupt
	}
	kind := b[5]
	if kind < KindDetail || kind > KindFeed {
		return Frame{}, ErrCorrupt
	}

	off := 6
	f := Frame{Kind: kind}
	f.Gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.Version = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	f.UpdatedAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict framing, overflow-safe
		return Frame{}, ErrCorrupt
	}
	f.Payload = b[off : off+vlen]
	return f, nil
}
