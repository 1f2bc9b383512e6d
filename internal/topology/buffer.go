package topology

import (
	"bytes"
	"encoding/binary"

	"github.com/zeebo/blake3"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// Flat pool map buffer:
//
//	header   magic u32 | format u16 | reserved u16 | version u32 | domains u32 | targets u32
//	domains  type u8 | status u8 | reserved u16 | id | rank | fseq | child start | child count | target start | target count
//	targets  id | rank | index | status u8 | reserved [3]u8 | fseq
//	trailer  blake3-256 of everything before it
//
// All integers are little endian. Domains appear breadth first, root first.
const (
	bufferMagic     = 0x424d505a // "ZPMB"
	bufferFormatV1  = 1
	headerLen       = 4 + 2 + 2 + 4 + 4 + 4
	domainRecordLen = 4 + 7*4
	targetRecordLen = 3*4 + 4 + 4
	checksumLen     = 32
)

// Encode serializes a snapshot into the flat buffer format.
func Encode(s *Snapshot) []byte {
	size := headerLen + len(s.domains)*domainRecordLen + len(s.targets)*targetRecordLen
	buf := make([]byte, 0, size+checksumLen)

	buf = binary.LittleEndian.AppendUint32(buf, bufferMagic)
	buf = binary.LittleEndian.AppendUint16(buf, bufferFormatV1)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, s.version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.domains)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.targets)))

	for _, d := range s.domains {
		buf = append(buf, byte(d.Type), byte(d.Status), 0, 0)
		buf = binary.LittleEndian.AppendUint32(buf, d.ID)
		buf = binary.LittleEndian.AppendUint32(buf, d.Rank)
		buf = binary.LittleEndian.AppendUint32(buf, d.FailSeq)
		buf = binary.LittleEndian.AppendUint32(buf, d.childStart)
		buf = binary.LittleEndian.AppendUint32(buf, d.childCount)
		buf = binary.LittleEndian.AppendUint32(buf, d.targetStart)
		buf = binary.LittleEndian.AppendUint32(buf, d.targetCount)
	}
	for _, t := range s.targets {
		buf = binary.LittleEndian.AppendUint32(buf, t.ID)
		buf = binary.LittleEndian.AppendUint32(buf, t.Rank)
		buf = binary.LittleEndian.AppendUint32(buf, t.Index)
		buf = append(buf, byte(t.Status), 0, 0, 0)
		buf = binary.LittleEndian.AppendUint32(buf, t.FailSeq)
	}

	return seal(buf)
}

func seal(body []byte) []byte {
	sum := blake3.Sum256(body)
	return append(body, sum[:]...)
}

// Checksum returns the blake3 trailer of an encoded buffer.
func Checksum(buf []byte) ([32]byte, error) {
	var sum [32]byte
	if len(buf) < headerLen+checksumLen {
		return sum, zerrors.CorruptBufferError("%d bytes is shorter than a header", len(buf))
	}
	copy(sum[:], buf[len(buf)-checksumLen:])
	return sum, nil
}

// Decode parses a flat buffer. Damaged buffers return ErrCorruptBuffer; a
// buffer that checks out but describes an inconsistent tree panics, since
// its producer broke the format contract.
func Decode(buf []byte) (*Snapshot, error) {
	if len(buf) < headerLen+checksumLen {
		return nil, zerrors.CorruptBufferError("%d bytes is shorter than a header", len(buf))
	}
	body := buf[:len(buf)-checksumLen]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], buf[len(buf)-checksumLen:]) {
		return nil, zerrors.CorruptBufferError("checksum mismatch")
	}
	if binary.LittleEndian.Uint32(body[0:4]) != bufferMagic {
		return nil, zerrors.CorruptBufferError("bad magic")
	}
	if f := binary.LittleEndian.Uint16(body[4:6]); f != bufferFormatV1 {
		return nil, zerrors.CorruptBufferError("unsupported format %d", f)
	}
	version := binary.LittleEndian.Uint32(body[8:12])
	nd := binary.LittleEndian.Uint32(body[12:16])
	nt := binary.LittleEndian.Uint32(body[16:20])
	if nd == 0 || nt == 0 {
		return nil, zerrors.CorruptBufferError("%d domains, %d targets", nd, nt)
	}
	want := uint64(headerLen) + uint64(nd)*domainRecordLen + uint64(nt)*targetRecordLen
	if uint64(len(body)) != want {
		return nil, zerrors.CorruptBufferError("body is %d bytes, header promises %d", len(body), want)
	}

	off := headerLen
	u32 := func() uint32 {
		v := binary.LittleEndian.Uint32(body[off:])
		off += 4
		return v
	}

	domains := make([]Domain, nd)
	for i := range domains {
		typ, st := CompType(body[off]), Status(body[off+1])
		if typ > TypeTarget || int(st) >= numStatus {
			return nil, zerrors.CorruptBufferError("domain %d has type %d status %d", i, typ, st)
		}
		off += 4
		domains[i] = Domain{
			Type:        typ,
			Status:      st,
			ID:          u32(),
			Rank:        u32(),
			FailSeq:     u32(),
			childStart:  u32(),
			childCount:  u32(),
			targetStart: u32(),
			targetCount: u32(),
		}
	}

	targets := make([]Target, nt)
	for i := range targets {
		t := Target{ID: u32(), Rank: u32(), Index: u32()}
		t.Status = Status(body[off])
		if int(t.Status) >= numStatus {
			return nil, zerrors.CorruptBufferError("target %d has status %d", t.ID, t.Status)
		}
		off += 4
		t.FailSeq = u32()
		targets[i] = t
	}

	return newSnapshot(version, domains, targets), nil
}
