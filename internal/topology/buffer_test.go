package topology

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

func TestEncodeDecode(t *testing.T) {
	snap, err := uniform(t).Apply(7,
		StatusChange{TargetID: 3, Status: StatusDown},
		StatusChange{TargetID: 9, Status: StatusRebuilding},
	)
	require.NoError(t, err)

	buf := Encode(snap)
	assert.Len(t, buf, headerLen+16*domainRecordLen+24*targetRecordLen+checksumLen)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, snap.Version(), got.Version())
	assert.Equal(t, snap.Targets(), got.Targets())
	for i := 0; i < snap.DomainCount(); i++ {
		assert.Equal(t, snap.Domain(i), got.Domain(i))
	}
	assert.Equal(t, Encode(got), buf, "encoding must be canonical")
}

func TestDecodeCorruptBuffers(t *testing.T) {
	good := Encode(uniform(t))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"truncated", func(b []byte) []byte { return b[:10] }},
		{"flipped body byte", func(b []byte) []byte { b[headerLen+5] ^= 0xff; return b }},
		{"bad magic", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b, 0xdeadbeef)
			return seal(b[:len(b)-checksumLen])
		}},
		{"count mismatch", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[16:], 25)
			return seal(b[:len(b)-checksumLen])
		}},
		{"bad status", func(b []byte) []byte {
			b[headerLen+16*domainRecordLen+12] = 42
			return seal(b[:len(b)-checksumLen])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, len(good))
			copy(buf, good)
			_, err := Decode(tt.mutate(buf))
			require.Error(t, err)
			assert.True(t, errors.Is(err, zerrors.ErrCorruptBuffer))
		})
	}
}

func TestDecodePanicsOnTargetOverrun(t *testing.T) {
	buf := Encode(uniform(t))
	body := buf[:len(buf)-checksumLen]

	// last node claims two more targets than exist
	last := headerLen + 15*domainRecordLen
	binary.LittleEndian.PutUint32(body[last+28:], 4)

	assert.Panics(t, func() { _, _ = Decode(seal(body)) })
}

func TestChecksum(t *testing.T) {
	buf := Encode(uniform(t))
	sum, err := Checksum(buf)
	require.NoError(t, err)
	assert.Equal(t, buf[len(buf)-checksumLen:], sum[:])

	_, err = Checksum(buf[:4])
	assert.Error(t, err)
}
