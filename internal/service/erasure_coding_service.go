package service

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/reedsolomon"
	"github.com/zeebo/blake3"

	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
)

// ShardCodec turns the payload of one redundancy group into the cells its
// shards store, and back. Replicated classes store full copies; erasure coded
// classes store Reed-Solomon data and parity cells.
type ShardCodec struct {
	class domain.ObjectClass
	enc   reedsolomon.Encoder
}

// NewShardCodec creates a codec for the given object class.
func NewShardCodec(class domain.ObjectClass) (*ShardCodec, error) {
	c := &ShardCodec{class: class}
	if class.Redundancy == domain.RedundancyErasureCode {
		enc, err := reedsolomon.New(int(class.Data), int(class.Parity))
		if err != nil {
			return nil, fmt.Errorf("failed to create encoder for %s: %w", class.Name, err)
		}
		c.enc = enc
	}
	return c, nil
}

func (c *ShardCodec) Class() domain.ObjectClass { return c.class }

// Encode splits a group payload into one cell per shard of the group.
func (c *ShardCodec) Encode(data []byte) ([][]byte, error) {
	switch c.class.Redundancy {
	case domain.RedundancyErasureCode:
		cells, err := c.enc.Split(data)
		if err != nil {
			return nil, err
		}
		if err := c.enc.Encode(cells); err != nil {
			return nil, err
		}
		return cells, nil
	default:
		cells := make([][]byte, c.class.GroupSize)
		for i := range cells {
			cells[i] = bytes.Clone(data)
		}
		return cells, nil
	}
}

// Reconstruct fills the nil entries of cells from the surviving ones.
func (c *ShardCodec) Reconstruct(cells [][]byte) error {
	if len(cells) != int(c.class.GroupSize) {
		return zerrors.InvalidArgumentError("%s groups have %d cells, got %d", c.class.Name, c.class.GroupSize, len(cells))
	}
	if c.class.Redundancy == domain.RedundancyErasureCode {
		if err := c.enc.Reconstruct(cells); err != nil {
			return fmt.Errorf("%w: %v", zerrors.ErrInsufficientShards, err)
		}
		return nil
	}

	var survivor []byte
	for _, cell := range cells {
		if cell != nil {
			survivor = cell
			break
		}
	}
	if survivor == nil {
		return fmt.Errorf("%w: every copy of the group is lost", zerrors.ErrInsufficientShards)
	}
	for i := range cells {
		if cells[i] == nil {
			cells[i] = bytes.Clone(survivor)
		}
	}
	return nil
}

// Decode reassembles a group payload of the given size. Missing cells are nil.
func (c *ShardCodec) Decode(cells [][]byte, size int) ([]byte, error) {
	work := make([][]byte, len(cells))
	copy(work, cells)
	if err := c.Reconstruct(work); err != nil {
		return nil, err
	}
	if c.class.Redundancy != domain.RedundancyErasureCode {
		return work[0][:size], nil
	}
	var buf bytes.Buffer
	if err := c.enc.Join(&buf, work, size); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GroupPayload derives the deterministic content a simulated object stores
// in one redundancy group.
func GroupPayload(oid domain.ObjectID, group uint32, size int) []byte {
	var seed [20]byte
	binary.LittleEndian.PutUint64(seed[0:], oid.Hi)
	binary.LittleEndian.PutUint64(seed[8:], oid.Lo)
	binary.LittleEndian.PutUint32(seed[16:], group)

	h := blake3.New()
	h.Write(seed[:])
	out := make([]byte, size)
	h.Digest().Read(out)
	return out
}

// Checksum renders the blake3 digest of data in hex.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
