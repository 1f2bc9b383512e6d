package domain

import (
	"fmt"
	"strconv"
	"strings"

	zerrors "github.com/zzenonn/zplace/internal/errors"
)

const (
	classShift = 48
	classMask  = uint64(0xffff) << classShift
)

// ObjectID is the 128-bit identity of an object. The top 16 bits of Hi carry
// the object class; the remaining bits belong to the caller.
type ObjectID struct {
	Hi uint64 `json:"hi" dynamodbav:"hi"`
	Lo uint64 `json:"lo" dynamodbav:"lo"`
}

// NewObjectID embeds class into the high word of an object ID.
func NewObjectID(class ClassID, hi, lo uint64) ObjectID {
	return ObjectID{
		Hi: (hi &^ classMask) | uint64(class)<<classShift,
		Lo: lo,
	}
}

// Class returns the object class embedded in the ID.
func (o ObjectID) Class() ClassID {
	return ClassID(o.Hi >> classShift)
}

// Key is the seed every placement walk starts from.
func (o ObjectID) Key() uint64 {
	return o.Hi ^ o.Lo
}

func (o ObjectID) String() string {
	return fmt.Sprintf("%x.%x", o.Hi, o.Lo)
}

// ParseObjectID accepts "hi.lo" in hex (as printed by String) or "hi:lo"
// where each half is decimal or 0x-prefixed hex.
func ParseObjectID(s string) (ObjectID, error) {
	s = strings.TrimSpace(s)
	if hi, lo, ok := strings.Cut(s, "."); ok {
		h, err := strconv.ParseUint(hi, 16, 64)
		if err != nil {
			return ObjectID{}, zerrors.InvalidArgumentError("object id %q: %v", s, err)
		}
		l, err := strconv.ParseUint(lo, 16, 64)
		if err != nil {
			return ObjectID{}, zerrors.InvalidArgumentError("object id %q: %v", s, err)
		}
		return ObjectID{Hi: h, Lo: l}, nil
	}

	hi, lo, ok := strings.Cut(s, ":")
	if !ok {
		return ObjectID{}, zerrors.InvalidArgumentError("object id %q: expected hi.lo or hi:lo", s)
	}
	h, err := strconv.ParseUint(hi, 0, 64)
	if err != nil {
		return ObjectID{}, zerrors.InvalidArgumentError("object id %q: %v", s, err)
	}
	l, err := strconv.ParseUint(lo, 0, 64)
	if err != nil {
		return ObjectID{}, zerrors.InvalidArgumentError("object id %q: %v", s, err)
	}
	return ObjectID{Hi: h, Lo: l}, nil
}
