package placement

import (
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// JumpHash maps key onto one of buckets buckets (Lamping and Veach). Growing
// buckets from n to n+1 moves a key only if it lands in the new bucket n.
//
// The bucket step is computed in integer arithmetic so every platform
// produces bit-identical results.
func JumpHash(key uint64, buckets uint32) uint32 {
	if buckets == 0 {
		panic("placement: jump hash over zero buckets")
	}
	var b, j uint64
	for j < uint64(buckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = ((b + 1) << 31) / ((key >> 33) + 1)
	}
	return uint32(b)
}

// Permute derives a new 64-bit key from key and seed with two chained CRC32-C
// passes, so both output halves depend on both input halves.
func Permute(key uint64, seed uint32) uint64 {
	var lo, hi [4]byte
	binary.LittleEndian.PutUint32(lo[:], uint32(key))
	binary.LittleEndian.PutUint32(hi[:], uint32(key>>32))

	a := crc32.Update(seed, castagnoli, lo[:])
	b := crc32.Update(a, castagnoli, hi[:])
	c := crc32.Update(b^seed, castagnoli, lo[:])
	return uint64(b)<<32 | uint64(c)
}
