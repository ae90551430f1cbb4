package gputils

import "math"

const (
	fnvOffsetBasis uint64 = 0xcbf29ce484222325
	fnvPrime       uint64 = 0x100000001b3
)

// Hasher incrementally folds typed values into a deterministic 64-bit fnv-1a
// digest. Digests are stable across processes, which is what allows them to
// serve as content identities for cached GPU objects. The zero value is not
// usable- create Hashers with NewHasher.
type Hasher struct {
	state uint64
}

func NewHasher() Hasher {
	return Hasher{state: fnvOffsetBasis}
}

func (h *Hasher) byteFold(b byte) {
	h.state = (h.state ^ uint64(b)) * fnvPrime
}

func (h *Hasher) U32(value uint32) {
	h.byteFold(byte(value))
	h.byteFold(byte(value >> 8))
	h.byteFold(byte(value >> 16))
	h.byteFold(byte(value >> 24))
}

func (h *Hasher) U64(value uint64) {
	h.U32(uint32(value))
	h.U32(uint32(value >> 32))
}

func (h *Hasher) I32(value int32) {
	h.U32(uint32(value))
}

func (h *Hasher) Int(value int) {
	h.U64(uint64(value))
}

func (h *Hasher) F32(value float32) {
	h.U32(math.Float32bits(value))
}

func (h *Hasher) Bool(value bool) {
	if value {
		h.U32(1)
	} else {
		h.U32(0)
	}
}

func (h *Hasher) Data(data []byte) {
	for _, b := range data {
		h.byteFold(b)
	}
}

func (h *Hasher) Str(value string) {
	for i := 0; i < len(value); i++ {
		h.byteFold(value[i])
	}
}

// Get returns the digest of everything folded so far. The Hasher remains
// usable- further folds continue from this state.
func (h *Hasher) Get() uint64 {
	return h.state
}
