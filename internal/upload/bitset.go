package upload

import "encoding/base64"

// Bitset tracks received chunk indices as one bit per index. It serializes
// compactly for the session store regardless of how sparse the set is.
type Bitset struct {
	bits []byte
	size int64
}

// NewBitset returns an empty set over [0, size).
func NewBitset(size int64) *Bitset {
	return &Bitset{
		bits: make([]byte, (size+7)/8),
		size: size,
	}
}

func (b *Bitset) Set(i int64) {
	if i < 0 || i >= b.size {
		return
	}
	b.bits[i/8] |= 1 << uint(i%8)
}

func (b *Bitset) Has(i int64) bool {
	if i < 0 || i >= b.size {
		return false
	}
	return b.bits[i/8]&(1<<uint(i%8)) != 0
}

// Count returns the number of set bits.
func (b *Bitset) Count() int64 {
	var n int64
	for _, by := range b.bits {
		for by != 0 {
			by &= by - 1
			n++
		}
	}
	return n
}

// Full reports whether every index in [0, size) is set.
func (b *Bitset) Full() bool {
	return b.Count() == b.size
}

// Encode returns the base64 form stored in the session record.
func (b *Bitset) Encode() string {
	return base64.StdEncoding.EncodeToString(b.bits)
}

// DecodeBitset rebuilds a set of the given size from its encoded form.
// An empty encoding yields an empty set.
func DecodeBitset(encoded string, size int64) (*Bitset, error) {
	b := NewBitset(size)
	if encoded == "" {
		return b, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	copy(b.bits, raw)
	return b, nil
}
