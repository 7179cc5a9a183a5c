package query

import (
	"fmt"
	"math/bits"
)

// String returns a binary string representation of the bitset.
func (b ComponentBitSet) String() string {
	return fmt.Sprintf("0b%064b", uint64(b))
}

// Count returns the number of set bits.
func (b ComponentBitSet) Count() int {
	return bits.OnesCount64(uint64(b))
}

// IsEmpty returns true if no bits are set.
func (b ComponentBitSet) IsEmpty() bool {
	return b == 0
}
