package market

import "github.com/holiman/uint256"

// Collateral usage is a per-user bitset over reserve indexes: bit set means
// the reserve's share-token balance counts toward the user's collateral.

func maskBit(index uint8) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(index))
}

func maskHasBit(mask *uint256.Int, index uint8) bool {
	if mask == nil {
		return false
	}
	probe := new(uint256.Int).And(mask, maskBit(index))
	return !probe.IsZero()
}

func maskSetBit(mask *uint256.Int, index uint8) *uint256.Int {
	if mask == nil {
		mask = new(uint256.Int)
	}
	return new(uint256.Int).Or(mask, maskBit(index))
}

func maskClearBit(mask *uint256.Int, index uint8) *uint256.Int {
	if mask == nil {
		return new(uint256.Int)
	}
	cleared := new(uint256.Int).Not(maskBit(index))
	return new(uint256.Int).And(mask, cleared)
}
