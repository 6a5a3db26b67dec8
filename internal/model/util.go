package model

import (
	"encoding/binary"

	"github.com/btcsuite/btcutil/base58"
	"github.com/cespare/xxhash"
	"github.com/google/uuid"
)

func CreateID() string {
	uuid, _ := uuid.NewRandom()
	return base58.Encode(uuid[:])
}

// PairKey identifies the unordered participant pair {a, b}; PairKey(a, b) == PairKey(b, a).
func PairKey(a, b UserID) string {
	if b < a {
		a, b = b, a
	}
	xxxHash := xxhash.New()
	xxxHash.Write([]byte(a))
	xxxHash.Write([]byte{0})
	xxxHash.Write([]byte(b))
	rawKey := make([]byte, 8)
	binary.BigEndian.PutUint64(rawKey, xxxHash.Sum64())
	return base58.Encode(rawKey)
}
