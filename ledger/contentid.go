package ledger

import (
	"strconv"
	"time"

	"golang.org/x/crypto/sha3"
)

// DeriveContentID computes the content identifier for a new record:
// Keccak-256 over "<externalID>-<product>-<unix millis of at>".
//
// Uniqueness relies on the wall clock. Two submissions with the same external
// id and product in the same millisecond collide.
func DeriveContentID(externalID, product string, at time.Time) ContentID {
	var id ContentID
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(externalID))
	h.Write([]byte{'-'})
	h.Write([]byte(product))
	h.Write([]byte{'-'})
	h.Write([]byte(strconv.FormatInt(at.UnixMilli(), 10)))
	h.Sum(id[:0])
	return id
}
