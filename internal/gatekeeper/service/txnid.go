package service

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

// txnDomainKey is the BLAKE3 key for transaction ids: the ASCII domain
// name zero-padded to 32 bytes.  Changing it changes every id.
var txnDomainKey = [32]byte{
	'g', 'a', 't', 'e', 'k', 'e', 'e', 'p', 'e', 'r', '.', 'a', 'd', 'm', 'i', 's',
	's', 'i', 'o', 'n', '.', 't', 'x', 'n', 0, 0, 0, 0, 0, 0, 0, 0,
}

// txnIDBytes is the digest prefix kept for an id (32 hex chars).
const txnIDBytes = 16

// TransactionID derives the idempotency key of an admission from the
// event, party, channel and caller nonce.  Identical inputs always yield
// the same id.  An empty nonce is replaced with a random UUID, so such
// requests are never deduplicated.
func TransactionID(eventID, partyID string, method store.Method, nonce string) string {
	if nonce == "" {
		nonce = uuid.New().String()
	}
	hasher, err := blake3.NewKeyed(txnDomainKey[:])
	if err != nil {
		panic("service: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, part := range []string{eventID, partyID, string(method), nonce} {
		hasher.Write([]byte(part))
		hasher.Write([]byte{0})
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:txnIDBytes])
}
