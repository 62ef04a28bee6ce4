package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashEntry computes the chained SHA-256 of an entry: the hash of its JSON
// encoding with the Hash field cleared. PrevHash is part of the encoding, so
// each hash commits to the whole chain before it.
func HashEntry(e *Entry) (string, error) {
	c := *e
	c.Hash = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
