package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-char random hex identifier with an entity prefix
// ("var_ab12...") so ids stay greppable across the drift queue and the
// audit ledger.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
