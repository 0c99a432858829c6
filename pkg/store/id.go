package store

import (
	"crypto/rand"
	"encoding/hex"
)

func newStoreID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
