package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentKey derives a short stable key for an uploaded file body.
func ContentKey(kind string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(data)
	return kind + ":" + hex.EncodeToString(h.Sum(nil))[:24]
}
