package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// keyPartSep separates parts inside a derived key so adjacent parts can
// never run together and collide.
var keyPartSep = []byte{0x1f}

// HashKey derives a deterministic content-addressed key from an ordered set
// of parts. Identical inputs always produce the same key regardless of call
// order or goroutine.
func HashKey(prefix string, parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write(keyPartSep)
		}
		h.Write([]byte(p))
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

// TypedPart renders a value together with its Go type, so arguments that
// compare equal but differ in type (an int 1 and a float64 1) never share a
// key part.
func TypedPart(v interface{}) string {
	return fmt.Sprintf("%T=%v", v, v)
}

// HashBytes returns the hex sha256 of raw content. Used to fingerprint
// reference audio for voice cloning.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns the hex sha256 of a file's full contents.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file for hashing: %w", err)
	}
	return HashBytes(data), nil
}
