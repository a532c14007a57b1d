package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FileExt returns everything after the first dot of a filename, so
// multi-part extensions like "tar.gz" survive intact. Empty when the
// name carries no extension.
func FileExt(name string) string {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
