package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// Prefix returns the first n characters of SHA256Hex(input). Used to
// correlate log lines (IPs, tokens) without writing the raw value.
func Prefix(input string, n int) string {
	full := SHA256Hex(input)
	if n <= 0 || n > len(full) {
		return full
	}
	return full[:n]
}

// SessionKey returns the Redis key under which a bearer token's session is
// stored. Only the token hash ever reaches Redis.
func SessionKey(token string) string {
	return "session:" + SHA256Hex(token)
}
