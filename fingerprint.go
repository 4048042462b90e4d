package video_fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// A Fingerprint is the cache key of a source: the lowercase hex SHA-256 of its URL.
type Fingerprint string

// FingerprintURL derives the Fingerprint of a URL. Only surrounding whitespace is normalised away.
func FingerprintURL(url string) Fingerprint {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func (f Fingerprint) String() string {
	return string(f)
}

// Short is a prefix of the Fingerprint, for log messages.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
