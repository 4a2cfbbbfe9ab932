package common

import (
	"crypto/sha256"
	"encoding/base64"
)

// DeriveKey hashes parts into a stable, URL-safe key. Parts are separated so
// ("ab","c") and ("a","bc") differ.
func DeriveKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return EncodeBase64(h.Sum(nil))
}

// EncodeBase64 encodes bytes to URL-safe base64 string.
func EncodeBase64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
