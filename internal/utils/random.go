package utils

import (
	"crypto/rand"
	"encoding/base64"
)

// RandomString creates a random base64url string from length random bytes
func RandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
