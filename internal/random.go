package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

const sessionTokenSize = 32

// ErrMalformedToken is returned when a presented token is not 64 lower-hex
// characters.
var ErrMalformedToken = errors.New("malformed session token")

// NewSessionToken returns 32 bytes from crypto/rand, lower-hex encoded.
func NewSessionToken() (string, error) {
	var raw [sessionTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// HashSessionToken returns the SHA-256 of the token string. This is the only
// form of a session token that is ever persisted.
func HashSessionToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// CheckSessionToken reports whether token has the shape produced by
// [NewSessionToken]. It lets callers reject garbage before a store round trip.
func CheckSessionToken(token string) error {
	if len(token) != sessionTokenSize*2 {
		return ErrMalformedToken
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrMalformedToken
		}
	}
	return nil
}
