// Package tokencodec generates the opaque one-time tokens shown as QR codes
// and derives the digests under which they are stored.
package tokencodec

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

const (
	// EntropyBytes is the amount of randomness per token (256 bits).
	EntropyBytes = 32
	// TokenLength is the encoded length: unpadded base64url of EntropyBytes.
	TokenLength = 43
)

var ErrDigestKey = errors.New("token digest key must be 1..64 bytes")

// Codec is stateless apart from the digest key.
type Codec struct {
	key []byte
}

func New(digestKey string) (*Codec, error) {
	if len(digestKey) == 0 || len(digestKey) > blake2b.Size {
		return nil, ErrDigestKey
	}
	return &Codec{key: []byte(digestKey)}, nil
}

// Generate returns a fresh URL-safe token with no embedded metadata.
func (c *Codec) Generate() (string, error) {
	b := make([]byte, EntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digest is what gets persisted and looked up; raw tokens never hit storage.
func (c *Codec) Digest(token string) string {
	h, err := blake2b.New256(c.key)
	if err != nil {
		// key length is validated in New
		panic(err)
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// WellFormed rejects anything that could not have come from Generate.
func (c *Codec) WellFormed(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		ch := token[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}
	return true
}
