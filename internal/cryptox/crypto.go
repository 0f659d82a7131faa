// Package cryptox issues API keys and derives the salted hashes stored in
// place of their secrets.
package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/dmitrijs2005/feedgate/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	PrefixLength = 8
	SecretLength = 32

	saltLength = 16
	hashScheme = "argon2id"

	argonTime    = 1
	argonMemory  = 16 * 1024
	argonThreads = 2
	argonKeyLen  = 32
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var ErrMalformedHash = errors.New("malformed key hash")

// Key is a freshly issued API key. Full is shown to the owner once and is
// never persisted; only Prefix and Hash are stored.
type Key struct {
	Prefix string
	Secret string
	Full   string
	Hash   string
}

// GenerateKey creates a random "<prefix>.<secret>" key and its hash.
func GenerateKey() (*Key, error) {
	prefix, err := randomString(PrefixLength)
	if err != nil {
		return nil, err
	}
	secret, err := randomString(SecretLength)
	if err != nil {
		return nil, err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}
	return &Key{Prefix: prefix, Secret: secret, Full: prefix + "." + secret, Hash: hash}, nil
}

// ParseKey splits a raw header value into prefix and secret. Surrounding
// whitespace and an optional "Api-Key " scheme are stripped.
func ParseKey(raw string) (prefix, secret string, err error) {
	v := strings.TrimSpace(raw)
	if len(v) > len(common.APIKeyScheme) && strings.EqualFold(v[:len(common.APIKeyScheme)], common.APIKeyScheme) {
		v = strings.TrimSpace(v[len(common.APIKeyScheme):])
	}

	prefix, secret, ok := strings.Cut(v, ".")
	if !ok || prefix == "" || secret == "" {
		return "", "", common.ErrInvalidKey
	}
	return prefix, secret, nil
}

// HashSecret derives an argon2id hash of secret with a random salt and
// encodes it as "argon2id$<salt>$<hash>".
func HashSecret(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("%s$%s$%s", hashScheme, enc.EncodeToString(salt), enc.EncodeToString(sum)), nil
}

// VerifySecret checks secret against an encoded hash in constant time.
func VerifySecret(secret, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != hashScheme {
		return false, ErrMalformedHash
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := enc.DecodeString(parts[2])
	if err != nil {
		return false, ErrMalformedHash
	}

	got := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
