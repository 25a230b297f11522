package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP 2024 recommended minimum).
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// Admin key format: pg_admin_{secret}
const adminKeySecretLen = 32

var (
	// ErrInvalidHash indicates the hash format is invalid.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates the hash version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")

	adminKeyRegex = regexp.MustCompile(`^pg_admin_[a-f0-9]{32}$`)
)

// GeneratedKey is a new admin key and the hash to configure.
type GeneratedKey struct {
	Plaintext string
	Hash      string
}

// GenerateAdminKey creates a random admin key.
func GenerateAdminKey() (*GeneratedKey, error) {
	secret := make([]byte, adminKeySecretLen/2)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	plaintext := "pg_admin_" + hex.EncodeToString(secret)

	hash, err := HashKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	return &GeneratedKey{Plaintext: plaintext, Hash: hash}, nil
}

// ValidateKeyFormat checks if key looks like an admin key.
func ValidateKeyFormat(key string) bool {
	return adminKeyRegex.MatchString(key)
}

// HashKey creates an Argon2id hash of key in PHC string format.
func HashKey(key string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

type argon2Hash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	hash    []byte
}

func parseHash(encoded string) (*argon2Hash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	h := &argon2Hash{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return nil, ErrInvalidHash
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrInvalidHash
	}
	if h.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(h.hash) == 0 {
		return nil, ErrInvalidHash
	}
	return h, nil
}

func (h *argon2Hash) matches(key string) bool {
	computed := argon2.IDKey([]byte(key), h.salt, h.time, h.memory, h.threads, uint32(len(h.hash)))
	return subtle.ConstantTimeCompare(computed, h.hash) == 1
}

// VerifyKey reports whether key matches encodedHash.
func VerifyKey(key, encodedHash string) (bool, error) {
	h, err := parseHash(encodedHash)
	if err != nil {
		return false, err
	}
	return h.matches(key), nil
}

// AdminKeyVerifier checks presented admin keys against one configured hash.
// A verifier built from an empty hash rejects every key.
type AdminKeyVerifier struct {
	hash *argon2Hash
}

// NewAdminKeyVerifier parses encodedHash. An empty hash disables admin access.
func NewAdminKeyVerifier(encodedHash string) (*AdminKeyVerifier, error) {
	if encodedHash == "" {
		return &AdminKeyVerifier{}, nil
	}
	h, err := parseHash(encodedHash)
	if err != nil {
		return nil, fmt.Errorf("admin key hash: %w", err)
	}
	return &AdminKeyVerifier{hash: h}, nil
}

// Enabled reports whether an admin key is configured.
func (v *AdminKeyVerifier) Enabled() bool {
	return v != nil && v.hash != nil
}

// Verify reports whether key is the configured admin key.
func (v *AdminKeyVerifier) Verify(key string) bool {
	if !v.Enabled() || !ValidateKeyFormat(key) {
		return false
	}
	return v.hash.matches(key)
}
