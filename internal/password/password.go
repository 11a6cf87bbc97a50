package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Work-factor parameters for new hashes. Verification reads the parameters
// back out of the encoded hash, so these can be raised without invalidating
// stored credentials.
const (
	defaultMemory  uint32 = 64 * 1024
	defaultTime    uint32 = 3
	defaultThreads uint8  = 2
	keyLength      uint32 = 32
	saltLength            = 16
)

// ErrInvalidHash indicates the stored hash is not a well-formed argon2id
// encoding.
var ErrInvalidHash = errors.New("invalid password hash")

type params struct {
	memory  uint32
	time    uint32
	threads uint8
}

// Hash derives an argon2id hash of the plaintext with a fresh random salt and
// returns it in the standard $argon2id$ encoded form.
func Hash(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	p := params{memory: defaultMemory, time: defaultTime, threads: defaultThreads}
	sum := argon2.IDKey([]byte(plaintext), salt, p.time, p.memory, p.threads, keyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.memory,
		p.time,
		p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether the plaintext matches the encoded argon2id hash.
// The comparison is constant-time.
func Verify(plaintext, encoded string) (bool, error) {
	p, salt, expected, err := decode(encoded)
	if err != nil {
		return false, err
	}

	actual := argon2.IDKey([]byte(plaintext), salt, p.time, p.memory, p.threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

func decode(encoded string) (params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params{}, nil, nil, ErrInvalidHash
	}

	var version int
	if n, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || n != 1 || version != argon2.Version {
		return params{}, nil, nil, ErrInvalidHash
	}

	var p params
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil || n != 3 {
		return params{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params{}, nil, nil, ErrInvalidHash
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params{}, nil, nil, ErrInvalidHash
	}

	return p, salt, sum, nil
}
