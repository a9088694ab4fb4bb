package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"unicode"

	"golang.org/x/crypto/argon2"
)

const (
	argon2KeyLen  = 32 // AES-256
	argon2SaltLen = 32
)

// KDFParams are the Argon2id parameters used for new envelopes. Existing
// envelopes carry their own parameters.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams returns OWASP-recommended Argon2id settings.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// Envelope is an account secret encrypted with Argon2id + AES-256-GCM.
type Envelope struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

// seal encrypts secret under password.
func seal(secret []byte, password string, p KDFParams) (*Envelope, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, argon2KeyLen)
	defer secureClear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &Envelope{
		Version:     1,
		Ciphertext:  gcm.Seal(nil, nonce, secret, nil),
		Salt:        salt,
		Nonce:       nonce,
		Time:        p.Time,
		Memory:      p.Memory,
		Parallelism: p.Threads,
	}, nil
}

// open decrypts an envelope. A wrong password surfaces as ErrInvalidPassword.
func open(env *Envelope, password string) ([]byte, error) {
	key := argon2.IDKey([]byte(password), env.Salt, env.Time, env.Memory, env.Parallelism, argon2KeyLen)
	defer secureClear(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// secureClear overwrites a byte slice with zeros.
func secureClear(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// Password length limits.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// ValidatePasswordStrength requires at least 8 characters and 3 of 4
// character classes.
func ValidatePasswordStrength(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	complexity := 0
	for _, ok := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if ok {
			complexity++
		}
	}
	if complexity < 3 {
		return fmt.Errorf("password must contain at least 3 of: uppercase, lowercase, number, special character")
	}
	return nil
}
