package keyring

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// KeyType is the signature scheme of an account.
type KeyType string

const (
	KeyTypeEthereum KeyType = "ethereum" // secp256k1, 0x-prefixed EIP-55 address
	KeyTypeEd25519  KeyType = "ed25519"  // ed25519, SS58 address
	KeyTypeSr25519  KeyType = "sr25519"  // external substrate accounts only, never signed locally
)

// GenericSS58Prefix is the substrate prefix used for stored ed25519 addresses.
const GenericSS58Prefix uint16 = 42

var (
	ErrInvalidSecret  = errors.New("invalid secret key")
	ErrInvalidAddress = errors.New("invalid address")
)

type keyPair struct {
	typ       KeyType
	address   string
	publicKey []byte
	sign      func(payload []byte) ([]byte, error)
}

// ethereumKeyPair builds a secp256k1 key from a 32-byte secret.
func ethereumKeyPair(secret []byte) (*keyPair, error) {
	if len(secret) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidSecret, len(secret))
	}

	// btcec silently reduces out-of-range secrets mod N; reject them instead.
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(secret); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: out of range for secp256k1", ErrInvalidSecret)
	}

	priv, pub := btcec.PrivKeyFromBytes(secret)
	address := crypto.PubkeyToAddress(*pub.ToECDSA()).Hex()

	return &keyPair{
		typ:       KeyTypeEthereum,
		address:   address,
		publicKey: pub.SerializeCompressed(),
		sign: func(hash []byte) ([]byte, error) {
			return signEthereumHash(priv, hash)
		},
	}, nil
}

// signEthereumHash signs a 32-byte hash and returns r || s || v with v in {0,1}.
func signEthereumHash(priv *btcec.PrivateKey, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}

	// SignCompact returns v || r || s with v in {27,28}.
	compact := btcecdsa.SignCompact(priv, hash, false)
	if len(compact) != 65 {
		return nil, fmt.Errorf("invalid signature length")
	}

	sig := make([]byte, 65)
	copy(sig[:64], compact[1:])
	sig[64] = compact[0] - 27
	return sig, nil
}

// ed25519KeyPair builds an ed25519 key from a 32-byte seed or a 64-byte
// seed || public key pair.
func ed25519KeyPair(secret []byte) (*keyPair, error) {
	var expectPub []byte
	switch len(secret) {
	case ed25519.SeedSize:
	case ed25519.PrivateKeySize:
		expectPub = secret[32:]
		secret = secret[:32]
	default:
		return nil, fmt.Errorf("%w: expected 32 or 64 bytes, got %d", ErrInvalidSecret, len(secret))
	}

	pub, err := ed25519PublicKey(secret)
	if err != nil {
		return nil, err
	}
	if expectPub != nil && !bytes.Equal(pub, expectPub) {
		return nil, fmt.Errorf("%w: public key does not match secret", ErrInvalidSecret)
	}

	priv := ed25519.NewKeyFromSeed(secret)
	return &keyPair{
		typ:       KeyTypeEd25519,
		address:   EncodeSS58(pub, GenericSS58Prefix),
		publicKey: pub,
		sign: func(payload []byte) ([]byte, error) {
			return ed25519.Sign(priv, payload), nil
		},
	}, nil
}

// ed25519PublicKey computes A = s*B with s the clamped lower half of SHA-512(seed).
func ed25519PublicKey(seed []byte) ([]byte, error) {
	h := sha512.Sum512(seed)
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return new(edwards25519.Point).ScalarBaseMult(s).Bytes(), nil
}

// validEd25519Point reports whether pub is a canonical Edwards point encoding.
func validEd25519Point(pub []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(pub)
	return err == nil
}

var ss58Prefix = []byte("SS58PRE")

// EncodeSS58 encodes a 32-byte public key as a substrate SS58 address.
func EncodeSS58(pub []byte, prefix uint16) string {
	var data []byte
	if prefix < 64 {
		data = []byte{byte(prefix)}
	} else {
		data = []byte{
			byte((prefix&0x00fc)>>2) | 0x40,
			byte(prefix>>8) | byte((prefix&0x0003)<<6),
		}
	}
	data = append(data, pub...)
	checksum := ss58Checksum(data)
	return base58.Encode(append(data, checksum[:2]...))
}

// DecodeSS58 returns the public key and prefix of an SS58 address.
func DecodeSS58(address string) ([]byte, uint16, error) {
	raw := base58.Decode(address)
	if len(raw) < 35 {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}

	var prefix uint16
	prefixLen := 1
	if raw[0]&0x40 != 0 {
		prefixLen = 2
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
	} else {
		prefix = uint16(raw[0])
	}

	if len(raw) != prefixLen+32+2 {
		return nil, 0, fmt.Errorf("%w: unexpected length", ErrInvalidAddress)
	}
	body := raw[:prefixLen+32]
	checksum := ss58Checksum(body)
	if !bytes.Equal(checksum[:2], raw[prefixLen+32:]) {
		return nil, 0, fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
	}
	return raw[prefixLen : prefixLen+32], prefix, nil
}

func ss58Checksum(data []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte{}, ss58Prefix...), data...))
}

// NormalizeAddress returns the canonical form used as the keyring key:
// EIP-55 for ethereum addresses, generic-prefix SS58 for substrate ones.
func NormalizeAddress(address string) (normalized string, isEthereum bool, err error) {
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex(), true, nil
	}
	pub, _, err := DecodeSS58(address)
	if err != nil {
		return "", false, err
	}
	return EncodeSS58(pub, GenericSS58Prefix), false, nil
}
