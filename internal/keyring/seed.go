package keyring

import (
	"crypto/sha512"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

// EthereumDerivationPath is the BIP-44 path used for ethereum accounts.
const EthereumDerivationPath = "m/44'/60'/0'/0/0"

// GenerateMnemonic generates a BIP-39 mnemonic of 12 or 24 words.
func GenerateMnemonic(words int) (string, error) {
	var bits int
	switch words {
	case 0, 12:
		bits = 128
	case 24:
		bits = 256
	default:
		return "", fmt.Errorf("unsupported mnemonic length %d", words)
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks word list membership and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// secretFromMnemonic derives the raw secret for keyType and reports the
// derivation used.
func secretFromMnemonic(mnemonic string, keyType KeyType) ([]byte, string, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, "", fmt.Errorf("invalid mnemonic")
	}

	switch keyType {
	case KeyTypeEthereum:
		secret, err := deriveEthereumSecret(bip39.NewSeed(mnemonic, ""))
		return secret, EthereumDerivationPath, err
	case KeyTypeEd25519:
		// Substrate mini-secret: PBKDF2 over the mnemonic entropy rather than the words.
		entropy, err := bip39.EntropyFromMnemonic(mnemonic)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read mnemonic entropy: %w", err)
		}
		seed := pbkdf2.Key(entropy, []byte("mnemonic"), 2048, 64, sha512.New)
		return seed[:32], "", nil
	default:
		return nil, "", fmt.Errorf("unsupported key type %q", keyType)
	}
}

// deriveEthereumSecret walks m/44'/60'/0'/0/0 from a BIP-39 seed.
func deriveEthereumSecret(seed []byte) ([]byte, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	}
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return priv.Serialize(), nil
}

// AddressFromMnemonic derives the address an account created from mnemonic
// would have, without storing anything.
func AddressFromMnemonic(mnemonic string, keyType KeyType) (string, error) {
	if keyType == "" {
		keyType = KeyTypeEd25519
	}
	secret, _, err := secretFromMnemonic(mnemonic, keyType)
	if err != nil {
		return "", err
	}
	defer secureClear(secret)

	kp, err := buildKeyPair(keyType, secret)
	if err != nil {
		return "", err
	}
	return kp.address, nil
}
