// Package keys provides wallet key derivation and signing for users and merchants,
// plus encryption helpers for operator-held custodial merchant keys.
// Uses secp256k1 so that device wallets and the operator share one signature scheme.
package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// mnemonicEntropyBits is the entropy used for new recovery phrases (12 words).
const mnemonicEntropyBits = 128

// derivationPath is the fixed derivation path mixed into seed expansion.
// Changing it would change every derived key, so it is part of the wire contract.
const derivationPath = "m/44'/3030'/0'/0'/0'"

var (
	// ErrInvalidMnemonic is returned when a recovery phrase fails checksum validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrKeyDerivationFailed is returned when a valid mnemonic cannot be turned
	// into a usable secp256k1 key. This should not happen for valid input.
	ErrKeyDerivationFailed = errors.New("key derivation failed")
)

// WalletKeyPair represents a wallet signing keypair using secp256k1.
type WalletKeyPair struct {
	PublicKey  []byte // 33-byte compressed secp256k1 public key
	PrivateKey []byte // 32-byte secp256k1 private key
}

// GenerateMnemonic produces a new 12-word BIP-39 recovery phrase from
// 128 bits of cryptographically random entropy.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to build mnemonic: %w", err)
	}
	return mnemonic, nil
}

// DeriveKeyPair deterministically derives a wallet keypair from a recovery phrase.
// The BIP-39 seed is expanded with HKDF-SHA256 bound to the fixed derivation path
// and truncated to the 32 bytes secp256k1 requires. The same mnemonic always
// yields the same keypair; recovery depends on this.
func DeriveKeyPair(mnemonic string) (*WalletKeyPair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")

	hkdfReader := hkdf.New(sha256.New, seed, nil, []byte(derivationPath))

	privateKeyBytes := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, privateKeyBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}

	return &WalletKeyPair{
		PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		PrivateKey: privateKeyBytes,
	}, nil
}

// GenerateKeyPair generates a fresh random secp256k1 keypair. Used for the
// operator key and for custodial merchant keys where no recovery phrase exists.
func GenerateKeyPair() (*WalletKeyPair, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 keypair: %w", err)
	}
	return &WalletKeyPair{
		PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		PrivateKey: crypto.FromECDSA(privateKey),
	}, nil
}

// KeyPairFromPrivateKey rebuilds a keypair from a raw 32-byte private key.
func KeyPairFromPrivateKey(privateKeyBytes []byte) (*WalletKeyPair, error) {
	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &WalletKeyPair{
		PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		PrivateKey: crypto.FromECDSA(privateKey),
	}, nil
}

// PublicKeyHex returns the public key as a hex string (for display/logging).
func (kp *WalletKeyPair) PublicKeyHex() string {
	return fmt.Sprintf("%x", kp.PublicKey)
}

// PublicKeyBase64 returns the public key as a base64 string.
func (kp *WalletKeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey)
}

// Sign signs an arbitrary payload with the private key.
// The payload is hashed with SHA-256 and signed with ECDSA; the returned
// signature is the 64-byte R||S form without the recovery ID.
func (kp *WalletKeyPair) Sign(payload []byte) ([]byte, error) {
	privateKey, err := crypto.ToECDSA(kp.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}

	hash := sha256.Sum256(payload)

	signature, err := crypto.Sign(hash[:], privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return signature[:64], nil
}

// Verify reports whether signature is a valid signature of payload under the
// keypair's public key. Verification is stateless given (public key, payload,
// signature); callers verifying third-party signatures should use VerifyWithKey.
func (kp *WalletKeyPair) Verify(payload, signature []byte) bool {
	return VerifyWithKey(kp.PublicKey, payload, signature)
}

// VerifyWithKey verifies a 64-byte R||S signature of payload against a
// 33-byte compressed secp256k1 public key.
func VerifyWithKey(compressedPubKey, payload, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}
	hash := sha256.Sum256(payload)
	return crypto.VerifySignature(compressedPubKey, hash[:], signature)
}

// Fingerprint returns a short stable identifier for a compressed public key,
// used in log lines where the full key would be noise.
func Fingerprint(compressedPubKey []byte) string {
	digest := sha3.Sum256(compressedPubKey)
	return fmt.Sprintf("%x", digest[:8])
}
