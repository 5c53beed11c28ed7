package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// DeriveSealingKey creates a deterministic 32-byte encryption key from an
// enclave sealing secret and a store-specific salt using Argon2id. The same
// inputs always regenerate the same key, which is what lets a warm restart
// unseal a store written before the process died.
func DeriveSealingKey(secret, salt []byte) []byte {
	fullSalt := append([]byte("TRUSTAGENT-STORE-"), salt...)

	// Parameters: time=1, memory=64MB, threads=4, keyLen=32
	return argon2.IDKey(secret, fullSalt, 1, 64*1024, 4, 32)
}

// Seal encrypts data with AES-256-GCM under the given key. The random nonce
// is prepended to the ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return append(nonce, aesGCM.Seal(nil, nonce, plaintext, nil)...), nil
}

// Unseal decrypts data produced by Seal. Fails if the key is wrong or the
// ciphertext was tampered with.
func Unseal(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(sealed) < aesGCM.NonceSize() {
		return nil, errors.New("sealed data too short")
	}

	nonce := sealed[:aesGCM.NonceSize()]
	ciphertext := sealed[aesGCM.NonceSize():]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal: %w", err)
	}
	return plaintext, nil
}

// PubkeyHash returns the SHA-256 digest of a public key's PEM encoding,
// used as attestation report data binding evidence to a key.
func PubkeyHash(pub AuthPubkey) [32]byte {
	block, _ := pem.Decode(pub)
	if block == nil {
		return sha256.Sum256(pub)
	}
	return sha256.Sum256(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: block.Bytes}))
}

// Zeroize overwrites a byte slice with zeros. Used for private key material
// on process exit.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
