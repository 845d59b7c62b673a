// Package cryptox implements the envelope encryption primitives of the vault:
// per-document data keys (DEKs), AEAD encryption of document bytes, wrapping of
// DEKs under a single master key (KEK), content hashing and bearer tokens.
//
// Every failure is returned as an error wrapping common.ErrIntegrity or
// common.ErrCryptoConfig; no function returns empty output on failure.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/docvault/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names the AEAD used for document bytes.
type Algorithm string

const (
	AlgorithmAESGCM           Algorithm = "aes-gcm"
	AlgorithmChaCha20Poly1305 Algorithm = "chacha20-poly1305"
)

const (
	// NonceSize is the AEAD nonce length (96 bits) for both algorithms.
	NonceSize = 12
	// TagSize is the AEAD authentication tag length (128 bits).
	TagSize = 16
)

// Sealed is the result of Encrypt. IV and Tag are hex encoded, the way they
// are persisted on the document record.
type Sealed struct {
	Ciphertext []byte
	IV         string
	Tag        string
	Algorithm  Algorithm
}

// Engine holds the master key and the default document cipher. DEKs are
// always wrapped with AES-256-GCM, independent of the document cipher.
type Engine struct {
	kek       []byte
	algorithm Algorithm
}

// ParseAlgorithm validates a configured cipher name. Empty means AES-GCM.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AlgorithmAESGCM:
		return AlgorithmAESGCM, nil
	case AlgorithmChaCha20Poly1305:
		return AlgorithmChaCha20Poly1305, nil
	default:
		return "", fmt.Errorf("%w: unknown cipher %q", common.ErrCryptoConfig, s)
	}
}

// NewEngine copies kek and returns an engine bound to it. The KEK must be
// exactly 32 bytes; there is no derivation fallback.
func NewEngine(kek []byte, algorithm Algorithm) (*Engine, error) {
	if len(kek) != common.KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", common.ErrCryptoConfig, common.KeySize, len(kek))
	}
	alg, err := ParseAlgorithm(string(algorithm))
	if err != nil {
		return nil, err
	}
	k := make([]byte, len(kek))
	copy(k, kek)
	return &Engine{kek: k, algorithm: alg}, nil
}

// NewEngineFromHex decodes a hex encoded 256-bit master key.
func NewEngineFromHex(kekHex string, algorithm Algorithm) (*Engine, error) {
	if kekHex == "" {
		return nil, fmt.Errorf("%w: master key is not provisioned", common.ErrCryptoConfig)
	}
	kek, err := hex.DecodeString(kekHex)
	if err != nil {
		return nil, fmt.Errorf("%w: master key is not valid hex", common.ErrCryptoConfig)
	}
	defer common.WipeByteArray(kek)
	return NewEngine(kek, algorithm)
}

// Algorithm returns the cipher used for new documents.
func (e *Engine) Algorithm() Algorithm { return e.algorithm }

// Close wipes the master key. The engine is unusable afterwards.
func (e *Engine) Close() {
	common.WipeByteArray(e.kek)
	e.kek = nil
}

// GenerateDataKey returns a fresh random 256-bit DEK. The caller owns the
// slice and must wipe it with common.WipeByteArray.
func GenerateDataKey() ([]byte, error) {
	dek, err := common.GenerateRandByteArray(common.KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: generate data key: %v", common.ErrCryptoConfig, err)
	}
	return dek, nil
}

func newAEAD(alg Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != common.KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", common.ErrCryptoConfig, common.KeySize)
	}
	switch alg {
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrCryptoConfig, err)
		}
		return aead, nil
	case AlgorithmAESGCM, "":
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrCryptoConfig, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrCryptoConfig, err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: unknown cipher %q", common.ErrCryptoConfig, alg)
	}
}

// Encrypt seals plaintext under dek with the engine's default algorithm.
func (e *Engine) Encrypt(plaintext, dek []byte) (*Sealed, error) {
	return EncryptWith(e.algorithm, plaintext, dek)
}

// EncryptWith seals plaintext under dek using a fresh random 96-bit nonce.
// The 128-bit tag is split off the AEAD output and returned separately.
func EncryptWith(alg Algorithm, plaintext, dek []byte) (*Sealed, error) {
	aead, err := newAEAD(alg, dek)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: read nonce: %v", common.ErrCryptoConfig, err)
	}

	out := aead.Seal(nil, nonce, plaintext, nil)
	if len(out) < TagSize {
		return nil, fmt.Errorf("%w: short aead output", common.ErrCryptoConfig)
	}
	split := len(out) - TagSize

	if alg == "" {
		alg = AlgorithmAESGCM
	}
	return &Sealed{
		Ciphertext: out[:split],
		IV:         hex.EncodeToString(nonce),
		Tag:        hex.EncodeToString(out[split:]),
		Algorithm:  alg,
	}, nil
}

// Decrypt opens ciphertext sealed by Encrypt with the engine's default algorithm.
func (e *Engine) Decrypt(ciphertext, dek []byte, ivHex, tagHex string) ([]byte, error) {
	return DecryptWith(e.algorithm, ciphertext, dek, ivHex, tagHex)
}

// DecryptWith verifies the tag and returns the plaintext. Any mismatch in
// ciphertext, key, IV or tag yields common.ErrIntegrity and no bytes.
func DecryptWith(alg Algorithm, ciphertext, dek []byte, ivHex, tagHex string) ([]byte, error) {
	aead, err := newAEAD(alg, dek)
	if err != nil {
		return nil, err
	}

	nonce, err := hex.DecodeString(ivHex)
	if err != nil || len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: malformed iv", common.ErrIntegrity)
	}
	tag, err := hex.DecodeString(tagHex)
	if err != nil || len(tag) != TagSize {
		return nil, fmt.Errorf("%w: malformed tag", common.ErrIntegrity)
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", common.ErrIntegrity)
	}
	return plaintext, nil
}

// WrapDEK seals dek under the master key with a fresh nonce and returns
// base64(nonce || ciphertext || tag). Wrapping the same DEK twice yields
// different outputs.
func (e *Engine) WrapDEK(dek []byte) (string, error) {
	if len(dek) != common.KeySize {
		return "", fmt.Errorf("%w: data key must be %d bytes", common.ErrCryptoConfig, common.KeySize)
	}
	aead, err := newAEAD(AlgorithmAESGCM, e.kek)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: read nonce: %v", common.ErrCryptoConfig, err)
	}

	out := aead.Seal(nonce, nonce, dek, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// UnwrapDEK reverses WrapDEK. A wrong master key or a malformed blob fails
// with common.ErrCryptoConfig. The caller must wipe the returned key.
func (e *Engine) UnwrapDEK(wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: wrapped key is not base64", common.ErrCryptoConfig)
	}
	if len(raw) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: wrapped key too short", common.ErrCryptoConfig)
	}

	aead, err := newAEAD(AlgorithmAESGCM, e.kek)
	if err != nil {
		return nil, err
	}

	dek, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap failed", common.ErrCryptoConfig)
	}
	if len(dek) != common.KeySize {
		common.WipeByteArray(dek)
		return nil, fmt.Errorf("%w: unwrapped key has wrong size", common.ErrCryptoConfig)
	}
	return dek, nil
}

// RewrapForGrant unwraps and wraps again under a fresh nonce, so a grant's
// stored key material is independent of the document's own wrapped key.
func (e *Engine) RewrapForGrant(wrapped string) (string, error) {
	return e.Rewrap(wrapped, e)
}

// Rewrap unwraps with e and wraps with target. With target == e it is
// RewrapForGrant; with a new engine it rotates the master key.
func (e *Engine) Rewrap(wrapped string, target *Engine) (string, error) {
	dek, err := e.UnwrapDEK(wrapped)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(dek)
	return target.WrapDEK(dek)
}

// HashContent returns the hex SHA-256 digest of plaintext.
func HashContent(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}

// EqualHash compares two hex digests in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateToken returns byteLen random bytes hex encoded. byteLen <= 0 uses
// common.DefaultTokenBytes.
func GenerateToken(byteLen int) (string, error) {
	if byteLen <= 0 {
		byteLen = common.DefaultTokenBytes
	}
	tok, err := common.MakeRandHexString(byteLen)
	if err != nil {
		return "", fmt.Errorf("%w: generate token: %v", common.ErrCryptoConfig, err)
	}
	return tok, nil
}
