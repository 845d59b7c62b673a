package cryptox

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKEK(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, common.KeySize)
}

func newTestEngine(t *testing.T, alg Algorithm) *Engine {
	t.Helper()
	e, err := NewEngine(testKEK(7), alg)
	require.NoError(t, err)
	return e
}

func flipHexBit(t *testing.T, s string) string {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	b[0] ^= 0x01
	return hex.EncodeToString(b)
}

func TestNewEngine_RejectsBadKeys(t *testing.T) {
	_, err := NewEngine(make([]byte, 16), AlgorithmAESGCM)
	assert.ErrorIs(t, err, common.ErrCryptoConfig)

	_, err = NewEngineFromHex("", AlgorithmAESGCM)
	assert.ErrorIs(t, err, common.ErrCryptoConfig)

	_, err = NewEngineFromHex("zz", AlgorithmAESGCM)
	assert.ErrorIs(t, err, common.ErrCryptoConfig)

	_, err = NewEngine(testKEK(1), Algorithm("rot13"))
	assert.ErrorIs(t, err, common.ErrCryptoConfig)
}

func TestNewEngineFromHex_OK(t *testing.T) {
	e, err := NewEngineFromHex(hex.EncodeToString(testKEK(3)), "")
	require.NoError(t, err)
	assert.Equal(t, AlgorithmAESGCM, e.Algorithm())
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	plaintexts := [][]byte{
		{},
		[]byte("hello vault"),
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}

	for _, alg := range []Algorithm{AlgorithmAESGCM, AlgorithmChaCha20Poly1305} {
		t.Run(string(alg), func(t *testing.T) {
			e := newTestEngine(t, alg)
			for _, p := range plaintexts {
				dek, err := GenerateDataKey()
				require.NoError(t, err)

				sealed, err := e.Encrypt(p, dek)
				require.NoError(t, err)
				assert.Equal(t, alg, sealed.Algorithm)
				assert.Len(t, sealed.IV, NonceSize*2)
				assert.Len(t, sealed.Tag, TagSize*2)
				assert.Len(t, sealed.Ciphertext, len(p))

				got, err := e.Decrypt(sealed.Ciphertext, dek, sealed.IV, sealed.Tag)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(p, got))
			}
		})
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	e := newTestEngine(t, AlgorithmAESGCM)
	dek, err := GenerateDataKey()
	require.NoError(t, err)

	sealed, err := e.Encrypt([]byte("hello vault"), dek)
	require.NoError(t, err)

	t.Run("every ciphertext bit", func(t *testing.T) {
		for i := 0; i < len(sealed.Ciphertext)*8; i++ {
			ct := append([]byte(nil), sealed.Ciphertext...)
			ct[i/8] ^= 1 << (i % 8)
			got, err := e.Decrypt(ct, dek, sealed.IV, sealed.Tag)
			require.ErrorIs(t, err, common.ErrIntegrity, "bit %d", i)
			require.Nil(t, got)
		}
	})

	t.Run("iv", func(t *testing.T) {
		got, err := e.Decrypt(sealed.Ciphertext, dek, flipHexBit(t, sealed.IV), sealed.Tag)
		assert.ErrorIs(t, err, common.ErrIntegrity)
		assert.Nil(t, got)
	})

	t.Run("tag", func(t *testing.T) {
		got, err := e.Decrypt(sealed.Ciphertext, dek, sealed.IV, flipHexBit(t, sealed.Tag))
		assert.ErrorIs(t, err, common.ErrIntegrity)
		assert.Nil(t, got)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := GenerateDataKey()
		require.NoError(t, err)
		_, err = e.Decrypt(sealed.Ciphertext, other, sealed.IV, sealed.Tag)
		assert.ErrorIs(t, err, common.ErrIntegrity)
	})

	t.Run("malformed iv and tag", func(t *testing.T) {
		_, err := e.Decrypt(sealed.Ciphertext, dek, "nothex", sealed.Tag)
		assert.ErrorIs(t, err, common.ErrIntegrity)
		_, err = e.Decrypt(sealed.Ciphertext, dek, sealed.IV, "abcd")
		assert.ErrorIs(t, err, common.ErrIntegrity)
	})

	t.Run("other algorithm", func(t *testing.T) {
		_, err := DecryptWith(AlgorithmChaCha20Poly1305, sealed.Ciphertext, dek, sealed.IV, sealed.Tag)
		assert.ErrorIs(t, err, common.ErrIntegrity)
	})
}

func TestEncrypt_BadKeyFailsLoudly(t *testing.T) {
	e := newTestEngine(t, AlgorithmAESGCM)
	sealed, err := e.Encrypt([]byte("x"), []byte("short"))
	assert.ErrorIs(t, err, common.ErrCryptoConfig)
	assert.Nil(t, sealed)
}

func TestWrapUnwrap_RoundTripAndFreshNonce(t *testing.T) {
	e := newTestEngine(t, AlgorithmAESGCM)
	dek, err := GenerateDataKey()
	require.NoError(t, err)

	w1, err := e.WrapDEK(dek)
	require.NoError(t, err)
	w2, err := e.WrapDEK(dek)
	require.NoError(t, err)
	assert.NotEqual(t, w1, w2, "same DEK must wrap to different blobs")

	raw, err := base64.StdEncoding.DecodeString(w1)
	require.NoError(t, err)
	assert.Len(t, raw, NonceSize+common.KeySize+TagSize)

	for _, w := range []string{w1, w2} {
		got, err := e.UnwrapDEK(w)
		require.NoError(t, err)
		assert.Equal(t, dek, got)
	}
}

func TestUnwrap_KeyIsolation(t *testing.T) {
	e1, err := NewEngine(testKEK(1), AlgorithmAESGCM)
	require.NoError(t, err)
	e2, err := NewEngine(testKEK(2), AlgorithmAESGCM)
	require.NoError(t, err)

	dek, err := GenerateDataKey()
	require.NoError(t, err)
	wrapped, err := e1.WrapDEK(dek)
	require.NoError(t, err)

	got, err := e2.UnwrapDEK(wrapped)
	assert.ErrorIs(t, err, common.ErrCryptoConfig)
	assert.Nil(t, got)
}

func TestUnwrap_Malformed(t *testing.T) {
	e := newTestEngine(t, AlgorithmAESGCM)

	_, err := e.UnwrapDEK("%%%")
	assert.ErrorIs(t, err, common.ErrCryptoConfig)

	_, err = e.UnwrapDEK(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, common.ErrCryptoConfig)
}

func TestRewrapForGrant_IndependentButEquivalent(t *testing.T) {
	e := newTestEngine(t, AlgorithmAESGCM)
	dek, err := GenerateDataKey()
	require.NoError(t, err)
	docWrapped, err := e.WrapDEK(dek)
	require.NoError(t, err)

	grantWrapped, err := e.RewrapForGrant(docWrapped)
	require.NoError(t, err)
	assert.NotEqual(t, docWrapped, grantWrapped)

	got, err := e.UnwrapDEK(grantWrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestRewrap_RotatesMasterKey(t *testing.T) {
	oldE, err := NewEngine(testKEK(1), AlgorithmAESGCM)
	require.NoError(t, err)
	newE, err := NewEngine(testKEK(2), AlgorithmAESGCM)
	require.NoError(t, err)

	dek, err := GenerateDataKey()
	require.NoError(t, err)
	wrapped, err := oldE.WrapDEK(dek)
	require.NoError(t, err)

	rotated, err := oldE.Rewrap(wrapped, newE)
	require.NoError(t, err)

	got, err := newE.UnwrapDEK(rotated)
	require.NoError(t, err)
	assert.Equal(t, dek, got)

	_, err = oldE.UnwrapDEK(rotated)
	assert.ErrorIs(t, err, common.ErrCryptoConfig)
}

func TestClose_WipesKey(t *testing.T) {
	e := newTestEngine(t, AlgorithmAESGCM)
	kek := e.kek
	e.Close()
	assert.Equal(t, make([]byte, common.KeySize), kek)

	_, err := e.WrapDEK(make([]byte, common.KeySize))
	assert.True(t, errors.Is(err, common.ErrCryptoConfig))
}

func TestHashContent(t *testing.T) {
	assert.Equal(t, "55e702c93bd83f5dc1eabdc7e0c268b8a7626b2e8008a7b96023192efd40c2a4", HashContent([]byte("hello vault")))
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashContent(nil))
	assert.True(t, EqualHash(HashContent([]byte("a")), HashContent([]byte("a"))))
	assert.False(t, EqualHash(HashContent([]byte("a")), HashContent([]byte("b"))))
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken(0)
	require.NoError(t, err)
	assert.Len(t, tok, common.DefaultTokenBytes*2)

	short, err := GenerateToken(8)
	require.NoError(t, err)
	assert.Len(t, short, 16)

	other, err := GenerateToken(0)
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}
