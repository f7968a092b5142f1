package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature_RoundTrip(t *testing.T) {
	key := newP384Key(t)
	pub, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)

	data := []byte(`{"id":1,"name":"test"}`)
	sig := signContent(t, key, data)
	assert.NoError(t, VerifySignature(data, sig, pub))
}

func TestVerifySignature_PEMKey(t *testing.T) {
	key := newP384Key(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	data := []byte("payload")
	assert.NoError(t, VerifySignature(data, signContent(t, key, data), pemKey))
}

func TestVerifySignature_FlippedCharacter(t *testing.T) {
	key := newP384Key(t)
	pub, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)

	data := []byte("payload")
	sig := signContent(t, key, data)

	for _, pos := range []int{0, 10, 64, len(sig) - 1} {
		replacement := byte('A')
		if sig[pos] == 'A' {
			replacement = 'B'
		}
		tampered := sig[:pos] + string(replacement) + sig[pos+1:]

		err := VerifySignature(data, tampered, pub)
		assert.ErrorIs(t, err, ErrSignatureDoesNotMatch, "position %d", pos)
		assert.ErrorIs(t, err, ErrBadSignature)
	}
}

func TestVerifySignature_WrongData(t *testing.T) {
	key := newP384Key(t)
	pub, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)

	sig := signContent(t, key, []byte("original"))
	assert.ErrorIs(t, VerifySignature([]byte("changed"), sig, pub), ErrSignatureDoesNotMatch)
}

func TestVerifySignature_PrefixRequired(t *testing.T) {
	key := newP384Key(t)
	pub, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)

	// A signature over the bare data, without the prefix, must not verify.
	data := []byte("payload")
	digest := sha512.Sum384(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)
	raw := make([]byte, signatureSize)
	r.FillBytes(raw[:coordinateSize])
	s.FillBytes(raw[coordinateSize:])
	bare := base64.URLEncoding.EncodeToString(raw)

	assert.ErrorIs(t, VerifySignature(data, bare, pub), ErrSignatureDoesNotMatch)
}

func TestVerifySignature_WrongSignatureSize(t *testing.T) {
	key := newP384Key(t)
	pub, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	sig := signContent(t, key, []byte("x"))

	err = VerifySignature([]byte("x"), sig[:len(sig)-1], pub)
	assert.ErrorIs(t, err, ErrWrongSignatureSize)

	short := base64.URLEncoding.EncodeToString(make([]byte, 48))
	err = VerifySignature([]byte("x"), short, pub)
	assert.ErrorIs(t, err, ErrWrongSignatureSize)
	assert.NotErrorIs(t, err, ErrSignatureDoesNotMatch)
}

func TestVerifySignature_BadPublicKey(t *testing.T) {
	key := newP384Key(t)
	sig := signContent(t, key, []byte("x"))

	err := VerifySignature([]byte("x"), sig, "abc")
	assert.ErrorIs(t, err, ErrWrongPublicKeySize)

	err = VerifySignature([]byte("x"), sig, base64.StdEncoding.EncodeToString([]byte("not a key")))
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.NotErrorIs(t, err, ErrWrongPublicKeySize)
}

func TestVerifySignature_OtherKey(t *testing.T) {
	signer := newP384Key(t)
	other := newP384Key(t)
	pub, err := EncodePublicKey(&other.PublicKey)
	require.NoError(t, err)

	assert.ErrorIs(t, VerifySignature([]byte("x"), signContent(t, signer, []byte("x")), pub), ErrSignatureDoesNotMatch)
}

func TestError_Families(t *testing.T) {
	expired := newError(KindCertificateExpired, "gone")
	assert.ErrorIs(t, expired, ErrCertificateExpired)
	assert.ErrorIs(t, expired, ErrBadCertificate)
	assert.ErrorIs(t, expired, ErrBadSignature)
	assert.NotErrorIs(t, expired, ErrCertificateExpiringSoon)

	mismatch := newError(KindSignatureDoesNotMatch, "")
	assert.ErrorIs(t, mismatch, ErrBadSignature)
	assert.NotErrorIs(t, mismatch, ErrBadCertificate)

	assert.True(t, strings.HasPrefix(expired.Error(), "Certificate is expired"))

	var te error = &TransportError{Op: "fetch x5u", URL: "u", Status: 500}
	assert.False(t, errors.Is(te, ErrBadSignature))
}
