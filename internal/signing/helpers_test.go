package signing

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newP384Key(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	return key
}

// signContent produces a URL-safe base64 r||s content signature.
func signContent(t *testing.T, key *ecdsa.PrivateKey, data []byte) string {
	t.Helper()
	digest := sha512.Sum384(append([]byte(SignaturePrefix), data...))
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)
	raw := make([]byte, signatureSize)
	r.FillBytes(raw[:coordinateSize])
	s.FillBytes(raw[coordinateSize:])
	return base64.URLEncoding.EncodeToString(raw)
}

type testChain struct {
	rootKey *ecdsa.PrivateKey
	leafKey *ecdsa.PrivateKey
	root    *x509.Certificate
	leaf    *x509.Certificate
}

// newTestChain builds a root and a leaf certificate. The root is valid for a
// wide window around now; the leaf uses the given window.
func newTestChain(t *testing.T, notBefore, notAfter time.Time, leafCN string) *testChain {
	t.Helper()
	c := &testChain{rootKey: newP384Key(t), leafKey: newP384Key(t)}

	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             time.Now().Add(-10 * 365 * 24 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &c.rootKey.PublicKey, c.rootKey)
	require.NoError(t, err)
	c.root, err = x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: leafCN},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, c.root, &c.leafKey.PublicKey, c.rootKey)
	require.NoError(t, err)
	c.leaf, err = x509.ParseCertificate(leafDER)
	require.NoError(t, err)
	return c
}

// pem renders the chain leaf first, as served at an x5u URL.
func (c *testChain) pem(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, cert := range []*x509.Certificate{c.leaf, c.root} {
		require.NoError(t, pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	}
	return buf.Bytes()
}

func validChain(t *testing.T) *testChain {
	t.Helper()
	now := time.Now()
	return newTestChain(t, now.Add(-24*time.Hour), now.Add(60*24*time.Hour), "normandy.content-signature.mozilla.org")
}
