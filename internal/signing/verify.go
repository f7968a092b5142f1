package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"strings"
)

// SignaturePrefix is prepended to the signed data.
const SignaturePrefix = "Content-Signature:\x00"

// p384 coordinates are 48 bytes, so a raw r||s signature is 96 bytes.
const (
	coordinateSize = 48
	signatureSize  = 2 * coordinateSize
)

// VerifySignature checks a URL-safe base64 r||s signature over data with a
// P-384 public key given as PEM or bare base64 DER.
func VerifySignature(data []byte, signature, publicKey string) error {
	key, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	return VerifySignatureWithKey(data, signature, key)
}

// VerifySignatureWithKey checks signature over data with key.
func VerifySignatureWithKey(data []byte, signature string, key *ecdsa.PublicKey) error {
	raw, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	if key.Curve != elliptic.P384() {
		return newError(KindBadSignature, "public key is not on curve P-384")
	}

	r := new(big.Int).SetBytes(raw[:coordinateSize])
	s := new(big.Int).SetBytes(raw[coordinateSize:])

	digest := sha512.Sum384(append([]byte(SignaturePrefix), data...))
	if !ecdsa.Verify(key, digest[:], r, s) {
		return newError(KindSignatureDoesNotMatch, "")
	}
	return nil
}

func decodeSignature(signature string) ([]byte, error) {
	signature = strings.TrimSpace(signature)
	if len(signature)%4 != 0 {
		return nil, newError(KindWrongSignatureSize, "base64 length %d is not a multiple of 4", len(signature))
	}
	raw, err := base64.URLEncoding.DecodeString(signature)
	if err != nil {
		return nil, newError(KindBadSignature, "signature is not valid base64: %v", err)
	}
	if len(raw) != signatureSize {
		return nil, newError(KindWrongSignatureSize, "expected %d bytes, got %d", signatureSize, len(raw))
	}
	return raw, nil
}

// ParsePublicKey decodes a PEM or bare base64 DER encoded ECDSA public key.
func ParsePublicKey(publicKey string) (*ecdsa.PublicKey, error) {
	der, err := publicKeyDER(publicKey)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, newError(KindBadSignature, "invalid public key: %v", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, newError(KindBadSignature, "public key is not an ECDSA key")
	}
	return key, nil
}

func publicKeyDER(publicKey string) ([]byte, error) {
	publicKey = strings.TrimSpace(publicKey)
	if strings.HasPrefix(publicKey, "-----BEGIN") {
		block, _ := pem.Decode([]byte(publicKey))
		if block == nil {
			return nil, newError(KindBadSignature, "invalid PEM public key")
		}
		return block.Bytes, nil
	}
	if len(publicKey)%4 != 0 {
		return nil, newError(KindWrongPublicKeySize, "base64 length %d is not a multiple of 4", len(publicKey))
	}
	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, newError(KindBadSignature, "public key is not valid base64: %v", err)
	}
	return der, nil
}

// EncodePublicKey renders key as bare base64 DER, the form Autograph returns.
func EncodePublicKey(key *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
