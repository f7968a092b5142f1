// Package signing talks to the Autograph signing service and verifies
// content signatures and their x5u certificate chains.
package signing

import (
	"fmt"
)

// Kind classifies a signature or certificate failure.
type Kind string

// Failure kinds. KindBadSignature and KindBadCertificate are families; every
// certificate kind is also a bad signature.
const (
	KindBadSignature           Kind = "bad_signature"
	KindSignatureDoesNotMatch  Kind = "signature_does_not_match"
	KindWrongSignatureSize     Kind = "wrong_signature_size"
	KindWrongPublicKeySize     Kind = "wrong_public_key_size"
	KindBadCertificate         Kind = "bad_certificate"
	KindCertificateNotYetValid Kind = "certificate_not_yet_valid"
	KindCertificateExpired     Kind = "certificate_expired"
	KindCertificateExpiring    Kind = "certificate_expiring_soon"
	KindCertificateParseError  Kind = "certificate_parse_error"
	KindCertificateWrongRoot   Kind = "certificate_has_wrong_root"
	KindCertificateWrongSubj   Kind = "certificate_has_wrong_subject"
)

var kindMessages = map[Kind]string{
	KindBadSignature:           "Unknown signature error",
	KindSignatureDoesNotMatch:  "Signature does not match",
	KindWrongSignatureSize:     "Signature is not the right number of bytes",
	KindWrongPublicKeySize:     "Public key is not the right number of bytes",
	KindBadCertificate:         "Unknown certificate error",
	KindCertificateNotYetValid: "Certificate is not yet valid",
	KindCertificateExpired:     "Certificate is expired",
	KindCertificateExpiring:    "Certificate expires soon",
	KindCertificateParseError:  "Could not parse certificate",
	KindCertificateWrongRoot:   "Certificate is not based on expected root hash",
	KindCertificateWrongSubj:   "Certificate does not have the expected subject",
}

func (k Kind) isCertificate() bool {
	switch k {
	case KindBadCertificate, KindCertificateNotYetValid, KindCertificateExpired, KindCertificateExpiring,
		KindCertificateParseError, KindCertificateWrongRoot, KindCertificateWrongSubj:
		return true
	}
	return false
}

// Error is a signature or certificate verification failure.
type Error struct {
	Kind   Kind
	Detail string
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := kindMessages[e.Kind]
	if e.Detail == "" {
		return msg
	}
	return msg + ": " + e.Detail
}

// Is matches errors of the same kind, and the family sentinels match any
// member of their family.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	switch t.Kind {
	case e.Kind:
		return true
	case KindBadSignature:
		return true
	case KindBadCertificate:
		return e.Kind.isCertificate()
	}
	return false
}

// Sentinels for use with errors.Is.
var (
	ErrBadSignature            = &Error{Kind: KindBadSignature}
	ErrSignatureDoesNotMatch   = &Error{Kind: KindSignatureDoesNotMatch}
	ErrWrongSignatureSize      = &Error{Kind: KindWrongSignatureSize}
	ErrWrongPublicKeySize      = &Error{Kind: KindWrongPublicKeySize}
	ErrBadCertificate          = &Error{Kind: KindBadCertificate}
	ErrCertificateNotYetValid  = &Error{Kind: KindCertificateNotYetValid}
	ErrCertificateExpired      = &Error{Kind: KindCertificateExpired}
	ErrCertificateExpiringSoon = &Error{Kind: KindCertificateExpiring}
	ErrCertificateParseError   = &Error{Kind: KindCertificateParseError}
	ErrCertificateWrongRoot    = &Error{Kind: KindCertificateWrongRoot}
	ErrCertificateWrongSubject = &Error{Kind: KindCertificateWrongSubj}
)

// TransportError reports that a remote endpoint could not be reached or
// answered with an error status. It never means a signature is invalid.
type TransportError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigError reports a required setting that is missing.
type ConfigError struct {
	Setting string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("The setting AUTOGRAPH_%s is required.", e.Setting)
}
