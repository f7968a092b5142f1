package signing

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds calls to Autograph and x5u hosts.
const DefaultTimeout = 30 * time.Second

const maxBundleSize = 1 << 20

// VerifierConfig configures certificate chain checks.
type VerifierConfig struct {
	// CheckValidity enables the notBefore/notAfter checks.
	CheckValidity bool
	// ExpectedRootHash pins the SHA-256 of the root certificate. Colons and
	// case are ignored. Empty disables the check.
	ExpectedRootHash string
	// ExpectedSubjectCN pins the leaf certificate common name. Empty
	// disables the check.
	ExpectedSubjectCN string

	HTTPClient *http.Client
	Now        func() time.Time
}

// Verifier fetches and validates x5u certificate chains.
type Verifier struct {
	cfg        VerifierConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewVerifier creates a verifier. A nil HTTP client gets DefaultTimeout.
func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{cfg: cfg, httpClient: cfg.HTTPClient, now: cfg.Now}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// FetchCertificates downloads and parses the PEM bundle at url.
func (v *Verifier) FetchCertificates(ctx context.Context, url string) ([]*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Op: "fetch x5u", URL: url, Err: err}
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch x5u", URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Op: "fetch x5u", URL: url, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBundleSize))
	if err != nil {
		return nil, &TransportError{Op: "fetch x5u", URL: url, Err: err}
	}
	return ParseCertificateChain(data)
}

// VerifyChain applies the validity window, root pin and subject pin to a
// chain ordered leaf first. A positive expireEarly also rejects
// certificates that expire within that window.
func (v *Verifier) VerifyChain(certs []*x509.Certificate, expireEarly time.Duration) (*x509.Certificate, error) {
	if len(certs) == 0 {
		return nil, newError(KindCertificateParseError, "empty certificate chain")
	}

	if v.cfg.CheckValidity {
		now := v.now()
		for _, cert := range certs {
			if err := checkValidity(cert, now, expireEarly); err != nil {
				return nil, err
			}
		}
	}

	if v.cfg.ExpectedRootHash != "" {
		root := certs[len(certs)-1]
		sum := sha256.Sum256(root.Raw)
		got := strings.ToUpper(hex.EncodeToString(sum[:]))
		want := normalizeHash(v.cfg.ExpectedRootHash)
		if got != want {
			return nil, newError(KindCertificateWrongRoot, "expected %s, got %s", want, got)
		}
	}

	leaf := certs[0]
	if v.cfg.ExpectedSubjectCN != "" && leaf.Subject.CommonName != v.cfg.ExpectedSubjectCN {
		return nil, newError(KindCertificateWrongSubj, "expected %q, got %q", v.cfg.ExpectedSubjectCN, leaf.Subject.CommonName)
	}
	return leaf, nil
}

// VerifyX5U fetches the chain at url and verifies it, returning the leaf.
func (v *Verifier) VerifyX5U(ctx context.Context, url string, expireEarly time.Duration) (*x509.Certificate, error) {
	certs, err := v.FetchCertificates(ctx, url)
	if err != nil {
		return nil, err
	}
	return v.VerifyChain(certs, expireEarly)
}

// VerifySignatureX5U verifies signature over data with the leaf certificate
// of the chain at x5u.
func (v *Verifier) VerifySignatureX5U(ctx context.Context, data []byte, signature, x5u string) error {
	leaf, err := v.VerifyX5U(ctx, x5u, 0)
	if err != nil {
		return err
	}
	return VerifySignatureWithCertificate(data, signature, leaf)
}

// VerifySignatureWithCertificate verifies signature with cert's public key.
func VerifySignatureWithCertificate(data []byte, signature string, cert *x509.Certificate) error {
	key, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return newError(KindBadSignature, "certificate key is %T, not ECDSA", cert.PublicKey)
	}
	return VerifySignatureWithKey(data, signature, key)
}

func checkValidity(cert *x509.Certificate, now time.Time, expireEarly time.Duration) error {
	subject := cert.Subject.CommonName
	if now.Before(cert.NotBefore) {
		return newError(KindCertificateNotYetValid, "%q is not valid until %s", subject, cert.NotBefore.UTC().Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return newError(KindCertificateExpired, "%q expired at %s", subject, cert.NotAfter.UTC().Format(time.RFC3339))
	}
	if expireEarly > 0 && now.Add(expireEarly).After(cert.NotAfter) {
		return newError(KindCertificateExpiring, "%q expires at %s, within %s", subject,
			cert.NotAfter.UTC().Format(time.RFC3339), formatDays(expireEarly))
	}
	return nil
}

func normalizeHash(h string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(h), ":", ""))
}

func formatDays(d time.Duration) string {
	days := d.Hours() / 24
	if days == float64(int64(days)) {
		return fmt.Sprintf("%d days", int64(days))
	}
	return d.String()
}
