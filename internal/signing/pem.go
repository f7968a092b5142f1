package signing

import (
	"bufio"
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"strings"
)

const (
	pemBegin = "-----BEGIN CERTIFICATE-----"
	pemEnd   = "-----END CERTIFICATE-----"
)

type pemState string

const (
	stateOutside pemState = "outside"
	stateHeader  pemState = "header"
	stateBody    pemState = "body"
)

// ParseCertificateChain extracts every certificate from a PEM bundle. After
// a BEGIN line, "Key: value" metadata lines are skipped up to a blank line;
// a bundle may also start the base64 body immediately.
func ParseCertificateChain(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	var body strings.Builder
	state := stateOutside

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case stateOutside:
			switch line {
			case "":
			case pemBegin:
				state = stateHeader
				body.Reset()
			default:
				return nil, newError(KindCertificateParseError, "unexpected input %q on line %d in state %s", line, lineNo, state)
			}
		case stateHeader:
			switch {
			case line == "":
				state = stateBody
			case strings.Contains(line, ":"):
			case line == pemEnd:
				return nil, newError(KindCertificateParseError, "empty certificate on line %d in state %s", lineNo, state)
			default:
				state = stateBody
				body.WriteString(line)
			}
		case stateBody:
			switch line {
			case pemEnd:
				cert, err := decodeCertificate(body.String(), lineNo)
				if err != nil {
					return nil, err
				}
				certs = append(certs, cert)
				state = stateOutside
			case pemBegin:
				return nil, newError(KindCertificateParseError, "unexpected %q on line %d in state %s", line, lineNo, state)
			default:
				body.WriteString(line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, newError(KindCertificateParseError, "read bundle: %v", err)
	}
	if state != stateOutside {
		return nil, newError(KindCertificateParseError, "unexpected end of input on line %d in state %s", lineNo, state)
	}
	if len(certs) == 0 {
		return nil, newError(KindCertificateParseError, "no certificates found")
	}
	return certs, nil
}

func decodeCertificate(body string, lineNo int) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, newError(KindCertificateParseError, "invalid base64 in certificate ending on line %d: %v", lineNo, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, newError(KindCertificateParseError, "invalid certificate ending on line %d: %v", lineNo, err)
	}
	return cert, nil
}
