package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// hawkCredentials authenticate requests with the Hawk HMAC scheme.
type hawkCredentials struct {
	ID  string
	Key string
}

// header builds a Hawk Authorization header value for a request with the
// given body. nonce must be unique per request.
func (c hawkCredentials) header(method string, u *url.URL, contentType string, body []byte, ts time.Time, nonce string) string {
	hash := hawkPayloadHash(contentType, body)
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := c.mac(hawkNormalizedString(timestamp, nonce, method, u, hash))
	return fmt.Sprintf(`Hawk id="%s", ts="%s", nonce="%s", hash="%s", mac="%s"`, c.ID, timestamp, nonce, hash, mac)
}

func (c hawkCredentials) mac(normalized string) string {
	h := hmac.New(sha256.New, []byte(c.Key))
	h.Write([]byte(normalized))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func hawkPayloadHash(contentType string, body []byte) string {
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	h := sha256.New()
	fmt.Fprintf(h, "hawk.1.payload\n%s\n", mediaType)
	h.Write(body)
	h.Write([]byte("\n"))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func hawkNormalizedString(timestamp, nonce, method string, u *url.URL, hash string) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	resource := u.EscapedPath()
	if !strings.HasPrefix(resource, "/") {
		resource = "/" + resource
	}
	if u.RawQuery != "" {
		resource += "?" + u.RawQuery
	}
	return fmt.Sprintf("hawk.1.header\n%s\n%s\n%s\n%s\n%s\n%s\n%s\n%s\n",
		timestamp, nonce, strings.ToUpper(method), resource, host, port, hash, "")
}
