package signing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/normandy/internal/models"
)

// AutographConfig holds the Autograph connection settings.
type AutographConfig struct {
	URL           string
	HawkID        string
	HawkSecretKey string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Now           func() time.Time
}

// Validate reports the first missing required setting.
func (c AutographConfig) Validate() error {
	switch {
	case c.URL == "":
		return &ConfigError{Setting: "URL"}
	case c.HawkID == "":
		return &ConfigError{Setting: "HAWK_ID"}
	case c.HawkSecretKey == "":
		return &ConfigError{Setting: "HAWK_SECRET_KEY"}
	}
	return nil
}

// Enabled reports whether any Autograph setting is present.
func (c AutographConfig) Enabled() bool {
	return c.URL != "" || c.HawkID != "" || c.HawkSecretKey != ""
}

// Autographer signs payloads with Autograph's /sign/data endpoint.
type Autographer struct {
	endpoint   *url.URL
	creds      hawkCredentials
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

type signRequest struct {
	Input string `json:"input"`
}

type signResponse struct {
	Ref           string `json:"ref"`
	Signature     string `json:"signature"`
	PublicKey     string `json:"public_key"`
	X5U           string `json:"x5u"`
	HashAlgorithm string `json:"hash_algorithm"`
}

// NewAutographer validates cfg and returns a client. Configuration problems
// surface here rather than on the first signing call.
func NewAutographer(cfg AutographConfig, logger *slog.Logger) (*Autographer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid autograph url %q", cfg.URL)
	}
	if !strings.HasPrefix(base.Path, "/") {
		base.Path = "/" + base.Path
	}
	endpoint := base.JoinPath("sign", "data")

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Autographer{
		endpoint:   endpoint,
		creds:      hawkCredentials{ID: cfg.HawkID, Key: cfg.HawkSecretKey},
		httpClient: client,
		logger:     logger,
		now:        now,
	}, nil
}

// SignData signs each payload. Result i belongs to payload i.
func (a *Autographer) SignData(ctx context.Context, payloads [][]byte) ([]*models.Signature, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	reqBody := make([]signRequest, len(payloads))
	for i, p := range payloads {
		reqBody[i] = signRequest{Input: base64.StdEncoding.EncodeToString(p)}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	target := a.endpoint.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "autograph sign", URL: target, Err: err}
	}
	const contentType = "application/json"
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", a.creds.header(http.MethodPost, a.endpoint, contentType, body, a.now(), uuid.NewString()))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "autograph sign", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{Op: "autograph sign", URL: target, Status: resp.StatusCode}
	}

	var results []signResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, &TransportError{Op: "autograph sign", URL: target, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(results) != len(payloads) {
		return nil, &TransportError{Op: "autograph sign", URL: target,
			Err: fmt.Errorf("expected %d signatures, got %d", len(payloads), len(results))}
	}

	ts := a.now().UTC()
	sigs := make([]*models.Signature, len(results))
	for i, r := range results {
		sigs[i] = &models.Signature{
			Signature: r.Signature,
			Timestamp: ts,
			PublicKey: r.PublicKey,
			X5U:       r.X5U,
		}
	}

	a.logger.Info("received signatures from autograph",
		"count", len(sigs),
		"code", "normandy.signing.received_signatures")
	return sigs, nil
}
