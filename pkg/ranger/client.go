package ranger

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const userAgent = "themisdb/1.0"

// HTTPError is a non-2xx response from the policy authority. The body is
// carried verbatim for diagnostics.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// TLSConfig controls transport security towards the authority.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool
	// CAFile points at a PEM bundle that replaces the system roots.
	CAFile string
	// CertFile/KeyFile enable client-certificate (mTLS) authentication.
	CertFile string
	KeyFile  string
}

// Config describes the authority endpoint and how to authenticate against it.
type Config struct {
	// BaseURL is the authority's root, e.g. https://ranger.example.com:6182.
	BaseURL string
	// PoliciesPath is appended to BaseURL, e.g. /service/public/v2/api/policy.
	PoliciesPath string
	// ServiceName selects the Ranger service whose policies are fetched.
	ServiceName string
	// BearerToken, when set, is sent as an Authorization: Bearer header.
	BearerToken string
	// Timeout bounds the whole fetch call. Defaults to 30s.
	Timeout time.Duration
	// ConnectTimeout bounds dialing the authority. Defaults to 10s.
	ConnectTimeout time.Duration
	TLS            TLSConfig
}

// Client fetches policy documents from the authority.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a client with an instrumented HTTP transport.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLS.InsecureSkipVerify {
		// #nosec G402 -- explicit operator opt-out for lab authorities
		tlsCfg.InsecureSkipVerify = true
	}
	if cfg.TLS.CAFile != "" {
		// #nosec G304 -- CA bundle path is configured by the operator
		pem, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read authority CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.TLS.CertFile != "" || cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load authority client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	transport := &http.Transport{
		TLSClientConfig: tlsCfg,
		DialContext:     (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
	}, nil
}

// requestURL joins BaseURL and PoliciesPath without doubling the slash at
// the seam, then appends the serviceName query parameter.
func (c *Client) requestURL() string {
	u := c.cfg.BaseURL
	if path := c.cfg.PoliciesPath; path != "" {
		if strings.HasSuffix(u, "/") && strings.HasPrefix(path, "/") {
			u = strings.TrimSuffix(u, "/")
		}
		u += path
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "serviceName=" + url.QueryEscape(c.cfg.ServiceName)
}

// FetchPolicies retrieves the authority's policy document. A non-2xx
// response is returned as an *HTTPError carrying the status and body.
// Retrying is the caller's responsibility.
func (c *Client) FetchPolicies(ctx context.Context) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("build authority request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch policies: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read authority response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse authority response: %w", err)
	}
	return doc, nil
}
