package integration

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/makr-code/themis-policy/pkg/governance"
	"github.com/makr-code/themis-policy/pkg/policy"
	"github.com/makr-code/themis-policy/pkg/ranger"
	"github.com/makr-code/themis-policy/pkg/server"
)

// testLogger keeps test output quiet unless something goes wrong.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func closeBody(t *testing.T, c io.Closer) {
	t.Helper()

	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		t.Fatalf("failed to close response body: %v", err)
	}
}

// newAdminServer wires a live admin API around the given components and
// returns the running test server. syncer may be nil.
func newAdminServer(t *testing.T, store *policy.Store, gov *governance.Engine, syncer server.SyncTrigger) *httptest.Server {
	t.Helper()

	srv := server.New(server.Options{
		Store:      store,
		Governance: gov,
		Syncer:     syncer,
		Logger:     testLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// doRequest issues one request against the test server. A nil body sends no
// payload; everything else is JSON-encoded. The caller owns the response
// body.
func doRequest(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, url, err)
	}
	return resp
}

// decodeInto drains the response body into out and closes it.
func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer closeBody(t, resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// mockAuthority is a Ranger-style policy endpoint that serves a fixed
// document and records what it was asked.
type mockAuthority struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []*http.Request
	failures int
	document ranger.Document
}

func newMockAuthority(t *testing.T, doc ranger.Document) *mockAuthority {
	t.Helper()

	a := &mockAuthority{document: doc}
	a.server = httptest.NewServer(http.HandlerFunc(a.handler))
	t.Cleanup(a.server.Close)
	return a
}

func (a *mockAuthority) handler(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, r)
	if a.failures > 0 {
		a.failures--
		http.Error(w, "authority unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.document)
}

func (a *mockAuthority) URL() string { return a.server.URL }

// FailNext makes the next n requests answer 503 before serving the document
// again.
func (a *mockAuthority) FailNext(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = n
}

func (a *mockAuthority) SetDocument(doc ranger.Document) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.document = doc
}

func (a *mockAuthority) RequestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

// LastRequest returns the most recent request or nil.
func (a *mockAuthority) LastRequest() *http.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return nil
	}
	return a.requests[len(a.requests)-1]
}

// certPair is a self-signed certificate written to disk plus its in-memory
// form for use as a client certificate.
type certPair struct {
	certFile string
	keyFile  string
	tlsCert  tls.Certificate
}

// newSelfSignedCert generates a certificate for localhost under dir. The
// certificate file doubles as the trust bundle for peers verifying it.
func newSelfSignedCert(t *testing.T, dir, name string, usage x509.ExtKeyUsage) certPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serial: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{usage},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	certFile := filepath.Join(dir, name+".crt")
	keyFile := filepath.Join(dir, name+".key")
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("failed to write certificate: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("failed to build key pair: %v", err)
	}

	return certPair{certFile: certFile, keyFile: keyFile, tlsCert: tlsCert}
}
