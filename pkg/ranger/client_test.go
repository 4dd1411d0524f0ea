package ranger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "plain join",
			cfg:  Config{BaseURL: "https://ranger:6182", PoliciesPath: "/service/public/v2/api/policy", ServiceName: "themisdb"},
			want: "https://ranger:6182/service/public/v2/api/policy?serviceName=themisdb",
		},
		{
			name: "seam slash deduplicated",
			cfg:  Config{BaseURL: "https://ranger:6182/", PoliciesPath: "/policy", ServiceName: "themisdb"},
			want: "https://ranger:6182/policy?serviceName=themisdb",
		},
		{
			name: "relative path appended as-is",
			cfg:  Config{BaseURL: "https://ranger:6182/api/", PoliciesPath: "policy", ServiceName: "themisdb"},
			want: "https://ranger:6182/api/policy?serviceName=themisdb",
		},
		{
			name: "existing query uses ampersand",
			cfg:  Config{BaseURL: "https://ranger:6182/policy?scope=all", ServiceName: "themisdb"},
			want: "https://ranger:6182/policy?scope=all&serviceName=themisdb",
		},
		{
			name: "service name escaped",
			cfg:  Config{BaseURL: "https://ranger:6182/policy", ServiceName: "themis db"},
			want: "https://ranger:6182/policy?serviceName=themis+db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.requestURL())
		})
	}
}

func TestFetchPoliciesSendsExpectedRequest(t *testing.T) {
	var got *http.Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name": "p", "policyItems": [{"users": ["alice"], "accesses": [{"type": "read"}]}]}]`))
	}))
	defer ts.Close()

	c, err := NewClient(Config{
		BaseURL:      ts.URL,
		PoliciesPath: "/service/public/v2/api/policy",
		ServiceName:  "themisdb",
		BearerToken:  "s3cret",
	})
	require.NoError(t, err)

	doc, err := c.FetchPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, doc, 1)
	assert.Equal(t, "p", doc[0].Name)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/service/public/v2/api/policy", got.URL.Path)
	assert.Equal(t, "themisdb", got.URL.Query().Get("serviceName"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "themisdb/1.0", got.Header.Get("User-Agent"))
	assert.Equal(t, "Bearer s3cret", got.Header.Get("Authorization"))
}

func TestFetchPoliciesOmitsAuthorizationWithoutToken(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c, err := NewClient(Config{BaseURL: ts.URL, ServiceName: "themisdb"})
	require.NoError(t, err)

	_, err = c.FetchPolicies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestFetchPoliciesNon2xxBecomesHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("ranger is down"))
	}))
	defer ts.Close()

	c, err := NewClient(Config{BaseURL: ts.URL, ServiceName: "themisdb"})
	require.NoError(t, err)

	_, err = c.FetchPolicies(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, "ranger is down", httpErr.Body)
	assert.Equal(t, "HTTP 503: ranger is down", httpErr.Error())
}

func TestFetchPoliciesRejectsMalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": `))
	}))
	defer ts.Close()

	c, err := NewClient(Config{BaseURL: ts.URL, ServiceName: "themisdb"})
	require.NoError(t, err)

	_, err = c.FetchPolicies(context.Background())
	require.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestFetchPoliciesTLSVerification(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	// The test server's certificate is self-signed, so verification fails.
	strict, err := NewClient(Config{BaseURL: ts.URL, ServiceName: "themisdb", Timeout: 5 * time.Second})
	require.NoError(t, err)
	_, err = strict.FetchPolicies(context.Background())
	require.Error(t, err)

	relaxed, err := NewClient(Config{
		BaseURL:     ts.URL,
		ServiceName: "themisdb",
		Timeout:     5 * time.Second,
		TLS:         TLSConfig{InsecureSkipVerify: true},
	})
	require.NoError(t, err)
	_, err = relaxed.FetchPolicies(context.Background())
	assert.NoError(t, err)
}

func TestNewClientRejectsBadTLSMaterial(t *testing.T) {
	_, err := NewClient(Config{
		BaseURL: "https://ranger:6182",
		TLS:     TLSConfig{CAFile: "/does/not/exist.pem"},
	})
	require.Error(t, err)

	_, err = NewClient(Config{
		BaseURL: "https://ranger:6182",
		TLS:     TLSConfig{CertFile: "/does/not/exist.crt", KeyFile: "/does/not/exist.key"},
	})
	require.Error(t, err)
}
