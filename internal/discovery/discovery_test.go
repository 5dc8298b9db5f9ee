package discovery

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testToken    = "f3209af8-9d73-4d74-a4c9-5d1f14"
	testProvider = `[{"labels":{"__metrics_path__":"/vsan/metrics/host-16",` +
		`"cluster_id":"domain-c8","cluster_name":"VSAN-Cluster"},"targets":["127.0.0.1:8080"]}]`
)

type discoveryServer struct {
	*httptest.Server
	mu        sync.Mutex
	status    int
	body      string
	auth      string
	query     string
	requestID string
	userAgent string
}

func newDiscoveryServer(t *testing.T) *discoveryServer {
	t.Helper()
	s := &discoveryServer{status: http.StatusOK, body: testProvider}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vsan/metrics/serviceDiscovery" {
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.auth = r.Header.Get("Authorization")
		s.requestID = r.Header.Get("X-Request-Id")
		s.userAgent = r.Header.Get("User-Agent")
		s.query = r.URL.RawQuery
		w.WriteHeader(s.status)
		w.Write([]byte(s.body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *discoveryServer) set(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.body = status, body
}

func (s *discoveryServer) seen() (auth, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth, s.query
}

func (s *discoveryServer) address() string {
	return strings.TrimPrefix(s.URL, "https://")
}

func testConfig(t *testing.T, address string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.VCenter = address
	cfg.BearerToken = testToken
	cfg.CACertFile = filepath.Join(dir, "missing-ca.pem")
	cfg.BearerTokenFile = filepath.Join(dir, "missing-token")
	cfg.OutputFile = filepath.Join(dir, "prom", "servers.json")
	return cfg
}

func TestURL(t *testing.T) {
	cfg := testConfig(t, "0.0.0.0")
	c := NewClient(zaptest.NewLogger(t), cfg)
	assert.Equal(t, "https://0.0.0.0/vsan/metrics/serviceDiscovery", c.URL(context.Background(), false))

	cfg.Mode = ModeDirect
	cfg.Scheme = "http"
	c = NewClient(zaptest.NewLogger(t), cfg)
	assert.Equal(t, "http://0.0.0.0/vsan/metrics/serviceDiscovery?mode=direct", c.URL(context.Background(), false))

	cfg.Mode = "bogus"
	c = NewClient(zaptest.NewLogger(t), cfg)
	assert.Equal(t, "http://0.0.0.0/vsan/metrics/serviceDiscovery", c.URL(context.Background(), false))
}

func TestURLResolvesIPv4ToFQDN(t *testing.T) {
	c := NewClient(zaptest.NewLogger(t), testConfig(t, "10.0.0.5"))
	c.lookupAddr = func(_ context.Context, addr string) ([]string, error) {
		assert.Equal(t, "10.0.0.5", addr)
		return []string{"vc.example.com."}, nil
	}

	assert.Equal(t, "https://vc.example.com/vsan/metrics/serviceDiscovery", c.URL(context.Background(), true))
	assert.Equal(t, "https://10.0.0.5/vsan/metrics/serviceDiscovery", c.URL(context.Background(), false))

	c.config.VCenter = "vc.example.com"
	assert.Equal(t, "https://vc.example.com/vsan/metrics/serviceDiscovery", c.URL(context.Background(), true))

	c.config.VCenter = "10.0.0.6"
	c.lookupAddr = func(context.Context, string) ([]string, error) { return nil, errors.New("no PTR record") }
	assert.Equal(t, "https://10.0.0.6/vsan/metrics/serviceDiscovery", c.URL(context.Background(), true))
}

func TestToken(t *testing.T) {
	cfg := testConfig(t, "vc")
	require.NoError(t, os.WriteFile(cfg.BearerTokenFile, []byte("from-file\n"), 0o600))

	c := NewClient(zaptest.NewLogger(t), cfg)
	token, err := c.Token()
	require.NoError(t, err)
	assert.Equal(t, testToken, token)

	c.config.BearerToken = ""
	token, err = c.Token()
	require.NoError(t, err)
	assert.Equal(t, "from-file", token)

	require.NoError(t, os.WriteFile(cfg.BearerTokenFile, []byte("rotated"), 0o600))
	token, err = c.Token()
	require.NoError(t, err)
	assert.Equal(t, "rotated", token)

	c.config.BearerTokenFile = filepath.Join(t.TempDir(), "nope")
	_, err = c.Token()
	assert.Error(t, err)
}

func TestFetchWithoutCA(t *testing.T) {
	srv := newDiscoveryServer(t)
	c := NewClient(zaptest.NewLogger(t), testConfig(t, srv.address()))

	body, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testProvider, string(body))
	auth, query := srv.seen()
	assert.Equal(t, "Bearer "+testToken, auth)
	assert.Empty(t, query)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	_, err = uuid.Parse(srv.requestID)
	assert.NoError(t, err, "each poll carries a request id")
	assert.True(t, strings.HasPrefix(srv.userAgent, "vsan-servicediscovery/"))
}

// selfSignedCert returns a fresh certificate for the loopback addresses,
// distinct from the one built into httptest.
func selfSignedCert(t *testing.T) (tls.Certificate, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{Organization: []string{"vsan test"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost", "example.com"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return pair, certPEM
}

func TestFetchRejectsServerWithOwnCertificate(t *testing.T) {
	pair, _ := selfSignedCert(t)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testProvider))
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{pair}}
	srv.StartTLS()
	defer srv.Close()

	// the CA file holds httptest's built-in certificate, not the one served
	builtin := httptest.NewTLSServer(http.NotFoundHandler())
	defer builtin.Close()
	cfg := testConfig(t, strings.TrimPrefix(srv.URL, "https://"))
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: builtin.Certificate().Raw})
	require.NoError(t, os.WriteFile(cfg.CACertFile, caPEM, 0o600))

	_, err := NewClient(zaptest.NewLogger(t), cfg).Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetchVerifiesAgainstCA(t *testing.T) {
	srv := newDiscoveryServer(t)
	cfg := testConfig(t, srv.address())
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(cfg.CACertFile, cert, 0o600))

	c := NewClient(zaptest.NewLogger(t), cfg)
	assert.True(t, c.verifyTLS())
	body, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testProvider, string(body))

	_, otherCert := selfSignedCert(t)
	require.NoError(t, os.WriteFile(cfg.CACertFile, otherCert, 0o600))
	_, err = c.Fetch(context.Background())
	assert.Error(t, err, "certificate signed by another CA must be rejected")
}

func TestFetchDirectMode(t *testing.T) {
	srv := newDiscoveryServer(t)
	cfg := testConfig(t, srv.address())
	cfg.Mode = ModeDirect

	_, err := NewClient(zaptest.NewLogger(t), cfg).Fetch(context.Background())
	require.NoError(t, err)
	_, query := srv.seen()
	assert.Equal(t, "mode=direct", query)
}

func TestFetchErrors(t *testing.T) {
	srv := newDiscoveryServer(t)
	c := NewClient(zaptest.NewLogger(t), testConfig(t, srv.address()))

	srv.set(http.StatusNotFound, testProvider)
	_, err := c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEndpointUnavailable)

	srv.set(http.StatusOK, "")
	_, err = c.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestFetchTargets(t *testing.T) {
	srv := newDiscoveryServer(t)
	c := NewClient(zaptest.NewLogger(t), testConfig(t, srv.address()))

	targets, err := c.FetchTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, []string{"127.0.0.1:8080"}, targets[0].Targets)
	assert.Equal(t, "VSAN-Cluster", targets[0].Labels["cluster_name"])
	assert.Equal(t, "/vsan/metrics/host-16", targets[0].Labels["__metrics_path__"])
}

func TestWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "servers.json")
	w := NewWriter(path)

	written, err := w.Write([]byte(testProvider))
	require.NoError(t, err)
	assert.True(t, written)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, testProvider, string(content))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())

	written, err = w.Write([]byte(testProvider))
	require.NoError(t, err)
	assert.False(t, written, "unchanged content is not rewritten")

	written, err = w.Write([]byte("[]"))
	require.NoError(t, err)
	assert.True(t, written)
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(content))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestSidecarStandalone(t *testing.T) {
	srv := newDiscoveryServer(t)
	cfg := testConfig(t, srv.address())
	cfg.Standalone = true

	var out bytes.Buffer
	s := NewSidecar(zaptest.NewLogger(t), cfg, &out)
	require.NoError(t, s.Run(context.Background()))

	content, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, testProvider, string(content))
	assert.Contains(t, out.String(), "\n  {\n")
	assert.Contains(t, out.String(), `"cluster_name": "VSAN-Cluster"`)
}

func TestSidecarRunStopsOnCancel(t *testing.T) {
	srv := newDiscoveryServer(t)
	cfg := testConfig(t, srv.address())
	cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSidecar(zaptest.NewLogger(t), cfg, &bytes.Buffer{})
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.OutputFile)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sidecar did not stop")
	}
}

func TestSidecarKeepsRunningOnErrors(t *testing.T) {
	srv := newDiscoveryServer(t)
	srv.set(http.StatusNotFound, testProvider)
	cfg := testConfig(t, srv.address())

	s := NewSidecar(zaptest.NewLogger(t), cfg, &bytes.Buffer{})
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrEndpointUnavailable)

	srv.set(http.StatusOK, testProvider)
	require.NoError(t, s.Refresh(context.Background()))
	_, err := os.Stat(cfg.OutputFile)
	assert.NoError(t, err)
}
