// Package discovery polls the exporter's service discovery endpoint and
// keeps a Prometheus file_sd server list up to date.
package discovery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
	"github.com/vsanmetrics/vsan-exporter/internal/version"
)

var (
	// ErrEndpointUnavailable is returned when the endpoint answers 404.
	ErrEndpointUnavailable = errors.New("service discovery endpoint is unavailable")
	// ErrEmptyResponse is returned when the endpoint answers with no body.
	ErrEmptyResponse = errors.New("service discovery returned an empty response")
)

// Discovery modes.
const (
	ModeProxy  = "proxy"
	ModeDirect = "direct"
)

// Config holds the discovery client configuration
type Config struct {
	VCenter         string        `yaml:"vcenter"`
	Scheme          string        `yaml:"scheme"`
	Endpoint        string        `yaml:"endpoint"`
	Mode            string        `yaml:"mode"`
	Interval        time.Duration `yaml:"interval"`
	BearerToken     string        `yaml:"bearer_token"`
	BearerTokenFile string        `yaml:"bearer_token_file"`
	CACertFile      string        `yaml:"ca_cert_file"`
	OutputFile      string        `yaml:"output_file"`
	Standalone      bool          `yaml:"standalone"`
	// Component names the caller in the User-Agent header.
	Component string `yaml:"-"`
}

// DefaultConfig returns the default discovery configuration
func DefaultConfig() Config {
	return Config{
		Scheme:          "https",
		Endpoint:        "vsan/metrics/serviceDiscovery",
		Mode:            ModeProxy,
		Interval:        300 * time.Second,
		BearerTokenFile: "/etc/secret-volume/bearer-token",
		CACertFile:      "/etc/cert-volume/ca_cert.pem",
		OutputFile:      "/prom-config-server/servers.json",
		Component:       "servicediscovery",
	}
}

// Target is one service discovery record.
type Target struct {
	Targets []string          `json:"targets"`
	Labels  map[string]string `json:"labels"`
}

// ParseTargets decodes a service discovery response.
func ParseTargets(body []byte) ([]Target, error) {
	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, fmt.Errorf("failed to decode service discovery response: %w", err)
	}
	return targets, nil
}

// Client fetches the service discovery document.
type Client struct {
	logger *zap.Logger
	config Config

	// lookupAddr resolves an address to host names.
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
}

// NewClient creates a discovery client. An unknown mode falls back to proxy.
func NewClient(logger *zap.Logger, config Config) *Client {
	if config.Mode != ModeProxy && config.Mode != ModeDirect {
		logger.Warn("Illegal mode, defaulting to proxy", zap.String("mode", config.Mode))
		config.Mode = ModeProxy
	}
	if config.Scheme == "" {
		config.Scheme = DefaultConfig().Scheme
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultConfig().Endpoint
	}
	if config.Component == "" {
		config.Component = DefaultConfig().Component
	}
	return &Client{
		logger:     logger,
		config:     config,
		lookupAddr: net.DefaultResolver.LookupAddr,
	}
}

// verifyTLS reports whether the server certificate is checked against the
// configured CA.
func (c *Client) verifyTLS() bool {
	if c.config.Scheme != "https" || c.config.CACertFile == "" {
		return false
	}
	_, err := os.Stat(c.config.CACertFile)
	return err == nil
}

// URL returns the endpoint URL. With verify set, an IPv4 vCenter address is
// replaced by its host name since certificates are issued on FQDNs.
func (c *Client) URL(ctx context.Context, verify bool) string {
	address := c.config.VCenter
	if verify {
		address = c.fqdn(ctx, address)
	}
	endpoint := strings.TrimPrefix(c.config.Endpoint, "/")
	if c.config.Mode == ModeDirect {
		endpoint += "?mode=direct"
	}
	return fmt.Sprintf("%s://%s/%s", c.config.Scheme, address, endpoint)
}

func (c *Client) fqdn(ctx context.Context, address string) string {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return address
	}
	names, err := c.lookupAddr(ctx, address)
	if err != nil || len(names) == 0 {
		c.logger.Warn("Failed to resolve vCenter address", zap.String("address", address), zap.Error(err))
		return address
	}
	return strings.TrimSuffix(names[0], ".")
}

// Token returns the bearer token. The configured value wins over the token
// file, which is re-read on every call to pick up rotations.
func (c *Client) Token() (string, error) {
	if c.config.BearerToken != "" {
		return c.config.BearerToken, nil
	}
	data, err := os.ReadFile(c.config.BearerTokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read bearer token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Client) httpClient(verify bool) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: true}
	if verify {
		pem, err := os.ReadFile(c.config.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.config.CACertFile)
		}
		tlsConfig = &tls.Config{RootCAs: pool}
	}
	return &http.Client{
		Timeout:   60 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsConfig, Proxy: http.ProxyFromEnvironment},
	}, nil
}

// Fetch returns the raw service discovery document.
func (c *Client) Fetch(ctx context.Context) (body []byte, err error) {
	defer func() { metrics.RecordDiscoveryPoll(err) }()

	token, err := c.Token()
	if err != nil {
		return nil, err
	}

	verify := c.verifyTLS()
	url := c.URL(ctx, verify)
	requestID := uuid.NewString()
	c.logger.Info("Querying service discovery",
		zap.String("url", url),
		zap.Bool("verifyTLS", verify),
		zap.String("requestId", requestID))

	client, err := c.httpClient(verify)
	if err != nil {
		return nil, err
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", version.UserAgent(c.config.Component))
	req.Header.Set("X-Request-Id", requestID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query service discovery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrEndpointUnavailable
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read service discovery response: %w", err)
	}
	if len(body) == 0 {
		return nil, ErrEmptyResponse
	}
	return body, nil
}

// FetchTargets fetches and decodes the service discovery document.
func (c *Client) FetchTargets(ctx context.Context) ([]Target, error) {
	body, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return ParseTargets(body)
}
