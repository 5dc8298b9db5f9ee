package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vsanmetrics/vsan-exporter/internal/collector"
	"github.com/vsanmetrics/vsan-exporter/internal/discovery"
	"github.com/vsanmetrics/vsan-exporter/internal/operator"
	"github.com/vsanmetrics/vsan-exporter/internal/vsphere"
)

// Config represents the application configuration shared by the exporter,
// the service discovery sidecar and the operator.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	VCenter   VCenterConfig   `yaml:"vcenter"`
	Exporter  ExporterConfig  `yaml:"exporter"`
	Logging   LoggingConfig   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Operator  OperatorConfig  `yaml:"operator"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RequestTimeout bounds a request in seconds. Zero disables it.
	RequestTimeout int `yaml:"request_timeout"`
}

// VCenterConfig locates the vCenter and the monitored cluster. The exporter
// connects on start when Host is set.
type VCenterConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Cluster  string `yaml:"cluster"`
	Insecure bool   `yaml:"insecure"`
}

// ExporterConfig represents the collector configuration
type ExporterConfig struct {
	BearerToken string `yaml:"bearer_token"`
	// ConsistencyCheckInterval is in seconds.
	ConsistencyCheckInterval int `yaml:"consistency_check_interval"`
	MaxConcurrentHosts       int `yaml:"max_concurrent_hosts"`
	HostLookupsPerMinute     int `yaml:"host_lookups_per_minute"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DiscoveryConfig represents the service discovery client configuration
type DiscoveryConfig struct {
	VCenter         string `yaml:"vcenter"`
	Scheme          string `yaml:"scheme"`
	Endpoint        string `yaml:"endpoint"`
	Mode            string `yaml:"mode"`
	Interval        int    `yaml:"interval"`
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
	CACertFile      string `yaml:"ca_cert_file"`
	OutputFile      string `yaml:"output_file"`
	Standalone      bool   `yaml:"standalone"`
}

// OperatorConfig represents the Kubernetes operator configuration
type OperatorConfig struct {
	Label              string `yaml:"label"`
	LabelKey           string `yaml:"label_key"`
	ServiceMonitorName string `yaml:"service_monitor_name"`
	SecretName         string `yaml:"secret_name"`
	Namespace          string `yaml:"namespace"`
	KubeMode           string `yaml:"kube_mode"`
	Kubeconfig         string `yaml:"kubeconfig"`
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

func defaults() *Config {
	disc := discovery.DefaultConfig()
	op := operator.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:           "0.0.0.0:8080",
			RequestTimeout: 120,
		},
		VCenter: VCenterConfig{
			Port:     443,
			Insecure: true,
		},
		Exporter: ExporterConfig{
			ConsistencyCheckInterval: int(collector.DefaultConfig().ConsistencyCheckInterval / time.Second),
			HostLookupsPerMinute:     collector.DefaultConfig().HostLookupsPerMinute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Discovery: DiscoveryConfig{
			Scheme:          disc.Scheme,
			Endpoint:        disc.Endpoint,
			Mode:            disc.Mode,
			Interval:        int(disc.Interval / time.Second),
			BearerTokenFile: disc.BearerTokenFile,
			CACertFile:      disc.CACertFile,
			OutputFile:      disc.OutputFile,
		},
		Operator: OperatorConfig{
			Label:      op.Label,
			LabelKey:   op.LabelKey,
			SecretName: op.SecretName,
			KubeMode:   "incluster",
		},
	}
}

// loadWithDefaults loads configuration with defaults, optionally from a
// file. Environment variables take precedence over file values.
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := defaults()

	// If a config file path is provided, load and merge it
	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("VSAN_SERVER_ADDR", cfg.Server.Addr)
	// Override port if PORT env var is set
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}
	cfg.Server.RequestTimeout = getEnvInt("VSAN_REQUEST_TIMEOUT", cfg.Server.RequestTimeout)

	cfg.VCenter.Host = getEnv("VCENTER", cfg.VCenter.Host)
	cfg.VCenter.Port = getEnvInt("VCPORT", cfg.VCenter.Port)
	cfg.VCenter.User = getEnv("VCUSER", cfg.VCenter.User)
	cfg.VCenter.Password = getEnv("VCPASSWORD", cfg.VCenter.Password)
	cfg.VCenter.Cluster = getEnv("CLUSTERNAME", cfg.VCenter.Cluster)
	cfg.VCenter.Insecure = getEnvBool("VCINSECURE", cfg.VCenter.Insecure)

	cfg.Exporter.BearerToken = getEnv("BEARER_TOKEN", cfg.Exporter.BearerToken)
	cfg.Exporter.ConsistencyCheckInterval = getEnvInt("HOST_CONSISTENCY_CHECK_INTERVAL", cfg.Exporter.ConsistencyCheckInterval)
	cfg.Exporter.MaxConcurrentHosts = getEnvInt("VSAN_MAX_CONCURRENT_HOSTS", cfg.Exporter.MaxConcurrentHosts)
	cfg.Exporter.HostLookupsPerMinute = getEnvInt("VSAN_HOST_LOOKUPS_PER_MINUTE", cfg.Exporter.HostLookupsPerMinute)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)

	cfg.Discovery.VCenter = getEnv("VCENTER", cfg.Discovery.VCenter)
	cfg.Discovery.Scheme = getEnv("SCHEME", cfg.Discovery.Scheme)
	cfg.Discovery.Endpoint = getEnv("DISCOVERY_ENDPOINT", cfg.Discovery.Endpoint)
	cfg.Discovery.Mode = getEnv("MODE", cfg.Discovery.Mode)
	cfg.Discovery.Interval = getEnvInt("INTERVAL_SEC", cfg.Discovery.Interval)
	cfg.Discovery.BearerToken = getEnv("BEARER_TOKEN", cfg.Discovery.BearerToken)
	cfg.Discovery.BearerTokenFile = getEnv("BEARER_TOKEN_FILE", cfg.Discovery.BearerTokenFile)
	cfg.Discovery.CACertFile = getEnv("CA_CERT_FILE", cfg.Discovery.CACertFile)
	cfg.Discovery.OutputFile = getEnv("CONFIG_DIR", cfg.Discovery.OutputFile)
	if _, ok := os.LookupEnv("STANDALONE"); ok {
		cfg.Discovery.Standalone = true
	}

	cfg.Operator.Label = getEnv("LABEL", cfg.Operator.Label)
	cfg.Operator.LabelKey = getEnv("LABEL_KEY", cfg.Operator.LabelKey)
	cfg.Operator.ServiceMonitorName = getEnv("SERVICEMONITOR_NAME", cfg.Operator.ServiceMonitorName)
	cfg.Operator.SecretName = getEnv("SECRET_NAME", cfg.Operator.SecretName)
	cfg.Operator.Namespace = getEnv("NAMESPACE", cfg.Operator.Namespace)
	cfg.Operator.KubeMode = getEnv("VSAN_KUBE_MODE", cfg.Operator.KubeMode)
	cfg.Operator.Kubeconfig = getEnv("KUBECONFIG", cfg.Operator.Kubeconfig)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// loadFromYAMLFile decodes a YAML file over cfg. Keys missing from the
// file keep their current values.
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Exporter.ConsistencyCheckInterval <= 0 {
		return fmt.Errorf("consistency check interval must be positive")
	}
	if c.Exporter.MaxConcurrentHosts < 0 {
		return fmt.Errorf("max concurrent hosts cannot be negative")
	}
	if c.Operator.KubeMode != "incluster" && c.Operator.KubeMode != "kubeconfig" {
		return fmt.Errorf("kubernetes mode must be 'incluster' or 'kubeconfig'")
	}
	return nil
}

// Credentials returns the vCenter credentials.
func (c *Config) Credentials() vsphere.Credentials {
	return vsphere.Credentials{
		Host:     c.VCenter.Host,
		Port:     c.VCenter.Port,
		User:     c.VCenter.User,
		Password: c.VCenter.Password,
		Insecure: c.VCenter.Insecure,
	}
}

// CollectorConfig creates the collector configuration from the main config
func (c *Config) CollectorConfig() collector.Config {
	return collector.Config{
		Credentials:              c.Credentials(),
		ClusterName:              c.VCenter.Cluster,
		BearerToken:              c.Exporter.BearerToken,
		ConsistencyCheckInterval: time.Duration(c.Exporter.ConsistencyCheckInterval) * time.Second,
		MaxConcurrentHosts:       c.Exporter.MaxConcurrentHosts,
		HostLookupsPerMinute:     c.Exporter.HostLookupsPerMinute,
	}
}

// DiscoveryClientConfig creates the discovery client configuration
func (c *Config) DiscoveryClientConfig() discovery.Config {
	return discovery.Config{
		VCenter:         c.Discovery.VCenter,
		Scheme:          c.Discovery.Scheme,
		Endpoint:        c.Discovery.Endpoint,
		Mode:            c.Discovery.Mode,
		Interval:        time.Duration(c.Discovery.Interval) * time.Second,
		BearerToken:     c.Discovery.BearerToken,
		BearerTokenFile: c.Discovery.BearerTokenFile,
		CACertFile:      c.Discovery.CACertFile,
		OutputFile:      c.Discovery.OutputFile,
		Standalone:      c.Discovery.Standalone,
	}
}

// OperatorConfig creates the operator configuration. The discovery scheme
// and CA file are shared with the discovery client.
func (c *Config) OperatorConfig() operator.Config {
	return operator.Config{
		Label:              c.Operator.Label,
		LabelKey:           c.Operator.LabelKey,
		ServiceMonitorName: c.Operator.ServiceMonitorName,
		SecretName:         c.Operator.SecretName,
		Namespace:          c.Operator.Namespace,
		Scheme:             c.Discovery.Scheme,
		CACertFile:         c.Discovery.CACertFile,
		Interval:           time.Duration(c.Discovery.Interval) * time.Second,
	}
}
