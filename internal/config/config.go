// Package config loads the kuberbac configuration file. Every field has a
// flag counterpart; flags win over the file so ad-hoc overrides work without
// editing it.
package config

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"

	"github.com/authzkit/kuberbac/pkg/tracing"
)

// Default server settings.
const (
	DefaultAddr        = ":8443"
	DefaultMetricsAddr = ":8080"
	DefaultRateLimit   = 100
	DefaultRateBurst   = 200
)

// Config is the root of the kuberbac configuration file.
type Config struct {
	// Sources are manifest files or directories loaded at startup.
	Sources []string `yaml:"sources"`

	// IgnorePrefixes drops objects whose name carries one of these
	// prefixes, typically "system:".
	IgnorePrefixes []string `yaml:"ignorePrefixes"`

	// AWSAuthPath points to an aws-auth ConfigMap manifest on disk.
	AWSAuthPath string `yaml:"awsAuthPath"`

	Server  Server  `yaml:"server"`
	Tracing Tracing `yaml:"tracing"`
}

// Server configures the SubjectAccessReview webhook endpoint.
type Server struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
	TLSCert     string `yaml:"tlsCert"`
	TLSKey      string `yaml:"tlsKey"`

	// RateLimit is the sustained requests-per-second budget, RateBurst the
	// burst on top. Zero RateLimit disables rate limiting.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// Tracing configures the OTLP trace exporter.
type Tracing struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Insecure     bool    `yaml:"insecure"`
}

// Exporter converts the file section into the tracing subsystem's config.
func (t Tracing) Exporter() tracing.Config {
	return tracing.Config{
		Enabled:      t.Enabled,
		Endpoint:     t.Endpoint,
		SamplingRate: t.SamplingRate,
		Insecure:     t.Insecure,
	}
}

// Default returns a config with all server defaults applied.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:        DefaultAddr,
			MetricsAddr: DefaultMetricsAddr,
			RateLimit:   DefaultRateLimit,
			RateBurst:   DefaultRateBurst,
		},
	}
}

// Load reads and validates a config file. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = DefaultMetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("tlsCert and tlsKey must be set together")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rateLimit must not be negative")
	}
	if c.Server.RateBurst < 0 {
		return fmt.Errorf("rateBurst must not be negative")
	}
	if err := c.Tracing.Exporter().Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}
