// Package config loads the client configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ethanadams/awsreq/internal/sigv4"
)

// Config represents the application configuration
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig holds the signing client configuration
type ClientConfig struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Service  string `yaml:"service"`

	// TargetPrefix is prepended to operation names in the
	// x-amz-target header for JSON-RPC style services.
	TargetPrefix string `yaml:"target_prefix,omitempty"`

	// MaxErrorRetry is the retry budget per operation; total
	// attempts are MaxErrorRetry+1. Nil means the default of 3.
	MaxErrorRetry *int `yaml:"max_error_retry,omitempty"`

	// ChunkSize is the streaming upload block size (e.g. "64KB").
	ChunkSize ByteSize `yaml:"chunk_size,omitempty"`

	// StorageClass tags streaming uploads; defaults to STANDARD.
	StorageClass string `yaml:"storage_class,omitempty"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ByteSize represents a size that can be specified as bytes or human-readable format
type ByteSize int64

// UnmarshalYAML implements custom YAML unmarshaling for human-readable sizes
func (bs *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	// Try to unmarshal as int64 first (plain byte count)
	var intVal int64
	if err := value.Decode(&intVal); err == nil {
		*bs = ByteSize(intVal)
		return nil
	}

	var strVal string
	if err := value.Decode(&strVal); err != nil {
		return fmt.Errorf("chunk_size must be a number or string like '64KB': %w", err)
	}

	size, err := parseByteSize(strVal)
	if err != nil {
		return err
	}
	*bs = ByteSize(size)
	return nil
}

// Int returns the byte size as int
func (bs ByteSize) Int() int {
	return int(bs)
}

// String returns the byte size in human-readable format
func (bs ByteSize) String() string {
	bytes := int64(bs)
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB && bytes%GB == 0:
		return fmt.Sprintf("%dGB", bytes/GB)
	case bytes >= MB && bytes%MB == 0:
		return fmt.Sprintf("%dMB", bytes/MB)
	case bytes >= KB && bytes%KB == 0:
		return fmt.Sprintf("%dKB", bytes/KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// parseByteSize converts human-readable sizes to bytes
// Supports: B, KB, MB, GB (case-insensitive)
func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	var numStr string
	var unitStr string
	for i, c := range s {
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		numStr = s[:i]
		unitStr = s[i:]
		break
	}

	if unitStr == "" {
		numStr = s
		unitStr = "B"
	}

	num, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in size '%s': %w", s, err)
	}

	unitStr = strings.TrimSpace(strings.ToUpper(unitStr))
	var multiplier int64
	switch unitStr {
	case "B", "":
		multiplier = 1
	case "KB", "K":
		multiplier = 1024
	case "MB", "M":
		multiplier = 1024 * 1024
	case "GB", "G":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown size unit '%s' (supported: B, KB, MB, GB)", unitStr)
	}

	return int64(num * float64(multiplier)), nil
}

// MaxRetries returns the retry budget, applying the default of 3.
func (c *ClientConfig) MaxRetries() int {
	if c.MaxErrorRetry == nil {
		return 3
	}
	return *c.MaxErrorRetry
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Client.Region == "" {
		cfg.Client.Region = "us-east-1"
	}
	if cfg.Client.Service == "" {
		cfg.Client.Service = "s3"
	}
	if cfg.Client.ChunkSize == 0 {
		cfg.Client.ChunkSize = ByteSize(64 * 1024)
	}
	if cfg.Client.StorageClass == "" {
		cfg.Client.StorageClass = "STANDARD"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 8080
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Client.Endpoint == "" {
		return fmt.Errorf("client.endpoint is required")
	}
	if cfg.Client.ChunkSize.Int() < sigv4.MinChunkSize {
		return fmt.Errorf("client.chunk_size %s below minimum %d bytes", cfg.Client.ChunkSize, sigv4.MinChunkSize)
	}
	if r := cfg.Client.MaxErrorRetry; r != nil && *r < 0 {
		return fmt.Errorf("client.max_error_retry must be >= 0")
	}
	return nil
}
