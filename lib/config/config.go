// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the file path from.
const EnvironmentVariable = "TCPBRIDGE_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Connect policies accepted in bridge.connect_policy.
const (
	ConnectLazy  = "lazy"
	ConnectEager = "eager"
)

// Source kinds accepted in source.kind.
const (
	SourceKafka = "kafka"
	SourceNATS  = "nats"
	SourceLines = "lines"
)

// Payload encodings accepted in source.encoding.
const (
	EncodingRaw  = "raw"
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

// Config is the complete tcpbridge configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Target is the remote peer the bridge forwards to.
	Target TargetConfig `yaml:"target"`

	// Bridge tunes the forwarding loop.
	Bridge BridgeConfig `yaml:"bridge"`

	// Source selects and configures the upstream message source.
	Source SourceConfig `yaml:"source"`

	// Logging configures the structured logger.
	Logging LoggingConfig `yaml:"logging"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment fields. Empty values leave the
// base value in place.
type Overrides struct {
	Target  *TargetConfig  `yaml:"target,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// TargetConfig describes the outbound connection.
type TargetConfig struct {
	// Host and Port locate the peer.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ConnectTimeout bounds each connect attempt, TLS handshake
	// included. Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// WriteTimeout bounds each send. Zero disables the deadline.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// KeepAlive is the TCP keep-alive period. Default: 30s
	KeepAlive time.Duration `yaml:"keepalive"`

	// UserTimeout sets TCP_USER_TIMEOUT on Linux so that a peer that
	// vanished surfaces as a write failure. Zero leaves the kernel
	// default.
	UserTimeout time.Duration `yaml:"user_timeout"`

	// TLS configures an optional TLS session on the connection.
	TLS TLSConfig `yaml:"tls"`
}

// Address returns Host:Port.
func (t TargetConfig) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// TLSConfig configures TLS on the outbound connection.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// BridgeConfig tunes the forwarding loop.
type BridgeConfig struct {
	// PollInterval is the longest the loop sleeps on an empty queue
	// before checking again. Default: 5s
	PollInterval time.Duration `yaml:"poll_interval"`

	// ConnectPolicy is "lazy" (connect on the first message) or
	// "eager" (connect before the first dequeue). Default: lazy
	ConnectPolicy string `yaml:"connect_policy"`

	// CloseLinger is how long Close waits for the peer to hang up
	// after the sentinel before closing the socket itself.
	// Default: 5s
	CloseLinger time.Duration `yaml:"close_linger"`
}

// SourceConfig selects the upstream source.
type SourceConfig struct {
	// Kind is "kafka", "nats", or "lines".
	Kind string `yaml:"kind"`

	// Encoding is how each upstream message carries its payload:
	// "raw", "json", or "cbor". Default: raw
	Encoding string `yaml:"encoding"`

	Kafka KafkaConfig `yaml:"kafka"`
	NATS  NATSConfig  `yaml:"nats"`
	Lines LinesConfig `yaml:"lines"`
}

// KafkaConfig configures the Kafka consumer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`

	// StartOffset is "first" or "last": where a group with no
	// committed offset begins. Default: last
	StartOffset string `yaml:"start_offset"`
}

// NATSConfig configures the NATS subscription.
type NATSConfig struct {
	URL        string `yaml:"url"`
	Subject    string `yaml:"subject"`
	QueueGroup string `yaml:"queue_group"`

	// Name identifies this client in the server's monitoring.
	// Default: tcpbridge
	Name string `yaml:"name"`
}

// LinesConfig configures the newline-delimited source.
type LinesConfig struct {
	// Path is the file to read. Empty or "-" means stdin.
	Path string `yaml:"path"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default: info
	Level string `yaml:"level"`

	// Format is auto, text, or json. Default: auto
	Format string `yaml:"format"`
}

// Default returns the configuration used as the base before the file
// is applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		Target: TargetConfig{
			Host:           "localhost",
			Port:           9000,
			ConnectTimeout: 10 * time.Second,
			WriteTimeout:   10 * time.Second,
			KeepAlive:      30 * time.Second,
		},
		Bridge: BridgeConfig{
			PollInterval:  5 * time.Second,
			ConnectPolicy: ConnectLazy,
			CloseLinger:   5 * time.Second,
		},
		Source: SourceConfig{
			Kind:     SourceLines,
			Encoding: EncodingRaw,
			Kafka: KafkaConfig{
				StartOffset: "last",
			},
			NATS: NATSConfig{
				URL:  "nats://127.0.0.1:4222",
				Name: "tcpbridge",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the file named by TCPBRIDGE_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your tcpbridge.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads path on top of Default, applies the matching
// environment section, and expands variables. It does not validate;
// callers apply flag overrides first and then call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML data on top of Default.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	config.applyEnvironmentOverrides()
	config.expandVariables()
	return config, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if target := overrides.Target; target != nil {
		if target.Host != "" {
			c.Target.Host = target.Host
		}
		if target.Port != 0 {
			c.Target.Port = target.Port
		}
		if target.ConnectTimeout != 0 {
			c.Target.ConnectTimeout = target.ConnectTimeout
		}
		if target.WriteTimeout != 0 {
			c.Target.WriteTimeout = target.WriteTimeout
		}
		if target.UserTimeout != 0 {
			c.Target.UserTimeout = target.UserTimeout
		}
		// TLS is applied as a whole once a section enables it, so a
		// production section can switch it on without repeating the
		// base values it does not change.
		if target.TLS.Enabled {
			c.Target.TLS = target.TLS
		}
	}

	if logging := overrides.Logging; logging != nil {
		if logging.Level != "" {
			c.Logging.Level = logging.Level
		}
		if logging.Format != "" {
			c.Logging.Format = logging.Format
		}
	}
}

func (c *Config) expandVariables() {
	c.Target.Host = expandVars(c.Target.Host)
	c.Target.TLS.CAFile = expandVars(c.Target.TLS.CAFile)
	c.Target.TLS.CertFile = expandVars(c.Target.TLS.CertFile)
	c.Target.TLS.KeyFile = expandVars(c.Target.TLS.KeyFile)
	for i, broker := range c.Source.Kafka.Brokers {
		c.Source.Kafka.Brokers[i] = expandVars(broker)
	}
	c.Source.NATS.URL = expandVars(c.Source.NATS.URL)
	c.Source.Lines.Path = expandVars(c.Source.Lines.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	if c.Target.Host == "" {
		errs = append(errs, errors.New("target.host is required"))
	}
	if c.Target.Port <= 0 || c.Target.Port > 65535 {
		errs = append(errs, fmt.Errorf("target.port must be in 1-65535, got %d", c.Target.Port))
	}
	if c.Target.ConnectTimeout < 0 || c.Target.WriteTimeout < 0 || c.Target.UserTimeout < 0 {
		errs = append(errs, errors.New("target timeouts must not be negative"))
	}
	if !c.Target.TLS.Enabled && (c.Target.TLS.CAFile != "" || c.Target.TLS.CertFile != "") {
		errs = append(errs, errors.New("target.tls files are set but target.tls.enabled is false"))
	}
	if (c.Target.TLS.CertFile == "") != (c.Target.TLS.KeyFile == "") {
		errs = append(errs, errors.New("target.tls.cert_file and target.tls.key_file must be set together"))
	}

	if c.Bridge.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("bridge.poll_interval must be positive, got %v", c.Bridge.PollInterval))
	}
	if c.Bridge.CloseLinger < 0 {
		errs = append(errs, fmt.Errorf("bridge.close_linger must not be negative, got %v", c.Bridge.CloseLinger))
	}
	if !slices.Contains([]string{ConnectLazy, ConnectEager}, c.Bridge.ConnectPolicy) {
		errs = append(errs, fmt.Errorf("bridge.connect_policy must be %q or %q, got %q",
			ConnectLazy, ConnectEager, c.Bridge.ConnectPolicy))
	}

	encodings := []string{EncodingRaw, EncodingJSON, EncodingCBOR}
	if !slices.Contains(encodings, c.Source.Encoding) {
		errs = append(errs, fmt.Errorf("source.encoding must be one of %v, got %q", encodings, c.Source.Encoding))
	}

	switch c.Source.Kind {
	case SourceKafka:
		if len(c.Source.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("source.kafka.brokers is required"))
		}
		if c.Source.Kafka.Topic == "" {
			errs = append(errs, errors.New("source.kafka.topic is required"))
		}
		if c.Source.Kafka.GroupID == "" {
			errs = append(errs, errors.New("source.kafka.group_id is required"))
		}
		if !slices.Contains([]string{"first", "last"}, c.Source.Kafka.StartOffset) {
			errs = append(errs, fmt.Errorf("source.kafka.start_offset must be first or last, got %q", c.Source.Kafka.StartOffset))
		}
	case SourceNATS:
		if c.Source.NATS.URL == "" {
			errs = append(errs, errors.New("source.nats.url is required"))
		}
		if c.Source.NATS.Subject == "" {
			errs = append(errs, errors.New("source.nats.subject is required"))
		}
	case SourceLines:
	default:
		errs = append(errs, fmt.Errorf("source.kind must be one of %v, got %q",
			[]string{SourceKafka, SourceNATS, SourceLines}, c.Source.Kind))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
