// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Environment != Development {
		t.Errorf("expected environment=development, got %s", config.Environment)
	}
	if config.Bridge.PollInterval != 5*time.Second {
		t.Errorf("expected poll_interval=5s, got %v", config.Bridge.PollInterval)
	}
	if config.Bridge.ConnectPolicy != ConnectLazy {
		t.Errorf("expected connect_policy=lazy, got %s", config.Bridge.ConnectPolicy)
	}
	if config.Target.Address() != "localhost:9000" {
		t.Errorf("expected address localhost:9000, got %s", config.Target.Address())
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when TCPBRIDGE_CONFIG is not set")
	}
	if !strings.HasPrefix(err.Error(), "TCPBRIDGE_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithEnvironmentVariable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "tcpbridge.yaml")
	content := `
environment: staging
target:
  host: peer.internal
  port: 9100
  connect_timeout: 3s
bridge:
  poll_interval: 250ms
  connect_policy: eager
source:
  kind: nats
  encoding: json
  nats:
    url: nats://broker:4222
    subject: orders.outbound
    queue_group: bridges
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvironmentVariable, configPath)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", config.Environment)
	}
	if config.Target.Address() != "peer.internal:9100" {
		t.Errorf("unexpected address %s", config.Target.Address())
	}
	if config.Target.ConnectTimeout != 3*time.Second {
		t.Errorf("expected connect_timeout=3s, got %v", config.Target.ConnectTimeout)
	}
	// Unset values keep their defaults.
	if config.Target.WriteTimeout != 10*time.Second {
		t.Errorf("expected default write_timeout=10s, got %v", config.Target.WriteTimeout)
	}
	if config.Bridge.PollInterval != 250*time.Millisecond {
		t.Errorf("expected poll_interval=250ms, got %v", config.Bridge.PollInterval)
	}
	if config.Bridge.ConnectPolicy != ConnectEager {
		t.Errorf("expected connect_policy=eager, got %s", config.Bridge.ConnectPolicy)
	}
	if config.Source.NATS.QueueGroup != "bridges" || config.Source.NATS.Name != "tcpbridge" {
		t.Errorf("unexpected nats config: %+v", config.Source.NATS)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_RejectsBadDuration(t *testing.T) {
	if _, err := Parse([]byte("bridge:\n  poll_interval: soon\n")); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	content := `
environment: production
target:
  host: peer-dev
  port: 9000
logging:
  level: debug
production:
  target:
    host: peer-prod
    tls:
      enabled: true
      server_name: peer.example.com
  logging:
    level: warn
    format: json
development:
  target:
    host: should-not-apply
`
	config, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if config.Target.Host != "peer-prod" {
		t.Errorf("expected host=peer-prod, got %s", config.Target.Host)
	}
	if config.Target.Port != 9000 {
		t.Errorf("port should keep base value 9000, got %d", config.Target.Port)
	}
	if !config.Target.TLS.Enabled || config.Target.TLS.ServerName != "peer.example.com" {
		t.Errorf("expected production TLS override, got %+v", config.Target.TLS)
	}
	if config.Logging.Level != "warn" || config.Logging.Format != "json" {
		t.Errorf("expected production logging override, got %+v", config.Logging)
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("PEER_HOST", "10.0.0.7")
	t.Setenv("KAFKA_BROKER", "")

	content := `
target:
  host: ${PEER_HOST}
source:
  kind: kafka
  kafka:
    brokers: ["${KAFKA_BROKER:-kafka:9092}", "static:9092"]
    topic: orders
    group_id: tcpbridge
`
	config, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if config.Target.Host != "10.0.0.7" {
		t.Errorf("expected expanded host, got %s", config.Target.Host)
	}
	if got := config.Source.Kafka.Brokers; len(got) != 2 || got[0] != "kafka:9092" || got[1] != "static:9092" {
		t.Errorf("unexpected brokers %v", got)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	config := Default()
	config.Environment = "qa"
	config.Target.Host = ""
	config.Target.Port = 70000
	config.Bridge.PollInterval = 0
	config.Bridge.ConnectPolicy = "sometimes"
	config.Source.Kind = SourceKafka
	config.Source.Encoding = "xml"

	err := config.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, fragment := range []string{
		"invalid environment",
		"target.host is required",
		"target.port",
		"bridge.poll_interval",
		"bridge.connect_policy",
		"source.encoding",
		"source.kafka.brokers",
		"source.kafka.topic",
		"source.kafka.group_id",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("expected %q in error:\n%v", fragment, err)
		}
	}
}

func TestValidate_TLSFiles(t *testing.T) {
	config := Default()
	config.Target.TLS.CertFile = "client.pem"
	err := config.Validate()
	if err == nil {
		t.Fatal("expected errors for cert without key and TLS disabled")
	}
	if !strings.Contains(err.Error(), "enabled is false") || !strings.Contains(err.Error(), "must be set together") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownSourceKind(t *testing.T) {
	config := Default()
	config.Source.Kind = "amqp"
	if err := config.Validate(); err == nil || !strings.Contains(err.Error(), "source.kind") {
		t.Fatalf("expected source.kind error, got %v", err)
	}
}
