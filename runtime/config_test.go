package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type basicConfig struct {
	Name    string `default:"default-name"`
	Port    int    `default:"8080"`
	Enabled bool   `default:"true"`
}

type durationConfig struct {
	Timeout       time.Duration `default:"30s"`
	RetryInterval time.Duration `default:"5m"`
}

type hostnamePortConfig struct {
	Addr string `validate:"hostname_port"`
}

func TestApplyDefaults(t *testing.T) {
	config := basicConfig{}
	if err := ApplyDefaults(&config); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}

	if config.Name != "default-name" {
		t.Errorf("Expected Name='default-name', got '%s'", config.Name)
	}
	if config.Port != 8080 {
		t.Errorf("Expected Port=8080, got %d", config.Port)
	}
	if !config.Enabled {
		t.Errorf("Expected Enabled=true, got false")
	}
}

func TestApplyDefaults_Durations(t *testing.T) {
	config := durationConfig{}
	if err := ApplyDefaults(&config); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}

	if config.Timeout != 30*time.Second {
		t.Errorf("Expected Timeout=30s, got %v", config.Timeout)
	}
	if config.RetryInterval != 5*time.Minute {
		t.Errorf("Expected RetryInterval=5m, got %v", config.RetryInterval)
	}
}

func TestApplyDefaults_NonZeroValuesUnchanged(t *testing.T) {
	config := basicConfig{Name: "custom-name", Port: 9000}
	if err := ApplyDefaults(&config); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}

	if config.Name != "custom-name" {
		t.Errorf("Expected Name='custom-name', got '%s'", config.Name)
	}
	if config.Port != 9000 {
		t.Errorf("Expected Port=9000, got %d", config.Port)
	}
}

func TestHostnamePortValidator(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"localhost:6379", true},
		{"127.0.0.1:8080", true},
		{"redis.internal:0", true},
		{"localhost", false},
		{":6379", false},
		{"localhost:notaport", false},
	}

	for _, tt := range tests {
		err := validateConfig(hostnamePortConfig{Addr: tt.addr})
		if tt.valid && err != nil {
			t.Errorf("Expected '%s' to be valid, got %v", tt.addr, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("Expected '%s' to be invalid", tt.addr)
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Expected Server.Addr=':8080', got '%s'", cfg.Server.Addr)
	}
	if cfg.Engine.CheckpointInterval != 100 {
		t.Errorf("Expected CheckpointInterval=100, got %d", cfg.Engine.CheckpointInterval)
	}
	if cfg.Engine.Store != "memory" {
		t.Errorf("Expected Store='memory', got '%s'", cfg.Engine.Store)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected Redis.Addr='localhost:6379', got '%s'", cfg.Redis.Addr)
	}
}

func TestLoadConfig_File(t *testing.T) {
	raw := `
server:
  addr: ":9090"
engine:
  store: redis
  workers: 2
redis:
  addr: "cache.internal:6380"
properties:
  region: eu-west-1
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected Server.Addr=':9090', got '%s'", cfg.Server.Addr)
	}
	if cfg.Engine.Store != "redis" {
		t.Errorf("Expected Store='redis', got '%s'", cfg.Engine.Store)
	}
	if cfg.Engine.Workers != 2 {
		t.Errorf("Expected Workers=2, got %d", cfg.Engine.Workers)
	}
	// untouched keys keep their defaults
	if cfg.Engine.CheckpointInterval != 100 {
		t.Errorf("Expected CheckpointInterval=100, got %d", cfg.Engine.CheckpointInterval)
	}
	if cfg.Redis.Addr != "cache.internal:6380" {
		t.Errorf("Expected Redis.Addr='cache.internal:6380', got '%s'", cfg.Redis.Addr)
	}
	if cfg.Properties["region"] != "eu-west-1" {
		t.Errorf("Expected region='eu-west-1', got '%v'", cfg.Properties["region"])
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	raw := `
engine:
  store: cassandra
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("Expected validation error for unknown store")
	}
	if !strings.Contains(err.Error(), "Store") {
		t.Errorf("Expected error to mention Store, got: %v", err)
	}
}
