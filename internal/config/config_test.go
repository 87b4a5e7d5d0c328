package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:    "default config should be valid",
			mutate:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name: "invalid http port",
			mutate: func(cfg *Config) {
				cfg.Server.HTTPPort = 0
			},
			wantErr: true,
		},
		{
			name: "same http and grpc port",
			mutate: func(cfg *Config) {
				cfg.Server.HTTPPort = 8080
				cfg.Server.GRPCPort = 8080
			},
			wantErr: true,
		},
		{
			name: "zero node id",
			mutate: func(cfg *Config) {
				cfg.Node.ID = 0
			},
			wantErr: true,
		},
		{
			name: "negative node id",
			mutate: func(cfg *Config) {
				cfg.Node.ID = -3
			},
			wantErr: true,
		},
		{
			name: "no etcd endpoints",
			mutate: func(cfg *Config) {
				cfg.Etcd.Endpoints = nil
			},
			wantErr: true,
		},
		{
			name: "fetch budget shorter than per-attempt timeout",
			mutate: func(cfg *Config) {
				cfg.Fetch.Timeout = 10 * time.Second
				cfg.Fetch.MaxElapsed = 1 * time.Second
			},
			wantErr: true,
		},
		{
			name: "sync max interval shorter than retry interval",
			mutate: func(cfg *Config) {
				cfg.Sync.RetryInterval = 5 * time.Second
				cfg.Sync.MaxInterval = 1 * time.Second
			},
			wantErr: true,
		},
		{
			name: "invalid logging level",
			mutate: func(cfg *Config) {
				cfg.Logging.Level = "verbose"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("expected HTTPPort 7070, got %d", cfg.Server.HTTPPort)
	}

	if cfg.Server.GRPCPort != 7071 {
		t.Errorf("expected GRPCPort 7071, got %d", cfg.Server.GRPCPort)
	}

	if cfg.Node.ID != 1 {
		t.Errorf("expected node id 1, got %d", cfg.Node.ID)
	}

	if cfg.Etcd.Prefix != "/topology" {
		t.Errorf("expected etcd prefix /topology, got %s", cfg.Etcd.Prefix)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestAdvertiseAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Host = "10.1.2.3"

	if got := cfg.GetAdvertiseAddress(); got != "10.1.2.3:7071" {
		t.Errorf("expected concrete host to be advertised as-is, got %s", got)
	}

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.GRPCHost = "node-07.internal"

	if got := cfg.GetAdvertiseAddress(); got != "node-07.internal:7071" {
		t.Errorf("expected grpc_host fallback, got %s", got)
	}

	cfg.Server.GRPCHost = ""
	got := cfg.GetAdvertiseAddress()
	if strings.HasPrefix(got, "0.0.0.0") {
		t.Errorf("wildcard bind address must not be advertised, got %s", got)
	}
}
