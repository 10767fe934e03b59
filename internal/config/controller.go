// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ControllerConfig is the full configuration of a tix-controller process.
type ControllerConfig struct {
	Listen    ListenConfig       `yaml:"listen"`
	TLS       TLSServer          `yaml:"tls"`
	Requests  RequestTrackingConfig `yaml:"requests"`
	Blobstore BlobstoreConfig    `yaml:"blobstore"`
	Logging   LoggingInfo        `yaml:"logging"`
}

// ListenConfig describes where the controller accepts agent connections.
type ListenConfig struct {
	Address string `yaml:"address"`
}

// TLSServer holds optional mTLS material for the listener. ClientCA signs
// the agent certificates the controller verifies; Cert/Key are the
// controller's own server certificate.
type TLSServer struct {
	Enabled  bool   `yaml:"enabled"`
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	ClientCA string `yaml:"client_ca"`
}

// RequestTrackingConfig tunes the controller's outstanding-request state
// (internal/controller).
type RequestTrackingConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// BlobstoreConfig optionally enables S3-backed staging for large file
// transfers. Disabled by default — file transfer streams directly over
// the TIX connection unless this is configured.
type BlobstoreConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// DefaultControllerConfig returns the configuration a controller starts
// from before the optional file override is applied.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Listen: ListenConfig{Address: "0.0.0.0:7700"},
		Requests: RequestTrackingConfig{
			DefaultTimeout: 30 * time.Second,
			SweepInterval:  5 * time.Second,
		},
		Logging: LoggingInfo{Level: "info", Format: "json"},
	}
}

// LoadControllerConfig starts from DefaultControllerConfig, then overlays
// the YAML file at path if it is non-empty, then validates the result.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	cfg := DefaultControllerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading controller config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing controller config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating controller config: %w", err)
	}
	return &cfg, nil
}

func (c *ControllerConfig) validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.TLS.Enabled {
		if c.TLS.Cert == "" || c.TLS.Key == "" || c.TLS.ClientCA == "" {
			return fmt.Errorf("tls.cert, tls.key and tls.client_ca are required when tls.enabled")
		}
	}
	if c.Requests.DefaultTimeout <= 0 {
		c.Requests.DefaultTimeout = 30 * time.Second
	}
	if c.Requests.SweepInterval <= 0 {
		c.Requests.SweepInterval = 5 * time.Second
	}
	if c.Blobstore.Enabled && c.Blobstore.Bucket == "" {
		return fmt.Errorf("blobstore.bucket is required when blobstore.enabled")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
