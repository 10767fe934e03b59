// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads process configuration for the tix-agent and
// tix-controller binaries: built-in defaults overridable by an optional
// YAML file (whose path the binaries take from their -config flag),
// following the teacher's validated-struct configuration style.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elcapor/tix/internal/rdp"
)

// AgentConfig is the full configuration of a tix-agent process.
type AgentConfig struct {
	Agent     AgentIdentity   `yaml:"agent"`
	Connect   ConnectConfig   `yaml:"connect"`
	TLS       TLSClient       `yaml:"tls"`
	Screen    ScreenConfig    `yaml:"screen"`
	UpdateCheck UpdateCheckConfig `yaml:"update_check"`
	Logging   LoggingInfo     `yaml:"logging"`
}

// AgentIdentity names this agent as it will appear to the controller.
type AgentIdentity struct {
	Name string `yaml:"name"`
}

// ConnectConfig describes how the agent reaches its controller.
type ConnectConfig struct {
	Address           string        `yaml:"address"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

// TLSClient holds optional mTLS material for the control connection. TLS
// is carried forward as an out-of-default-path option, not a hard
// requirement — see SPEC_FULL.md's Non-goals carried-forward note on
// internal/pki.
type TLSClient struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// ScreenConfig configures the TixRP screen-streaming defaults an agent
// offers before controller negotiation.
type ScreenConfig struct {
	TargetFPS       int    `yaml:"target_fps"`
	TargetBandwidth uint64 `yaml:"target_bandwidth"` // bytes/sec
	MTU             int    `yaml:"mtu"`
	BlockSize       int    `yaml:"block_size"`
	DSCP            string `yaml:"dscp"` // e.g. "EF"; empty disables marking
}

// UpdateCheckConfig configures the agent's periodic update check.
type UpdateCheckConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // 5-field cron expression
}

// LoggingInfo controls the structured logger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultAgentConfig returns the configuration an agent starts from before
// the optional file override is applied.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Connect: ConnectConfig{
			Address:           "127.0.0.1:7700",
			HeartbeatInterval: 5 * time.Second,
			ReconnectDelay:    3 * time.Second,
		},
		Screen: ScreenConfig{
			TargetFPS:       30,
			TargetBandwidth: 10_000_000,
			MTU:             1400,
			BlockSize:       64,
			DSCP:            "EF",
		},
		UpdateCheck: UpdateCheckConfig{
			Enabled:  true,
			Schedule: "0 * * * *",
		},
		Logging: LoggingInfo{Level: "info", Format: "json"},
	}
}

// LoadAgentConfig starts from DefaultAgentConfig, then overlays the YAML
// file at path if it is non-empty, then validates the result.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading agent config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing agent config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating agent config: %w", err)
	}
	return &cfg, nil
}

func (c *AgentConfig) validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Connect.Address == "" {
		return fmt.Errorf("connect.address is required")
	}
	if c.Connect.HeartbeatInterval <= 0 {
		return fmt.Errorf("connect.heartbeat_interval must be positive")
	}
	if c.Connect.ReconnectDelay <= 0 {
		return fmt.Errorf("connect.reconnect_delay must be positive")
	}
	if c.TLS.Enabled {
		if c.TLS.CACert == "" || c.TLS.ClientCert == "" || c.TLS.ClientKey == "" {
			return fmt.Errorf("tls.ca_cert, tls.client_cert and tls.client_key are required when tls.enabled")
		}
	}
	if c.Screen.TargetFPS <= 0 {
		return fmt.Errorf("screen.target_fps must be positive")
	}
	if c.Screen.MTU <= 12 {
		return fmt.Errorf("screen.mtu must exceed the 12-byte chunk header")
	}
	if c.Screen.BlockSize <= 0 {
		return fmt.Errorf("screen.block_size must be positive")
	}
	if _, err := rdp.ParseDSCP(c.Screen.DSCP); err != nil {
		return fmt.Errorf("screen.dscp: %w", err)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
