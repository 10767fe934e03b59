// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAgentConfigAppliesDefaults(t *testing.T) {
	path := writeTempYAML(t, `
agent:
  name: agent-01
`)
	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.Connect.Address != "127.0.0.1:7700" {
		t.Errorf("expected default connect address, got %q", cfg.Connect.Address)
	}
	if cfg.Screen.TargetFPS != 30 {
		t.Errorf("expected default target fps 30, got %d", cfg.Screen.TargetFPS)
	}
}

func TestLoadAgentConfigMissingNameFails(t *testing.T) {
	path := writeTempYAML(t, `
connect:
  address: "10.0.0.1:7700"
`)
	if _, err := LoadAgentConfig(path); err == nil {
		t.Fatal("expected an error when agent.name is missing")
	}
}

func TestLoadAgentConfigOverridesDefaults(t *testing.T) {
	path := writeTempYAML(t, `
agent:
  name: agent-02
connect:
  address: "10.0.0.5:9000"
  heartbeat_interval: 2s
screen:
  target_fps: 60
  mtu: 9000
`)
	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.Connect.Address != "10.0.0.5:9000" {
		t.Errorf("expected overridden address, got %q", cfg.Connect.Address)
	}
	if cfg.Screen.TargetFPS != 60 {
		t.Errorf("expected overridden target fps, got %d", cfg.Screen.TargetFPS)
	}
	if cfg.Screen.MTU != 9000 {
		t.Errorf("expected overridden MTU, got %d", cfg.Screen.MTU)
	}
}

func TestLoadAgentConfigRejectsSmallMTU(t *testing.T) {
	path := writeTempYAML(t, `
agent:
  name: agent-03
screen:
  mtu: 8
`)
	if _, err := LoadAgentConfig(path); err == nil {
		t.Fatal("expected an error for an MTU not exceeding the chunk header size")
	}
}

func TestLoadAgentConfigTLSRequiresMaterialWhenEnabled(t *testing.T) {
	path := writeTempYAML(t, `
agent:
  name: agent-04
tls:
  enabled: true
`)
	if _, err := LoadAgentConfig(path); err == nil {
		t.Fatal("expected an error when tls.enabled without cert material")
	}
}

func TestLoadControllerConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadControllerConfig("")
	if err != nil {
		t.Fatalf("LoadControllerConfig: %v", err)
	}
	if cfg.Listen.Address != "0.0.0.0:7700" {
		t.Errorf("expected default listen address, got %q", cfg.Listen.Address)
	}
	if cfg.Requests.DefaultTimeout <= 0 {
		t.Error("expected a positive default request timeout")
	}
}

func TestLoadControllerConfigTLSRequiresMaterialWhenEnabled(t *testing.T) {
	path := writeTempYAML(t, `
tls:
  enabled: true
`)
	if _, err := LoadControllerConfig(path); err == nil {
		t.Fatal("expected an error when tls.enabled without cert material")
	}
}

func TestLoadControllerConfigBlobstoreRequiresBucket(t *testing.T) {
	path := writeTempYAML(t, `
blobstore:
  enabled: true
`)
	if _, err := LoadControllerConfig(path); err == nil {
		t.Fatal("expected an error when blobstore.enabled without a bucket")
	}
}

func TestLoadControllerConfigOverridesDefaults(t *testing.T) {
	path := writeTempYAML(t, `
listen:
  address: "0.0.0.0:9999"
blobstore:
  enabled: true
  bucket: "tix-staging"
  region: "us-east-1"
`)
	cfg, err := LoadControllerConfig(path)
	if err != nil {
		t.Fatalf("LoadControllerConfig: %v", err)
	}
	if cfg.Listen.Address != "0.0.0.0:9999" {
		t.Errorf("expected overridden listen address, got %q", cfg.Listen.Address)
	}
	if !cfg.Blobstore.Enabled || cfg.Blobstore.Bucket != "tix-staging" {
		t.Errorf("expected blobstore override to apply, got %+v", cfg.Blobstore)
	}
}
