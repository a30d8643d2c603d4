package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSuccess(t *testing.T) {
	path := writeTempConfig(t, `{
		"protocol":"TCP","mode":"RELAY",
		"relay_host":"0.0.0.0","relay_port":8080,
		"proxy_host":"127.0.0.1","proxy_port":9090,
		"token":"secret","cipher_key":"k",
		"serving_timeout":60
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Protocol != ProtocolTCP || cfg.Mode != ModeRelay {
		t.Fatalf("unexpected protocol/mode: %+v", cfg)
	}
	if cfg.RelayPort != 8080 || cfg.ProxyPort != 9090 {
		t.Fatalf("unexpected ports: %+v", cfg)
	}
	if cfg.ServingTimeout != 60 {
		t.Fatalf("expected overridden serving_timeout, got %d", cfg.ServingTimeout)
	}
	// Defaults not present in the fixture must survive the decode.
	if cfg.TCPBuffer != 4096 {
		t.Fatalf("expected default tcp_buffer to survive partial decode, got %d", cfg.TCPBuffer)
	}
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	if _, err := Load(missing); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadProtocol(t *testing.T) {
	cfg := Default()
	cfg.Protocol = "BOGUS"
	cfg.Mode = ModeRelay
	cfg.Token = "secret"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for bad protocol")
	}
}

func TestValidateRejectsMissingToken(t *testing.T) {
	cfg := Default()
	cfg.Protocol = ProtocolTCP
	cfg.Mode = ModeProxy
	cfg.ProxyHost = "127.0.0.1"
	cfg.ProxyPort = 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing token")
	}
}

func TestValidateRejectsInvertedPayloadRange(t *testing.T) {
	cfg := Default()
	cfg.Protocol = ProtocolUDP
	cfg.Mode = ModeProxy
	cfg.ProxyHost = "127.0.0.1"
	cfg.ProxyPort = 1
	cfg.Token = "secret"
	cfg.UDPMinPayload = 10
	cfg.UDPMaxPayload = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for inverted udp payload range")
	}
}

func TestWarningsFlagsWeakSetup(t *testing.T) {
	cfg := Default()
	cfg.Token = "short"
	warns := cfg.Warnings()
	if len(warns) < 2 {
		t.Fatalf("expected warnings for empty cipher_key and short token, got %v", warns)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
