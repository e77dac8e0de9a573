package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// writeKey writes a fresh unencrypted ed25519 key in OpenSSH format.
func writeKey(t *testing.T, path string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
}

func passwordConfig() *Config {
	c := DefaultConfig("node-1", "launch")
	c.AuthMethod = AuthMethodPassword
	c.Password = "secret"
	return c
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig("node-1", "launch")

	if c.Port != 22 || c.AuthMethod != AuthMethodKey || !c.StrictHostKeyChecking {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.ConnectionTimeout != 30*time.Second {
		t.Errorf("ConnectionTimeout = %v, want 30s", c.ConnectionTimeout)
	}
	if c.KeepAliveInterval != 0 {
		t.Errorf("keep-alive should be off by default, got %v", c.KeepAliveInterval)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "missing host", modify: func(c *Config) { c.Host = "" }, wantErr: "host is required"},
		{name: "port zero", modify: func(c *Config) { c.Port = 0 }, wantErr: "invalid port: 0"},
		{name: "port too large", modify: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port: 70000"},
		{name: "missing user", modify: func(c *Config) { c.User = "" }, wantErr: "user is required"},
		{name: "empty password", modify: func(c *Config) { c.Password = "" }, wantErr: "password is required"},
		{name: "unknown auth method", modify: func(c *Config) { c.AuthMethod = "agent" }, wantErr: "unsupported auth method: agent"},
		{name: "zero timeout", modify: func(c *Config) { c.ConnectionTimeout = 0 }, wantErr: "connection timeout must be positive"},
		{name: "negative keep-alive", modify: func(c *Config) { c.KeepAliveInterval = -time.Second }, wantErr: "keep-alive interval"},
		{
			name: "missing key file",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			wantErr: "private key file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := passwordConfig()
			tt.modify(c)

			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateFindsDefaultKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	c := DefaultConfig("node-1", "launch")
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error without any key")
	}

	want := filepath.Join(home, ".ssh", "id_rsa")
	writeKey(t, want)

	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.PrivateKeyPath != want {
		t.Errorf("PrivateKeyPath = %s, want %s", c.PrivateKeyPath, want)
	}
}

func TestConfig_Address(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"node-1", 2222, "node-1:2222"},
		{"10.0.0.7", 22, "10.0.0.7:22"},
		{"::1", 22, "[::1]:22"},
	}
	for _, tt := range tests {
		c := DefaultConfig(tt.host, "launch")
		c.Port = tt.port
		if got := c.Address(); got != tt.want {
			t.Errorf("Address() = %s, want %s", got, tt.want)
		}
	}
}

func TestConfig_BuildSSHClientConfig(t *testing.T) {
	t.Run("password", func(t *testing.T) {
		c := passwordConfig()
		c.StrictHostKeyChecking = false

		cc, err := c.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("BuildSSHClientConfig() error = %v", err)
		}
		if cc.User != "launch" || cc.Timeout != 30*time.Second {
			t.Errorf("unexpected client config: user %s, timeout %v", cc.User, cc.Timeout)
		}
		// password then keyboard-interactive
		if len(cc.Auth) != 2 {
			t.Errorf("got %d auth methods, want 2", len(cc.Auth))
		}
	})

	t.Run("key", func(t *testing.T) {
		c := DefaultConfig("node-1", "launch")
		c.PrivateKeyPath = filepath.Join(t.TempDir(), "id_ed25519")
		c.StrictHostKeyChecking = false
		writeKey(t, c.PrivateKeyPath)

		cc, err := c.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("BuildSSHClientConfig() error = %v", err)
		}
		if len(cc.Auth) != 1 {
			t.Errorf("got %d auth methods, want 1", len(cc.Auth))
		}
	})

	t.Run("unreadable key", func(t *testing.T) {
		c := DefaultConfig("node-1", "launch")
		c.PrivateKeyPath = filepath.Join(t.TempDir(), "missing")
		if _, err := c.BuildSSHClientConfig(); err == nil {
			t.Error("expected an error for a missing key")
		}
	})

	t.Run("garbage key", func(t *testing.T) {
		c := DefaultConfig("node-1", "launch")
		c.PrivateKeyPath = filepath.Join(t.TempDir(), "garbage")
		if err := os.WriteFile(c.PrivateKeyPath, []byte("not a key"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := c.BuildSSHClientConfig(); err == nil || !strings.Contains(err.Error(), "failed to parse private key") {
			t.Errorf("expected a parse error, got %v", err)
		}
	})

	t.Run("strict checking without known_hosts", func(t *testing.T) {
		c := passwordConfig()
		c.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
		if _, err := c.BuildSSHClientConfig(); err == nil {
			t.Error("expected an error for a missing known_hosts file")
		}
	})
}
