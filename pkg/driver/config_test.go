package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
	sshtransport "github.com/openfroyo/launchpad/pkg/transports/ssh"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
application_id: app-1
remote_id: driver://localhost:7000
`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Dispatcher.Kind != DispatcherStream {
		t.Errorf("expected stream dispatcher, got %s", cfg.Dispatcher.Kind)
	}
	if cfg.Dispatcher.Stream.Output != "stdout" {
		t.Errorf("expected stdout output, got %s", cfg.Dispatcher.Stream.Output)
	}
	if cfg.Dispatcher.Stream.AckTimeout != 30*time.Second {
		t.Errorf("expected 30s ack timeout, got %s", cfg.Dispatcher.Stream.AckTimeout)
	}
	if cfg.DefaultProcess != nil {
		t.Errorf("expected no default process, got %v", cfg.DefaultProcess)
	}
	if cfg.Telemetry.ServiceName != "launchpad" {
		t.Errorf("expected default telemetry, got service %q", cfg.Telemetry.ServiceName)
	}
}

func TestParseConfig_Full(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
application_id: app-1
remote_id: driver://localhost:7000
default_process:
  type: alternate
  memory_mb: 1024
  options:
    runtime: v2
providers:
  dir: /etc/launchpad/providers
  watch: true
  static:
    defaults: 'timeout: 30'
ledger:
  path: /var/lib/launchpad/ledger.db
policy:
  enabled: true
  dry_run: true
  environment: staging
dispatcher:
  kind: ssh
  ssh:
    target:
      host: node-1
      port: 2222
      user: launch
      auth_method: password
      password: secret
      connection_timeout: 10s
    work_dir: /srv/evaluators
telemetry:
  logging:
    level: debug
`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.DefaultProcess == nil || cfg.DefaultProcess.Type != launch.ProcessTypeAlternate ||
		cfg.DefaultProcess.MemoryMB != 1024 || cfg.DefaultProcess.Options["runtime"] != "v2" {
		t.Errorf("unexpected default process: %+v", cfg.DefaultProcess)
	}
	if !cfg.Providers.Watch || cfg.Providers.Static["defaults"] != "timeout: 30" {
		t.Errorf("unexpected providers: %+v", cfg.Providers)
	}
	if !cfg.Policy.DryRun || cfg.Policy.Environment != "staging" {
		t.Errorf("unexpected policy: %+v", cfg.Policy)
	}

	ssh := cfg.Dispatcher.SSH
	if ssh == nil || ssh.Target == nil {
		t.Fatal("expected an ssh target")
	}
	if ssh.Target.Host != "node-1" || ssh.Target.Port != 2222 || ssh.Target.AuthMethod != sshtransport.AuthMethodPassword {
		t.Errorf("unexpected ssh target: %+v", ssh.Target)
	}
	if ssh.Target.ConnectionTimeout != 10*time.Second {
		t.Errorf("expected 10s connection timeout, got %s", ssh.Target.ConnectionTimeout)
	}
	if ssh.WorkDir != "/srv/evaluators" {
		t.Errorf("expected work dir /srv/evaluators, got %s", ssh.WorkDir)
	}

	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("expected default format to survive the overlay, got %s", cfg.Telemetry.Logging.Format)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(*Config) {},
		},
		{
			name:    "missing application id",
			modify:  func(c *Config) { c.ApplicationID = "" },
			wantErr: "ApplicationID",
		},
		{
			name:    "missing remote id",
			modify:  func(c *Config) { c.RemoteID = "" },
			wantErr: "RemoteID",
		},
		{
			name:    "unknown dispatcher",
			modify:  func(c *Config) { c.Dispatcher.Kind = "carrier-pigeon" },
			wantErr: "Kind",
		},
		{
			name:    "ssh without target section",
			modify:  func(c *Config) { c.Dispatcher.Kind = DispatcherSSH },
			wantErr: "SSH",
		},
		{
			name: "ssh with an invalid target",
			modify: func(c *Config) {
				c.Dispatcher.Kind = DispatcherSSH
				c.Dispatcher.SSH = &SSHTargetConfig{Target: &sshtransport.Config{Port: 22, User: "launch"}}
			},
			wantErr: "Target.Host",
		},
		{
			name: "invalid default process",
			modify: func(c *Config) {
				c.DefaultProcess = &launch.ProcessDescriptor{Type: launch.ProcessTypeManaged}
			},
			wantErr: "MemoryMB",
		},
		{
			name:    "negative ack timeout",
			modify:  func(c *Config) { c.Dispatcher.Stream.AckTimeout = -time.Second },
			wantErr: "AckTimeout",
		},
		{
			name:    "invalid telemetry",
			modify:  func(c *Config) { c.Telemetry.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "policy watch while disabled",
			modify:  func(c *Config) { c.Policy.Watch = true },
			wantErr: "policy is disabled",
		},
		{
			name:    "provider watch without directory",
			modify:  func(c *Config) { c.Providers.Watch = true },
			wantErr: "providers.dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ApplicationID = "app-1"
			cfg.RemoteID = "driver://localhost:7000"
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if !engine.HasCode(err, engine.ErrCodeConfiguration) {
				t.Errorf("expected CONFIGURATION_ERROR, got %v", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launchpad.yaml")
	if err := os.WriteFile(path, []byte("application_id: app-1\nremote_id: r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ApplicationID != "app-1" {
		t.Errorf("expected app-1, got %s", cfg.ApplicationID)
	}

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	if !engine.HasCode(err, engine.ErrCodeConfiguration) {
		t.Errorf("expected CONFIGURATION_ERROR for a missing file, got %v", err)
	}

	_, err = ParseConfig([]byte("application_id: [unterminated"))
	if !engine.HasCode(err, engine.ErrCodeConfiguration) {
		t.Errorf("expected CONFIGURATION_ERROR for bad YAML, got %v", err)
	}
}
