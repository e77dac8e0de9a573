package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var validate = validator.New()

// AuthMethod selects how the client authenticates to a node.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// defaultKeys are tried in order when key authentication has no explicit key.
var defaultKeys = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// Config holds the connection settings for an evaluator node.
type Config struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
	User string `yaml:"user" validate:"required"`

	AuthMethod AuthMethod `yaml:"auth_method" validate:"oneof=password key"`
	Password   string     `yaml:"password" validate:"required_if=AuthMethod password"`

	// PrivateKeyPath defaults to the first of ~/.ssh/id_ed25519, id_rsa and
	// id_ecdsa that exists.
	PrivateKeyPath       string `yaml:"private_key_path"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase"`

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath.
	// When false any host key is accepted.
	KnownHostsPath        string `yaml:"known_hosts_path"`
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout" validate:"gt=0"`

	// KeepAliveInterval of zero disables keep-alive. After
	// MaxKeepAliveRetries consecutive failures the connection is dead.
	KeepAliveInterval   time.Duration `yaml:"keep_alive_interval" validate:"gte=0"`
	MaxKeepAliveRetries int           `yaml:"max_keep_alive_retries" validate:"gte=0"`
}

// DefaultConfig returns key-authenticated settings for user@host:22 with
// strict host key checking against ~/.ssh/known_hosts.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
		MaxKeepAliveRetries:   3,
	}
}

// Validate checks the settings. A key-authenticated config with no
// PrivateKeyPath is given the first default key found.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return describe(c, err)
	}

	if c.AuthMethod != AuthMethodKey {
		return nil
	}
	if c.PrivateKeyPath == "" {
		c.PrivateKeyPath = findDefaultKey(os.Getenv("HOME"))
		if c.PrivateKeyPath == "" {
			return errors.New("private key path is required for key authentication and no default key found")
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); err != nil {
		return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
	}
	return nil
}

func describe(c *Config, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Field() {
	case "Host":
		return errors.New("host is required")
	case "Port":
		return fmt.Errorf("invalid port: %d", c.Port)
	case "User":
		return errors.New("user is required")
	case "AuthMethod":
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	case "Password":
		return errors.New("password is required for password authentication")
	case "ConnectionTimeout":
		return errors.New("connection timeout must be positive")
	case "KeepAliveInterval":
		return errors.New("keep-alive interval must not be negative")
	}
	return fmt.Errorf("invalid %s: %v", verrs[0].Field(), verrs[0].Value())
}

func findDefaultKey(home string) string {
	for _, name := range defaultKeys {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// BuildSSHClientConfig turns the settings into an ssh.ClientConfig.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Some servers only offer keyboard-interactive for password logins.
		answer := func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = c.Password
			}
			return answers, nil
		}
		return []ssh.AuthMethod{ssh.Password(c.Password), ssh.KeyboardInteractive(answer)}, nil

	case AuthMethodKey:
		signer, err := c.signer()
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
}

func (c *Config) signer() (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase == "" {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(c.PrivateKeyPassphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
	}
	return signer, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
