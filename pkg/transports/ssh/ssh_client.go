package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SSHClient implements Transport over a single multiplexed SSH connection.
type SSHClient struct {
	config *Config
	logger zerolog.Logger

	mu   sync.RWMutex
	conn *connection
}

// connection is one dialed SSH client. alive is cleared by the keep-alive
// loop so a dead link is noticed without taking the client lock.
type connection struct {
	client      *ssh.Client
	connectedAt time.Time
	lastUsed    atomic.Int64
	alive       atomic.Bool
	stop        chan struct{}
}

func (cn *connection) touch() {
	cn.lastUsed.Store(time.Now().UnixNano())
}

// NewSSHClient validates config and returns a disconnected client.
func NewSSHClient(config *Config, logger zerolog.Logger) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &SSHClient{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Host).Logger(),
	}, nil
}

// Connect dials the node. A live connection is kept; a dead one is closed
// and redialed.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cn := c.conn; cn != nil {
		if cn.alive.Load() && ping(cn.client) == nil {
			return nil
		}
		c.logger.Warn().Msg("Connection lost, redialing")
		_ = c.dropLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return authFailure("connect", err)
	}

	addr := c.config.Address()
	client, err := dial(ctx, addr, clientConfig, c.config.ConnectionTimeout)
	if err != nil {
		return err
	}

	cn := &connection{client: client, connectedAt: time.Now()}
	cn.alive.Store(true)
	cn.touch()
	if c.config.KeepAliveInterval > 0 {
		cn.stop = make(chan struct{})
		go c.keepAlive(cn)
	}
	c.conn = cn

	c.logger.Info().Str("address", addr).Msg("SSH connection established")
	return nil
}

// dial opens the TCP connection under ctx and runs the handshake with a
// deadline, since the handshake itself does not observe ctx.
func dial(ctx context.Context, addr string, cc *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, temporary("connect", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}
	_ = nc.SetDeadline(deadline)

	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, cc)
	if err != nil {
		_ = nc.Close()
		return nil, authFailure("connect", err)
	}
	_ = nc.SetDeadline(time.Time{})

	return ssh.NewClient(sc, chans, reqs), nil
}

// Disconnect closes the connection. It is a no-op when disconnected.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.logger.Debug().Msg("Closing SSH connection")
	if err := c.dropLocked(); err != nil {
		return permanent("disconnect", err)
	}
	return nil
}

func (c *SSHClient) dropLocked() error {
	cn := c.conn
	c.conn = nil
	if cn.stop != nil {
		close(cn.stop)
	}
	return cn.client.Close()
}

func (c *SSHClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.alive.Load()
}

// HealthCheck runs "true" on a fresh session.
func (c *SSHClient) HealthCheck(ctx context.Context) error {
	cn, err := c.active("healthcheck")
	if err != nil {
		return err
	}
	if err := ping(cn.client); err != nil {
		return temporary("healthcheck", err)
	}
	return nil
}

func ping(client *ssh.Client) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()
	return session.Run("true")
}

// keepAlive sends keepalive@openssh.com requests until cn is dropped. After
// MaxKeepAliveRetries consecutive failures the connection is marked dead so
// the next Connect redials.
func (c *SSHClient) keepAlive(cn *connection) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-cn.stop:
			return
		case <-ticker.C:
		}

		if _, _, err := cn.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			failures++
			c.logger.Warn().Err(err).Int("failures", failures).Msg("Keep-alive failed")
			if failures >= c.config.MaxKeepAliveRetries {
				c.logger.Error().Msg("Marking connection dead after repeated keep-alive failures")
				cn.alive.Store(false)
				return
			}
			continue
		}
		failures = 0
		cn.touch()
	}
}

func (c *SSHClient) GetConnectionInfo() ConnectionInfo {
	info := ConnectionInfo{Host: c.config.Host, Port: c.config.Port, User: c.config.User}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn != nil {
		info.ConnectedAt = c.conn.connectedAt
		info.LastActivity = time.Unix(0, c.conn.lastUsed.Load())
	}
	return info
}

// active returns the live connection, or a temporary error wrapping
// ErrNotConnected for op.
func (c *SSHClient) active(op string) (*connection, error) {
	c.mu.RLock()
	cn := c.conn
	c.mu.RUnlock()

	if cn == nil || !cn.alive.Load() {
		return nil, temporary(op, ErrNotConnected)
	}
	cn.touch()
	return cn, nil
}

var _ Transport = (*SSHClient)(nil)
