package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// killGrace is how long a cancelled command gets between SIGTERM and SIGKILL.
const killGrace = 100 * time.Millisecond

// ExecuteCommand runs cmd on a fresh session and returns its trimmed output.
// When ctx ends first the remote process is signalled and ctx.Err is returned
// wrapped in a temporary TransportError.
func (c *SSHClient) ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	cn, err := c.active("execute")
	if err != nil {
		return "", "", err
	}

	session, err := cn.client.NewSession()
	if err != nil {
		return "", "", temporary("execute", fmt.Errorf("failed to open session: %w", err))
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	started := time.Now()
	runErr := runWithContext(ctx, session, cmd)

	stdout = strings.TrimSpace(outBuf.String())
	stderr = strings.TrimSpace(errBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(started)).
		Int("stdout_bytes", len(stdout)).
		Err(runErr).
		Msg("Command finished")

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		return stdout, stderr, nil
	case errors.As(runErr, &exitErr):
		return stdout, stderr, permanent("execute",
			fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr))
	default:
		return stdout, stderr, temporary("execute", runErr)
	}
}

func runWithContext(ctx context.Context, session *ssh.Session, cmd string) error {
	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(killGrace):
			_ = session.Signal(ssh.SIGKILL)
		}
		return ctx.Err()
	}
}
