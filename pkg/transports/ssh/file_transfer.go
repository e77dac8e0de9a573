package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
)

// UploadFile copies a local file to remotePath and sets its mode.
func (c *SSHClient) UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error {
	f, err := os.Open(localPath)
	if err != nil {
		return permanent("upload", fmt.Errorf("failed to open local file: %w", err))
	}
	defer f.Close()

	res, err := c.transfer(ctx, "upload", f, remotePath, mode)
	if err != nil {
		return err
	}
	c.logger.Debug().
		Str("local", localPath).
		Str("remote", res.RemotePath).
		Int64("bytes", res.BytesTransferred).
		Dur("duration", res.Duration).
		Msg("File uploaded")
	return nil
}

// WriteFile writes data to remotePath and sets its mode.
func (c *SSHClient) WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error {
	res, err := c.transfer(ctx, "write", bytes.NewReader(data), remotePath, mode)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("remote", res.RemotePath).Int64("bytes", res.BytesTransferred).Msg("File written")
	return nil
}

// transfer streams src into remotePath over a dedicated SFTP session.
func (c *SSHClient) transfer(ctx context.Context, op string, src io.Reader, remotePath string, mode uint32) (*TransferResult, error) {
	started := time.Now()

	cn, err := c.active(op)
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(cn.client)
	if err != nil {
		return nil, temporary("sftp", fmt.Errorf("failed to start SFTP session: %w", err))
	}
	defer client.Close()

	// SFTP paths are slash separated whatever the local OS.
	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return nil, permanent(op, fmt.Errorf("failed to create remote directory: %w", err))
	}

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, temporary(op, fmt.Errorf("failed to create remote file: %w", err))
	}
	defer dst.Close()

	n, err := dst.ReadFrom(contextReader{ctx: ctx, r: src})
	if err != nil {
		return nil, temporary(op, fmt.Errorf("failed to copy to %s: %w", remotePath, err))
	}

	if err := client.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return nil, permanent(op, fmt.Errorf("failed to set permissions: %w", err))
	}

	return &TransferResult{RemotePath: remotePath, BytesTransferred: n, Duration: time.Since(started)}, nil
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
