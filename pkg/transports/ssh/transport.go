// Package ssh stages evaluators on remote nodes. One multiplexed SSH
// connection per node carries command sessions and SFTP transfers.
package ssh

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is wrapped by every operation attempted without a live
// connection.
var ErrNotConnected = errors.New("not connected")

// Transport is the set of remote operations an evaluator node supports.
type Transport interface {
	// Connect dials the node. It is a no-op on a live connection.
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// HealthCheck runs a trivial command on a fresh session.
	HealthCheck(ctx context.Context) error

	// ExecuteCommand runs cmd and returns its trimmed output. A non-zero
	// exit status is a permanent *TransportError.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// UploadFile and WriteFile create parent directories as needed and
	// truncate an existing remote file.
	UploadFile(ctx context.Context, localPath string, remotePath string, mode uint32) error
	WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error

	GetConnectionInfo() ConnectionInfo
}

// ConnectionInfo describes the current connection. Times are zero while
// disconnected.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// TransferResult describes one completed SFTP transfer.
type TransferResult struct {
	RemotePath       string
	BytesTransferred int64
	Duration         time.Duration
}

// TransportError is returned by every Transport operation.
type TransportError struct {
	// Op is the failed operation: connect, disconnect, healthcheck,
	// execute, upload, write or sftp.
	Op  string
	Err error

	// IsTemporary is set when retrying the operation may succeed.
	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the operation may succeed when retried.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

func temporary(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, IsTemporary: true}
}

func permanent(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func authFailure(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, IsAuthError: true}
}
