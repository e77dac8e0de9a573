package ssh

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteCommand(t *testing.T) {
	client := newConnectedClient(t)
	ctx := context.Background()

	tests := []struct {
		name           string
		command        string
		expectError    bool
		expectedStdout string
		expectedStderr string
	}{
		{
			name:           "simple echo",
			command:        "echo test",
			expectedStdout: "test",
		},
		{
			name:           "stderr output",
			command:        "echo error >&2",
			expectedStderr: "error",
		},
		{
			name:           "arbitrary command",
			command:        "mkdir -p /tmp/x",
			expectedStdout: "command: mkdir -p /tmp/x",
		},
		{
			name:        "exit with error",
			command:     "exit 1",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := client.ExecuteCommand(ctx, tt.command)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var te *TransportError
				if !errors.As(err, &te) {
					t.Fatalf("expected *TransportError, got %T", err)
				}
				if te.Temporary() {
					t.Error("a non-zero exit must not be temporary")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if stdout != tt.expectedStdout {
				t.Errorf("expected stdout '%s', got '%s'", tt.expectedStdout, stdout)
			}
			if stderr != tt.expectedStderr {
				t.Errorf("expected stderr '%s', got '%s'", tt.expectedStderr, stderr)
			}
		})
	}
}

func TestExecuteCommand_ContextDeadline(t *testing.T) {
	client := newConnectedClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := client.ExecuteCommand(ctx, "sleep 10")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("command was not interrupted, took %v", elapsed)
	}
	if !err.(*TransportError).Temporary() {
		t.Error("expected a cancelled command to be temporary")
	}
}

func TestExecuteCommand_NotConnected(t *testing.T) {
	client := newClient(t, configFor(t, "127.0.0.1:22"))

	_, _, err := client.ExecuteCommand(context.Background(), "true")
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "execute" || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected an execute TransportError wrapping ErrNotConnected, got %v", err)
	}
	if !te.Temporary() {
		t.Error("a missing connection is temporary")
	}
}
