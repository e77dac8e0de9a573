package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch/protocol"
)

// fakeResourceManager answers LAUNCH messages read from one pipe on another.
type fakeResourceManager struct {
	dec *protocol.Decoder
	enc *protocol.Encoder
	out *io.PipeWriter
}

// newStreamPair connects a Stream to a fake resource manager whose answer to
// each launch is produced by handle.
func newStreamPair(t *testing.T, cfg StreamConfig, handle func(rm *fakeResourceManager, m *protocol.LaunchMessage)) *Stream {
	t.Helper()

	launchR, launchW := io.Pipe()
	replyR, replyW := io.Pipe()

	rm := &fakeResourceManager{
		dec: protocol.NewDecoder(launchR),
		enc: protocol.NewEncoder(replyW),
		out: replyW,
	}
	go func() {
		for {
			m, err := rm.dec.DecodeLaunch()
			if err != nil {
				return
			}
			handle(rm, m)
		}
	}()

	cfg.Logger = zerolog.Nop()
	s := NewStream(launchW, replyR, cfg)
	t.Cleanup(func() {
		_ = s.Close()
		_ = replyW.Close()
	})
	return s
}

func TestStream_Ack(t *testing.T) {
	running := make(chan *protocol.RunningMessage, 2)
	s := newStreamPair(t, StreamConfig{
		OnRunning: func(rm *protocol.RunningMessage) { running <- rm },
	}, func(rm *fakeResourceManager, m *protocol.LaunchMessage) {
		id := m.Descriptor.Identifier
		_ = rm.enc.EncodeAck(&protocol.AckMessage{RequestID: m.RequestID, EvaluatorID: id, Node: "node-1"})
		_ = rm.enc.EncodeRunning(&protocol.RunningMessage{EvaluatorID: id, Node: "node-1", PID: 42})
	})

	if err := s.Dispatch(context.Background(), testDescriptor(t, "e1")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	select {
	case rm := <-running:
		if rm.EvaluatorID != "e1" || rm.PID != 42 {
			t.Errorf("unexpected running report: %+v", rm)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("running report after the ack was not delivered")
	}
}

func TestStream_RunningBeforeAck(t *testing.T) {
	running := make(chan string, 1)
	s := newStreamPair(t, StreamConfig{
		OnRunning: func(rm *protocol.RunningMessage) { running <- rm.EvaluatorID },
	}, func(rm *fakeResourceManager, m *protocol.LaunchMessage) {
		id := m.Descriptor.Identifier
		_ = rm.enc.EncodeRunning(&protocol.RunningMessage{EvaluatorID: id})
		_ = rm.enc.EncodeAck(&protocol.AckMessage{RequestID: m.RequestID, EvaluatorID: id})
	})

	if err := s.Dispatch(context.Background(), testDescriptor(t, "e1")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// The running report was decoded before the ack released Dispatch.
	select {
	case id := <-running:
		if id != "e1" {
			t.Errorf("expected e1, got %s", id)
		}
	default:
		t.Fatal("expected running report before the ack")
	}
}

func TestStream_ErrorReplies(t *testing.T) {
	tests := []struct {
		name      string
		reply     func(m *protocol.LaunchMessage) *protocol.ErrorMessage
		transient bool
	}{
		{
			name: "permanent rejection",
			reply: func(m *protocol.LaunchMessage) *protocol.ErrorMessage {
				return &protocol.ErrorMessage{RequestID: m.RequestID, EvaluatorID: m.Descriptor.Identifier, Code: "NO_CAPACITY", Message: "cluster full"}
			},
		},
		{
			name: "retryable rejection",
			reply: func(m *protocol.LaunchMessage) *protocol.ErrorMessage {
				return &protocol.ErrorMessage{RequestID: m.RequestID, EvaluatorID: m.Descriptor.Identifier, Code: "BUSY", Message: "try later", Retryable: true}
			},
			transient: true,
		},
		{
			name: "matched by evaluator id",
			reply: func(m *protocol.LaunchMessage) *protocol.ErrorMessage {
				return &protocol.ErrorMessage{EvaluatorID: m.Descriptor.Identifier, Code: "NO_CAPACITY", Message: "cluster full"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStreamPair(t, StreamConfig{}, func(rm *fakeResourceManager, m *protocol.LaunchMessage) {
				_ = rm.enc.EncodeError(tt.reply(m))
			})

			err := s.Dispatch(context.Background(), testDescriptor(t, "e1"))
			if !engine.HasCode(err, engine.ErrCodeDispatchFailed) {
				t.Fatalf("expected DISPATCH_FAILED, got %v", err)
			}
			if engine.IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", engine.IsTransient(err), tt.transient)
			}

			var em *protocol.ErrorMessage
			if !errors.As(err, &em) {
				t.Fatalf("expected the remote error in the chain, got %v", err)
			}

			var ee *engine.EngineError
			errors.As(err, &ee)
			if ee.Details["remote_code"] != em.Code {
				t.Errorf("expected remote_code %q, got %v", em.Code, ee.Details["remote_code"])
			}
			if ee.Resource != "e1" {
				t.Errorf("expected resource e1, got %q", ee.Resource)
			}
		})
	}
}

func TestStream_AckTimeout(t *testing.T) {
	s := newStreamPair(t, StreamConfig{AckTimeout: 50 * time.Millisecond},
		func(rm *fakeResourceManager, m *protocol.LaunchMessage) {})

	err := s.Dispatch(context.Background(), testDescriptor(t, "e1"))
	if !engine.HasCode(err, engine.ErrCodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if !engine.IsTransient(err) {
		t.Error("expected a timeout to be transient")
	}
}

func TestStream_ContextCancelled(t *testing.T) {
	s := newStreamPair(t, StreamConfig{}, func(rm *fakeResourceManager, m *protocol.LaunchMessage) {})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Dispatch(ctx, testDescriptor(t, "e1"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in the chain, got %v", err)
	}
	if !engine.HasCode(err, engine.ErrCodeDispatchFailed) {
		t.Errorf("expected DISPATCH_FAILED, got %v", err)
	}
}

func TestStream_Closed(t *testing.T) {
	s := newStreamPair(t, StreamConfig{}, func(rm *fakeResourceManager, m *protocol.LaunchMessage) {
		_ = rm.out.Close()
	})

	err := s.Dispatch(context.Background(), testDescriptor(t, "e1"))
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed for the pending launch, got %v", err)
	}
	if !engine.IsTransient(err) {
		t.Error("expected a closed stream to be transient")
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done was not closed")
	}

	err = s.Dispatch(context.Background(), testDescriptor(t, "e2"))
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected later launches to fail with ErrStreamClosed, got %v", err)
	}
}

func TestStream_FireAndForget(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf, nil, StreamConfig{Logger: zerolog.Nop()})

	select {
	case <-s.Done():
	default:
		t.Error("a stream without reader is done from the start")
	}

	if err := s.Dispatch(context.Background(), testDescriptor(t, "e1")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	m, err := protocol.NewDecoder(&buf).DecodeLaunch()
	if err != nil {
		t.Fatalf("failed to decode written launch: %v", err)
	}
	if m.Descriptor.Identifier != "e1" {
		t.Errorf("expected descriptor e1, got %s", m.Descriptor.Identifier)
	}
	if m.RequestID == "" {
		t.Error("expected a request id")
	}
}

func TestStream_NilDescriptor(t *testing.T) {
	s := NewStream(io.Discard, nil, StreamConfig{})
	if err := s.Dispatch(context.Background(), nil); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}
