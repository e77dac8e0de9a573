package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/launch/protocol"
)

// ErrStreamClosed is returned once the reply side of a stream has ended.
var ErrStreamClosed = errors.New("stream closed")

// StreamConfig configures a Stream.
type StreamConfig struct {
	// OnRunning receives RUNNING reports from the resource manager.
	OnRunning func(*protocol.RunningMessage)

	// AckTimeout bounds the wait for an ACK. Zero waits for the context.
	AckTimeout time.Duration

	Logger zerolog.Logger
}

// Stream writes LAUNCH messages to a resource manager over a JSON-lines byte
// stream. With a reader it waits for the matching ACK or ERROR. Without one
// a launch is done once the message is written.
type Stream struct {
	w   io.Writer
	enc *protocol.Encoder
	dec *protocol.Decoder
	cfg StreamConfig

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingLaunch
	closed  error
	done    chan struct{}
}

type pendingLaunch struct {
	evaluatorID string
	reply       chan error
}

// NewStream creates a stream dispatcher. r may be nil.
func NewStream(w io.Writer, r io.Reader, cfg StreamConfig) *Stream {
	s := &Stream{
		w:       w,
		enc:     protocol.NewEncoder(w),
		cfg:     cfg,
		pending: make(map[string]*pendingLaunch),
		done:    make(chan struct{}),
	}
	s.cfg.Logger = cfg.Logger.With().Str("component", "stream-dispatcher").Logger()

	if r == nil {
		close(s.done)
		return s
	}
	s.dec = protocol.NewDecoder(r)
	go s.readLoop()
	return s
}

// Name returns "stream".
func (s *Stream) Name() string { return "stream" }

// Done is closed when the reply side has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Dispatch sends d as a LAUNCH message and, when the stream has a reader,
// waits for the resource manager's answer.
func (s *Stream) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	if err := requireDescriptor(d); err != nil {
		return err
	}

	requestID := uuid.NewString()
	var p *pendingLaunch
	if s.dec != nil {
		p = &pendingLaunch{evaluatorID: d.Identifier, reply: make(chan error, 1)}

		s.mu.Lock()
		if s.closed != nil {
			err := s.closed
			s.mu.Unlock()
			return dispatchError(d.Identifier, "launch", "resource manager stream closed", err, true)
		}
		s.pending[requestID] = p
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.pending, requestID)
			s.mu.Unlock()
		}()
	}

	s.wmu.Lock()
	err := s.enc.EncodeLaunch(&protocol.LaunchMessage{RequestID: requestID, Descriptor: d})
	s.wmu.Unlock()
	if err != nil {
		return dispatchError(d.Identifier, "launch", "failed to write launch message", err, true)
	}

	s.cfg.Logger.Debug().
		Str("evaluator_id", d.Identifier).
		Str("request_id", requestID).
		Msg("Launch message written")

	if p == nil {
		return nil
	}

	if s.cfg.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.AckTimeout)
		defer cancel()
	}

	select {
	case err := <-p.reply:
		return err
	case <-ctx.Done():
		return contextError(d.Identifier, "launch", ctx.Err())
	}
}

// readLoop routes replies to their pending launches until the reader ends.
func (s *Stream) readLoop() {
	defer close(s.done)

	for {
		ack, err := s.dec.DecodeReply(s.onRunning)
		var em *protocol.ErrorMessage
		switch {
		case err == nil:
			s.resolve(ack.RequestID, ack.EvaluatorID, nil)
		case errors.As(err, &em):
			s.resolve(em.RequestID, em.EvaluatorID, remoteError(em))
		default:
			s.shutdown(err)
			return
		}
	}
}

func (s *Stream) onRunning(rm *protocol.RunningMessage) {
	s.cfg.Logger.Debug().
		Str("evaluator_id", rm.EvaluatorID).
		Str("node", rm.Node).
		Msg("Evaluator reported running")
	if s.cfg.OnRunning != nil {
		s.cfg.OnRunning(rm)
	}
}

// resolve hands a reply to the launch it answers. Replies without a request
// id are matched by evaluator id.
func (s *Stream) resolve(requestID, evaluatorID string, reply error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[requestID]
	if !ok && requestID == "" {
		for id, candidate := range s.pending {
			if candidate.evaluatorID == evaluatorID {
				p, ok, requestID = candidate, true, id
				break
			}
		}
	}
	if !ok {
		s.cfg.Logger.Warn().
			Str("request_id", requestID).
			Str("evaluator_id", evaluatorID).
			Msg("Reply for unknown launch")
		return
	}

	delete(s.pending, requestID)
	p.reply <- reply
}

// shutdown fails every pending launch and rejects later ones.
func (s *Stream) shutdown(cause error) {
	if errors.Is(cause, io.EOF) {
		cause = ErrStreamClosed
	} else {
		s.cfg.Logger.Error().Err(cause).Msg("Resource manager stream failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = cause
	for id, p := range s.pending {
		p.reply <- dispatchError(p.evaluatorID, "launch", "resource manager stream closed", cause, true)
		delete(s.pending, id)
	}
}

// Close closes the writer when it is an io.Closer.
func (s *Stream) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func remoteError(em *protocol.ErrorMessage) error {
	return dispatchError(em.EvaluatorID, "launch", "resource manager rejected launch", em, em.Retryable).
		WithDetail("remote_code", em.Code)
}
