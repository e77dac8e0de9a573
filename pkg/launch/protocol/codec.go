package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// maxLineSize bounds one decoded line. Descriptors embed serialized
// configurations, so lines can be long.
const maxLineSize = 10 << 20

// Encoder writes one JSON message per line. It is safe for concurrent use;
// each message is flushed as a whole.
type Encoder struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	buf := bufio.NewWriter(w)
	return &Encoder{buf: buf, enc: json.NewEncoder(buf)}
}

// Encode wraps data in an envelope of type msgType stamped with the current
// UTC time.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	msg := Message{Type: msgType, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		msg.Data = raw
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// json.Encoder terminates every value with a newline.
	if err := e.enc.Encode(&msg); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msgType, err)
	}
	if err := e.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s message: %w", msgType, err)
	}
	return nil
}

type validatable interface {
	Validate() error
}

func (e *Encoder) encodeValid(msgType MessageType, m validatable) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", msgType, err)
	}
	return e.Encode(msgType, m)
}

func (e *Encoder) EncodeLaunch(m *LaunchMessage) error { return e.encodeValid(MessageTypeLaunch, m) }

func (e *Encoder) EncodeAck(m *AckMessage) error { return e.encodeValid(MessageTypeAck, m) }

func (e *Encoder) EncodeRunning(m *RunningMessage) error { return e.encodeValid(MessageTypeRunning, m) }

func (e *Encoder) EncodeError(m *ErrorMessage) error { return e.Encode(MessageTypeError, m) }

// Decoder reads one JSON message per line.
type Decoder struct {
	lines *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64<<10), maxLineSize)
	return &Decoder{lines: s}
}

// Decode reads the next envelope. It returns io.EOF at the end of the
// stream; blank lines and unknown message types are errors.
func (d *Decoder) Decode() (*Message, error) {
	if !d.lines.Scan() {
		if err := d.lines.Err(); err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return nil, io.EOF
	}

	line := d.lines.Bytes()
	if len(line) == 0 {
		return nil, errors.New("empty line")
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &msg, nil
}

// DecodeLaunch reads the next message, which must be a valid LAUNCH.
func (d *Decoder) DecodeLaunch() (*LaunchMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeLaunch {
		return nil, fmt.Errorf("expected LAUNCH message, got %s", msg.Type)
	}

	var m LaunchMessage
	if err := parseValid(msg, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeReply reads the resource manager's answer to a LAUNCH. An ERROR
// reply is returned as the error value. Valid RUNNING reports that arrive
// before the answer are passed to onRunning, which may be nil.
func (d *Decoder) DecodeReply(onRunning func(*RunningMessage)) (*AckMessage, error) {
	for {
		msg, err := d.Decode()
		if err != nil {
			return nil, err
		}

		switch msg.Type {
		case MessageTypeAck:
			var ack AckMessage
			if err := parseValid(msg, &ack); err != nil {
				return nil, err
			}
			return &ack, nil

		case MessageTypeError:
			var em ErrorMessage
			if err := ParseData(msg.Data, &em); err != nil {
				return nil, err
			}
			return nil, &em

		case MessageTypeRunning:
			var rm RunningMessage
			if err := ParseData(msg.Data, &rm); err != nil {
				return nil, err
			}
			if onRunning != nil && rm.Validate() == nil {
				onRunning(&rm)
			}

		default:
			return nil, fmt.Errorf("expected ACK or ERROR message, got %s", msg.Type)
		}
	}
}

func parseValid(msg *Message, target validatable) error {
	if err := ParseData(msg.Data, target); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", msg.Type, err)
	}
	return nil
}

// ParseData unmarshals a message payload into target.
func ParseData(data json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}
