package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/openfroyo/launchpad/pkg/launch"
)

func testDescriptor(t *testing.T) *launch.Descriptor {
	t.Helper()
	cfg, err := launch.NewEvaluatorConfigBuilder().
		SetApplicationID("app").
		SetDriverRemoteID("driver:1").
		SetEvaluatorID("e1").
		SetRootContextConfig(`id: "ctx1"`).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	d, err := launch.NewDescriptorBuilder().
		SetIdentifier("e1").
		SetRemoteID("driver:1").
		SetEvaluatorConfig(cfg).
		SetProcess(launch.NewProcess(launch.ProcessTypeManaged)).
		AddFiles(launch.NewFileResource("/jobs/app.jar", launch.FileTypeLib)).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestEncoder(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "encode ack message",
			msgType: MessageTypeAck,
			data:    &AckMessage{RequestID: "r1", EvaluatorID: "e1", Node: "node-a"},
		},
		{
			name:    "encode running message",
			msgType: MessageTypeRunning,
			data:    &RunningMessage{EvaluatorID: "e1", PID: 4242},
		},
		{
			name:    "encode error message",
			msgType: MessageTypeError,
			data:    &ErrorMessage{RequestID: "r1", Code: "NO_CAPACITY", Message: "node full", Retryable: true},
		},
		{
			name:    "invalid message type",
			msgType: MessageType("CMD"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc := NewEncoder(&buf)

			err := enc.Encode(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Encode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr {
				line := strings.TrimSpace(buf.String())
				var msg Message
				if err := json.Unmarshal([]byte(line), &msg); err != nil {
					t.Errorf("Output is not valid JSON: %v", err)
				}
				if msg.Type != tt.msgType {
					t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
				}
			}
		})
	}
}

func TestLaunchRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	d := testDescriptor(t)

	if err := NewEncoder(&buf).EncodeLaunch(&LaunchMessage{RequestID: "r1", Descriptor: d}); err != nil {
		t.Fatalf("EncodeLaunch() error = %v", err)
	}

	got, err := NewDecoder(&buf).DecodeLaunch()
	if err != nil {
		t.Fatalf("DecodeLaunch() error = %v", err)
	}
	if got.Descriptor.Identifier != "e1" {
		t.Errorf("Identifier = %q, want e1", got.Descriptor.Identifier)
	}
	if got.Descriptor.EvaluatorConfig.RootContextConfig != `id: "ctx1"` {
		t.Errorf("RootContextConfig = %q", got.Descriptor.EvaluatorConfig.RootContextConfig)
	}
	if libs := got.Descriptor.FilesOfType(launch.FileTypeLib); len(libs) != 1 {
		t.Errorf("expected one LIB file, got %v", got.Descriptor.Files)
	}
}

func TestEncodeLaunch_Invalid(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	if err := enc.EncodeLaunch(&LaunchMessage{RequestID: "r1"}); err == nil {
		t.Error("expected error for missing descriptor")
	}
	if err := enc.EncodeLaunch(&LaunchMessage{Descriptor: testDescriptor(t)}); err == nil {
		t.Error("expected error for missing request ID")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written for invalid messages, got %q", buf.String())
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		msgType MessageType
	}{
		{
			name:    "decode ack message",
			input:   `{"type":"ACK","timestamp":"2024-01-01T00:00:00Z","data":{"request_id":"r1","evaluator_id":"e1"}}`,
			msgType: MessageTypeAck,
		},
		{
			name:    "decode running message",
			input:   `{"type":"RUNNING","timestamp":"2024-01-01T00:00:00Z","data":{"evaluator_id":"e1","pid":10}}`,
			msgType: MessageTypeRunning,
		},
		{
			name:    "unknown type",
			input:   `{"type":"EXIT","timestamp":"2024-01-01T00:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			input:   `{invalid json`,
			wantErr: true,
		},
		{
			name:    "empty line",
			input:   ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input + "\n"))
			msg, err := dec.Decode()

			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && msg.Type != tt.msgType {
				t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
			}
		})
	}
}

func TestDecodeReply(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantAck     bool
		wantCode    string
		wantErr     bool
		wantRunning int
	}{
		{
			name:    "ack",
			input:   `{"type":"ACK","timestamp":"2024-01-01T00:00:00Z","data":{"request_id":"r1","evaluator_id":"e1"}}`,
			wantAck: true,
		},
		{
			name:     "error reply",
			input:    `{"type":"ERROR","timestamp":"2024-01-01T00:00:00Z","data":{"code":"NO_CAPACITY","message":"full","retryable":true}}`,
			wantCode: "NO_CAPACITY",
			wantErr:  true,
		},
		{
			name:    "ack without evaluator",
			input:   `{"type":"ACK","timestamp":"2024-01-01T00:00:00Z","data":{"request_id":"r1"}}`,
			wantErr: true,
		},
		{
			name:        "running without reply",
			input:       `{"type":"RUNNING","timestamp":"2024-01-01T00:00:00Z","data":{"evaluator_id":"e1"}}`,
			wantErr:     true,
			wantRunning: 1,
		},
		{
			name: "running before ack",
			input: `{"type":"RUNNING","timestamp":"2024-01-01T00:00:00Z","data":{"evaluator_id":"e0"}}` + "\n" +
				`{"type":"ACK","timestamp":"2024-01-01T00:00:00Z","data":{"request_id":"r1","evaluator_id":"e1"}}`,
			wantAck:     true,
			wantRunning: 1,
		},
		{
			name:    "launch is not a reply",
			input:   `{"type":"LAUNCH","timestamp":"2024-01-01T00:00:00Z","data":{}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			running := 0
			ack, err := NewDecoder(strings.NewReader(tt.input + "\n")).DecodeReply(func(*RunningMessage) { running++ })
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeReply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantAck && ack == nil {
				t.Error("expected ack")
			}
			if running != tt.wantRunning {
				t.Errorf("running reports = %d, want %d", running, tt.wantRunning)
			}
			if tt.wantCode != "" {
				var em *ErrorMessage
				if !errors.As(err, &em) || em.Code != tt.wantCode {
					t.Errorf("expected ErrorMessage with code %s, got %v", tt.wantCode, err)
				}
			}
		})
	}
}

func TestDecoder_EOF(t *testing.T) {
	_, err := NewDecoder(strings.NewReader("")).Decode()
	if !errors.Is(err, io.EOF) {
		t.Errorf("Decode() error = %v, want io.EOF", err)
	}
}
