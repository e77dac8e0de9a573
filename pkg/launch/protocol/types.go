// Package protocol defines the JSON-lines protocol used to hand launch
// descriptors to an external resource manager and read its replies.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/launchpad/pkg/launch"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeLaunch carries a launch descriptor to the resource manager
	MessageTypeLaunch MessageType = "LAUNCH"
	// MessageTypeAck confirms the resource manager accepted a launch
	MessageTypeAck MessageType = "ACK"
	// MessageTypeRunning reports that the evaluator process started
	MessageTypeRunning MessageType = "RUNNING"
	// MessageTypeError reports a rejected or failed launch
	MessageTypeError MessageType = "ERROR"
)

// Message is the base message structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// LaunchMessage asks the resource manager to start one evaluator.
type LaunchMessage struct {
	RequestID  string             `json:"request_id"`
	Descriptor *launch.Descriptor `json:"descriptor"`
}

// AckMessage is returned once the resource manager has accepted a launch.
type AckMessage struct {
	RequestID   string `json:"request_id"`
	EvaluatorID string `json:"evaluator_id"`
	Node        string `json:"node,omitempty"`
}

// RunningMessage is sent when the evaluator process is up.
type RunningMessage struct {
	EvaluatorID string            `json:"evaluator_id"`
	Node        string            `json:"node,omitempty"`
	PID         int               `json:"pid,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrorMessage reports a failed launch.
type ErrorMessage struct {
	RequestID   string `json:"request_id,omitempty"`
	EvaluatorID string `json:"evaluator_id,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
}

// Error implements the error interface.
func (e *ErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeLaunch, MessageTypeAck, MessageTypeRunning, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the launch message is valid.
func (m *LaunchMessage) Validate() error {
	if m.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}
	if m.Descriptor == nil {
		return fmt.Errorf("descriptor is required")
	}
	if m.Descriptor.Identifier == "" {
		return fmt.Errorf("descriptor identifier is required")
	}
	return nil
}

// Validate checks if the ack message is valid.
func (m *AckMessage) Validate() error {
	if m.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}
	if m.EvaluatorID == "" {
		return fmt.Errorf("evaluator ID is required")
	}
	return nil
}

// Validate checks if the running message is valid.
func (m *RunningMessage) Validate() error {
	if m.EvaluatorID == "" {
		return fmt.Errorf("evaluator ID is required")
	}
	return nil
}
