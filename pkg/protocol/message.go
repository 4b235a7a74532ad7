// Package protocol defines the JSON messages the decoder publishes to the
// dashboard, the MQTT broker and the remote relay.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of message
type MessageType string

const (
	// Decoder → presentation messages
	TypeSymbol   MessageType = "symbol"   // Per-sample classification
	TypeCommit   MessageType = "commit"   // Committed symbol
	TypeState    MessageType = "state"    // Playback state change
	TypeSettings MessageType = "settings" // Settings change
	TypeFrame    MessageType = "frame"    // Preview frame

	// Relay handshake and health check
	TypeHello MessageType = "hello"
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
)

// Message is the base wrapper for all messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Decoder → Presentation Message Types
// =============================================================================

// SymbolData describes one classified sample
type SymbolData struct {
	Seq   uint64 `json:"seq"`
	Epoch uint64 `json:"epoch"`

	// Arm angles in degrees; nil when the arm was not measured
	RightAngle *float64 `json:"right_angle,omitempty"`
	LeftAngle  *float64 `json:"left_angle,omitempty"`

	Symbol  string `json:"symbol"`  // Classification of this sample, "" for unknown
	Kind    string `json:"kind"`    // "letter", "space", "stop", "unknown"
	Display string `json:"display"` // Current stable candidate, "" when none
	Stable  bool   `json:"stable"`  // Passed the majority vote
	Held    bool   `json:"held"`    // Candidate held past the dwell time
}

// CommitData describes a committed symbol
type CommitData struct {
	Session  string `json:"session"`
	Epoch    uint64 `json:"epoch"`
	Symbol   string `json:"symbol"`
	Kind     string `json:"kind"`
	Appended string `json:"appended"` // Text added to the session, "" for stop
	Text     string `json:"text"`     // Session text after the commit
	At       int64  `json:"at"`       // Unix milliseconds
}

// StateData describes the playback state
type StateData struct {
	Session string `json:"session,omitempty"`
	State   string `json:"state"` // "idle", "playing", "paused", "stopped"
	Reason  string `json:"reason,omitempty"`
	Epoch   uint64 `json:"epoch"`
	Source  string `json:"source,omitempty"`
	Text    string `json:"text"`

	// Halted is set once the session has fully drained after a stop
	Halted bool `json:"halted,omitempty"`

	// Placeholder asks the presentation layer to blank its preview
	Placeholder bool `json:"placeholder,omitempty"`
}

// SettingsData carries the decoder settings
type SettingsData struct {
	Language     string  `json:"language"`
	DwellSeconds float64 `json:"dwell_seconds"`
}

// FrameData contains a preview frame
type FrameData struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// =============================================================================
// Relay Message Types
// =============================================================================

// HelloData identifies a relay client
type HelloData struct {
	ClientID string   `json:"client_id"`
	Version  string   `json:"version,omitempty"`
	Accepts  []string `json:"accepts,omitempty"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
