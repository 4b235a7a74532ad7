package protocol

import (
	"encoding/base64"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewSymbolMessage creates a symbol message
func NewSymbolMessage(data SymbolData) (*Message, error) {
	return NewMessage(TypeSymbol, data)
}

// NewCommitMessage creates a commit message
func NewCommitMessage(data CommitData) (*Message, error) {
	return NewMessage(TypeCommit, data)
}

// NewStateMessage creates a state message
func NewStateMessage(data StateData) (*Message, error) {
	return NewMessage(TypeState, data)
}

// NewSettingsMessage creates a settings message
func NewSettingsMessage(language string, dwellSeconds float64) (*Message, error) {
	return NewMessage(TypeSettings, SettingsData{
		Language:     language,
		DwellSeconds: dwellSeconds,
	})
}

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewHelloMessage creates a relay handshake message
func NewHelloMessage(clientID, version string, accepts ...MessageType) (*Message, error) {
	names := make([]string, len(accepts))
	for i, t := range accepts {
		names[i] = string(t)
	}
	return NewMessage(TypeHello, HelloData{
		ClientID: clientID,
		Version:  version,
		Accepts:  names,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: ts,
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// Float returns a pointer to v, for the optional angle fields
func Float(v float64) *float64 {
	return &v
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetSymbolData extracts symbol data from a message
func (m *Message) GetSymbolData() (*SymbolData, error) {
	var data SymbolData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCommitData extracts commit data from a message
func (m *Message) GetCommitData() (*CommitData, error) {
	var data CommitData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSettingsData extracts settings data from a message
func (m *Message) GetSettingsData() (*SettingsData, error) {
	var data SettingsData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// GetHelloData extracts hello data from a message
func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
