package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CommandType is the tag of a client control message.
type CommandType string

const (
	CommandStartRecording     CommandType = "start_recording"
	CommandStopRecording      CommandType = "stop_recording"
	CommandSetPatientMetadata CommandType = "set_patient_metadata"
	CommandPing               CommandType = "ping"
)

// ErrUnknownCommand is returned for control messages with an unrecognized tag.
var ErrUnknownCommand = errors.New("unknown command")

// Valid reports whether the tag is one of the supported commands.
func (c CommandType) Valid() bool {
	switch c {
	case CommandStartRecording, CommandStopRecording, CommandSetPatientMetadata, CommandPing:
		return true
	default:
		return false
	}
}

// ClientMessage is a control message received from the client over a text frame.
type ClientMessage struct {
	Type        CommandType      `json:"type"`
	Patient     *PatientMetadata `json:"patient,omitempty"`
	SessionHint string           `json:"sessionHint,omitempty"`
}

// ParseClientMessage decodes a control message and rejects unknown tags.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode control message: %w", err)
	}
	if !msg.Type.Valid() {
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Type)
	}
	return msg, nil
}
