package models

import "time"

// Event types sent to the live UI.
const (
	EventTypeConnection = "connection"
	EventTypeTranscript = "transcript"
	EventTypeChunk      = "chunk"
	EventTypeError      = "error"
	EventTypePong       = "pong"
)

// Connection status values carried by ConnectionEvent.
const (
	StatusConnected     = "connected"
	StatusRecording     = "recording"
	StatusStopped       = "stopped"
	StatusFailed        = "failed"
	StatusSpeechStarted = "speech_started"
	StatusUpstreamClose = "upstream_closed"
)

// Event is the common envelope of every server-to-client message.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// NewEvent stamps an envelope with the current time.
func NewEvent(eventType, sessionID string) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ConnectionEvent reports a session status change.
type ConnectionEvent struct {
	Event
	Status       string `json:"status"`
	TranscriptID string `json:"transcriptId,omitempty"`
	SessionCode  string `json:"sessionCode,omitempty"`
}

// LiveTranscriptEvent is an interim or final transcript update.
type LiveTranscriptEvent struct {
	Event
	Speaker     int         `json:"speaker"`
	Text        string      `json:"text"`
	Start       float64     `json:"start"`
	End         float64     `json:"end"`
	IsFinal     bool        `json:"isFinal"`
	SpeechFinal bool        `json:"speechFinal"`
	Words       []WordEvent `json:"words,omitempty"`
}

// ChunkEvent announces a finalized chunk.
type ChunkEvent struct {
	Event
	Chunk Chunk `json:"chunk"`
}

// ErrorEvent is an advisory error notification.
type ErrorEvent struct {
	Event
	Message string `json:"message"`
}
