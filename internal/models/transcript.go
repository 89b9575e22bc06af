// Package models defines the data structures shared by the transcription pipeline.
package models

import "time"

// UnknownSpeaker is the speaker id used when the provider gives no per-word label.
const UnknownSpeaker = -1

// WordEvent is one recognized token with timing and speaker attribution.
type WordEvent struct {
	Text       string  `json:"text" bson:"text"`
	Punctuated string  `json:"punctuated,omitempty" bson:"punctuated,omitempty"`
	Start      float64 `json:"start" bson:"start"`
	End        float64 `json:"end" bson:"end"`
	Speaker    int     `json:"speaker" bson:"speaker"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

// DisplayText returns the punctuated form when the provider supplied one.
func (w WordEvent) DisplayText() string {
	if w.Punctuated != "" {
		return w.Punctuated
	}
	return w.Text
}

// TranscriptResult is one normalized provider result.
// IsFinal marks the span as no longer revisable; SpeechFinal marks the end of an utterance.
type TranscriptResult struct {
	Transcript  string
	Words       []WordEvent
	IsFinal     bool
	SpeechFinal bool
	Confidence  float64
}

// Chunk is a contiguous run of words attributed to one speaker.
type Chunk struct {
	Speaker   int         `json:"speaker" bson:"speaker"`
	Text      string      `json:"text" bson:"text"`
	Start     float64     `json:"start" bson:"start"`
	End       float64     `json:"end" bson:"end"`
	WordCount int         `json:"wordCount" bson:"word_count"`
	RawWords  []WordEvent `json:"rawWords" bson:"raw_words"`
	Finalized bool        `json:"finalized" bson:"finalized"`
}

// Duration returns the chunk span in seconds.
func (c Chunk) Duration() float64 {
	return c.End - c.Start
}

// PatientMetadata is the optional patient context supplied by the client.
type PatientMetadata struct {
	PatientID   string `json:"patientId,omitempty" bson:"patient_id,omitempty"`
	PatientName string `json:"patientName,omitempty" bson:"patient_name,omitempty"`
	Encounter   string `json:"encounter,omitempty" bson:"encounter,omitempty"`
}

// IsZero reports whether no metadata field is set.
func (p PatientMetadata) IsZero() bool {
	return p.PatientID == "" && p.PatientName == "" && p.Encounter == ""
}

// NewRecord holds the fields used to create a transcript record.
type NewRecord struct {
	OwnerID     string
	SessionCode string
	Patient     PatientMetadata
}

// Record is one persisted transcript, one per recording session.
type Record struct {
	ID          string          `json:"id" bson:"_id"`
	OwnerID     string          `json:"ownerId" bson:"owner_id"`
	SessionCode string          `json:"sessionCode" bson:"session_code"`
	Patient     PatientMetadata `json:"patient" bson:"patient"`
	Chunks      []Chunk         `json:"chunks" bson:"chunks"`
	FullText    string          `json:"fullText" bson:"full_text"`
	CreatedAt   time.Time       `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" bson:"updated_at"`
	CompletedAt *time.Time      `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}
