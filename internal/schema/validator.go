// Package schema validates inbound client commands and outbound chunks.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"ai-scribe-service/internal/models"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("schema: invalid")

// epsilon absorbs float rounding in provider word offsets.
const epsilon = 1e-6

var sessionHintPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Validator checks message shapes that the JSON decoder cannot.
type Validator struct {
	maxChunkDuration float64
}

// New creates a validator for chunks bounded by maxChunkDuration.
func New(maxChunkDuration time.Duration) *Validator {
	return &Validator{maxChunkDuration: maxChunkDuration.Seconds()}
}

// ValidateCommand checks a decoded control message.
func (v *Validator) ValidateCommand(msg models.ClientMessage) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalid, models.ErrUnknownCommand, msg.Type)
	}
	switch msg.Type {
	case models.CommandSetPatientMetadata:
		if msg.Patient == nil || msg.Patient.IsZero() {
			return fmt.Errorf("%w: %s requires patient metadata", ErrInvalid, msg.Type)
		}
	case models.CommandStartRecording:
		if msg.SessionHint != "" && !sessionHintPattern.MatchString(msg.SessionHint) {
			return fmt.Errorf("%w: session hint %q", ErrInvalid, msg.SessionHint)
		}
	}
	return nil
}

// ValidateChunk checks the structural invariants of a finalized chunk.
func (v *Validator) ValidateChunk(c models.Chunk) error {
	if !c.Finalized {
		return fmt.Errorf("%w: chunk not finalized", ErrInvalid)
	}
	if c.Start > c.End {
		return fmt.Errorf("%w: chunk start %.3f after end %.3f", ErrInvalid, c.Start, c.End)
	}
	if c.WordCount != len(c.RawWords) {
		return fmt.Errorf("%w: word count %d, raw words %d", ErrInvalid, c.WordCount, len(c.RawWords))
	}
	for i, w := range c.RawWords {
		if w.Speaker != c.Speaker {
			return fmt.Errorf("%w: word %d speaker %d in chunk of speaker %d", ErrInvalid, i, w.Speaker, c.Speaker)
		}
	}
	// A single word may exceed the cap on its own.
	if v.maxChunkDuration > 0 && c.WordCount > 1 && c.Duration() > v.maxChunkDuration+epsilon {
		return fmt.Errorf("%w: chunk spans %.3fs, cap %.3fs", ErrInvalid, c.Duration(), v.maxChunkDuration)
	}
	return nil
}
