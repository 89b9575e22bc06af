// Package normalize converts provider result payloads into canonical word events.
// All functions are pure.
package normalize

import (
	"strings"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/service/chunk"
)

// Word is a provider-neutral word as extracted from a payload. A nil Speaker
// means the provider gave no label.
type Word struct {
	Text       string
	Punctuated string
	Start      float64
	End        float64
	Speaker    *int
	Confidence float64
}

// Utterance is a provider-neutral result payload.
type Utterance struct {
	Transcript  string
	Start       float64
	End         float64
	Confidence  float64
	Words       []Word
	Speakers    []int
	IsFinal     bool
	SpeechFinal bool
}

// Normalize produces the canonical result for an utterance. The second return
// is false when the payload carries no usable text and must be dropped.
func Normalize(u Utterance) (models.TranscriptResult, bool) {
	transcript := strings.TrimSpace(u.Transcript)
	if transcript == "" {
		return models.TranscriptResult{}, false
	}

	words := make([]models.WordEvent, 0, len(u.Words))
	for _, w := range u.Words {
		ev, ok := toWordEvent(w)
		if !ok {
			continue
		}
		words = append(words, ev)
	}

	if len(words) == 0 {
		words = append(words, synthesize(u, transcript))
	}

	return models.TranscriptResult{
		Transcript:  transcript,
		Words:       words,
		IsFinal:     u.IsFinal,
		SpeechFinal: u.SpeechFinal,
		Confidence:  clampConfidence(u.Confidence),
	}, true
}

func toWordEvent(w Word) (models.WordEvent, bool) {
	text := strings.TrimSpace(w.Text)
	punctuated := strings.TrimSpace(w.Punctuated)
	if text == "" && punctuated == "" {
		return models.WordEvent{}, false
	}
	if text == "" {
		text = punctuated
	}

	speaker := models.UnknownSpeaker
	if w.Speaker != nil {
		speaker = *w.Speaker
	}

	start, end := w.Start, w.End
	if end < start {
		end = start
	}

	return models.WordEvent{
		Text:       text,
		Punctuated: punctuated,
		Start:      start,
		End:        end,
		Speaker:    speaker,
		Confidence: clampConfidence(w.Confidence),
	}, true
}

// synthesize builds a single word spanning the whole utterance when the
// payload has no word-level breakdown.
func synthesize(u Utterance, transcript string) models.WordEvent {
	end := u.End
	if end < u.Start {
		end = u.Start
	}
	return models.WordEvent{
		Text:       transcript,
		Start:      u.Start,
		End:        end,
		Speaker:    chunk.DominantOf(u.Speakers),
		Confidence: clampConfidence(u.Confidence),
	}
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
