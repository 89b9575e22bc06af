// Package chunk folds word events into speaker-homogeneous, duration-bounded chunks.
package chunk

import (
	"strings"
	"time"

	"ai-scribe-service/internal/models"
)

// DefaultMaxDuration is the default cap on accumulated chunk span.
const DefaultMaxDuration = 30 * time.Second

// Aggregator is the per-session chunking state machine. It holds at most one
// open chunk. Not safe for concurrent use; the owning session serializes calls.
type Aggregator struct {
	maxDuration float64
	open        *models.Chunk
}

// NewAggregator creates an aggregator with the given duration cap.
// A non-positive cap falls back to DefaultMaxDuration.
func NewAggregator(maxDuration time.Duration) *Aggregator {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Aggregator{maxDuration: maxDuration.Seconds()}
}

// MaxDuration returns the configured cap.
func (a *Aggregator) MaxDuration() time.Duration {
	return time.Duration(a.maxDuration * float64(time.Second))
}

// Ingest folds words into the open chunk in delivery order and returns every
// chunk finalized along the way. When flush is true the open chunk is
// finalized after the last word.
//
// A boundary fires when the speaker changes or when the word would stretch the
// open chunk past the cap (strict comparison: exactly the cap is allowed).
// A single word longer than the cap still forms its own chunk.
func (a *Aggregator) Ingest(words []models.WordEvent, flush bool) []models.Chunk {
	var out []models.Chunk
	for _, w := range words {
		if a.open == nil {
			a.open = openChunk(w)
			continue
		}

		speakerChanged := w.Speaker != a.open.Speaker
		durationExceeded := w.End-a.open.Start > a.maxDuration
		if speakerChanged || durationExceeded {
			out = append(out, a.finalize())
			a.open = openChunk(w)
			continue
		}

		appendWord(a.open, w)
	}

	if flush {
		out = append(out, a.Flush()...)
	}
	return out
}

// Flush finalizes the open chunk, if any.
func (a *Aggregator) Flush() []models.Chunk {
	if a.open == nil {
		return nil
	}
	return []models.Chunk{a.finalize()}
}

// Open returns a copy of the chunk currently being built.
func (a *Aggregator) Open() (models.Chunk, bool) {
	if a.open == nil {
		return models.Chunk{}, false
	}
	c := *a.open
	c.RawWords = append([]models.WordEvent(nil), a.open.RawWords...)
	return c, true
}

func (a *Aggregator) finalize() models.Chunk {
	c := *a.open
	c.Finalized = true
	a.open = nil
	return c
}

func openChunk(w models.WordEvent) *models.Chunk {
	return &models.Chunk{
		Speaker:   w.Speaker,
		Text:      strings.TrimSpace(w.DisplayText()),
		Start:     w.Start,
		End:       w.End,
		WordCount: 1,
		RawWords:  []models.WordEvent{w},
	}
}

func appendWord(c *models.Chunk, w models.WordEvent) {
	c.RawWords = append(c.RawWords, w)
	c.End = w.End
	c.WordCount++
	if text := strings.TrimSpace(w.DisplayText()); text != "" {
		if c.Text == "" {
			c.Text = text
		} else {
			c.Text += " " + text
		}
	}
}
