package normalize

import (
	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"ai-scribe-service/internal/models"
)

// FromDeepgram normalizes a Deepgram live transcription message.
// Only the first alternative is used.
func FromDeepgram(mr *api.MessageResponse) (models.TranscriptResult, bool) {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return models.TranscriptResult{}, false
	}
	alt := mr.Channel.Alternatives[0]

	u := Utterance{
		Transcript:  alt.Transcript,
		Start:       mr.Start,
		End:         mr.Start + mr.Duration,
		Confidence:  alt.Confidence,
		IsFinal:     mr.IsFinal,
		SpeechFinal: mr.SpeechFinal,
		Words:       make([]Word, 0, len(alt.Words)),
	}
	for _, w := range alt.Words {
		u.Words = append(u.Words, Word{
			Text:       w.Word,
			Punctuated: w.PunctuatedWord,
			Start:      w.Start,
			End:        w.End,
			Speaker:    w.Speaker,
			Confidence: w.Confidence,
		})
		if w.Speaker != nil {
			u.Speakers = append(u.Speakers, *w.Speaker)
		}
	}
	return Normalize(u)
}
