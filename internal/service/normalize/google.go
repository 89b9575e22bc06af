package normalize

import (
	"strconv"
	"strings"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"ai-scribe-service/internal/models"
)

// FromGoogle normalizes a Google streaming recognition result. Google reports
// diarization labels starting at 1 (0 means unset); they are shifted to start at 0.
// speechFinal is passed in because Google signals utterance end on the response,
// not on the result.
func FromGoogle(r *speechpb.StreamingRecognitionResult, speechFinal bool) (models.TranscriptResult, bool) {
	if r == nil || len(r.GetAlternatives()) == 0 {
		return models.TranscriptResult{}, false
	}
	alt := r.GetAlternatives()[0]

	u := Utterance{
		Transcript:  alt.GetTranscript(),
		End:         r.GetResultEndTime().AsDuration().Seconds(),
		Confidence:  float64(alt.GetConfidence()),
		IsFinal:     r.GetIsFinal(),
		SpeechFinal: speechFinal && r.GetIsFinal(),
		Words:       make([]Word, 0, len(alt.GetWords())),
	}
	for i, w := range alt.GetWords() {
		word := Word{
			Text:       w.GetWord(),
			Start:      w.GetStartTime().AsDuration().Seconds(),
			End:        w.GetEndTime().AsDuration().Seconds(),
			Speaker:    googleSpeaker(w),
			Confidence: float64(w.GetConfidence()),
		}
		if i == 0 {
			u.Start = word.Start
		}
		if word.Speaker != nil {
			u.Speakers = append(u.Speakers, *word.Speaker)
		}
		u.Words = append(u.Words, word)
	}
	if len(u.Words) == 0 {
		u.Start = u.End
	}
	return Normalize(u)
}

func googleSpeaker(w *speechpb.WordInfo) *int {
	if label := strings.TrimSpace(w.GetSpeakerLabel()); label != "" {
		if n, err := strconv.Atoi(label); err == nil && n > 0 {
			s := n - 1
			return &s
		}
	}
	if tag := w.GetSpeakerTag(); tag > 0 {
		s := int(tag) - 1
		return &s
	}
	return nil
}
