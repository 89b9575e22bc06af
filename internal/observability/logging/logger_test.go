package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return fields
}

func TestWithStream(t *testing.T) {
	buf := captureGlobal(t)

	l := WithStream("sess-1", "deepgram")
	l.Info().Msg("Upstream connection live")

	fields := decode(t, buf)
	if fields["sessionId"] != "sess-1" {
		t.Errorf("sessionId = %v, want sess-1", fields["sessionId"])
	}
	if fields["sttProvider"] != "deepgram" {
		t.Errorf("sttProvider = %v, want deepgram", fields["sttProvider"])
	}
}

func TestWithRecord(t *testing.T) {
	buf := captureGlobal(t)

	l := WithRecord("sess-1", "dr-1", "rec-1")
	l.Info().Msg("Transcript record created")

	fields := decode(t, buf)
	for key, want := range map[string]string{"sessionId": "sess-1", "ownerId": "dr-1", "recordId": "rec-1"} {
		if fields[key] != want {
			t.Errorf("%s = %v, want %s", key, fields[key], want)
		}
	}
}
