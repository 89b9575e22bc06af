package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"ai-scribe-service/internal/models"
	"ai-scribe-service/internal/service/buffer"
	"ai-scribe-service/internal/service/session"
	"ai-scribe-service/internal/service/stt"
	"ai-scribe-service/internal/service/stt/mock"
	"ai-scribe-service/internal/service/transcription"
	"ai-scribe-service/internal/store"
)

type frame struct {
	Type   string        `json:"type"`
	Status string        `json:"status"`
	Chunk  *models.Chunk `json:"chunk"`
	Text   string        `json:"text"`
}

func newServer(t *testing.T, st store.Store) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(session.Config{
		Controller:       transcription.Config{ConnectTimeout: time.Second},
		Buffer:           buffer.Config{FlushDelay: 5 * time.Millisecond, HighWaterMark: 100, DrainTimeout: time.Second},
		MaxChunkDuration: 30 * time.Second,
	}, session.Deps{
		Factory: func() stt.Adapter { return mock.New(mock.WithLatency(0)) },
		Store:   st,
	})
	srv := httptest.NewServer(Handler(reg))
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// readUntil skips frames until match returns true.
func readUntil(t *testing.T, c *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	for {
		if f := read(t, c); match(f) {
			return f
		}
	}
}

func TestHandler_RequiresOwner(t *testing.T) {
	srv, _ := newServer(t, store.NewMemory())

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_PingAndInvalidCommands(t *testing.T) {
	srv, _ := newServer(t, store.NewMemory())
	c := dial(t, srv, "userId=dr-1")

	hello := read(t, c)
	require.Equal(t, models.EventTypeConnection, hello.Type)
	require.Equal(t, models.StatusConnected, hello.Status)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.Equal(t, models.EventTypePong, read(t, c).Type)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"rewind"}`)))
	require.Equal(t, models.EventTypeError, read(t, c).Type)

	// Still open.
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.Equal(t, models.EventTypePong, read(t, c).Type)
}

func TestServe_RecordingRoundTrip(t *testing.T) {
	st := store.NewMemory()
	srv, reg := newServer(t, st)
	c := dial(t, srv, "userId=dr-7")
	read(t, c)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"start_recording","patient":{"patientId":"p-9"}}`)))
	readUntil(t, c, func(f frame) bool { return f.Status == models.StatusRecording })

	// Seven frames complete the first scripted utterance.
	for i := 0; i < 7; i++ {
		require.NoError(t, c.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)))
	}
	got := readUntil(t, c, func(f frame) bool { return f.Type == models.EventTypeChunk })
	require.NotNil(t, got.Chunk)
	require.Equal(t, "good morning what brings you in today", got.Chunk.Text)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop_recording"}`)))
	readUntil(t, c, func(f frame) bool { return f.Status == models.StatusStopped })

	rec, err := st.ReadLatest(context.Background(), "dr-7")
	require.NoError(t, err)
	require.Equal(t, "p-9", rec.Patient.PatientID)
	require.Len(t, rec.Chunks, 1)
	require.NotNil(t, rec.CompletedAt)
	require.Equal(t, 1, reg.Count())
}

func TestServe_DisconnectTearsDownSession(t *testing.T) {
	st := store.NewMemory()
	srv, reg := newServer(t, st)
	c := dial(t, srv, "userId=dr-3")
	read(t, c)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"start_recording"}`)))
	readUntil(t, c, func(f frame) bool { return f.Status == models.StatusRecording })
	for i := 0; i < 2; i++ {
		require.NoError(t, c.WriteMessage(websocket.BinaryMessage, make([]byte, 3200)))
	}

	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.Close()

	require.Eventually(t, func() bool { return reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	// The partial utterance was flushed and persisted during teardown.
	rec, err := st.ReadLatest(context.Background(), "dr-3")
	require.NoError(t, err)
	require.Len(t, rec.Chunks, 1)
	require.Equal(t, "good morning", rec.Chunks[0].Text)
	require.NotNil(t, rec.CompletedAt)
}
