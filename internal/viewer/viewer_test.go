package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

// fakeReader replays queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	errs   []error
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestConsume_ForwardsJSONAndSkipsGarbage(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &fakeReader{msgs: []kafka.Message{
		{Key: []byte("s-1"), Value: []byte("not json")},
		{Key: []byte("s-1"), Value: []byte(`{"type":"chunk","chunk":{"text":"hello"}}`)},
	}}
	done := make(chan struct{})
	go func() {
		Consume(ctx, hub, r, "scribe.transcript.chunk")
		close(done)
	}()

	select {
	case msg := <-hub.broadcast:
		require.Equal(t, "scribe.transcript.chunk", msg.Topic)
		require.Equal(t, "s-1", msg.Key)
		require.JSONEq(t, `{"type":"chunk","chunk":{"text":"hello"}}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("no message forwarded")
	}

	cancel()
	<-done
	require.True(t, r.isClosed())
	require.Empty(t, hub.broadcast)
}

func TestConsume_RetriesAfterReadError(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &fakeReader{
		errs: []error{errors.New("broker unavailable")},
		msgs: []kafka.Message{{Value: []byte(`{"type":"transcript"}`)}},
	}
	go Consume(ctx, hub, r, "live")

	select {
	case msg := <-hub.broadcast:
		require.Equal(t, "live", msg.Topic)
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not recover from read error")
	}
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(ctx, Message{Topic: "chunk", Key: "s-1", Payload: json.RawMessage(`{"type":"chunk"}`)})

	c.SetReadDeadline(time.Now().Add(time.Second))
	var got Message
	require.NoError(t, c.ReadJSON(&got))
	require.Equal(t, "chunk", got.Topic)
	require.Equal(t, "s-1", got.Key)
	require.JSONEq(t, `{"type":"chunk"}`, string(got.Payload))

	c.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPage(t *testing.T) {
	rec := httptest.NewRecorder()
	Page(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/ws")
}
