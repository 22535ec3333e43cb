package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatehub/internal/domain"
	"estatehub/internal/service"
)

func TestDecoder_SendMessage(t *testing.T) {
	d := NewDecoder()
	task, contact := int64(3), int64(4)

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"conversation_id":1,"text":"hi","local_id":"a"}`, false},
		{"task attachment", `{"conversation_id":1,"text":"hi","attachments":[{"task_id":3}]}`, false},
		{"missing conversation", `{"text":"hi"}`, true},
		{"empty text", `{"conversation_id":1,"text":""}`, true},
		{"too long", `{"conversation_id":1,"text":"` + strings.Repeat("a", 5001) + `"}`, true},
		{"unknown field", `{"conversation_id":1,"text":"hi","content":"x"}`, true},
		{"both refs", `{"conversation_id":1,"text":"hi","attachments":[{"task_id":3,"contact_id":4}]}`, true},
		{"no ref", `{"conversation_id":1,"text":"hi","attachments":[{}]}`, true},
		{"wrong type", `{"conversation_id":"1","text":"hi"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SendMessageData
			err := d.Data(json.RawMessage(tt.raw), &got)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			assert.NoError(t, err)
		})
	}

	in := SendMessageData{
		ConversationID: 9,
		Text:           "x",
		Attachments:    []AttachmentData{{TaskID: &task}, {ContactID: &contact}},
	}.Input()
	assert.Equal(t, int64(9), in.ConversationID)
	assert.Equal(t, []service.AttachmentInput{{TaskID: &task}, {ContactID: &contact}}, in.Attachments)
}

func TestDecoder_Envelope(t *testing.T) {
	d := NewDecoder()

	env, err := d.Envelope([]byte(`{"type":"typing","request_id":"r1","data":{"conversation_id":2,"is_typing":true}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeTyping, env.Type)

	var td TypingData
	require.NoError(t, d.Data(env.Data, &td))
	assert.Equal(t, TypingData{ConversationID: 2, IsTyping: true}, td)

	_, err = d.Envelope([]byte(`{"request_id":"r1"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	assert.ErrorIs(t, d.Data(nil, &td), domain.ErrInvalidPayload)
}

func TestErrorFrame_Codes(t *testing.T) {
	cases := map[error]string{
		domain.ErrUnauthenticated:      CodeUnauthenticated,
		domain.ErrNotAParticipant:      CodeNotAParticipant,
		domain.ErrInvalidPayload:       CodeInvalidPayload,
		domain.ErrSendFailed:           CodeSendFailed,
		errUnsupportedType:             CodeUnsupportedType,
		errors.New("database is gone"): CodeInternal,
	}
	for err, code := range cases {
		f := errorFrame("r", err)
		assert.Equal(t, TypeError, f.Type)
		assert.Equal(t, code, f.Data.(ErrorData).Code)
	}

	// Storage details never leak through send failures
	f := errorFrame("r", errors.Join(domain.ErrSendFailed, errors.New("pq: relation missing")))
	assert.NotContains(t, f.Data.(ErrorData).Message, "pq")
}

func TestCheckOrigin(t *testing.T) {
	check := makeCheckOrigin([]string{"http://localhost:3000", " HTTPS://App.Example.com "})

	for origin, want := range map[string]bool{
		"":                             true,
		"http://localhost:3000":        true,
		"https://app.example.com":      true,
		"https://app.example.com/path": true,
		"https://evil.example":         false,
		"not a url":                    false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, check(r), origin)
	}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anything.example")
	assert.True(t, makeCheckOrigin([]string{"*"})(r))
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, extractToken(r))

	r.Header.Set("Sec-WebSocket-Protocol", "bearer, abc.def")
	assert.Equal(t, "abc.def", extractToken(r))

	r.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", extractToken(r))
}

// serverConn returns the server side of a fresh websocket pair.
func serverConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })
	return <-conns, peer
}

func TestClient_SlowConsumerIsClosed(t *testing.T) {
	conn, _ := serverConn(t)
	c := NewClient(&domain.User{ID: 1}, conn, Options{SendBuffer: 1})

	// Write loop not started, so the buffer never drains
	require.NoError(t, c.Send([]byte(`{}`)))
	require.ErrorIs(t, c.Send([]byte(`{}`)), ErrBufferFull)

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed")
	}
	require.ErrorIs(t, c.Send([]byte(`{}`)), ErrClientClosed)
}

func TestHub_DeliverEncodesFrames(t *testing.T) {
	conn, peer := serverConn(t)
	hub := NewHub(slog.New(slog.DiscardHandler))
	c := NewClient(&domain.User{ID: 1}, conn, Options{})
	require.NoError(t, hub.Register(c))
	c.Start()
	defer c.Close(websocket.CloseNormalClosure, "")

	require.ErrorIs(t, hub.Deliver("nobody", service.Event{Type: service.EventTyping}), ErrUnknownHandle)
	require.NoError(t, hub.Deliver(c.ID, service.Event{
		Type: service.EventTyping,
		Data: service.TypingPayload{ConversationID: 5, UserID: 1, IsTyping: true},
	}))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f testFrame
	require.NoError(t, peer.ReadJSON(&f))
	require.Equal(t, service.EventTyping, f.Type)
	require.JSONEq(t, `{"conversation_id":5,"user_id":1,"display_name":"","is_typing":true}`, string(f.Data))

	hub.Unregister(c)
	require.Zero(t, hub.Len())
}
