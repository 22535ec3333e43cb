package ws

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"estatehub/internal/domain"
	"estatehub/internal/registry"
	"estatehub/internal/security"
	"estatehub/internal/service"
	"estatehub/internal/store/sqlite"
)

type stack struct {
	server   *httptest.Server
	db       *sql.DB
	tokens   *security.TokenService
	viewers  *registry.Participation
	presence *registry.Presence
	hub      *Hub
	users    map[string]*domain.User
	convID   int64
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)

	db, err := sqlite.Open(ctx, "file:"+filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db))

	userRepo := sqlite.NewUserRepo(db)
	convRepo := sqlite.NewConversationRepo(db)
	partRepo := sqlite.NewParticipantRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)

	s := &stack{
		db:       db,
		tokens:   security.NewTokenService("ws-secret", time.Hour),
		viewers:  registry.NewParticipation(4),
		presence: registry.NewPresence(4),
		hub:      NewHub(log),
		users:    map[string]*domain.User{},
	}
	for _, name := range []string{"agent", "client", "away", "outsider"} {
		u := &domain.User{Username: name, DisplayName: strings.ToUpper(name), HashedPassword: "x"}
		require.NoError(t, userRepo.Create(ctx, u))
		s.users[name] = u
	}
	conv := &domain.Conversation{Title: "Lilas"}
	require.NoError(t, convRepo.Create(ctx, conv, []domain.Assignment{
		{UserID: s.users["agent"].ID, Role: domain.RoleAgent},
		{UserID: s.users["client"].ID, Role: domain.RoleClient},
		{UserID: s.users["away"].ID, Role: domain.RoleClient},
	}))
	s.convID = conv.ID

	enc, err := security.NewEncryptor("enc-secret", nil)
	require.NoError(t, err)
	groups := registry.NewGroups(4)
	stripes := registry.NewStripes(4)
	gate := service.NewGate(s.tokens, userRepo, partRepo)
	msgSvc := service.NewMessageService(msgRepo, enc, log, 50)
	bc := service.NewBroadcaster(partRepo, s.viewers, groups, stripes, s.hub, log)
	chat := service.NewChatService(gate, msgSvc, bc, s.presence, s.viewers, groups, stripes, userRepo, log)

	h := NewHandler(gate, chat, s.hub, Options{AllowedOrigins: []string{"http://localhost:3000"}}, log)
	s.server = httptest.NewServer(h)
	t.Cleanup(s.server.Close)
	return s
}

func (s *stack) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	token, err := s.tokens.Issue(s.users[name].ID, name)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(), http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Equal(t, TypeConnected, readFrame(t, conn).Type)
	return conn
}

func (s *stack) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

type testFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f testFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ, requestID string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: typ, RequestID: requestID, Data: raw}))
}

func errorCode(t *testing.T, f testFrame) string {
	t.Helper()
	require.Equal(t, TypeError, f.Type)
	var d ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &d))
	return d.Code
}

func TestHandler_RejectsMissingOrForeignToken(t *testing.T) {
	s := newStack(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	foreign, err := security.NewTokenService("other", time.Hour).Issue(s.users["agent"].ID, "agent")
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(s.wsURL(), http.Header{"Authorization": {"Bearer " + foreign}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Zero(t, s.presence.Len())
}

func TestHandler_RejectsUnknownOrigin(t *testing.T) {
	s := newStack(t)
	token, err := s.tokens.Issue(s.users["agent"].ID, "agent")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), http.Header{
		"Authorization": {"Bearer " + token},
		"Origin":        {"https://evil.example"},
	})
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_SubprotocolToken(t *testing.T) {
	s := newStack(t)
	token, err := s.tokens.Issue(s.users["agent"].ID, "agent")
	require.NoError(t, err)

	dialer := websocket.Dialer{Subprotocols: []string{"bearer", token}}
	conn, resp, err := dialer.Dial(s.wsURL(), http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "bearer", resp.Header.Get("Sec-WebSocket-Protocol"))
	require.Equal(t, TypeConnected, readFrame(t, conn).Type)
}

func TestHandler_SendFansOutToViewersAndLiveFeeds(t *testing.T) {
	req := require.New(t)
	s := newStack(t)

	agent, client, away := s.dial(t, "agent"), s.dial(t, "client"), s.dial(t, "away")
	join := ConversationData{ConversationID: s.convID}

	writeFrame(t, agent, TypeJoinConversation, "j1", join)
	req.Equal("j1", readFrame(t, agent).RequestID)
	writeFrame(t, client, TypeJoinConversation, "j2", join)
	req.Equal("j2", readFrame(t, client).RequestID)
	writeFrame(t, away, TypeJoinLiveUpdates, "l1", nil)
	req.Equal(TypeAck, readFrame(t, away).Type)

	writeFrame(t, agent, TypeSendMessage, "s1", SendMessageData{ConversationID: s.convID, Text: "hello", LocalID: "tmp-1"})

	// The sender sees its echo, then the ack carrying the stored message
	echo := readFrame(t, agent)
	req.Equal(service.EventMessage, echo.Type)
	ack := readFrame(t, agent)
	req.Equal(TypeAck, ack.Type)
	req.Equal("s1", ack.RequestID)
	var sent service.MessageResponse
	req.NoError(json.Unmarshal(ack.Data, &sent))
	req.Equal("hello", sent.Text)
	req.Equal("tmp-1", sent.LocalID)
	req.ElementsMatch([]int64{s.users["agent"].ID, s.users["client"].ID}, sent.ReadBy)

	viewed := readFrame(t, client)
	req.Equal(service.EventMessage, viewed.Type)

	notice := readFrame(t, away)
	req.Equal(service.EventNewInActivity, notice.Type)
	var noticed service.MessageResponse
	req.NoError(json.Unmarshal(notice.Data, &noticed))
	req.Equal(sent.ID, noticed.ID)

	var reads int
	req.NoError(s.db.QueryRow(`SELECT COUNT(1) FROM message_reads WHERE message_id = ?`, sent.ID).Scan(&reads))
	req.Equal(2, reads)

	var stored string
	req.NoError(s.db.QueryRow(`SELECT content FROM messages WHERE id = ?`, sent.ID).Scan(&stored))
	req.NotEqual("hello", stored)
}

func TestHandler_OperationErrorsKeepConnectionOpen(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	outsider := s.dial(t, "outsider")

	writeFrame(t, outsider, TypeJoinConversation, "j1", ConversationData{ConversationID: s.convID})
	f := readFrame(t, outsider)
	req.Equal("j1", f.RequestID)
	req.Equal(CodeNotAParticipant, errorCode(t, f))

	writeFrame(t, outsider, TypeSendMessage, "s1", SendMessageData{ConversationID: s.convID, Text: "hi"})
	req.Equal(CodeNotAParticipant, errorCode(t, readFrame(t, outsider)))

	writeFrame(t, outsider, TypeSendMessage, "s2", map[string]any{"conversation_id": s.convID, "text": ""})
	req.Equal(CodeInvalidPayload, errorCode(t, readFrame(t, outsider)))

	writeFrame(t, outsider, "mark_read", "x", ConversationData{ConversationID: s.convID})
	req.Equal(CodeUnsupportedType, errorCode(t, readFrame(t, outsider)))

	req.NoError(outsider.WriteMessage(websocket.TextMessage, []byte("{not json")))
	req.Equal(CodeInvalidPayload, errorCode(t, readFrame(t, outsider)))

	// Still usable
	writeFrame(t, outsider, TypeJoinLiveUpdates, "l1", nil)
	req.Equal(TypeAck, readFrame(t, outsider).Type)

	var n int
	req.NoError(s.db.QueryRow(`SELECT COUNT(1) FROM messages`).Scan(&n))
	req.Zero(n)
}

func TestHandler_TypingReachesOthersOnly(t *testing.T) {
	req := require.New(t)
	s := newStack(t)
	agent, client := s.dial(t, "agent"), s.dial(t, "client")
	join := ConversationData{ConversationID: s.convID}

	writeFrame(t, agent, TypeJoinConversation, "j1", join)
	readFrame(t, agent)
	writeFrame(t, client, TypeJoinConversation, "j2", join)
	readFrame(t, client)

	writeFrame(t, agent, TypeTyping, "t1", TypingData{ConversationID: s.convID, IsTyping: true})
	req.Equal("t1", readFrame(t, agent).RequestID)

	f := readFrame(t, client)
	req.Equal(service.EventTyping, f.Type)
	var p service.TypingPayload
	req.NoError(json.Unmarshal(f.Data, &p))
	req.Equal(service.TypingPayload{
		ConversationID: s.convID,
		UserID:         s.users["agent"].ID,
		DisplayName:    "AGENT",
		IsTyping:       true,
	}, p)
}

func TestHandler_CloseCleansRegistries(t *testing.T) {
	s := newStack(t)
	client := s.dial(t, "client")

	writeFrame(t, client, TypeJoinConversation, "j1", ConversationData{ConversationID: s.convID})
	readFrame(t, client)
	require.True(t, s.viewers.IsActive(s.convID, s.users["client"].ID))

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return !s.viewers.IsActive(s.convID, s.users["client"].ID) &&
			!s.presence.IsOnline(s.users["client"].ID) &&
			s.hub.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	var online bool
	require.NoError(t, s.db.QueryRow(`SELECT is_online FROM users WHERE id = ?`, s.users["client"].ID).Scan(&online))
	require.False(t, online)
}

func TestHub_CloseDisconnectsEveryone(t *testing.T) {
	s := newStack(t)
	a, b := s.dial(t, "agent"), s.dial(t, "client")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.hub.Close(ctx))

	// Close returns only after every session ran its disconnect cleanup.
	require.Zero(t, s.presence.Len())
	require.Zero(t, s.hub.Len())
	for _, name := range []string{"agent", "client"} {
		var online bool
		require.NoError(t, s.db.QueryRow(`SELECT is_online FROM users WHERE id = ?`, s.users[name].ID).Scan(&online))
		require.False(t, online, name)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), fmt.Sprint(err))
	}
}

func TestHub_RefusesConnectionsAfterClose(t *testing.T) {
	s := newStack(t)
	require.NoError(t, s.hub.Close(context.Background()))

	token, err := s.tokens.Issue(s.users["agent"].ID, "agent")
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(), http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), fmt.Sprint(err))
	require.False(t, s.presence.IsOnline(s.users["agent"].ID))
}
