package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"estatehub/internal/service"
)

// Options tunes the websocket endpoint.
type Options struct {
	AllowedOrigins  []string
	SendBuffer      int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	OpTimeout       time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 128
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Second
	}
	return o
}

// Handler serves the /ws endpoint.
type Handler struct {
	gate     *service.Gate
	chat     *service.ChatService
	hub      *Hub
	decoder  *Decoder
	upgrader websocket.Upgrader
	check    func(*http.Request) bool
	opts     Options
	log      *slog.Logger
}

func NewHandler(gate *service.Gate, chat *service.ChatService, hub *Hub, opts Options, log *slog.Logger) *Handler {
	opts = opts.withDefaults()
	check := makeCheckOrigin(opts.AllowedOrigins)
	return &Handler{
		gate:    gate,
		chat:    chat,
		hub:     hub,
		decoder: NewDecoder(),
		upgrader: websocket.Upgrader{
			CheckOrigin:  check,
			Subprotocols: []string{"bearer"},
		},
		check: check,
		opts:  opts,
		log:   log,
	}
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts listed origins. Requests without an Origin header
// come from non-browser clients and are allowed.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, wildcard := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[fmt.Sprintf("%s://%s", u.Scheme, u.Host)]
		return ok
	}
}

// extractToken reads "Authorization: Bearer <t>" or the browser-friendly
// "Sec-WebSocket-Protocol: bearer, <t>".
func extractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token
		}
	}

	parts := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.check(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Identity is resolved before the upgrade so a failure never reaches the registries.
	user, err := h.gate.ResolveUser(r.Context(), extractToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws: upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	client := NewClient(user, conn, h.opts)
	sess := service.Session{User: user, Handle: client.ID}
	if err := h.hub.Register(client); err != nil {
		client.Close(websocket.CloseGoingAway, "server shutdown")
		return
	}
	client.Start()
	h.chat.Connect(r.Context(), sess)
	h.log.Info("ws: connected", "user_id", user.ID, "handle", client.ID)

	defer func() {
		h.chat.Disconnect(context.Background(), sess)
		h.hub.Unregister(client)
		client.Close(websocket.CloseNormalClosure, "session closed")
		h.log.Info("ws: disconnected", "user_id", user.ID, "handle", client.ID)
	}()

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	h.reply(client, Frame{Type: TypeConnected, Data: ConnectedData{UserID: user.ID, Handle: client.ID}})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.log.Debug("ws: read ended", "handle", client.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		env, err := h.decoder.Envelope(data)
		if err != nil {
			h.reply(client, errorFrame("", err))
			continue
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.opts.OpTimeout)
		result, err := h.dispatch(ctx, sess, env)
		cancel()
		if err != nil {
			h.log.Debug("ws: operation failed", "handle", client.ID, "type", env.Type, "error", err)
			h.reply(client, errorFrame(env.RequestID, err))
			continue
		}
		if env.RequestID != "" || env.Type == TypeSendMessage {
			h.reply(client, Frame{Type: TypeAck, RequestID: env.RequestID, Data: result})
		}
	}
}

// dispatch runs one inbound frame. The returned value becomes the ack data;
// acks are only sent for frames carrying a request_id, and always for sends.
func (h *Handler) dispatch(ctx context.Context, sess service.Session, env Envelope) (any, error) {
	switch env.Type {
	case TypeJoinConversation:
		var d ConversationData
		if err := h.decoder.Data(env.Data, &d); err != nil {
			return nil, err
		}
		return d, h.chat.JoinConversation(ctx, sess, d.ConversationID)

	case TypeLeaveConversation:
		var d ConversationData
		if err := h.decoder.Data(env.Data, &d); err != nil {
			return nil, err
		}
		h.chat.LeaveConversation(ctx, sess, d.ConversationID)
		return d, nil

	case TypeSendMessage:
		var d SendMessageData
		if err := h.decoder.Data(env.Data, &d); err != nil {
			return nil, err
		}
		return h.chat.SendMessage(ctx, sess, d.Input())

	case TypeTyping:
		var d TypingData
		if err := h.decoder.Data(env.Data, &d); err != nil {
			return nil, err
		}
		return d, h.chat.SetTyping(ctx, sess, d.ConversationID, d.IsTyping)

	case TypeJoinLiveUpdates:
		h.chat.JoinLiveUpdates(sess)
		return nil, nil

	case TypeLeaveLiveUpdates:
		h.chat.LeaveLiveUpdates(sess)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedType, env.Type)
	}
}

func (h *Handler) reply(c *Client, f Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		h.log.Error("ws: encode reply", "type", f.Type, "error", err)
		return
	}
	if err := c.Send(payload); err != nil {
		h.log.Debug("ws: reply dropped", "handle", c.ID, "error", err)
	}
}
