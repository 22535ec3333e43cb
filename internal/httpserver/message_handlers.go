package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"estatehub/internal/service"
)

type attachmentRequest struct {
	TaskID    *int64 `json:"task_id" validate:"required_without=ContactID,excluded_with=ContactID"`
	ContactID *int64 `json:"contact_id" validate:"required_without=TaskID,excluded_with=TaskID"`
}

type messageCreateRequest struct {
	Text        string              `json:"text" validate:"required,max=5000"`
	LocalID     string              `json:"local_id" validate:"max=64"`
	Attachments []attachmentRequest `json:"attachments" validate:"max=20,dive"`
}

// handleCreateMessage runs the same guarded send and fan-out as the websocket
// path; the caller just has no connection to echo to.
func handleCreateMessage(chat *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, ok := conversationID(w, r)
		if !ok {
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, err.Error())
			return
		}

		in := service.SendMessageInput{
			ConversationID: convID,
			Text:           req.Text,
			LocalID:        req.LocalID,
		}
		for _, a := range req.Attachments {
			in.Attachments = append(in.Attachments, service.AttachmentInput{TaskID: a.TaskID, ContactID: a.ContactID})
		}

		msg, err := chat.SendMessage(r.Context(), service.Session{User: CurrentUser(r)}, in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// handleListMessages pages backwards with ?before_id= and ?limit=.
func handleListMessages(chat *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, ok := conversationID(w, r)
		if !ok {
			return
		}
		var beforeID int64
		if v := r.URL.Query().Get("before_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id < 0 {
				badRequest(w, "invalid before_id")
				return
			}
			beforeID = id
		}
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				badRequest(w, "invalid limit")
				return
			}
			limit = n
		}

		msgs, err := chat.History(r.Context(), CurrentUser(r).ID, convID, beforeID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []*service.MessageResponse{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
