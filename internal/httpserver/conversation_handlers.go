package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"estatehub/internal/domain"
	"estatehub/internal/service"
)

type memberRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Role   string `json:"role" validate:"required,oneof=agent client"`
}

type conversationCreateRequest struct {
	ListingID *int64          `json:"listing_id" validate:"omitempty,gt=0"`
	Title     string          `json:"title" validate:"max=200"`
	Members   []memberRequest `json:"members" validate:"required,min=1,dive"`
}

func handleCreateConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			badRequest(w, err.Error())
			return
		}

		members := make([]domain.Assignment, 0, len(req.Members))
		for _, m := range req.Members {
			members = append(members, domain.Assignment{UserID: m.UserID, Role: domain.AssignmentRole(m.Role)})
		}
		conv, err := convSvc.CreateConversation(r.Context(), service.ConversationCreateInput{
			ListingID: req.ListingID,
			Title:     req.Title,
			Members:   members,
		}, CurrentUser(r).ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := convSvc.ListForUser(r.Context(), CurrentUser(r).ID)
		if err != nil {
			writeError(w, err)
			return
		}
		if convs == nil {
			convs = []*domain.Conversation{}
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleGetConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := conversationID(w, r)
		if !ok {
			return
		}
		conv, err := convSvc.GetConversation(r.Context(), id, CurrentUser(r).ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

// conversationID parses the route param, answering 400 itself on failure.
func conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid conversation id")
		return 0, false
	}
	return id, true
}
