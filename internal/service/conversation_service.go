package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"estatehub/internal/domain"
)

type ConversationService struct {
	conversations domain.ConversationRepository
	gate          *Gate
}

func NewConversationService(conversations domain.ConversationRepository, gate *Gate) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		gate:          gate,
	}
}

type ConversationCreateInput struct {
	ListingID *int64
	Title     string
	Members   []domain.Assignment
}

// CreateConversation assigns the creator as agent alongside the given members.
// A member listed twice keeps its first role.
func (s *ConversationService) CreateConversation(ctx context.Context, in ConversationCreateInput, creatorID int64) (*domain.Conversation, error) {
	if len(in.Members) == 0 {
		return nil, fmt.Errorf("%w: at least one member is required", domain.ErrInvalidInput)
	}
	for _, m := range in.Members {
		if m.Role != domain.RoleAgent && m.Role != domain.RoleClient {
			return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, m.Role)
		}
	}

	assignments := lo.UniqBy(
		append([]domain.Assignment{{UserID: creatorID, Role: domain.RoleAgent}}, in.Members...),
		func(a domain.Assignment) int64 { return a.UserID },
	)
	conv := &domain.Conversation{
		ListingID: in.ListingID,
		Title:     strings.TrimSpace(in.Title),
	}
	if err := s.conversations.Create(ctx, conv, assignments); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListForUser is ordered by most recent activity.
func (s *ConversationService) ListForUser(ctx context.Context, userID int64) ([]*domain.Conversation, error) {
	return s.conversations.ListForUser(ctx, userID)
}

func (s *ConversationService) GetConversation(ctx context.Context, conversationID, userID int64) (*domain.Conversation, error) {
	if err := s.gate.EnsureParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.conversations.GetByID(ctx, conversationID)
}
