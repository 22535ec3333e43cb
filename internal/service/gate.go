package service

import (
	"context"
	"errors"
	"fmt"

	"estatehub/internal/domain"
)

// IdentityResolver maps an opaque session credential to a user id.
type IdentityResolver interface {
	UserID(token string) (int64, error)
}

// Gate guards every join, send and typing operation.
type Gate struct {
	identities   IdentityResolver
	users        domain.UserRepository
	participants domain.ParticipantRepository
}

func NewGate(identities IdentityResolver, users domain.UserRepository, participants domain.ParticipantRepository) *Gate {
	return &Gate{identities: identities, users: users, participants: participants}
}

// ResolveUser returns the active user behind token, or ErrUnauthenticated.
func (g *Gate) ResolveUser(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}
	id, err := g.identities.UserID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	user, err := g.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	if !user.IsActive {
		return nil, domain.ErrUnauthenticated
	}
	return user, nil
}

// EnsureParticipant fails closed: a lookup error is reported as ErrNotAParticipant.
func (g *Gate) EnsureParticipant(ctx context.Context, userID, conversationID int64) error {
	ok, err := g.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotAParticipant, err)
	}
	if !ok {
		return domain.ErrNotAParticipant
	}
	return nil
}
