package service

import (
	"context"
	"errors"
	"fmt"

	"estatehub/internal/domain"
)

// OnlineSource reports which users currently hold a connection.
type OnlineSource interface {
	OnlineUserIDs() []int64
}

// UserService provides user-related operations.
type UserService struct {
	users  domain.UserRepository
	online OnlineSource
}

func NewUserService(users domain.UserRepository, online OnlineSource) *UserService {
	return &UserService{users: users, online: online}
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// ListOnline loads the users present in the in-memory registry. Users removed
// from storage since they connected are skipped.
func (s *UserService) ListOnline(ctx context.Context) ([]*domain.User, error) {
	ids := s.online.OnlineUserIDs()
	res := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.users.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load online user %d: %w", id, err)
		}
		u.IsOnline = true
		res = append(res, u)
	}
	return res, nil
}
