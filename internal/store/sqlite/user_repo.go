package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"estatehub/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, hashed_password, is_active, is_online, created_at, last_seen)
		VALUES (?, ?, ?, 1, 0, ?, ?)
	`, u.Username, u.DisplayName, u.HashedPassword, now, now)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	u.ID, u.IsActive, u.CreatedAt, u.LastSeen = id, true, now, now
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.scanUser(ctx, `
		SELECT id, username, display_name, hashed_password, is_active, is_online, created_at, last_seen
		FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.scanUser(ctx, `
		SELECT id, username, display_name, hashed_password, is_active, is_online, created_at, last_seen
		FROM users WHERE username = ?`, username)
}

func (r *UserRepo) SetOnlineStatus(ctx context.Context, id int64, isOnline bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`,
		isOnline, time.Now().UTC(), id,
	)
	return err
}

// ClearOnlineStatus marks every user offline. Presence lives in memory, so a
// fresh process starts with nobody connected.
func (r *UserRepo) ClearOnlineStatus(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = ? WHERE is_online`, false)
	if err != nil {
		return 0, fmt.Errorf("clear online status: %w", err)
	}
	return res.RowsAffected()
}

func (r *UserRepo) scanUser(ctx context.Context, query string, args ...any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.HashedPassword,
		&u.IsActive, &u.IsOnline, &u.CreatedAt, &u.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
