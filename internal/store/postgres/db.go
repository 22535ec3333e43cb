package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL for the chat schema. Listings, tasks and contacts
// are owned by the CRUD side; only the columns the chat reads are declared here.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id               BIGSERIAL    PRIMARY KEY,
			username         VARCHAR(50)  UNIQUE NOT NULL,
			display_name     VARCHAR(100) NOT NULL DEFAULT '',
			hashed_password  VARCHAR(255) NOT NULL,
			is_active        BOOLEAN      NOT NULL DEFAULT TRUE,
			is_online        BOOLEAN      NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS listings (
			id    BIGSERIAL    PRIMARY KEY,
			title VARCHAR(200) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id         BIGSERIAL    PRIMARY KEY,
			listing_id BIGINT       REFERENCES listings(id),
			title      VARCHAR(200) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id   BIGSERIAL    PRIMARY KEY,
			name VARCHAR(200) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id         BIGSERIAL    PRIMARY KEY,
			listing_id BIGINT       REFERENCES listings(id),
			title      VARCHAR(200) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_assignments (
			conversation_id BIGINT      NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id         BIGINT      NOT NULL REFERENCES users(id),
			role            VARCHAR(20) NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL   PRIMARY KEY,
			conversation_id BIGINT      NOT NULL REFERENCES conversations(id),
			sender_id       BIGINT      NOT NULL REFERENCES users(id),
			content         TEXT        NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			is_deleted      BOOLEAN     NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS message_attachments (
			id         BIGSERIAL PRIMARY KEY,
			message_id BIGINT    NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			position   INT       NOT NULL,
			task_id    BIGINT    REFERENCES tasks(id),
			contact_id BIGINT    REFERENCES contacts(id),
			CHECK ((task_id IS NULL) <> (contact_id IS NULL))
		)`,
		`CREATE TABLE IF NOT EXISTS message_reads (
			message_id BIGINT      NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id    BIGINT      NOT NULL REFERENCES users(id),
			read_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_user ON conversation_assignments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_id ON messages(conversation_id, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message ON message_attachments(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reads_user ON message_reads(user_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
