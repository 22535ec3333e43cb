package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"estatehub/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// CreateWithReceipts sets m.ID, m.CreatedAt and the attachment ids on success.
// Nothing is written unless every statement succeeds.
func (r *MessageRepo) CreateWithReceipts(ctx context.Context, m *domain.Message, attachments []domain.Attachment, readerIDs []int64) error {
	for _, a := range attachments {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin send tx: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, created_at, is_deleted)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id
	`, m.ConversationID, m.SenderID, m.Content, now).Scan(&m.ID); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for i := range attachments {
		a := &attachments[i]
		a.MessageID, a.Position = m.ID, i
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO message_attachments (message_id, position, task_id, contact_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, a.MessageID, a.Position, a.TaskID, a.ContactID).Scan(&a.ID); err != nil {
			return fmt.Errorf("insert attachment %d: %w", i, err)
		}
	}

	for _, uid := range readerIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_reads (message_id, user_id, read_at)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, m.ID, uid, now); err != nil {
			return fmt.Errorf("insert read receipt for %d: %w", uid, err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at=$1 WHERE id=$2`, now, m.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("touch conversation %d: %w", m.ConversationID, domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit send tx: %w", err)
	}
	m.CreatedAt = now
	return nil
}

func (r *MessageRepo) GetDetail(ctx context.Context, id int64) (*domain.MessageDetail, error) {
	rows, err := r.db.QueryContext(ctx, detailSelect+` WHERE m.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	details, err := r.hydrate(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, domain.ErrNotFound
	}
	return details[0], nil
}

// ListForConversation pages backwards from beforeID (0 = newest), newest first.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID, beforeID int64, limit int) ([]*domain.MessageDetail, error) {
	rows, err := r.db.QueryContext(ctx, detailSelect+`
		WHERE m.conversation_id = $1
		  AND m.is_deleted = FALSE
		  AND ($2 = 0 OR m.id < $2)
		ORDER BY m.id DESC
		LIMIT $3
	`, conversationID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return r.hydrate(ctx, rows)
}

// ── helpers ──────────────────────────────────────────────────────────────────

const detailSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.is_deleted,
	       u.username, u.display_name
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func (r *MessageRepo) hydrate(ctx context.Context, rows *sql.Rows) ([]*domain.MessageDetail, error) {
	details, byID, err := scanDetails(rows)
	if err != nil || len(details) == 0 {
		return details, err
	}
	ids := make([]int64, 0, len(details))
	for _, d := range details {
		ids = append(ids, d.ID)
	}

	attRows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.position, a.task_id, a.contact_id,
		       COALESCE(t.title, c.name, '')
		FROM message_attachments a
		LEFT JOIN tasks t ON t.id = a.task_id
		LEFT JOIN contacts c ON c.id = a.contact_id
		WHERE a.message_id = ANY($1)
		ORDER BY a.message_id, a.position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}
	if err := scanAttachments(attRows, byID); err != nil {
		return nil, err
	}

	readRows, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id FROM message_reads
		WHERE message_id = ANY($1)
		ORDER BY message_id, user_id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load read receipts: %w", err)
	}
	if err := scanReads(readRows, byID); err != nil {
		return nil, err
	}
	return details, nil
}

func scanDetails(rows *sql.Rows) ([]*domain.MessageDetail, map[int64]*domain.MessageDetail, error) {
	defer rows.Close()
	var res []*domain.MessageDetail
	byID := make(map[int64]*domain.MessageDetail)
	for rows.Next() {
		d := &domain.MessageDetail{}
		if err := rows.Scan(
			&d.ID, &d.ConversationID, &d.SenderID, &d.Content, &d.CreatedAt, &d.IsDeleted,
			&d.SenderUsername, &d.SenderDisplayName,
		); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, d)
		byID[d.ID] = d
	}
	return res, byID, rows.Err()
}

func scanAttachments(rows *sql.Rows, byID map[int64]*domain.MessageDetail) error {
	defer rows.Close()
	for rows.Next() {
		var a domain.AttachmentDetail
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Position, &a.TaskID, &a.ContactID, &a.Label); err != nil {
			return fmt.Errorf("scan attachment: %w", err)
		}
		if d, ok := byID[a.MessageID]; ok {
			d.Attachments = append(d.Attachments, a)
		}
	}
	return rows.Err()
}

func scanReads(rows *sql.Rows, byID map[int64]*domain.MessageDetail) error {
	defer rows.Close()
	for rows.Next() {
		var messageID, userID int64
		if err := rows.Scan(&messageID, &userID); err != nil {
			return fmt.Errorf("scan read receipt: %w", err)
		}
		if d, ok := byID[messageID]; ok {
			d.ReadBy = append(d.ReadBy, userID)
		}
	}
	return rows.Err()
}
