package sqlite

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

// CreateWithReceipts writes the message, its attachments, the read receipts and
// the conversation bump in one transaction.
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

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, content, created_at, is_deleted)
		VALUES (?, ?, ?, ?, 0)
	`, m.ConversationID, m.SenderID, m.Content, now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	messageID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for i := range attachments {
		a := &attachments[i]
		res, err := tx.ExecContext(ctx, `
			INSERT INTO message_attachments (message_id, position, task_id, contact_id)
			VALUES (?, ?, ?, ?)
		`, messageID, i, a.TaskID, a.ContactID)
		if err != nil {
			return fmt.Errorf("insert attachment %d: %w", i, err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("attachment id: %w", err)
		}
		a.MessageID, a.Position = messageID, i
	}

	for _, uid := range readerIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
			VALUES (?, ?, ?)
		`, messageID, uid, now); err != nil {
			return fmt.Errorf("insert read receipt for %d: %w", uid, err)
		}
	}

	res, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, m.ConversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("touch conversation %d: %w", m.ConversationID, domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit send tx: %w", err)
	}
	m.ID, m.CreatedAt = messageID, now
	return nil
}

func (r *MessageRepo) GetDetail(ctx context.Context, id int64) (*domain.MessageDetail, error) {
	details, err := r.query(ctx, detailSelect+` WHERE m.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, domain.ErrNotFound
	}
	return details[0], nil
}

// ListForConversation returns up to limit messages older than beforeID, newest
// first. A zero beforeID starts from the latest message.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID, beforeID int64, limit int) ([]*domain.MessageDetail, error) {
	return r.query(ctx, detailSelect+`
		WHERE m.conversation_id = ?
		  AND m.is_deleted = 0
		  AND (? = 0 OR m.id < ?)
		ORDER BY m.id DESC
		LIMIT ?
	`, conversationID, beforeID, beforeID, limit)
}

const detailSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at, m.is_deleted,
	       u.username, u.display_name
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

func (r *MessageRepo) query(ctx context.Context, q string, args ...any) ([]*domain.MessageDetail, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	details, err := scanDetails(rows)
	if err != nil || len(details) == 0 {
		return details, err
	}

	byID := make(map[int64]*domain.MessageDetail, len(details))
	ids := make([]int64, 0, len(details))
	for _, d := range details {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	in, inArgs := inClause(ids)

	if err := r.loadAttachments(ctx, in, inArgs, byID); err != nil {
		return nil, err
	}
	if err := r.loadReads(ctx, in, inArgs, byID); err != nil {
		return nil, err
	}
	return details, nil
}

func (r *MessageRepo) loadAttachments(ctx context.Context, in string, args []any, byID map[int64]*domain.MessageDetail) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.position, a.task_id, a.contact_id,
		       COALESCE(t.title, c.name, '')
		FROM message_attachments a
		LEFT JOIN tasks t ON t.id = a.task_id
		LEFT JOIN contacts c ON c.id = a.contact_id
		WHERE a.message_id IN `+in+`
		ORDER BY a.message_id, a.position`, args...)
	if err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
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

func (r *MessageRepo) loadReads(ctx context.Context, in string, args []any, byID map[int64]*domain.MessageDetail) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, user_id FROM message_reads
		WHERE message_id IN `+in+`
		ORDER BY message_id, user_id`, args...)
	if err != nil {
		return fmt.Errorf("load read receipts: %w", err)
	}
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

func scanDetails(rows *sql.Rows) ([]*domain.MessageDetail, error) {
	defer rows.Close()
	var res []*domain.MessageDetail
	for rows.Next() {
		d := &domain.MessageDetail{}
		if err := rows.Scan(
			&d.ID, &d.ConversationID, &d.SenderID, &d.Content, &d.CreatedAt, &d.IsDeleted,
			&d.SenderUsername, &d.SenderDisplayName,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
