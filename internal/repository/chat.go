package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gig_marketplace/internal/domain"
	"gig_marketplace/pkg/logger"
)

type MessageRepository interface {
	FetchForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Message, error)
	FetchThread(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope, limit int) ([]domain.Message, error)
	Insert(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	MarkRead(ctx context.Context, id string) error
	MarkThreadRead(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope) (int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

const messageColumns = `id::text, job_id, sender_id, receiver_id, content, attachment_url, attachment_type, created_at, read`

// scopeClause matches job_id against a nullable scope parameter.
const scopeClause = `(($%d::uuid IS NULL AND job_id IS NULL) OR job_id = $%d::uuid)`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID, &m.JobID, &m.SenderID, &m.ReceiverID, &m.Content,
		&m.AttachmentURL, &m.AttachmentType, &m.CreatedAt, &m.Read,
	)
	return m, err
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *messageRepository) FetchForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		r.log.Error("Failed to fetch messages", "error", err, "user_id", userID)
		return nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		r.log.Error("Failed to scan messages", "error", err, "user_id", userID)
		return nil, err
	}
	return messages, nil
}

// FetchThread returns the newest limit rows of the thread, oldest first. Legacy rows with no
// receiver count when the user sent them on a job owned by the other party.
func (r *messageRepository) FetchThread(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope, limit int) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ` + fmt.Sprintf(scopeClause, 3, 3) + `
		  AND (
		        (sender_id = $1 AND receiver_id = $2)
		     OR (sender_id = $2 AND receiver_id = $1)
		     OR (sender_id = $1 AND receiver_id IS NULL
		         AND EXISTS (SELECT 1 FROM jobs j WHERE j.id = messages.job_id AND j.owner_id = $2))
		  )
		ORDER BY created_at DESC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, userID, otherID, scope.JobID(), limit)
	if err != nil {
		r.log.Error("Failed to fetch thread", "error", err, "user_id", userID, "other_id", otherID)
		return nil, err
	}
	messages, err := collectMessages(rows)
	if err != nil {
		r.log.Error("Failed to scan thread", "error", err, "user_id", userID)
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *messageRepository) Insert(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	query := `
		INSERT INTO messages (job_id, sender_id, receiver_id, content, attachment_url, attachment_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + messageColumns

	m, err := scanMessage(r.db.QueryRow(ctx, query,
		msg.JobID, msg.SenderID, msg.ReceiverID, msg.Content, msg.AttachmentURL, msg.AttachmentType,
	))
	if err != nil {
		r.log.Error("Failed to insert message", "error", err, "sender_id", msg.SenderID)
		return domain.Message{}, err
	}
	return m, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("mark read %q: %w", id, err)
	}
	_, err := r.db.Exec(ctx, `UPDATE messages SET read = TRUE WHERE id = $1::uuid AND read = FALSE`, id)
	if err != nil {
		r.log.Error("Failed to mark message read", "error", err, "message_id", id)
		return err
	}
	return nil
}

func (r *messageRepository) MarkThreadRead(ctx context.Context, userID, otherID uuid.UUID, scope domain.ThreadScope) (int, error) {
	query := `
		UPDATE messages SET read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND read = FALSE
		  AND ` + fmt.Sprintf(scopeClause, 3, 3)

	tag, err := r.db.Exec(ctx, query, userID, otherID, scope.JobID())
	if err != nil {
		r.log.Error("Failed to mark thread read", "error", err, "user_id", userID, "other_id", otherID)
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *messageRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND read = FALSE`, userID).Scan(&n)
	if err != nil {
		r.log.Error("Failed to count unread messages", "error", err, "user_id", userID)
		return 0, err
	}
	return n, nil
}
