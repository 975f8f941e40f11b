package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mclinic/mclinic/internal/platform/db"
)

// -- Conversation Repository --

type conversationRepoPG struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepoPG{pool: pool}
}

func (r *conversationRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const convCols = `id, doctor_id, patient_id, COALESCE(last_message, ''), COALESCE(last_message_timestamp, 0),
	COALESCE(last_message_sender_id, ''), last_message_seq, doctor_read_seq, patient_read_seq, created_at`

func (r *conversationRepoPG) CreateIfAbsent(ctx context.Context, c *Conversation) (*Conversation, error) {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chats (id, doctor_id, patient_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.DoctorID, c.PatientID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return r.GetByID(ctx, c.ID)
}

func (r *conversationRepoPG) GetByID(ctx context.Context, id string) (*Conversation, error) {
	return scanConversation(r.conn(ctx).QueryRow(ctx, `SELECT `+convCols+` FROM chats WHERE id = $1`, id))
}

func (r *conversationRepoPG) ListForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+convCols+` FROM chats
		WHERE doctor_id = $1 OR patient_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *conversationRepoPG) UpdateSummary(ctx context.Context, m *Message, preview string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE chats SET
			last_message           = $2,
			last_message_timestamp = $3,
			last_message_sender_id = $4,
			last_message_seq       = $5,
			doctor_read_seq  = CASE WHEN doctor_id  = $4 THEN GREATEST(doctor_read_seq, $5)  ELSE doctor_read_seq END,
			patient_read_seq = CASE WHEN patient_id = $4 THEN GREATEST(patient_read_seq, $5) ELSE patient_read_seq END
		WHERE id = $1 AND last_message_seq < $5`,
		m.ChatID, preview, m.Timestamp, m.SenderID, m.Seq)
	if err != nil {
		return fmt.Errorf("update conversation summary: %w", err)
	}
	return nil
}

func (r *conversationRepoPG) MarkRead(ctx context.Context, chatID, userID string) (*Conversation, error) {
	return scanConversation(r.conn(ctx).QueryRow(ctx, `
		WITH newest AS (
			SELECT COALESCE(MAX(seq), 0) AS seq FROM chat_messages WHERE chat_id = $1
		)
		UPDATE chats SET
			doctor_read_seq  = CASE WHEN doctor_id  = $2 THEN GREATEST(doctor_read_seq, newest.seq)  ELSE doctor_read_seq END,
			patient_read_seq = CASE WHEN patient_id = $2 THEN GREATEST(patient_read_seq, newest.seq) ELSE patient_read_seq END
		FROM newest
		WHERE id = $1
		RETURNING `+convCols, chatID, userID))
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.DoctorID, &c.PatientID, &c.LastMessage, &c.LastMessageTimestamp,
		&c.LastMessageSenderID, &c.LastMessageSeq, &c.DoctorReadSeq, &c.PatientReadSeq, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// -- Message Repository --

type messageRepoPG struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const msgCols = `seq, id, chat_id, sender_id, text, attachment_url, timestamp`

// Append holds the conversation row lock until commit, so within one
// conversation seq order is also commit order and readers paging by seq
// never skip a message.
func (r *messageRepoPG) Append(ctx context.Context, m *Message) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		var id string
		err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, m.ChatID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO chat_messages (id, chat_id, sender_id, text, attachment_url, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING seq`,
			m.ID, m.ChatID, m.SenderID, m.Text, m.AttachmentURL, m.Timestamp,
		).Scan(&m.Seq)
	})
}

func (r *messageRepoPG) ListAfter(ctx context.Context, chatID string, afterSeq int64, limit int) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+msgCols+` FROM chat_messages
		WHERE chat_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`, chatID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.AttachmentURL, &m.Timestamp); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
