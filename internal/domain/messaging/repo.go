package messaging

import "context"

type ConversationRepository interface {
	// CreateIfAbsent inserts c unless a conversation with the same id exists,
	// and returns the stored conversation either way.
	CreateIfAbsent(ctx context.Context, c *Conversation) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	// UpdateSummary records m as the last message unless a later message
	// is already recorded. The sender's read cursor moves to m.
	UpdateSummary(ctx context.Context, m *Message, preview string) error
	// MarkRead moves userID's read cursor to the newest stored message.
	MarkRead(ctx context.Context, chatID, userID string) (*Conversation, error)
}

type MessageRepository interface {
	// Append stores m and assigns m.Seq.
	Append(ctx context.Context, m *Message) error
	// ListAfter returns up to limit messages with seq > afterSeq in seq order.
	ListAfter(ctx context.Context, chatID string, afterSeq int64, limit int) ([]*Message, error)
}
