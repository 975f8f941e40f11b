package messaging

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrInvalidParticipants  = errors.New("a conversation needs two different participants")
	ErrEmptyMessage         = errors.New("message needs text or an attachment")
	ErrInvalidAttachment    = errors.New("attachment must be a file uploaded to this conversation")
	// ErrSummaryNotUpdated is returned together with the stored message when
	// the conversation's last-message summary could not be written.
	ErrSummaryNotUpdated = errors.New("message stored but conversation summary not updated")
)

// attachmentPreview stands in for the text of attachment-only messages in
// conversation summaries.
const attachmentPreview = "Attachment"

// Conversation maps to the chats table.
type Conversation struct {
	ID                   string    `db:"id" json:"id"`
	DoctorID             string    `db:"doctor_id" json:"doctorID"`
	PatientID            string    `db:"patient_id" json:"patientID"`
	LastMessage          string    `db:"last_message" json:"lastMessage"`
	LastMessageTimestamp int64     `db:"last_message_timestamp" json:"lastMessageTimestamp"`
	LastMessageSenderID  string    `db:"last_message_sender_id" json:"lastMessageSenderID,omitempty"`
	LastMessageSeq       int64     `db:"last_message_seq" json:"lastMessageSeq"`
	DoctorReadSeq        int64     `db:"doctor_read_seq" json:"doctorReadSeq"`
	PatientReadSeq       int64     `db:"patient_read_seq" json:"patientReadSeq"`
	CreatedAt            time.Time `db:"created_at" json:"createdAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.DoctorID || userID == c.PatientID)
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if userID == c.DoctorID {
		return c.PatientID
	}
	return c.DoctorID
}

func (c *Conversation) readSeq(userID string) int64 {
	if userID == c.DoctorID {
		return c.DoctorReadSeq
	}
	return c.PatientReadSeq
}

// IsUnreadFor reports whether the last message is past userID's read cursor.
func (c *Conversation) IsUnreadFor(userID string) bool {
	return c.LastMessageSeq > c.readSeq(userID)
}

// sortTime is the last activity in ms, falling back to creation.
func (c *Conversation) sortTime() int64 {
	if c.LastMessageTimestamp > 0 {
		return c.LastMessageTimestamp
	}
	return c.CreatedAt.UnixMilli()
}

// Message maps to the chat_messages table. Messages are never changed
// after they are stored.
type Message struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ChatID        string    `db:"chat_id" json:"chatID"`
	Seq           int64     `db:"seq" json:"seq"`
	SenderID      string    `db:"sender_id" json:"senderID"`
	Text          string    `db:"text" json:"text"`
	AttachmentURL *string   `db:"attachment_url" json:"attachmentURL,omitempty"`
	Timestamp     int64     `db:"timestamp" json:"timestamp"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	*Conversation
	OtherParticipantID string `json:"otherParticipantID"`
	IsUnread           bool   `json:"isUnread"`
}

// ConversationID is the id of the conversation between a doctor and a patient.
func ConversationID(doctorID, patientID string) string {
	return doctorID + "_" + patientID
}

func chatTopic(chatID string) string {
	return "chat:" + chatID
}
