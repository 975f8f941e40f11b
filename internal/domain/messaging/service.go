package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mclinic/mclinic/internal/platform/auth"
	"github.com/mclinic/mclinic/internal/platform/blobstore"
	"github.com/mclinic/mclinic/internal/platform/events"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = 30 * time.Second
)

// UserDirectory resolves the account type of a user.
type UserDirectory interface {
	UserType(ctx context.Context, userID string) (string, error)
}

type Service struct {
	conversations ConversationRepository
	messages      MessageRepository
	users         UserDirectory
	blobs         blobstore.Store
	bus           events.Bus
	baseURL       string
	logger        zerolog.Logger

	now          func() time.Time
	batchSize    int
	pollInterval time.Duration
}

func NewService(conversations ConversationRepository, messages MessageRepository, users UserDirectory,
	blobs blobstore.Store, bus events.Bus, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		users:         users,
		blobs:         blobs,
		bus:           bus,
		baseURL:       baseURL,
		logger:        logger.With().Str("component", "messaging").Logger(),
		now:           time.Now,
		batchSize:     defaultBatchSize,
		pollInterval:  defaultPollInterval,
	}
}

// StartOrGetConversation returns the conversation between a and b, creating
// it if needed. The result does not depend on argument order, and
// concurrent calls for the same pair return the same conversation.
func (s *Service) StartOrGetConversation(ctx context.Context, a, b string) (*Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, ErrInvalidParticipants
	}
	roleA, err := s.users.UserType(ctx, a)
	if err != nil {
		return nil, err
	}
	roleB, err := s.users.UserType(ctx, b)
	if err != nil {
		return nil, err
	}

	doctor, patient := orderParticipants(a, roleA, b, roleB)
	c := &Conversation{ID: ConversationID(doctor, patient), DoctorID: doctor, PatientID: patient}
	return s.conversations.CreateIfAbsent(ctx, c)
}

// orderParticipants puts the doctor first. When roles do not tell them
// apart the ids are ordered lexicographically.
func orderParticipants(a, roleA, b, roleB string) (string, string) {
	switch {
	case roleA == auth.RoleDoctor && roleB == auth.RolePatient:
		return a, b
	case roleB == auth.RoleDoctor && roleA == auth.RolePatient:
		return b, a
	case a < b:
		return a, b
	default:
		return b, a
	}
}

// GetConversation returns the conversation if userID takes part in it.
func (s *Service) GetConversation(ctx context.Context, chatID, userID string) (*Conversation, error) {
	c, err := s.conversations.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// SendMessage appends a message, notifies subscribers, then updates the
// conversation summary. If only the summary update fails the message is
// returned together with an error wrapping ErrSummaryNotUpdated.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID, text, attachmentURL string) (*Message, error) {
	if strings.TrimSpace(text) == "" && attachmentURL == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := s.GetConversation(ctx, chatID, senderID); err != nil {
		return nil, err
	}
	if attachmentURL != "" {
		if err := s.checkAttachment(ctx, chatID, attachmentURL); err != nil {
			return nil, err
		}
	}

	m := &Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: s.now().UnixMilli(),
	}
	if attachmentURL != "" {
		m.AttachmentURL = &attachmentURL
	}
	if err := s.messages.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	s.notify(ctx, m)

	preview := text
	if strings.TrimSpace(preview) == "" {
		preview = attachmentPreview
	}
	if err := s.conversations.UpdateSummary(ctx, m, preview); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chatID).Int64("seq", m.Seq).Msg("conversation summary is stale")
		return m, fmt.Errorf("%w: %w", ErrSummaryNotUpdated, err)
	}
	return m, nil
}

// checkAttachment accepts only URLs of blobs uploaded to chatID.
func (s *Service) checkAttachment(ctx context.Context, chatID, attachmentURL string) error {
	key, ok := blobstore.KeyFromURL(s.baseURL, attachmentURL)
	if !ok {
		return ErrInvalidAttachment
	}
	if owner, ok := blobstore.AttachmentChatID(key); !ok || owner != chatID {
		return ErrInvalidAttachment
	}
	_, err := s.blobs.Stat(ctx, key)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return ErrInvalidAttachment
	}
	return err
}

func (s *Service) notify(ctx context.Context, m *Message) {
	e, err := events.NewEvent(chatTopic(m.ChatID), "message", m)
	if err == nil {
		err = s.bus.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("chat_id", m.ChatID).Int64("seq", m.Seq).Msg("publish message event")
	}
}

// ListMessages returns a page of messages after afterSeq, oldest first.
func (s *Service) ListMessages(ctx context.Context, chatID string, afterSeq int64, limit int) ([]*Message, error) {
	return s.messages.ListAfter(ctx, chatID, afterSeq, limit)
}

// ListConversationsForUser returns userID's conversations, most recent
// activity first.
func (s *Service) ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if !c.HasParticipant(userID) {
			continue
		}
		out = append(out, &ConversationSummary{
			Conversation:       c,
			OtherParticipantID: c.Other(userID),
			IsUnread:           c.IsUnreadFor(userID),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].sortTime(), out[j].sortTime()
		if ti != tj {
			return ti > tj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MarkRead marks every stored message of the conversation as read by userID.
func (s *Service) MarkRead(ctx context.Context, chatID, userID string) (*Conversation, error) {
	if _, err := s.GetConversation(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.conversations.MarkRead(ctx, chatID, userID)
}

// UploadAttachment stores a file for the conversation and returns its URL,
// to be passed to SendMessage.
func (s *Service) UploadAttachment(ctx context.Context, chatID, senderID, filename, contentType string, content io.Reader) (string, error) {
	if _, err := s.GetConversation(ctx, chatID, senderID); err != nil {
		return "", err
	}
	b, err := s.blobs.Put(ctx, blobstore.Blob{
		Key:         blobstore.AttachmentKey(chatID, s.now(), filename),
		ContentType: contentType,
		CreatedBy:   senderID,
	}, content)
	if err != nil {
		return "", err
	}
	return blobstore.URL(s.baseURL, b.Key), nil
}

// AuthorizeBlob lets only the participants of a conversation read its
// attachments. Other blobs are left to the caller's authentication.
func (s *Service) AuthorizeBlob(ctx context.Context, key string) error {
	chatID, ok := blobstore.AttachmentChatID(key)
	if !ok {
		return nil
	}
	_, err := s.GetConversation(ctx, chatID, auth.UserIDFromContext(ctx))
	switch {
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrNotParticipant):
		return blobstore.ErrAccessDenied
	case err != nil:
		return fmt.Errorf("authorize attachment: %w", err)
	}
	return nil
}

type subscription struct {
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// SubscribeToMessages calls handler with every message of the conversation
// after afterSeq in seq order, the stored ones first, then each new one,
// until the returned function is called. handler runs on a goroutine owned by the
// subscription; after the returned function returns it is not called again.
// handler must not call the returned function itself.
func (s *Service) SubscribeToMessages(ctx context.Context, chatID string, afterSeq int64, handler func(*Message)) (func(), error) {
	if _, err := s.conversations.GetByID(ctx, chatID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		wake:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	unsub := s.bus.Subscribe(chatTopic(chatID), func(events.Event) {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	})
	go s.run(ctx, chatID, afterSeq, sub, handler)

	return func() {
		sub.once.Do(func() {
			sub.closed.Store(true)
			unsub()
			sub.cancel()
			<-sub.done
		})
	}, nil
}

// run delivers messages past the last delivered seq each time it is woken,
// and on a slow poll in case a wake-up was lost.
func (s *Service) run(ctx context.Context, chatID string, last int64, sub *subscription, handler func(*Message)) {
	defer close(sub.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		for {
			batch, err := s.messages.ListAfter(ctx, chatID, last, s.batchSize)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("read messages for subscription")
				}
				break
			}
			for _, m := range batch {
				if sub.closed.Load() {
					return
				}
				handler(m)
				last = m.Seq
			}
			if len(batch) < s.batchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
		case <-ticker.C:
		}
	}
}
