package messaging

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mclinic/mclinic/internal/platform/websocket"
)

// Source serves "chat:{id}" WebSocket topics to the conversation's
// participants. A subscription replays the messages after req.After, then
// follows new ones.
func (s *Service) Source() websocket.Source {
	return websocket.SourceFunc(func(ctx context.Context, req websocket.Request, deliver func(websocket.Event)) (func(), error) {
		chatID, ok := strings.CutPrefix(req.Topic, "chat:")
		if !ok || chatID == "" {
			return nil, websocket.ErrUnknownTopic
		}
		c, err := s.GetConversation(ctx, chatID, req.UserID)
		if err != nil {
			return nil, websocket.ErrForbidden
		}
		return s.SubscribeToMessages(ctx, c.ID, req.After, func(m *Message) {
			data, err := json.Marshal(m)
			if err != nil {
				return
			}
			deliver(websocket.Event{Type: "message", Topic: req.Topic, Timestamp: s.now().UTC(), Data: data})
		})
	})
}
