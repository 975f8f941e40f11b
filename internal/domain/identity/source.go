package identity

import (
	"context"
	"encoding/json"

	"github.com/mclinic/mclinic/internal/platform/websocket"
)

// Source serves the "auth" WebSocket topic: the auth state of the
// connected user.
func (s *Service) Source() websocket.Source {
	return websocket.SourceFunc(func(ctx context.Context, req websocket.Request, deliver func(websocket.Event)) (func(), error) {
		if req.Topic != "auth" {
			return nil, websocket.ErrUnknownTopic
		}
		return s.OnAuthStateChange(ctx, req.UserID, func(st AuthState) {
			data, err := json.Marshal(st)
			if err != nil {
				return
			}
			deliver(websocket.Event{Type: "auth_state", Topic: req.Topic, Timestamp: s.now().UTC(), Data: data})
		}), nil
	})
}
