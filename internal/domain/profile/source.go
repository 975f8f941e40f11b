package profile

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mclinic/mclinic/internal/platform/websocket"
)

// Source serves "user:{id}" WebSocket topics. Any signed-in user may watch
// any profile; conversation lists need the other participant's name.
func (s *Service) Source() websocket.Source {
	return websocket.SourceFunc(func(ctx context.Context, req websocket.Request, deliver func(websocket.Event)) (func(), error) {
		id, ok := strings.CutPrefix(req.Topic, "user:")
		if !ok || id == "" {
			return nil, websocket.ErrUnknownTopic
		}
		return s.WatchProfile(ctx, id, func(p *Profile) {
			data, err := json.Marshal(p)
			if err != nil {
				return
			}
			deliver(websocket.Event{Type: "profile", Topic: req.Topic, Timestamp: p.UpdatedAt, Data: data})
		})
	})
}
