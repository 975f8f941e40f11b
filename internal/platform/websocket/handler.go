package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/mclinic/mclinic/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// SessionWatcher reports sessions of a user that have been signed out.
type SessionWatcher interface {
	WatchSessions(userID string, ended func(sessionID string)) (stop func())
}

// Handler upgrades authenticated requests and runs the read and write pumps.
type Handler struct {
	hub      *Hub
	sessions SessionWatcher
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts requests without an Origin header (native mobile
// clients) and browser requests from allowedOrigins.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// CloseOnSignOut makes the handler drop a connection as soon as the session
// it was opened with is signed out.
func (h *Handler) CloseOnSignOut(sessions SessionWatcher) *Handler {
	h.sessions = sessions
	return h
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect blocks for the lifetime of the connection.
func (h *Handler) HandleConnect(c echo.Context) error {
	userID := auth.UserIDFromContext(c.Request().Context())
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		return nil
	}

	// The connection outlives the request's cancellation but keeps its
	// values (the authenticated session).
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()

	client := NewClient(uuid.New().String(), userID, sendBuffer)
	if claims := auth.ClaimsFromContext(c.Request().Context()); claims != nil {
		client.SessionID = claims.ID
	}
	h.hub.Register(client)

	if h.sessions != nil && client.SessionID != "" {
		stop := h.sessions.WatchSessions(userID, func(sessionID string) {
			if sessionID == client.SessionID {
				go h.hub.Unregister(client)
			}
		})
		defer stop()
	}

	go h.writePump(client, ws)
	h.readPump(ctx, client, ws)
	return nil
}

func (h *Handler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(ctx, client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, closeFrame(client))
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeFrame tells a client that fell behind to reconnect and resume from
// the last sequence number it received.
func closeFrame(client *Client) []byte {
	if client.Overflowed() {
		return gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseTryAgainLater, "fell behind, resubscribe with after")
	}
	return []byte{}
}
