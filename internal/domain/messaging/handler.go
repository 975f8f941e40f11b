package messaging

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mclinic/mclinic/internal/domain/profile"
	"github.com/mclinic/mclinic/internal/platform/auth"
	"github.com/mclinic/mclinic/internal/platform/blobstore"
	"github.com/mclinic/mclinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/chats", h.ListConversations)
	api.POST("/chats", h.StartConversation)
	api.GET("/chats/:chatId", h.GetConversation)
	api.GET("/chats/:chatId/messages", h.ListMessages)
	api.POST("/chats/:chatId/messages", h.SendMessage)
	api.POST("/chats/:chatId/read", h.MarkRead)
	api.POST("/chats/:chatId/attachments", h.UploadAttachment)
}

type startRequest struct {
	ParticipantID string `json:"participantID"`
}

type sendRequest struct {
	Text          string `json:"text"`
	AttachmentURL string `json:"attachmentURL"`
}

func (h *Handler) ListConversations(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.ListConversationsForUser(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) StartConversation(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ParticipantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "participantID is required")
	}
	ctx := c.Request().Context()
	conv, err := h.svc.StartOrGetConversation(ctx, auth.UserIDFromContext(ctx), req.ParticipantID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()
	conv, err := h.svc.GetConversation(ctx, c.Param("chatId"), auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	chatID := c.Param("chatId")
	if _, err := h.svc.GetConversation(ctx, chatID, auth.UserIDFromContext(ctx)); err != nil {
		return httpError(err)
	}

	cur := pagination.SeqFromContext(c)
	msgs, err := h.svc.ListMessages(ctx, chatID, cur.After, cur.Limit)
	if err != nil {
		return httpError(err)
	}
	if msgs == nil {
		msgs = []*Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (h *Handler) SendMessage(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	m, err := h.svc.SendMessage(ctx, c.Param("chatId"), auth.UserIDFromContext(ctx), req.Text, req.AttachmentURL)
	if errors.Is(err, ErrSummaryNotUpdated) {
		// The message is stored; only the conversation list is behind.
		c.Response().Header().Set("Warning", `199 - "conversation summary not updated"`)
		return c.JSON(http.StatusCreated, m)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) MarkRead(c echo.Context) error {
	ctx := c.Request().Context()
	conv, err := h.svc.MarkRead(ctx, c.Param("chatId"), auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) UploadAttachment(c echo.Context) error {
	up, err := blobstore.FormUpload(c, "file")
	if err != nil {
		return err
	}
	defer up.Close()

	ctx := c.Request().Context()
	url, err := h.svc.UploadAttachment(ctx, c.Param("chatId"), auth.UserIDFromContext(ctx), up.Filename, up.ContentType, up.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"attachmentURL": url})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case errors.Is(err, profile.ErrProfileNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "participant not found")
	case errors.Is(err, ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidParticipants), errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrInvalidAttachment):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
