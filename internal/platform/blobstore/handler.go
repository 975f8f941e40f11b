package blobstore

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Authorizer decides whether the caller in ctx may read key. It returns
// ErrAccessDenied to refuse.
type Authorizer func(ctx context.Context, key string) error

// Handler serves stored blobs by key. Uploads go through the domain
// services, which decide the key.
type Handler struct {
	store       Store
	authorizers []Authorizer
}

// NewHandler serves blobs from store to callers every authorizer accepts.
func NewHandler(store Store, authorizers ...Authorizer) *Handler {
	return &Handler{store: store, authorizers: authorizers}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/blobs/*", h.Download)
	g.HEAD("/blobs/*", h.Head)
}

func (h *Handler) key(c echo.Context) (string, error) {
	key, err := url.PathUnescape(c.Param("*"))
	if err != nil || ValidateKey(key) != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid blob key")
	}
	for _, authorize := range h.authorizers {
		err := authorize(c.Request().Context(), key)
		switch {
		case errors.Is(err, ErrAccessDenied):
			// Same answer as a missing blob.
			return "", echo.NewHTTPError(http.StatusNotFound, "blob not found")
		case err != nil:
			return "", echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return key, nil
}

func (h *Handler) Download(c echo.Context) error {
	key, err := h.key(c)
	if err != nil {
		return err
	}

	rc, meta, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "blob not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer rc.Close()

	setHeaders(c, meta)
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *Handler) Head(c echo.Context) error {
	key, err := h.key(c)
	if err != nil {
		return err
	}

	meta, err := h.store.Stat(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "blob not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	setHeaders(c, meta)
	c.Response().Header().Set(echo.HeaderContentType, meta.ContentType)
	return c.NoContent(http.StatusOK)
}

func setHeaders(c echo.Context, meta *Blob) {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentLength, strconv.FormatInt(meta.Size, 10))
	hdr.Set("ETag", `"`+meta.Hash+`"`)
	hdr.Set("Cache-Control", "private, max-age=300")
}
