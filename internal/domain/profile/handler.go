package profile

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mclinic/mclinic/internal/domain/identity"
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
	api.GET("/users", h.ListProfiles)
	api.GET("/users/:id", h.GetProfile)

	api.PATCH("/users/:id", h.UpdateProfile, auth.RequireSelf("id"))
	api.POST("/users/:id/profile-image", h.UploadProfileImage, auth.RequireSelf("id"))
}

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := h.svc.GetProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProfiles(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProfiles(c.Request().Context(), c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Profile{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var upd ProfileUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if upd.Email != nil && !identity.ValidEmail(*upd.Email) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email address")
	}

	p, err := h.svc.UpdateProfile(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UploadProfileImage(c echo.Context) error {
	up, err := blobstore.FormUpload(c, "file")
	if err != nil {
		return err
	}
	defer up.Close()

	p, err := h.svc.UploadProfileImage(c.Request().Context(), c.Param("id"), up.ContentType, up.Content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, identity.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "profile not found")
	case errors.Is(err, ErrInvalidUpdate):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrEmailInUse):
		return echo.NewHTTPError(http.StatusConflict, "The email address is already in use by another account.")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, identity.ErrTryAgainLater):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "An error occurred. Please try again later.")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
