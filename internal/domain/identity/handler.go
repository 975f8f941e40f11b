package identity

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"

	"github.com/mclinic/mclinic/internal/platform/auth"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,4}$`)

// bcrypt ignores input beyond 72 bytes.
const maxPasswordLen = 72

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts sign-up and sign-in on the public group and the
// session endpoints on the authenticated one.
func (h *Handler) RegisterRoutes(public, protected *echo.Group) {
	public.POST("/auth/signup", h.SignUp)
	public.POST("/auth/signin", h.SignIn)

	protected.POST("/auth/signout", h.SignOut)
	protected.GET("/auth/me", h.Me)
	protected.PUT("/auth/password", h.ChangePassword)
}

type signUpRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ValidEmail reports whether email has the shape the app accepts.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

// ValidPassword requires at least 8 characters with an upper-case letter,
// a lower-case letter and a digit.
func ValidPassword(pw string) bool {
	if len(pw) < 8 || len(pw) > maxPasswordLen {
		return false
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

const passwordRule = "password must be at least 8 characters and contain an uppercase letter, a lowercase letter and a number"

func (h *Handler) SignUp(c echo.Context) error {
	var req signUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.FullName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "fullName is required")
	}
	if !ValidEmail(req.Email) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email address")
	}
	if !ValidPassword(req.Password) {
		return echo.NewHTTPError(http.StatusBadRequest, passwordRule)
	}
	if !auth.ValidRole(req.UserType) {
		return echo.NewHTTPError(http.StatusBadRequest, "userType must be Doctor or Patient")
	}

	res, err := h.svc.SignUp(c.Request().Context(), req.FullName, req.Email, req.Password, req.UserType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !ValidEmail(req.Email) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid email address")
	}
	if req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "password is required")
	}

	sess, err := h.svc.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) SignOut(c echo.Context) error {
	token := strings.TrimSpace(strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer "))
	if token == "" {
		token = c.QueryParam("token")
	}
	if err := h.svc.SignOut(c.Request().Context(), token); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	userID, ok := h.svc.CurrentUser(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not signed in")
	}
	acct, err := h.svc.GetAccount(ctx, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !ValidPassword(req.NewPassword) {
		return echo.NewHTTPError(http.StatusBadRequest, passwordRule)
	}

	ctx := c.Request().Context()
	userID, ok := h.svc.CurrentUser(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not signed in")
	}
	if err := h.svc.VerifyPassword(ctx, userID, req.CurrentPassword); err != nil {
		return httpError(err)
	}
	if err := h.svc.ChangePassword(ctx, userID, req.NewPassword); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// httpError maps identity errors to the messages the app shows.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrEmailInUse):
		return echo.NewHTTPError(http.StatusConflict, "The email address is already in use by another account.")
	case errors.Is(err, ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "User not found.")
	case errors.Is(err, ErrWrongPassword):
		return echo.NewHTTPError(http.StatusUnauthorized, "Wrong password.")
	case errors.Is(err, ErrTryAgainLater):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "An error occurred. Please try again later.")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
