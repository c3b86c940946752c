package stubapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/klinners/klinners_web/internal/middleware"
)

// envelope is the uniform response body of every API endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(envelope{Success: true, Message: message, Data: data})
}

// errorHandler renders every handler or middleware error as a failure envelope.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := http.StatusInternalServerError
		message := "Internal server error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			message = fe.Message
		} else {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(status).JSON(envelope{Success: false, Message: message})
	}
}

// toHTTP maps account service errors onto API failures.
func toHTTP(err error) error {
	var input *InputError
	switch {
	case errors.As(err, &input):
		return fiber.NewError(http.StatusBadRequest, input.Message)
	case errors.Is(err, ErrAccountExists):
		return fiber.NewError(http.StatusConflict, "An account with this email already exists")
	case errors.Is(err, ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "No account found for this email")
	case errors.Is(err, ErrInvalidCredentials):
		return fiber.NewError(http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, ErrNotVerified):
		return fiber.NewError(http.StatusForbidden, "Please verify your email before signing in")
	case errors.Is(err, ErrInvalidCode):
		return fiber.NewError(http.StatusBadRequest, "Invalid PIN")
	case errors.Is(err, ErrCodeExpired):
		return fiber.NewError(http.StatusBadRequest, "PIN has expired. Please request a new PIN.")
	case errors.Is(err, ErrResetNotVerified):
		return fiber.NewError(http.StatusForbidden, "Verify the reset PIN first")
	case errors.Is(err, ErrPINNotSet):
		return fiber.NewError(http.StatusBadRequest, "Create a transaction PIN first")
	default:
		return err
	}
}

// Handler exposes the marketplace auth and profile endpoints.
type Handler struct {
	accounts *Accounts
	tokens   *TokenIssuer
	logger   *slog.Logger
}

func NewHandler(accounts *Accounts, tokens *TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{accounts: accounts, tokens: tokens, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login validates credentials and returns the account record with its token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.accounts.Authenticate(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return toHTTP(err)
	}
	token, err := h.tokens.Issue(account)
	if err != nil {
		return err
	}
	data := account.View()
	data["token"] = token
	h.logger.Info("auth.login completed", slog.String("user_id", account.ID))
	return respond(c, http.StatusOK, "Login successful", data)
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.accounts.Register(c.UserContext(), req)
	if err != nil {
		return toHTTP(err)
	}
	h.logger.Info("auth.register completed", slog.String("user_id", account.ID), slog.Int("status", http.StatusCreated))
	return respond(c, http.StatusCreated, "Registration successful. Check your email for the verification code.", fiber.Map{"id": account.ID, "email": account.Email})
}

// VerifyOTP activates a registered account.
func (h *Handler) VerifyOTP(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.accounts.VerifyOTP(c.UserContext(), req.Email, req.OTP); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return fiber.NewError(http.StatusBadRequest, "Invalid verification code")
		}
		return toHTTP(err)
	}
	return respond(c, http.StatusOK, "Email verified", nil)
}

// SendPasswordChangeEmail mails a reset PIN.
func (h *Handler) SendPasswordChangeEmail(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.accounts.SendResetPIN(c.UserContext(), req.Email); err != nil {
		return toHTTP(err)
	}
	return respond(c, http.StatusOK, "A PIN has been sent to your email", nil)
}

// VerifyPIN checks the reset PIN.
func (h *Handler) VerifyPIN(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
		PIN   string `json:"pin"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.accounts.VerifyResetPIN(c.UserContext(), req.Email, req.PIN); err != nil {
		return toHTTP(err)
	}
	return respond(c, http.StatusOK, "PIN verified", nil)
}

// ChangePassword sets the new password after PIN verification.
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	var req struct {
		Email           string `json:"email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.accounts.ChangePassword(c.UserContext(), req.Email, req.Password, req.ConfirmPassword); err != nil {
		return toHTTP(err)
	}
	return respond(c, http.StatusOK, "Password changed successfully", nil)
}

// UserInfo returns the signed-in account.
func (h *Handler) UserInfo(c *fiber.Ctx) error {
	account, err := h.accounts.Get(c.UserContext(), userID(c))
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "user not found")
	}
	return respond(c, http.StatusOK, "", account.View())
}

// FillData takes the multipart complete-profile form.
func (h *Handler) FillData(c *fiber.Ctx) error {
	uid := userID(c)
	in := ProfileInput{
		FirstName:   c.FormValue("firstName"),
		LastName:    c.FormValue("lastName"),
		Username:    c.FormValue("username"),
		DateOfBirth: c.FormValue("dateOfBirth"),
		Email:       c.FormValue("email"),
		Mobile:      c.FormValue("mobile"),
		Address:     c.FormValue("address"),
	}
	if fh, err := c.FormFile("image"); err == nil {
		if fh.Size > maxImageBytes {
			return fiber.NewError(http.StatusRequestEntityTooLarge, "Image is too large")
		}
		in.Image = fmt.Sprintf("/uploads/%s/%s", uid, sanitizeFilename(fh.Filename))
	}
	account, err := h.accounts.FillProfile(c.UserContext(), uid, in)
	if err != nil {
		return toHTTP(err)
	}
	return respond(c, http.StatusOK, "Profile updated", account.View())
}

// CreatePIN sets the transaction PIN.
func (h *Handler) CreatePIN(c *fiber.Ctx) error {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.accounts.CreateTxPIN(c.UserContext(), userID(c), req.PIN); err != nil {
		return toHTTP(err)
	}
	return respond(c, http.StatusCreated, "PIN created", fiber.Map{"pinSet": true})
}

// VerifyTxPIN checks the transaction PIN.
func (h *Handler) VerifyTxPIN(c *fiber.Ctx) error {
	var req struct {
		PIN string `json:"pin"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.accounts.VerifyTxPIN(c.UserContext(), userID(c), req.PIN); err != nil {
		return toHTTP(err)
	}
	return respond(c, http.StatusOK, "PIN verified", fiber.Map{"verified": true})
}

const maxImageBytes = 5 << 20

func userID(c *fiber.Ctx) string {
	uid, _ := c.Locals(middleware.UserIDKey).(string)
	return uid
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
