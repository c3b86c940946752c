package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/klinners/klinners_web/internal/apiclient"
	"github.com/klinners/klinners_web/internal/identity"
	"github.com/klinners/klinners_web/internal/logging"
	"github.com/klinners/klinners_web/internal/storage"
)

// REST endpoints of the marketplace API.
const (
	PathLogin          = "/api/v1/auth/login"
	PathRegister       = "/api/v1/auth/register"
	PathVerifyOTP      = "/api/v1/auth/verifyotp"
	PathForgotPassword = "/api/v1/auth/send-password-change-email"
	PathVerifyPIN      = "/api/v1/auth/verifypin"
	PathChangePassword = "/api/v1/auth/change-password"
	PathFillProfile    = "/api/v1/user/fill-data"
	PathUserInfo       = "/api/v1/user-info"
	PathCreatePIN      = "/api/v1/user/create-pin"
	PathVerifyTxPIN    = "/api/v1/user/verify-pin"
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// Doer sends an API request; *apiclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Service exposes the auth and profile operations of the remote API.
type Service struct {
	api    Doer
	tokens *storage.Tokens
	logger *slog.Logger
}

// NewService wires the service to an API client and the persistence adapter.
func NewService(api Doer, tokens *storage.Tokens, logger *slog.Logger) *Service {
	return &Service{api: api, tokens: tokens, logger: logging.Component(logger, "auth")}
}

// Login exchanges credentials for a bearer token. The token and the user
// record (without the token) are persisted only when the API reports success
// and actually returns a token.
func (s *Service) Login(ctx context.Context, email, password string) (Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return invalid("email", "Email is required."), nil
	}
	if password == "" {
		return invalid("password", "Password is required."), nil
	}

	res, err := s.call(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     PathLogin,
		JSON:     map[string]string{"email": email, "password": password},
		SkipAuth: true,
	}, "Login failed")
	if err != nil || !res.Success {
		return res, err
	}

	var data map[string]any
	if len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, &data); err != nil {
			s.logger.Warn("login response data is not an object", slog.Any("error", err))
		}
	}
	token, _ := data["token"].(string)
	if token == "" {
		s.logger.Warn("login reported success without a token")
		return Result{Data: res.Data, Message: "Login failed"}, nil
	}
	delete(data, "token")
	user := identity.User(data)

	if err := s.tokens.SaveToken(ctx, token); err != nil {
		return Result{Message: "Login failed"}, fmt.Errorf("persist token: %w", err)
	}
	if err := s.tokens.SaveUserData(ctx, user); err != nil {
		if clearErr := s.tokens.ClearAll(ctx); clearErr != nil {
			s.logger.Error("rollback after failed user save", slog.Any("error", clearErr))
		}
		return Result{Message: "Login failed"}, fmt.Errorf("persist user data: %w", err)
	}

	s.logger.Info("login succeeded", slog.String("user_id", user.ID()))
	res.User = user
	return res, nil
}

// Register creates an account. Activation happens server-side (email OTP).
func (s *Service) Register(ctx context.Context, reg identity.Registration) (Result, error) {
	if strings.TrimSpace(reg.Email) == "" {
		return invalid("email", "Email is required."), nil
	}
	if reg.Password == "" {
		return invalid("password", "Password is required."), nil
	}
	if reg.ConfirmPassword != "" && reg.ConfirmPassword != reg.Password {
		return invalid("confirmPassword", "Passwords do not match."), nil
	}
	return s.call(ctx, apiclient.Request{Method: http.MethodPost, Path: PathRegister, JSON: reg, SkipAuth: true}, "Registration failed")
}

// VerifyEmail submits the OTP mailed after registration.
func (s *Service) VerifyEmail(ctx context.Context, email, otp string) (Result, error) {
	if strings.TrimSpace(email) == "" {
		return invalid("email", "Email is required."), nil
	}
	if strings.TrimSpace(otp) == "" {
		return invalid("otp", "Verification code is required."), nil
	}
	return s.call(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     PathVerifyOTP,
		JSON:     map[string]string{"email": email, "otp": strings.TrimSpace(otp)},
		SkipAuth: true,
	}, "Email verification failed")
}

// ForgotPassword asks the API to mail a reset PIN. On success the address is
// remembered so the PIN step can pick it up.
func (s *Service) ForgotPassword(ctx context.Context, email string) (Result, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return invalid("email", "Email is required."), nil
	}
	res, err := s.call(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     PathForgotPassword,
		JSON:     map[string]string{"email": email},
		SkipAuth: true,
	}, "Failed to send reset PIN")
	if err != nil || !res.Success {
		return res, err
	}
	if err := s.tokens.SaveVerificationEmail(ctx, email); err != nil {
		s.logger.Warn("remember verification email", slog.Any("error", err))
	}
	return res, nil
}

// VerifyPasswordPin checks the 4-digit reset PIN.
func (s *Service) VerifyPasswordPin(ctx context.Context, email, pin string) (Result, error) {
	if strings.TrimSpace(email) == "" {
		return invalid("email", "Email is required."), nil
	}
	if !pinPattern.MatchString(pin) {
		return invalid("pin", "Please enter a valid 4-digit PIN."), nil
	}
	return s.call(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     PathVerifyPIN,
		JSON:     map[string]string{"email": email, "pin": pin},
		SkipAuth: true,
	}, "Invalid PIN. Please try again.")
}

// ChangePassword sets a new password after PIN verification.
func (s *Service) ChangePassword(ctx context.Context, email, password, confirm string) (Result, error) {
	if strings.TrimSpace(email) == "" {
		return invalid("email", "Email is required."), nil
	}
	if password == "" {
		return invalid("password", "Password is required."), nil
	}
	if password != confirm {
		return invalid("confirmPassword", "Passwords do not match."), nil
	}
	res, err := s.call(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     PathChangePassword,
		JSON:     map[string]string{"email": email, "password": password, "confirmPassword": confirm},
		SkipAuth: true,
	}, "Failed to change password")
	if err == nil && res.Success {
		if err := s.tokens.RemoveVerificationEmail(ctx); err != nil {
			s.logger.Warn("forget verification email", slog.Any("error", err))
		}
	}
	return res, err
}

// Logout forgets the token and cached user. It never fails; storage errors
// are logged.
func (s *Service) Logout(ctx context.Context) {
	if err := s.tokens.ClearAll(ctx); err != nil {
		s.logger.Error("clear session storage", slog.Any("error", err))
	}
}

// FillProfileData uploads the complete-profile form, with the optional image,
// as multipart.
func (s *Service) FillProfileData(ctx context.Context, p identity.Profile) (Result, error) {
	form := apiclient.NewForm()
	for _, f := range p.Fields() {
		form.Add(f.Name, f.Value)
	}
	if p.Image != nil && p.Image.Body != nil {
		form.AttachFile("image", p.Image.Name, p.Image.ContentType, p.Image.Body)
	}
	res, err := s.call(ctx, apiclient.Request{Method: http.MethodPost, Path: PathFillProfile, Form: form}, "Failed to update profile")
	if err != nil || !res.Success {
		return res, err
	}
	res.User = decodeUser(res.Data)
	return res, nil
}

// FetchUserInfo reads the current user's record.
func (s *Service) FetchUserInfo(ctx context.Context) (Result, error) {
	res, err := s.call(ctx, apiclient.Request{Method: http.MethodGet, Path: PathUserInfo}, "Failed to load profile")
	if err != nil || !res.Success {
		return res, err
	}
	res.User = decodeUser(res.Data)
	return res, nil
}

// CreatePin sets the transaction PIN of the signed-in user.
func (s *Service) CreatePin(ctx context.Context, pin string) (Result, error) {
	if !pinPattern.MatchString(pin) {
		return invalid("pin", "Please enter a valid 4-digit PIN."), nil
	}
	return s.call(ctx, apiclient.Request{Method: http.MethodPost, Path: PathCreatePIN, JSON: map[string]string{"pin": pin}}, "Failed to create PIN")
}

// VerifyPin checks the transaction PIN of the signed-in user.
func (s *Service) VerifyPin(ctx context.Context, pin string) (Result, error) {
	if !pinPattern.MatchString(pin) {
		return invalid("pin", "Please enter a valid 4-digit PIN."), nil
	}
	return s.call(ctx, apiclient.Request{Method: http.MethodPost, Path: PathVerifyTxPIN, JSON: map[string]string{"pin": pin}}, "Invalid PIN. Please try again.")
}

// call maps an API exchange onto Result. Only errors that are not
// *apiclient.Error escape as the error return.
func (s *Service) call(ctx context.Context, req apiclient.Request, fallback string) (Result, error) {
	resp, err := s.api.Do(ctx, req)
	if err != nil {
		if apiErr, ok := apiclient.AsError(err); ok {
			s.logger.Info("api call rejected",
				slog.String("path", req.Path),
				slog.String("kind", apiErr.Kind.String()),
				slog.Int("status", apiErr.Status),
			)
			return Result{Message: apiErr.Message, Err: apiErr}, nil
		}
		return Result{Message: fallback}, err
	}

	env := resp.Envelope
	res := Result{Success: env.Success, Data: env.Data, Message: env.Message}
	if !res.Success && res.Message == "" {
		res.Message = env.ErrorText()
	}
	if !res.Success && res.Message == "" {
		res.Message = fallback
	}
	return res, nil
}

func decodeUser(data json.RawMessage) identity.User {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var user identity.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil
	}
	return user
}
