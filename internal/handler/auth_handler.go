package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/remu-backend/internal/identity"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/service"
)

type Authenticator interface {
	Authenticate(ctx context.Context, email, secret string) (*identity.Session, error)
	IssuePasswordReset(ctx context.Context, email string) error
}

type AuthHandler struct {
	ledger service.LedgerService
	auth   Authenticator
}

func NewAuthHandler(ledger service.LedgerService, auth Authenticator) *AuthHandler {
	return &AuthHandler{ledger: ledger, auth: auth}
}

type SignUpRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	Name         string `json:"name" validate:"required,max=120"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
	ReferralCode string `json:"referralCode" validate:"omitempty,max=16"`
}

type SignUpResponse struct {
	Account         AccountResponse `json:"account"`
	ReferralApplied bool            `json:"referralApplied"`
	Warning         *errorPayload   `json:"warning,omitempty"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SessionResponse struct {
	UID          string `json:"uid"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required"`
}

func (h *AuthHandler) SignUp(c echo.Context) error {
	var req SignUpRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", validationMessage(err)))
	}
	res, err := h.ledger.RegisterAccount(c.Request().Context(), service.RegisterInput{
		Email:        req.Email,
		Secret:       req.Password,
		Name:         req.Name,
		Phone:        req.Phone,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		status, body := registerError(err)
		return c.JSON(status, body)
	}
	resp := SignUpResponse{
		Account:         toAccountResponse(res.Account),
		ReferralApplied: res.ReferralApplied,
	}
	if res.Warning != nil {
		resp.Warning = &errorPayload{Code: "partial_referral_failure", Message: "account created but the referral bonus could not be applied"}
	}
	return c.JSON(http.StatusCreated, resp)
}

func registerError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, identity.ErrDuplicateAccount), errors.Is(err, repository.ErrEmailTaken):
		return http.StatusConflict, NewErrorResponse("email_in_use", err.Error())
	case errors.Is(err, identity.ErrWeakSecret):
		return http.StatusBadRequest, NewErrorResponse("weak_password", err.Error())
	case errors.Is(err, identity.ErrInvalidEmail):
		return http.StatusBadRequest, NewErrorResponse("invalid_email", err.Error())
	case errors.Is(err, service.ErrNameRequired):
		return http.StatusBadRequest, NewErrorResponse("validation_error", err.Error())
	case errors.Is(err, identity.ErrNetwork):
		return http.StatusServiceUnavailable, NewErrorResponse("network_error", "identity provider unreachable")
	case errors.Is(err, service.ErrCodeGenerationExhausted):
		return http.StatusServiceUnavailable, NewErrorResponse("code_generation_failed", "please try again")
	}
	return http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to register")
}

func (h *AuthHandler) SignIn(c echo.Context) error {
	var req SignInRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", validationMessage(err)))
	}
	sess, err := h.auth.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredential),
			errors.Is(err, identity.ErrUnknownEmail),
			errors.Is(err, identity.ErrInvalidEmail):
			return c.JSON(http.StatusUnauthorized, NewErrorResponse("invalid_credentials", "invalid email or password"))
		case errors.Is(err, identity.ErrNetwork):
			return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("network_error", "identity provider unreachable"))
		}
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to sign in"))
	}
	return c.JSON(http.StatusOK, SessionResponse{
		UID:          sess.UID,
		IDToken:      sess.IDToken,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    sess.ExpiresIn,
	})
}

func (h *AuthHandler) PasswordReset(c echo.Context) error {
	var req PasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", validationMessage(err)))
	}
	if err := h.auth.IssuePasswordReset(c.Request().Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, identity.ErrUnknownEmail):
			return c.JSON(http.StatusNotFound, NewErrorResponse("user_not_found", err.Error()))
		case errors.Is(err, identity.ErrInvalidEmail):
			return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_email", err.Error()))
		case errors.Is(err, identity.ErrNetwork):
			return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("network_error", "identity provider unreachable"))
		}
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to send reset mail"))
	}
	return c.JSON(http.StatusOK, map[string]bool{"sent": true})
}
