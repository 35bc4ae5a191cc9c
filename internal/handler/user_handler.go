package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/remu-backend/internal/middleware"
	"github.com/shinyyama/remu-backend/internal/model"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/service"
)

const unknownReferrer = "unknown referrer"

type UserHandler struct {
	accounts service.AccountService
}

func NewUserHandler(accounts service.AccountService) *UserHandler {
	return &UserHandler{accounts: accounts}
}

type AccountResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone"`
	ReferralCode string  `json:"referralCode"`
	ReferredBy   *string `json:"referredBy"`
	Points       int64   `json:"points"`
	IsAdmin      bool    `json:"isAdmin"`
	CreatedAt    string  `json:"createdAt"`
}

type ReferrerResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MeResponse struct {
	Account  AccountResponse   `json:"account"`
	Referrer *ReferrerResponse `json:"referrer"`
}

type ReferralsResponse struct {
	Code         string             `json:"referralCode"`
	ShareURL     string             `json:"shareUrl"`
	PointsEarned int64              `json:"pointsEarned"`
	Referred     []ReferrerResponse `json:"referred"`
}

type PublicUserResponse struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}

func (h *UserHandler) Me(c echo.Context) error {
	p, err := h.accounts.Profile(c.Request().Context(), middleware.UID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "profile not found"))
		}
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch profile"))
	}
	resp := MeResponse{Account: toAccountResponse(p.Account)}
	switch {
	case p.Referrer != nil:
		resp.Referrer = &ReferrerResponse{ID: p.Referrer.ID, Name: p.Referrer.Name}
	case p.ReferrerMissing:
		resp.Referrer = &ReferrerResponse{ID: p.Account.Referrer(), Name: unknownReferrer}
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) Referrals(c echo.Context) error {
	sum, err := h.accounts.Referrals(c.Request().Context(), middleware.UID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "profile not found"))
		}
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch referrals"))
	}
	resp := ReferralsResponse{
		Code:         sum.Code,
		ShareURL:     sum.ShareURL,
		PointsEarned: sum.PointsEarned,
		Referred:     make([]ReferrerResponse, 0, len(sum.Referred)),
	}
	for _, a := range sum.Referred {
		resp.Referred = append(resp.Referred, ReferrerResponse{ID: a.ID, Name: a.Name})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) GetPublic(c echo.Context) error {
	uid := c.Param("uid")
	if uid == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid uid"))
	}
	acct, err := h.accounts.Get(c.Request().Context(), uid)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "user not found"))
		}
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to fetch user"))
	}
	return c.JSON(http.StatusOK, PublicUserResponse{UID: acct.ID, DisplayName: acct.Name})
}

func toAccountResponse(a *model.Account) AccountResponse {
	return AccountResponse{
		ID:           a.ID,
		Name:         a.Name,
		Email:        a.Email,
		Phone:        a.Phone,
		ReferralCode: a.ReferralCode,
		ReferredBy:   a.ReferredBy,
		Points:       a.Points,
		IsAdmin:      a.IsAdmin,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
