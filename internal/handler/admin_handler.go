package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/remu-backend/internal/middleware"
	"github.com/shinyyama/remu-backend/internal/repository"
	"github.com/shinyyama/remu-backend/internal/service"
)

type AdminHandler struct {
	accounts service.AccountService
	ledger   service.LedgerService
	products service.ProductService
}

func NewAdminHandler(accounts service.AccountService, ledger service.LedgerService, products service.ProductService) *AdminHandler {
	return &AdminHandler{accounts: accounts, ledger: ledger, products: products}
}

type AccountListRequest struct {
	Sort     string `query:"sort" validate:"omitempty,oneof=name email points createdAt"`
	Order    string `query:"order" validate:"omitempty,oneof=asc desc"`
	Admin    string `query:"admin" validate:"omitempty,oneof=true false"`
	Page     int    `query:"page" validate:"gte=0"`
	PageSize int    `query:"pageSize" validate:"gte=0,lte=100"`
	Search   string `query:"search" validate:"max=120"`
}

type AccountListResponse struct {
	Accounts []AccountResponse `json:"accounts"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	HasMore  bool              `json:"hasMore"`
}

type StatsResponse struct {
	TotalUsers     int   `json:"totalUsers"`
	TotalPoints    int64 `json:"totalPoints"`
	TotalReferrals int   `json:"totalReferrals"`
	Admins         int   `json:"admins"`
}

type SetAdminRequest struct {
	IsAdmin *bool `json:"isAdmin" validate:"required"`
}

type AdjustPointsRequest struct {
	Delta int64 `json:"delta" validate:"required"`
}

type ProductAnalyticsResponse struct {
	TotalProducts int            `json:"totalProducts"`
	TotalValue    string         `json:"totalValue"`
	LowStock      int            `json:"lowStock"`
	Categories    map[string]int `json:"categories"`
}

func (h *AdminHandler) ListAccounts(c echo.Context) error {
	var req AccountListRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid query"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", validationMessage(err)))
	}
	q := service.AccountListQuery{
		SortField:  req.Sort,
		Descending: req.Order == "desc",
		Page:       req.Page,
		PageSize:   req.PageSize,
		Search:     req.Search,
	}
	if req.Admin != "" {
		v, _ := strconv.ParseBool(req.Admin)
		q.IsAdmin = &v
	}
	page, err := h.accounts.List(c.Request().Context(), q)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to list accounts"))
	}
	resp := AccountListResponse{
		Accounts: make([]AccountResponse, 0, len(page.Accounts)),
		Page:     page.Page,
		PageSize: page.PageSize,
		HasMore:  page.HasMore,
	}
	for i := range page.Accounts {
		resp.Accounts = append(resp.Accounts, toAccountResponse(&page.Accounts[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) Stats(c echo.Context) error {
	st, err := h.accounts.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to compute stats"))
	}
	return c.JSON(http.StatusOK, StatsResponse{
		TotalUsers:     st.TotalUsers,
		TotalPoints:    st.TotalPoints,
		TotalReferrals: st.TotalReferrals,
		Admins:         st.Admins,
	})
}

func (h *AdminHandler) SetAdmin(c echo.Context) error {
	var req SetAdminRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", validationMessage(err)))
	}
	acct, err := h.ledger.AdjustAdminFlag(c.Request().Context(), middleware.UID(c), c.Param("id"), *req.IsAdmin)
	if err != nil {
		return accountWriteError(c, err)
	}
	return c.JSON(http.StatusOK, toAccountResponse(acct))
}

func (h *AdminHandler) AdjustPoints(c echo.Context) error {
	var req AdjustPointsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", validationMessage(err)))
	}
	acct, err := h.ledger.AdjustPoints(c.Request().Context(), middleware.UID(c), c.Param("id"), req.Delta)
	if err != nil {
		return accountWriteError(c, err)
	}
	return c.JSON(http.StatusOK, toAccountResponse(acct))
}

func (h *AdminHandler) DeleteAccount(c echo.Context) error {
	if err := h.ledger.DeleteAccount(c.Request().Context(), middleware.UID(c), c.Param("id")); err != nil {
		return accountWriteError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) ProductAnalytics(c echo.Context) error {
	a, err := h.products.Analytics(c.Request().Context())
	if err != nil {
		if errors.Is(err, repository.ErrDBNotReady) {
			return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("db_not_ready", "database not ready"))
		}
		return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to compute analytics"))
	}
	return c.JSON(http.StatusOK, ProductAnalyticsResponse{
		TotalProducts: a.TotalProducts,
		TotalValue:    a.TotalValue.StringFixed(2),
		LowStock:      a.LowStock,
		Categories:    a.Categories,
	})
}

func accountWriteError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "account not found"))
	case errors.Is(err, repository.ErrInsufficientPoint):
		return c.JSON(http.StatusConflict, NewErrorResponse("insufficient_points", err.Error()))
	case errors.Is(err, service.ErrZeroAdjustment):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("validation_error", err.Error()))
	}
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "failed to update account"))
}
