package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"membership-payments/internal/domain"
	"membership-payments/internal/usecase"
)

// TokenService exposes token balances and usage debits.
type TokenService interface {
	Balance(ctx context.Context, userID, category string) (int64, error)
	Consume(ctx context.Context, userID, category string, n int64, description string) (int64, error)
}

var _ TokenService = (usecase.TokenUseCase)(nil)

type consumeRequest struct {
	Count       int64  `json:"count"`
	Description string `json:"description,omitempty"`
}

type balanceResponse struct {
	UserID   string `json:"userId"`
	Category string `json:"category"`
	Balance  int64  `json:"balance"`
}

type tokenHandlers struct {
	svc TokenService
	rd  *Renderer
}

func (h *tokenHandlers) params(w http.ResponseWriter, r *http.Request) (userID, category string, ok bool) {
	opts := runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}
	if err := runtime.BindStyledParameterWithOptions("simple", "userId", chi.URLParam(r, "userId"), &userID, opts); err != nil || userID == "" {
		h.rd.Error(w, r, fmt.Errorf("%w: invalid userId", domain.ErrInvalidArgument))
		return "", "", false
	}
	if err := runtime.BindStyledParameterWithOptions("simple", "category", chi.URLParam(r, "category"), &category, opts); err != nil || category == "" {
		h.rd.Error(w, r, fmt.Errorf("%w: invalid category", domain.ErrInvalidArgument))
		return "", "", false
	}
	return userID, category, true
}

func (h *tokenHandlers) balance(w http.ResponseWriter, r *http.Request) {
	userID, category, ok := h.params(w, r)
	if !ok {
		return
	}
	n, err := h.svc.Balance(r.Context(), userID, category)
	if err != nil {
		h.rd.Error(w, r, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, balanceResponse{UserID: userID, Category: category, Balance: n})
}

func (h *tokenHandlers) consume(w http.ResponseWriter, r *http.Request) {
	userID, category, ok := h.params(w, r)
	if !ok {
		return
	}
	var req consumeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.rd.Error(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}
	n, err := h.svc.Consume(r.Context(), userID, category, req.Count, req.Description)
	if err != nil {
		h.rd.Error(w, r, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, balanceResponse{UserID: userID, Category: category, Balance: n})
}
