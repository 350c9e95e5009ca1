package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"membership-payments/internal/domain"
	"membership-payments/internal/infra/i18n"
	"membership-payments/internal/infra/logging"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Renderer writes JSON responses and maps domain errors to HTTP statuses with
// localized messages.
type Renderer struct {
	bundle *i18n.Bundle
	log    *zerolog.Logger
}

func NewRenderer(bundle *i18n.Bundle, logger *zerolog.Logger) *Renderer {
	return &Renderer{bundle: bundle, log: logger}
}

// HTTPStatus maps a domain error to its response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrUnknownGateway),
		errors.Is(err, domain.ErrInvalidCallback):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAttemptNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicatePurchase),
		errors.Is(err, domain.ErrAttemptTerminal),
		errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrInsufficientTokens),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrGatewayRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGatewayAuth):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (rd *Renderer) JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Error renders err without internal detail. 5xx errors are logged.
func (rd *Renderer) Error(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	code := domain.ErrorCode(err)
	if errors.Is(err, domain.ErrAlreadyExists) {
		code = "duplicate_order"
	}
	l := logging.With(r.Context(), rd.log)
	if status >= 500 {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		l.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	rd.JSON(w, status, errorBody{Error: code, Message: rd.message(r, code)})
}

func (rd *Renderer) unauthorized(w http.ResponseWriter, r *http.Request) {
	rd.JSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: rd.message(r, "unauthorized")})
}

func (rd *Renderer) message(r *http.Request, code string) string {
	if rd.bundle == nil {
		return code
	}
	t := rd.bundle.For(r.Header.Get("Accept-Language"))
	if key := "error." + code; t.Has(key) {
		return t.T(key)
	}
	return t.T("error.internal")
}
