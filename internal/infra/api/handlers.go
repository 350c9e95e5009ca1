package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/shopspring/decimal"

	"membership-payments/internal/application"
	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
)

const maxWebhookBody = 64 << 10

// PaymentService is the facade surface the HTTP layer needs.
type PaymentService interface {
	Initiate(ctx context.Context, in application.InitiateInput) (*application.InitiateOutput, error)
	HandleWebhook(ctx context.Context, gw model.Gateway, raw adapter.RawCallback) (application.WebhookAck, error)
	CheckStatus(ctx context.Context, attemptID string) (*application.StatusOutput, error)
	Cancel(ctx context.Context, attemptID string) (*application.StatusOutput, error)
}

var _ PaymentService = (*application.PaymentFacade)(nil)

type initiateRequest struct {
	AttemptID       string          `json:"attemptId,omitempty"`
	UserID          string          `json:"userId"`
	Gateway         string          `json:"gateway"`
	Kind            string          `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Phone           string          `json:"phone,omitempty"`
	CardRef         string          `json:"cardRef,omitempty"`
	Description     string          `json:"description,omitempty"`
	Plan            string          `json:"plan,omitempty"`
	Audience        string          `json:"audience,omitempty"`
	ServiceCategory string          `json:"serviceCategory,omitempty"`
	Tokens          int64           `json:"tokens,omitempty"`
	ListingID       string          `json:"listingId,omitempty"`
	ReferralCode    string          `json:"referralCode,omitempty"`
}

type initiateResponse struct {
	AttemptID         string `json:"attemptId"`
	Status            string `json:"status"`
	ExternalReference string `json:"externalReference,omitempty"`
	RedirectURL       string `json:"redirectUrl,omitempty"`
	Token             string `json:"token,omitempty"`
}

type statusResponse struct {
	AttemptID      string `json:"attemptId"`
	Status         string `json:"status"`
	FailureReason  string `json:"failureReason,omitempty"`
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	TokenBalance   int64  `json:"tokenBalance,omitempty"`
}

type webhookResponse struct {
	Status string `json:"status"`
}

type handlers struct {
	svc PaymentService
	rd  *Renderer
}

func (h *handlers) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.rd.Error(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}
	out, err := h.svc.Initiate(r.Context(), application.InitiateInput{
		AttemptID:       req.AttemptID,
		UserID:          req.UserID,
		Gateway:         model.Gateway(req.Gateway),
		Kind:            model.EntitlementKind(req.Kind),
		Amount:          req.Amount,
		Currency:        req.Currency,
		Phone:           req.Phone,
		CardRef:         req.CardRef,
		Description:     req.Description,
		Plan:            req.Plan,
		Audience:        req.Audience,
		ServiceCategory: req.ServiceCategory,
		Tokens:          req.Tokens,
		ListingID:       req.ListingID,
		ReferralCode:    req.ReferralCode,
	})
	if err != nil {
		h.rd.Error(w, r, err)
		return
	}
	h.rd.JSON(w, http.StatusCreated, initiateResponse{
		AttemptID:         out.AttemptID,
		Status:            string(out.Status),
		ExternalReference: out.ExternalReference,
		RedirectURL:       out.RedirectURL,
		Token:             out.Token,
	})
}

// attemptID binds the {attemptId} path parameter.
func (h *handlers) attemptID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "attemptId", chi.URLParam(r, "attemptId"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || id == "" {
		h.rd.Error(w, r, fmt.Errorf("%w: invalid attemptId", domain.ErrInvalidArgument))
		return "", false
	}
	return id, true
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.CheckStatus(r.Context(), id)
	if err != nil {
		h.rd.Error(w, r, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, toStatusResponse(out))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.attemptID(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		h.rd.Error(w, r, err)
		return
	}
	h.rd.JSON(w, http.StatusOK, toStatusResponse(out))
}

func toStatusResponse(out *application.StatusOutput) statusResponse {
	return statusResponse{
		AttemptID:      out.AttemptID,
		Status:         string(out.Status),
		FailureReason:  string(out.FailureReason),
		Kind:           string(out.Kind),
		Amount:         model.FormatAmount(out.Amount, out.Currency),
		Currency:       out.Currency,
		SubscriptionID: out.SubscriptionID,
		TokenBalance:   out.TokenBalance,
	}
}

// webhook answers 200 for everything except a payload that failed validation.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := runtime.BindStyledParameterWithOptions("simple", "gateway", chi.URLParam(r, "gateway"), &name,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		h.rd.JSON(w, http.StatusNotFound, webhookResponse{Status: string(application.AckRejected)})
		return
	}
	gw, err := model.ParseGateway(name)
	if err != nil {
		h.rd.JSON(w, http.StatusNotFound, webhookResponse{Status: string(application.AckRejected)})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, webhookResponse{Status: string(application.AckRejected)})
		return
	}
	ack, _ := h.svc.HandleWebhook(r.Context(), gw, adapter.RawCallback{
		Body:   body,
		Header: r.Header.Clone(),
		Query:  r.URL.Query(),
	})
	status := http.StatusOK
	if ack == application.AckRejected {
		status = http.StatusBadRequest
	}
	h.rd.JSON(w, status, webhookResponse{Status: string(ack)})
}
