package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
	"membership-payments/internal/domain/ports/repository"
	"membership-payments/internal/infra/logging"
	"membership-payments/internal/infra/metrics"
	red "membership-payments/internal/infra/redis"
	"membership-payments/internal/usecase"
)

var phoneRe = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// InitiateInput is a request to start a payment for one entitlement.
type InitiateInput struct {
	// AttemptID is optional; a ULID is generated when empty.
	AttemptID   string
	UserID      string
	Gateway     model.Gateway
	Kind        model.EntitlementKind
	Amount      decimal.Decimal
	Currency    string
	Phone       string
	CardRef     string
	Description string

	Plan     string
	Audience string

	ServiceCategory string
	Tokens          int64

	ListingID    string
	ReferralCode string
}

// InitiateOutput tells the caller how the payer completes the payment.
type InitiateOutput struct {
	AttemptID         string
	Status            model.AttemptStatus
	ExternalReference string
	RedirectURL       string
	Token             string
}

// StatusOutput is the caller-facing view of an attempt.
type StatusOutput struct {
	AttemptID      string
	Status         model.AttemptStatus
	FailureReason  model.FailureReason
	Kind           model.EntitlementKind
	Amount         decimal.Decimal
	Currency       string
	SubscriptionID string
	TokenBalance   int64
}

// WebhookAck is the response owed to a gateway callback.
type WebhookAck string

const (
	AckAcknowledged WebhookAck = "acknowledged"
	AckRejected     WebhookAck = "rejected"
)

// FacadeDeps groups the collaborators of the PaymentFacade.
type FacadeDeps struct {
	Gateways    adapter.Gateways
	Ledger      usecase.LedgerUseCase
	Reconciler  usecase.ReconcilerUseCase
	Members     repository.MembershipStore
	Plans       repository.PlanRepository
	ListingFees repository.ListingFeeRepository
	Limiter     RateLimiter
	Replay      ReplayGuard
}

// FacadeOptions holds the facade's tunables.
type FacadeOptions struct {
	CallbackBaseURL   string
	InitiatePerMinute int
	Dev               bool
}

// PaymentFacade is the single entry point for payment initiation, webhook
// delivery, status checks and cancellation.
type PaymentFacade struct {
	FacadeDeps
	opts FacadeOptions
	log  *zerolog.Logger
}

func NewPaymentFacade(deps FacadeDeps, opts FacadeOptions, logger *zerolog.Logger) *PaymentFacade {
	l := logger.With().Str("component", "payment_facade").Logger()
	return &PaymentFacade{FacadeDeps: deps, opts: opts, log: &l}
}

// Initiate validates the request, records a pending attempt and asks the
// gateway to start the collection. A gateway failure fails the attempt.
func (f *PaymentFacade) Initiate(ctx context.Context, in InitiateInput) (*InitiateOutput, error) {
	defer logging.TraceDuration(f.log, "PaymentFacade.Initiate")()
	ctx = logging.WithGateway(logging.WithUserID(ctx, in.UserID), string(in.Gateway))
	log := logging.With(ctx, f.log)

	in.Currency = model.NormalizeCurrency(in.Currency)
	if err := validateInitiate(in); err != nil {
		return nil, err
	}
	gw, err := f.Gateways.Get(in.Gateway)
	if err != nil {
		return nil, err
	}
	if err := f.allow(ctx, in.UserID); err != nil {
		return nil, err
	}
	if err := f.checkEntitlement(ctx, in); err != nil {
		return nil, err
	}

	a, err := f.Ledger.CreateAttempt(ctx, usecase.NewAttempt{
		ID:       in.AttemptID,
		UserID:   in.UserID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Gateway:  in.Gateway,
		Kind:     in.Kind,
		Metadata: metadataFor(in),
	})
	if err != nil {
		return nil, err
	}
	ctx = logging.WithAttemptID(ctx, a.ID)

	payer := in.Phone
	if payer == "" {
		payer = in.CardRef
	}
	res, err := gw.Initiate(ctx, adapter.InitiateRequest{
		AttemptID:    a.ID,
		Amount:       a.Amount,
		Currency:     a.Currency,
		PayerContact: payer,
		Description:  in.Description,
		CallbackURL:  strings.TrimRight(f.opts.CallbackBaseURL, "/") + "/webhooks/" + string(in.Gateway),
	})
	if err != nil {
		if _, _, terr := f.Ledger.Transition(ctx, a.ID, model.OutcomeFailure, "", model.FailureInitiate); terr != nil {
			log.Error().Err(terr).Msg("could not fail attempt after initiate error")
		}
		metrics.IncAttempt(string(in.Gateway), string(model.FailureInitiate))
		log.Warn().Err(err).Str("payer", logging.Redact(payer, f.opts.Dev)).Msg("gateway initiate failed")
		return nil, err
	}

	if res.ExternalReference != "" {
		if err := f.Ledger.SetExternalReference(ctx, a.ID, res.ExternalReference); err != nil {
			return nil, fmt.Errorf("store external reference: %w", err)
		}
	}
	log.Info().Str("kind", string(a.Kind)).Str("amount", model.FormatAmount(a.Amount, a.Currency)).Msg("payment initiated")
	return &InitiateOutput{
		AttemptID:         a.ID,
		Status:            model.AttemptStatusPending,
		ExternalReference: res.ExternalReference,
		RedirectURL:       res.RedirectURL,
		Token:             res.Token,
	}, nil
}

func validateInitiate(in InitiateInput) error {
	switch {
	case in.UserID == "":
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	case !in.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	case !model.IsKnownCurrency(in.Currency):
		return fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidArgument, in.Currency)
	case !in.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidArgument, in.Kind)
	}
	if _, err := model.ParseGateway(string(in.Gateway)); err != nil {
		return err
	}
	if in.Phone == "" && in.CardRef == "" {
		return fmt.Errorf("%w: phone or card reference is required", domain.ErrInvalidArgument)
	}
	if in.Phone != "" && !phoneRe.MatchString(in.Phone) {
		return fmt.Errorf("%w: malformed phone number", domain.ErrInvalidArgument)
	}
	if exp := model.CurrencyExponent(in.Currency); !in.Amount.Equal(in.Amount.Truncate(exp)) {
		return fmt.Errorf("%w: too many decimals for %s", domain.ErrInvalidArgument, in.Currency)
	}

	switch in.Kind {
	case model.KindMembership:
		if in.Plan == "" {
			return fmt.Errorf("%w: plan is required", domain.ErrInvalidArgument)
		}
	case model.KindTokenPurchase:
		if in.Tokens <= 0 || in.ServiceCategory == "" {
			return fmt.Errorf("%w: token count and service category are required", domain.ErrInvalidArgument)
		}
	case model.KindListingFee:
		if in.ListingID == "" {
			return fmt.Errorf("%w: listing id is required", domain.ErrInvalidArgument)
		}
	}
	return nil
}

func (f *PaymentFacade) allow(ctx context.Context, userID string) error {
	if f.Limiter == nil || f.opts.InitiatePerMinute <= 0 {
		return nil
	}
	ok, err := f.Limiter.Allow(ctx, red.UserActionKey(userID, "initiate"), f.opts.InitiatePerMinute, time.Minute)
	if err != nil {
		logging.With(ctx, f.log).Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

// checkEntitlement rejects purchases of something the user already holds and
// checks membership prices against the plan catalog.
func (f *PaymentFacade) checkEntitlement(ctx context.Context, in InitiateInput) error {
	switch in.Kind {
	case model.KindMembership:
		plan, err := f.Plans.FindByCode(ctx, repository.NoTX, in.Plan)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, in.Plan)
		}
		if err != nil {
			return err
		}
		if plan.Currency != in.Currency || !model.AmountsEqual(plan.Price, in.Amount, in.Currency) {
			return fmt.Errorf("%w: amount does not match the %s plan price", domain.ErrInvalidArgument, plan.Code)
		}
		sub, err := f.Members.GetActiveSubscription(ctx, repository.NoTX, in.UserID, model.ParseAudience(in.Audience))
		if err == nil && sub.IsActiveAt(time.Now()) {
			return domain.ErrDuplicatePurchase
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	case model.KindListingFee:
		ok, err := f.ListingFees.IsConfirmed(ctx, repository.NoTX, in.ListingID)
		if err != nil {
			return err
		}
		if ok {
			return domain.ErrDuplicatePurchase
		}
	}
	return nil
}

func metadataFor(in InitiateInput) map[string]string {
	meta := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			meta[k] = v
		}
	}
	put(model.MetaDescription, in.Description)
	put(model.MetaReferralCode, in.ReferralCode)
	switch in.Kind {
	case model.KindMembership:
		put(model.MetaPlan, in.Plan)
		put(model.MetaAudience, string(model.ParseAudience(in.Audience)))
	case model.KindTokenPurchase:
		put(model.MetaServiceCategory, in.ServiceCategory)
		put(model.MetaTokens, strconv.FormatInt(in.Tokens, 10))
	case model.KindListingFee:
		put(model.MetaListingID, in.ListingID)
	}
	return meta
}

// HandleWebhook processes a gateway callback. Only a payload that fails
// validation is rejected; everything else is acknowledged so the gateway stops
// redelivering, and failures are left to the reconciler.
func (f *PaymentFacade) HandleWebhook(ctx context.Context, gw model.Gateway, raw adapter.RawCallback) (WebhookAck, error) {
	ctx = logging.WithGateway(ctx, string(gw))
	log := logging.With(ctx, f.log)

	if f.Replay != nil && len(raw.Body) > 0 {
		if seen, err := f.Replay.Seen(ctx, string(gw), raw.Body); err == nil && seen {
			metrics.IncWebhook(string(gw), "replayed")
			return AckAcknowledged, nil
		}
	}

	_, err := f.Reconciler.HandleWebhook(ctx, gw, raw)
	switch {
	case err == nil:
		if f.Replay != nil && len(raw.Body) > 0 {
			if merr := f.Replay.Mark(ctx, string(gw), raw.Body); merr != nil {
				log.Debug().Err(merr).Msg("replay guard not updated")
			}
		}
		return AckAcknowledged, nil
	case errors.Is(err, domain.ErrInvalidCallback), errors.Is(err, domain.ErrUnknownGateway):
		return AckRejected, err
	case errors.Is(err, domain.ErrAttemptNotFound), errors.Is(err, domain.ErrAmountMismatch):
		return AckAcknowledged, nil
	default:
		log.Error().Err(err).Msg("webhook processing failed; reconciler will retry")
		return AckAcknowledged, err
	}
}

// CheckStatus reports the attempt's state, polling the gateway while pending.
// A gateway that cannot be reached leaves the recorded state in place.
func (f *PaymentFacade) CheckStatus(ctx context.Context, attemptID string) (*StatusOutput, error) {
	res, err := f.Reconciler.CheckStatus(ctx, attemptID)
	if res == nil || res.Attempt == nil {
		return nil, err
	}
	if err != nil && !errors.Is(err, domain.ErrAmountMismatch) {
		logging.With(logging.WithAttemptID(ctx, attemptID), f.log).Warn().Err(err).Msg("status check incomplete")
	}
	return statusOf(res), nil
}

// Cancel fails a pending attempt on the payer's request.
func (f *PaymentFacade) Cancel(ctx context.Context, attemptID string) (*StatusOutput, error) {
	a, err := f.Ledger.Cancel(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return statusOf(&usecase.SettleResult{Attempt: a}), nil
}

func statusOf(res *usecase.SettleResult) *StatusOutput {
	a := res.Attempt
	out := &StatusOutput{
		AttemptID:     a.ID,
		Status:        a.Status,
		FailureReason: a.FailureReason,
		Kind:          a.Kind,
		Amount:        a.Amount,
		Currency:      a.Currency,
	}
	if res.Activation != nil {
		out.SubscriptionID = res.Activation.SubscriptionID
		out.TokenBalance = res.Activation.TokenBalance
	}
	return out
}
