package model

import (
	"strings"
	"time"

	"membership-payments/internal/domain"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type Gateway string

const (
	GatewayMobileMoneyA   Gateway = "mobile_money_a"
	GatewayMobileMoneyB   Gateway = "mobile_money_b"
	GatewayCardAggregator Gateway = "card_aggregator"
	GatewayNoop           Gateway = "noop"
)

func ParseGateway(s string) (Gateway, error) {
	switch g := Gateway(strings.ToLower(strings.TrimSpace(s))); g {
	case GatewayMobileMoneyA, GatewayMobileMoneyB, GatewayCardAggregator, GatewayNoop:
		return g, nil
	default:
		return "", domain.ErrUnknownGateway
	}
}

// EntitlementKind says what a successful payment buys.
type EntitlementKind string

const (
	KindMembership    EntitlementKind = "membership_payment"
	KindTokenPurchase EntitlementKind = "token_purchase"
	KindListingFee    EntitlementKind = "marketplace_listing_fee"
)

func (k EntitlementKind) Valid() bool {
	switch k {
	case KindMembership, KindTokenPurchase, KindListingFee:
		return true
	}
	return false
}

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusCompleted AttemptStatus = "completed"
	AttemptStatusFailed    AttemptStatus = "failed"
)

func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusFailed
}

// Outcome is what a gateway reports for a transaction.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

// Status maps a final outcome onto the attempt state machine.
func (o Outcome) Status() AttemptStatus {
	switch o {
	case OutcomeSuccess:
		return AttemptStatusCompleted
	case OutcomeFailure:
		return AttemptStatusFailed
	default:
		return AttemptStatusPending
	}
}

type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureGatewayDeclined FailureReason = "gateway_declined"
	FailureAmountMismatch  FailureReason = "amount_mismatch"
	FailureExpired         FailureReason = "expired"
	FailureCancelled       FailureReason = "cancelled"
	FailureInitiate        FailureReason = "initiate_failed"
)

// Metadata keys understood by the engine.
const (
	MetaPhone           = "phone"
	MetaCardRef         = "card_ref"
	MetaDescription     = "description"
	MetaPlan            = "plan"
	MetaAudience        = "audience"
	MetaServiceCategory = "service_category"
	MetaTokens          = "tokens"
	MetaListingID       = "listing_id"
	MetaReferralCode    = "referral_code"
	MetaRedirectURL     = "redirect_url"
)

// PaymentAttempt is one initiation request to a gateway before its outcome is known.
// It is never deleted.
type PaymentAttempt struct {
	ID                string
	UserID            string
	Amount            decimal.Decimal
	Currency          string
	Gateway           Gateway
	Kind              EntitlementKind
	ExternalReference *string // written at most once
	SettledReference  *string
	Status            AttemptStatus
	FailureReason     FailureReason
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPaymentAttempt validates input and builds a pending attempt. An empty id gets a ULID.
func NewPaymentAttempt(id, userID string, amount decimal.Decimal, currency string, gw Gateway, kind EntitlementKind, meta map[string]string) (*PaymentAttempt, error) {
	currency = NormalizeCurrency(currency)
	if userID == "" || !amount.IsPositive() || !IsKnownCurrency(currency) || !kind.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := ParseGateway(string(gw)); err != nil {
		return nil, err
	}
	if id == "" {
		id = ulid.Make().String()
	}
	if meta == nil {
		meta = map[string]string{}
	}
	now := time.Now().UTC()
	return &PaymentAttempt{
		ID:        id,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Gateway:   gw,
		Kind:      kind,
		Status:    AttemptStatusPending,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (a *PaymentAttempt) IsTerminal() bool { return a != nil && a.Status.Terminal() }

// PaymentReference is the idempotency key for the Payment row: the gateway's
// settlement id when present, otherwise its transaction reference.
func (a *PaymentAttempt) PaymentReference() string {
	if a.SettledReference != nil && *a.SettledReference != "" {
		return string(a.Gateway) + ":" + *a.SettledReference
	}
	if a.ExternalReference != nil && *a.ExternalReference != "" {
		return string(a.Gateway) + ":" + *a.ExternalReference
	}
	return string(a.Gateway) + ":attempt:" + a.ID
}

func (a *PaymentAttempt) Meta(key string) string {
	if a.Metadata == nil {
		return ""
	}
	return a.Metadata[key]
}
