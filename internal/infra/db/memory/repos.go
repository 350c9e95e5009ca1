package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

var (
	_ repository.AttemptRepository      = (*Attempts)(nil)
	_ repository.PaymentRepository      = (*Payments)(nil)
	_ repository.SubscriptionRepository = (*Subs)(nil)
	_ repository.MembershipStore        = (*Members)(nil)
	_ repository.PlanRepository         = (*Plans)(nil)
	_ repository.TokenRepository        = (*Tokens)(nil)
	_ repository.ReferralStore          = (*Referrals)(nil)
	_ repository.CommissionRepository   = (*Commissions)(nil)
	_ repository.ListingFeeRepository   = (*ListingFees)(nil)
)

func strPtr(s string) *string { return &s }

func copyAttempt(a model.PaymentAttempt) *model.PaymentAttempt {
	meta := make(map[string]string, len(a.Metadata))
	for k, v := range a.Metadata {
		meta[k] = v
	}
	a.Metadata = meta
	return &a
}

// ---- attempts ----

type Attempts struct{ s *Store }

func (r *Attempts) Create(_ context.Context, _ repository.Tx, a *model.PaymentAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Attempts.Create"); err != nil {
		return err
	}
	if _, ok := r.s.st.attempts[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.st.attempts[a.ID] = *copyAttempt(*a)
	return nil
}

func (r *Attempts) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PaymentAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

func (r *Attempts) FindByExternalReference(_ context.Context, _ repository.Tx, gw model.Gateway, ref string) (*model.PaymentAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.st.attempts {
		if a.Gateway == gw && a.ExternalReference != nil && *a.ExternalReference == ref {
			return copyAttempt(a), nil
		}
	}
	return nil, domain.ErrAttemptNotFound
}

func (r *Attempts) SetExternalReference(_ context.Context, _ repository.Tx, id, ref string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.attempts[id]
	if !ok || a.ExternalReference != nil {
		return false, nil
	}
	a.ExternalReference = strPtr(ref)
	a.UpdatedAt = r.s.now()
	r.s.st.attempts[id] = a
	return true, nil
}

func (r *Attempts) TransitionIfPending(_ context.Context, _ repository.Tx, id string, to model.AttemptStatus, settledRef *string, reason model.FailureReason) (bool, error) {
	if !to.Terminal() {
		return false, domain.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Attempts.TransitionIfPending"); err != nil {
		return false, err
	}
	a, ok := r.s.st.attempts[id]
	if !ok || a.Status != model.AttemptStatusPending {
		return false, nil
	}
	a.Status = to
	if settledRef != nil {
		a.SettledReference = strPtr(*settledRef)
	}
	a.FailureReason = reason
	a.UpdatedAt = r.s.now()
	r.s.st.attempts[id] = a
	return true, nil
}

func (r *Attempts) sorted(match func(model.PaymentAttempt) bool, limit int) []*model.PaymentAttempt {
	var out []*model.PaymentAttempt
	for _, a := range r.s.st.attempts {
		if match(a) {
			out = append(out, copyAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Attempts) ListPendingOlderThan(_ context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.sorted(func(a model.PaymentAttempt) bool {
		return a.Status == model.AttemptStatusPending && a.CreatedAt.Before(olderThan)
	}, limit), nil
}

func (r *Attempts) ListCompletedWithoutPayment(_ context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	paid := map[string]bool{}
	for _, p := range r.s.st.payments {
		paid[p.PaymentAttemptID] = true
	}
	return r.sorted(func(a model.PaymentAttempt) bool {
		return a.Status == model.AttemptStatusCompleted && !paid[a.ID] && a.UpdatedAt.Before(olderThan)
	}, limit), nil
}

// Backdate moves an attempt's timestamps into the past.
func (r *Attempts) Backdate(id string, by time.Duration) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.st.attempts[id]; ok {
		a.CreatedAt = a.CreatedAt.Add(-by)
		a.UpdatedAt = a.UpdatedAt.Add(-by)
		r.s.st.attempts[id] = a
	}
}

// ---- payments ----

type Payments struct{ s *Store }

func (r *Payments) InsertIfAbsent(_ context.Context, _ repository.Tx, p *model.Payment) (*model.Payment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Payments.InsertIfAbsent"); err != nil {
		return nil, false, err
	}
	for _, e := range r.s.st.payments {
		if e.PaymentReference == p.PaymentReference || e.PaymentAttemptID == p.PaymentAttemptID {
			cp := e
			return &cp, false, nil
		}
	}
	r.s.st.payments[p.ID] = *p
	cp := *p
	return &cp, true, nil
}

func (r *Payments) find(match func(model.Payment) bool) (*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.st.payments {
		if match(p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Payments) FindByReference(_ context.Context, _ repository.Tx, ref string) (*model.Payment, error) {
	return r.find(func(p model.Payment) bool { return p.PaymentReference == ref })
}

func (r *Payments) FindByAttemptID(_ context.Context, _ repository.Tx, attemptID string) (*model.Payment, error) {
	return r.find(func(p model.Payment) bool { return p.PaymentAttemptID == attemptID })
}

func (r *Payments) SetSubscriptionID(_ context.Context, _ repository.Tx, paymentID, subscriptionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.payments[paymentID]
	if !ok {
		return nil
	}
	if p.SubscriptionID == nil {
		p.SubscriptionID = strPtr(subscriptionID)
		r.s.st.payments[paymentID] = p
	}
	return nil
}

func (r *Payments) CountByAttemptID(_ context.Context, _ repository.Tx, attemptID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, p := range r.s.st.payments {
		if p.PaymentAttemptID == attemptID {
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored payments.
func (r *Payments) Count() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.st.payments)
}

// ---- subscriptions ----

type Subs struct{ s *Store }

func (r *Subs) Save(_ context.Context, _ repository.Tx, sub *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, e := range r.s.st.subs {
		if id == sub.ID {
			continue
		}
		if sub.Status == model.SubscriptionStatusActive && e.Status == model.SubscriptionStatusActive &&
			e.UserID == sub.UserID && e.Audience == sub.Audience {
			return domain.ErrStorageConflict
		}
		if sub.LastPaymentID != nil && e.LastPaymentID != nil && *e.LastPaymentID == *sub.LastPaymentID {
			return domain.ErrStorageConflict
		}
	}
	r.s.st.subs[sub.ID] = *sub
	return nil
}

func (r *Subs) FindActiveByUser(_ context.Context, _ repository.Tx, userID string, audience model.Audience) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.subs {
		if e.UserID == userID && e.Audience == audience && e.Status == model.SubscriptionStatusActive {
			cp := e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Subs) FindByLastPayment(_ context.Context, _ repository.Tx, paymentID string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.subs {
		if e.LastPaymentID != nil && *e.LastPaymentID == paymentID {
			cp := e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Subs) CancelActive(_ context.Context, _ repository.Tx, userID string, audience model.Audience, keepID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, e := range r.s.st.subs {
		if id != keepID && e.UserID == userID && e.Audience == audience && e.Status == model.SubscriptionStatusActive {
			e.Status = model.SubscriptionStatusCancelled
			e.UpdatedAt = r.s.now()
			r.s.st.subs[id] = e
			n++
		}
	}
	return n, nil
}

func (r *Subs) ListExpired(_ context.Context, _ repository.Tx, at time.Time, limit int) ([]*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Subscription
	for _, e := range r.s.st.subs {
		if e.Status == model.SubscriptionStatusActive && !e.EndDate.After(at) {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndDate.Before(out[j].EndDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Subs) CountActive(_ context.Context, _ repository.Tx, userID string, audience model.Audience) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, e := range r.s.st.subs {
		if e.UserID == userID && e.Audience == audience && e.Status == model.SubscriptionStatusActive {
			n++
		}
	}
	return n, nil
}

// ---- membership ----

type Members struct{ s *Store }

func (r *Members) GetActiveSubscription(ctx context.Context, tx repository.Tx, userID string, audience model.Audience) (*model.Subscription, error) {
	return (&Subs{r.s}).FindActiveByUser(ctx, tx, userID, audience)
}

func (r *Members) SetMembershipTier(_ context.Context, _ repository.Tx, userID, tier string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Members.SetMembershipTier"); err != nil {
		return err
	}
	r.s.st.tiers[userID] = tier
	return nil
}

func (r *Members) GetMembershipTier(_ context.Context, _ repository.Tx, userID string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t, ok := r.s.st.tiers[userID]; ok {
		return t, nil
	}
	return model.TierFree, nil
}

// ---- plans ----

type Plans struct{ s *Store }

func (r *Plans) Upsert(_ context.Context, _ repository.Tx, p *model.MembershipPlan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.plans[p.Code] = *p
	return nil
}

func (r *Plans) FindByCode(_ context.Context, _ repository.Tx, code string) (*model.MembershipPlan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.plans[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *Plans) ListAll(_ context.Context, _ repository.Tx) ([]*model.MembershipPlan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.MembershipPlan, 0, len(r.s.st.plans))
	for _, p := range r.s.st.plans {
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ---- tokens ----

type Tokens struct{ s *Store }

func (r *Tokens) GetOrCreateSubscription(_ context.Context, _ repository.Tx, userID, category string) (*model.TokenSubscription, error) {
	if userID == "" || category == "" {
		return nil, domain.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ts := range r.s.st.tokenSubs {
		if ts.UserID == userID && ts.ServiceCategory == category {
			cp := ts
			return &cp, nil
		}
	}
	now := r.s.now()
	ts := model.TokenSubscription{ID: uuid.NewString(), UserID: userID, ServiceCategory: category, CreatedAt: now, UpdatedAt: now}
	r.s.st.tokenSubs[ts.ID] = ts
	return &ts, nil
}

func (r *Tokens) AppendTransaction(_ context.Context, _ repository.Tx, t *model.TokenTransaction) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.PaymentID != nil {
		for _, e := range r.s.st.tokenTxs {
			if e.PaymentID != nil && *e.PaymentID == *t.PaymentID {
				return false, nil
			}
		}
	}
	r.s.st.tokenTxs = append(r.s.st.tokenTxs, *t)
	return true, nil
}

func (r *Tokens) RefoldBalance(_ context.Context, _ repository.Tx, id string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ts, ok := r.s.st.tokenSubs[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	var sum int64
	for _, t := range r.s.st.tokenTxs {
		if t.TokenSubscriptionID == id {
			sum += t.Amount
		}
	}
	if sum < 0 {
		return 0, domain.ErrInsufficientTokens
	}
	ts.TokenBalance = sum
	ts.UpdatedAt = r.s.now()
	r.s.st.tokenSubs[id] = ts
	return sum, nil
}

func (r *Tokens) ListTransactions(_ context.Context, _ repository.Tx, id string) ([]*model.TokenTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.TokenTransaction
	for _, t := range r.s.st.tokenTxs {
		if t.TokenSubscriptionID == id {
			cp := t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- referrals ----

type Referrals struct{ s *Store }

func (r *Referrals) FindReferrer(_ context.Context, _ repository.Tx, code string) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.st.codes[code]; ok {
		return id, nil
	}
	return "", domain.ErrNotFound
}

func (r *Referrals) FindByReferredUser(_ context.Context, _ repository.Tx, userID string) (*model.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ref, ok := r.s.st.referrals[userID]; ok {
		return &ref, nil
	}
	return nil, domain.ErrNotFound
}

func (r *Referrals) Attach(_ context.Context, _ repository.Tx, referrerID, referredUserID, code string) (*model.Referral, error) {
	if referrerID == "" || referredUserID == "" || referrerID == referredUserID {
		return nil, domain.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ref, ok := r.s.st.referrals[referredUserID]; ok {
		return &ref, nil
	}
	ref := model.Referral{ID: uuid.NewString(), ReferrerID: referrerID, ReferredUserID: referredUserID, Code: code}
	r.s.st.referrals[referredUserID] = ref
	return &ref, nil
}

type Commissions struct{ s *Store }

func (r *Commissions) InsertIfAbsent(_ context.Context, _ repository.Tx, c *model.Commission) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.st.commissions {
		if e.ReferralID == c.ReferralID && e.PaymentID == c.PaymentID {
			return false, nil
		}
	}
	r.s.st.commissions = append(r.s.st.commissions, *c)
	return true, nil
}

func (r *Commissions) ListByPayment(_ context.Context, _ repository.Tx, paymentID string) ([]*model.Commission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Commission
	for _, c := range r.s.st.commissions {
		if c.PaymentID == paymentID {
			cp := c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- listing fees ----

type ListingFees struct{ s *Store }

func (r *ListingFees) Confirm(_ context.Context, _ repository.Tx, c *model.ListingFeeConfirmation) (bool, error) {
	if c.ListingID == "" || c.PaymentID == "" {
		return false, domain.ErrInvalidArgument
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.listings[c.ListingID]; ok {
		return false, nil
	}
	for _, e := range r.s.st.listings {
		if e.PaymentID == c.PaymentID {
			return false, nil
		}
	}
	r.s.st.listings[c.ListingID] = *c
	return true, nil
}

func (r *ListingFees) IsConfirmed(_ context.Context, _ repository.Tx, listingID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.st.listings[listingID]
	return ok, nil
}
