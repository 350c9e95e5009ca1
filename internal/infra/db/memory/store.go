// Package memory provides in-memory implementations of the repository ports.
// Transactions are serialized and rolled back by restoring a snapshot, which
// mirrors the row locking the Postgres repositories rely on. Writes made outside
// a transaction while another transaction rolls back are lost, so fault
// injection is meant for sequential tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

type state struct {
	attempts    map[string]model.PaymentAttempt
	payments    map[string]model.Payment
	subs        map[string]model.Subscription
	tiers       map[string]string
	plans       map[string]model.MembershipPlan
	tokenSubs   map[string]model.TokenSubscription
	tokenTxs    []model.TokenTransaction
	codes       map[string]string
	referrals   map[string]model.Referral // by referred user
	commissions []model.Commission
	listings    map[string]model.ListingFeeConfirmation
}

func newState() state {
	return state{
		attempts:  map[string]model.PaymentAttempt{},
		payments:  map[string]model.Payment{},
		subs:      map[string]model.Subscription{},
		tiers:     map[string]string{},
		plans:     map[string]model.MembershipPlan{},
		tokenSubs: map[string]model.TokenSubscription{},
		codes:     map[string]string{},
		referrals: map[string]model.Referral{},
		listings:  map[string]model.ListingFeeConfirmation{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	return state{
		attempts:    copyMap(s.attempts),
		payments:    copyMap(s.payments),
		subs:        copyMap(s.subs),
		tiers:       copyMap(s.tiers),
		plans:       copyMap(s.plans),
		tokenSubs:   copyMap(s.tokenSubs),
		tokenTxs:    append([]model.TokenTransaction(nil), s.tokenTxs...),
		codes:       copyMap(s.codes),
		referrals:   copyMap(s.referrals),
		commissions: append([]model.Commission(nil), s.commissions...),
		listings:    copyMap(s.listings),
	}
}

// Store holds every table. The zero value is not usable; call New.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   state
	now  func() time.Time

	// Fault injection for tests: the next N calls of the named operation fail with Err.
	faults map[string]fault
}

type fault struct {
	n   int
	err error
}

func New() *Store {
	return &Store{st: newState(), now: time.Now, faults: map[string]fault{}}
}

// FailNext makes the next n calls of op return err. Ops are named
// "<Repo>.<Method>", for example "Payments.InsertIfAbsent".
func (s *Store) FailNext(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = fault{n: n, err: err}
}

// injected must be called with mu held.
func (s *Store) injected(op string) error {
	f, ok := s.faults[op]
	if !ok || f.n <= 0 {
		return nil
	}
	f.n--
	s.faults[op] = f
	return f.err
}

var _ repository.TransactionManager = (*Store)(nil)

// WithTx serializes transactions and restores the previous state when fn fails.
func (s *Store) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, repository.NoTX); err != nil {
		s.mu.Lock()
		s.st = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Attempts() *Attempts       { return &Attempts{s} }
func (s *Store) Payments() *Payments       { return &Payments{s} }
func (s *Store) Subscriptions() *Subs      { return &Subs{s} }
func (s *Store) Members() *Members         { return &Members{s} }
func (s *Store) Plans() *Plans             { return &Plans{s} }
func (s *Store) Tokens() *Tokens           { return &Tokens{s} }
func (s *Store) Referrals() *Referrals     { return &Referrals{s} }
func (s *Store) Commissions() *Commissions { return &Commissions{s} }
func (s *Store) ListingFees() *ListingFees { return &ListingFees{s} }

// AddReferralCode registers code as belonging to userID.
func (s *Store) AddReferralCode(code, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.codes[code] = userID
}
