package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/digkill/TGVisionBot/internal/models"
	"github.com/digkill/TGVisionBot/internal/repository"
)

var (
	ErrQuotaExceeded     = errors.New("no credits left")
	ErrSelfReferral      = errors.New("cannot refer yourself")
	ErrDuplicateReferral = errors.New("referral already used")
	ErrUnknownAccount    = errors.New("account not found")
)

const resetInterval = 24 * time.Hour

// QuotaService is the credit ledger. The keyed mutex serializes the
// check/debit window per user; it must never be held across a backend or
// hosting call.
type QuotaService struct {
	store          repository.AccountStore
	dailyAllotment int
	referralBonus  int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewQuotaService(store repository.AccountStore, dailyAllotment, referralBonus int) *QuotaService {
	return &QuotaService{
		store:          store,
		dailyAllotment: dailyAllotment,
		referralBonus:  referralBonus,
		locks:          make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-user mutex and returns its unlock function.
func (s *QuotaService) Lock(userID string) func() {
	s.mu.Lock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// EnsureAccount returns the user's account, creating it with the daily
// allotment on first contact.
func (s *QuotaService) EnsureAccount(ctx context.Context, userID string) (*models.Account, error) {
	account, _, err := s.store.Ensure(ctx, userID, s.dailyAllotment)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return account, nil
}

// ResetIfStale restores the daily allotment when the last reset is more
// than 24 hours old. The store applies the reset only if the stored
// timestamp is still stale, so concurrent calls reset at most once.
func (s *QuotaService) ResetIfStale(ctx context.Context, userID string) error {
	staleBefore := time.Now().Add(-resetInterval)
	if _, err := s.store.ResetCredits(ctx, userID, s.dailyAllotment, staleBefore); err != nil {
		return fmt.Errorf("reset if stale: %w", err)
	}
	return nil
}

// CanConsume reports whether a billable action is allowed right now.
func (s *QuotaService) CanConsume(ctx context.Context, userID string) (bool, error) {
	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return false, ErrUnknownAccount
	}
	return account.IsPremium || account.Credits > 0, nil
}

// Reserve debits one credit up front and reports whether a credit was
// actually taken. Premium accounts pass without a debit. The decrement is
// guarded in the store, so two concurrent reservations against a single
// remaining credit admit exactly one caller; the loser gets
// ErrQuotaExceeded. A reserved credit is given back with Refund when the
// attempt does not end in a delivered success.
func (s *QuotaService) Reserve(ctx context.Context, userID string) (bool, error) {
	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return false, ErrUnknownAccount
	}
	if account.IsPremium {
		return false, nil
	}
	ok, err := s.store.ConsumeCredit(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("consume credit: %w", err)
	}
	if !ok {
		return false, ErrQuotaExceeded
	}
	return true, nil
}

// Refund returns one reserved credit after a failed or discarded attempt.
func (s *QuotaService) Refund(ctx context.Context, userID string) error {
	if err := s.store.AddCredits(ctx, userID, 1); err != nil {
		return fmt.Errorf("refund credit: %w", err)
	}
	return nil
}

// GrantReferralBonus credits the referrer for bringing refereeID in.
// Self-referrals and already-claimed referees are rejected without any
// mutation.
func (s *QuotaService) GrantReferralBonus(ctx context.Context, referrerID, refereeID string) error {
	if referrerID == refereeID {
		return ErrSelfReferral
	}
	referrer, err := s.store.Get(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("load referrer: %w", err)
	}
	if referrer == nil {
		return ErrUnknownAccount
	}
	if err := s.store.AddReferral(ctx, referrerID, refereeID, s.referralBonus); err != nil {
		if errors.Is(err, repository.ErrDuplicateReferral) {
			return ErrDuplicateReferral
		}
		return fmt.Errorf("add referral: %w", err)
	}
	return nil
}

// GrantPremium marks the account as exempt from credit consumption.
func (s *QuotaService) GrantPremium(ctx context.Context, userID string) error {
	account, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.SetPremium(ctx, account.UserID, true); err != nil {
		return fmt.Errorf("grant premium: %w", err)
	}
	return nil
}

// GrantCredits tops up the balance, clamped at zero for negative deltas.
func (s *QuotaService) GrantCredits(ctx context.Context, userID string, delta int) error {
	account, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.AddCredits(ctx, account.UserID, delta); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	return nil
}

// ListUserIDs returns every known user id, for admin broadcasts.
func (s *QuotaService) ListUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	return ids, nil
}

// Account exposes the current record for balance displays and admin reads.
func (s *QuotaService) Account(ctx context.Context, userID string) (*models.Account, error) {
	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, ErrUnknownAccount
	}
	return account, nil
}
