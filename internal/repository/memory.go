package repository

import (
	"context"
	"sync"
	"time"

	"github.com/digkill/TGVisionBot/internal/models"
)

// MemoryAccountStore is the in-memory AccountStore. All operations run
// under one mutex, which gives the same per-key atomic-update guarantee the
// MySQL store gets from guarded statements. Used in tests and as a
// throwaway backend for local runs.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	referees map[string]string // referee id -> referrer id
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*models.Account),
		referees: make(map[string]string),
	}
}

func (s *MemoryAccountStore) Ensure(_ context.Context, userID string, defaultCredits int) (*models.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[userID]; ok {
		return copyAccount(a), false, nil
	}
	now := time.Now()
	a := &models.Account{
		UserID:    userID,
		Credits:   defaultCredits,
		LastReset: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.accounts[userID] = a
	return copyAccount(a), true, nil
}

func (s *MemoryAccountStore) Get(_ context.Context, userID string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, nil
	}
	return copyAccount(a), nil
}

func (s *MemoryAccountStore) ResetCredits(_ context.Context, userID string, credits int, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok || a.LastReset.After(staleBefore) {
		return false, nil
	}
	a.Credits = credits
	a.LastReset = time.Now()
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryAccountStore) ConsumeCredit(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok || a.Credits <= 0 {
		return false, nil
	}
	a.Credits--
	a.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryAccountStore) AddCredits(_ context.Context, userID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[userID]; ok {
		a.Credits += delta
		if a.Credits < 0 {
			a.Credits = 0
		}
		a.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryAccountStore) SetPremium(_ context.Context, userID string, premium bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[userID]; ok {
		a.IsPremium = premium
		a.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryAccountStore) AddReferral(_ context.Context, referrerID, refereeID string, bonus int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, claimed := s.referees[refereeID]; claimed {
		return ErrDuplicateReferral
	}
	referrer, ok := s.accounts[referrerID]
	if !ok {
		return ErrDuplicateReferral
	}
	s.referees[refereeID] = referrerID
	if referee, ok := s.accounts[refereeID]; ok {
		referee.ReferredBy = referrerID
	}
	referrer.Referrals = append(referrer.Referrals, refereeID)
	referrer.Credits += bonus
	referrer.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryAccountStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func copyAccount(a *models.Account) *models.Account {
	cp := *a
	cp.Referrals = append([]string(nil), a.Referrals...)
	return &cp
}
