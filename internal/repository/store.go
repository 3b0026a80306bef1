package repository

import (
	"context"
	"errors"
	"time"

	"github.com/digkill/TGVisionBot/internal/models"
)

// ErrDuplicateReferral is returned when a referee has already been used for
// a referral bonus, by this referrer or any other.
var ErrDuplicateReferral = errors.New("referral already granted")

// AccountStore is the durable mapping of user id to account. Every mutating
// operation must be atomic per key: guarded updates report through their
// boolean result whether the guard held, so callers never read-modify-write
// across calls.
type AccountStore interface {
	// Ensure returns the account for userID, creating it with the default
	// credit allotment on first contact. The second result reports creation.
	Ensure(ctx context.Context, userID string, defaultCredits int) (*models.Account, bool, error)

	// Get returns the account or nil when it does not exist.
	Get(ctx context.Context, userID string) (*models.Account, error)

	// ResetCredits sets credits and the reset timestamp, but only if the
	// stored last_reset is at or before staleBefore. Reports whether the
	// reset was applied.
	ResetCredits(ctx context.Context, userID string, credits int, staleBefore time.Time) (bool, error)

	// ConsumeCredit decrements credits by one, guarded so the balance never
	// goes below zero. Reports whether a credit was actually consumed.
	ConsumeCredit(ctx context.Context, userID string) (bool, error)

	// AddCredits adjusts the balance by delta, clamped at zero.
	AddCredits(ctx context.Context, userID string, delta int) error

	// SetPremium flips the premium flag.
	SetPremium(ctx context.Context, userID string, premium bool) error

	// AddReferral records refereeID under referrerID and credits the
	// referrer with bonus, all atomically. Returns ErrDuplicateReferral if
	// the referee has already been claimed.
	AddReferral(ctx context.Context, referrerID, refereeID string, bonus int) error

	// ListIDs returns every known user id.
	ListIDs(ctx context.Context) ([]string, error)
}
