package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/digkill/TGVisionBot/internal/repository"
)

func newTestQuota() (*QuotaService, *repository.MemoryAccountStore) {
	store := repository.NewMemoryAccountStore()
	return NewQuotaService(store, 2, 1), store
}

func TestEnsureAccountDefaults(t *testing.T) {
	quota, _ := newTestQuota()
	ctx := context.Background()

	account, err := quota.EnsureAccount(ctx, "100")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if account.Credits != 2 {
		t.Fatalf("expected 2 starting credits, got %d", account.Credits)
	}
	if account.IsPremium {
		t.Fatal("new account must not be premium")
	}

	again, err := quota.EnsureAccount(ctx, "100")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.Credits != 2 {
		t.Fatalf("ensure must be idempotent, got %d credits", again.Credits)
	}
}

func TestResetRestoresAllotment(t *testing.T) {
	quota, store := newTestQuota()
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "100"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := quota.Reserve(ctx, "100"); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}

	// A fresh account is not stale yet; nothing should change.
	if err := quota.ResetIfStale(ctx, "100"); err != nil {
		t.Fatalf("reset if stale: %v", err)
	}
	account, _ := quota.Account(ctx, "100")
	if account.Credits != 0 {
		t.Fatalf("premature reset: got %d credits", account.Credits)
	}

	// Simulate the 24h boundary having passed by moving the staleness
	// cutoff ahead of the stored reset timestamp.
	applied, err := store.ResetCredits(ctx, "100", 2, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("reset credits: %v", err)
	}
	if !applied {
		t.Fatal("stale reset was not applied")
	}
	account, _ = quota.Account(ctx, "100")
	if account.Credits != 2 {
		t.Fatalf("expected allotment restored, got %d", account.Credits)
	}
}

func TestReserveNeverGoesNegative(t *testing.T) {
	quota, _ := newTestQuota()
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "100"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	charges := 0
	for i := 0; i < 5; i++ {
		charged, err := quota.Reserve(ctx, "100")
		if err != nil && !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if charged {
			charges++
		}
	}
	if charges != 2 {
		t.Fatalf("charged %d times from 2 credits", charges)
	}
	account, _ := quota.Account(ctx, "100")
	if account.Credits != 0 {
		t.Fatalf("credits went to %d, want 0", account.Credits)
	}
}

func TestConcurrentReserveAdmitsOneCaller(t *testing.T) {
	store := repository.NewMemoryAccountStore()
	quota := NewQuotaService(store, 1, 1)
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "100"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			charged, err := quota.Reserve(ctx, "100")
			if err != nil && !errors.Is(err, ErrQuotaExceeded) {
				t.Errorf("reserve: %v", err)
				return
			}
			results <- charged
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for charged := range results {
		if charged {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("one credit admitted %d callers", succeeded)
	}
}

func TestRefundRestoresReservedCredit(t *testing.T) {
	quota, _ := newTestQuota()
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "100"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	charged, err := quota.Reserve(ctx, "100")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !charged {
		t.Fatal("free account reserve must charge")
	}
	if err := quota.Refund(ctx, "100"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	account, _ := quota.Account(ctx, "100")
	if account.Credits != 2 {
		t.Fatalf("credits = %d after refund, want 2", account.Credits)
	}
}

func TestPremiumNeverDebited(t *testing.T) {
	quota, _ := newTestQuota()
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "100"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := quota.GrantPremium(ctx, "100"); err != nil {
		t.Fatalf("grant premium: %v", err)
	}
	for i := 0; i < 3; i++ {
		charged, err := quota.Reserve(ctx, "100")
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if charged {
			t.Fatal("premium reserve must not charge")
		}
	}
	account, _ := quota.Account(ctx, "100")
	if account.Credits != 2 {
		t.Fatalf("premium account was debited: %d credits", account.Credits)
	}
	ok, err := quota.CanConsume(ctx, "100")
	if err != nil || !ok {
		t.Fatalf("premium must always pass the quota gate (ok=%v err=%v)", ok, err)
	}
}

func TestReferralBonusSingleUse(t *testing.T) {
	quota, _ := newTestQuota()
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "alice"); err != nil {
		t.Fatalf("ensure alice: %v", err)
	}
	if _, err := quota.EnsureAccount(ctx, "bob"); err != nil {
		t.Fatalf("ensure bob: %v", err)
	}

	if err := quota.GrantReferralBonus(ctx, "alice", "bob"); err != nil {
		t.Fatalf("first referral: %v", err)
	}
	if err := quota.GrantReferralBonus(ctx, "alice", "bob"); !errors.Is(err, ErrDuplicateReferral) {
		t.Fatalf("second referral: got %v, want ErrDuplicateReferral", err)
	}

	account, _ := quota.Account(ctx, "alice")
	if account.Credits != 3 {
		t.Fatalf("referrer credited %d times", account.Credits-2)
	}
	if len(account.Referrals) != 1 || account.Referrals[0] != "bob" {
		t.Fatalf("unexpected referrals: %v", account.Referrals)
	}
}

func TestSelfReferralRejected(t *testing.T) {
	quota, _ := newTestQuota()
	ctx := context.Background()

	if _, err := quota.EnsureAccount(ctx, "alice"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := quota.GrantReferralBonus(ctx, "alice", "alice"); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("got %v, want ErrSelfReferral", err)
	}
	account, _ := quota.Account(ctx, "alice")
	if account.Credits != 2 || len(account.Referrals) != 0 {
		t.Fatalf("self referral mutated the account: %+v", account)
	}
}
