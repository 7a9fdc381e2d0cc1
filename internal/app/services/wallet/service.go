// Package wallet manages per-user points balances and the append-only ledger.
// Generation jobs place holds that are captured on success and released on
// failure; Available (balance minus active holds) gates new submissions.
package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/storyloft/studio_layer/internal/app/domain/wallet"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/internal/cache"
	"github.com/storyloft/studio_layer/pkg/logger"
)

var (
	// ErrInsufficientPoints is returned when a hold exceeds the available
	// balance.
	ErrInsufficientPoints = storage.ErrInsufficientFunds
	// ErrHoldSettled is returned when capturing or releasing a hold twice.
	ErrHoldSettled = storage.ErrHoldSettled
)

// Service manages wallet accounts.
type Service struct {
	store       storage.WalletStore
	cache       *cache.Cache
	log         *logger.Logger
	signupGrant int64
}

// New constructs a wallet service. signupGrant is the number of points new
// users receive; zero disables the grant. cache may be nil.
func New(store storage.WalletStore, c *cache.Cache, signupGrant int64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	return &Service{store: store, cache: c, log: log, signupGrant: signupGrant}
}

// EnsureAccount returns the user's wallet, creating it on first use.
func (s *Service) EnsureAccount(ctx context.Context, userID string) (wallet.Account, error) {
	acct, err := s.store.GetWalletAccountByUser(ctx, userID)
	if err == nil {
		return acct, nil
	}
	return s.store.CreateWalletAccount(ctx, wallet.Account{UserID: userID})
}

// GrantSignup applies the configured signup grant. Implements
// users.SignupGrant.
func (s *Service) GrantSignup(ctx context.Context, userID string) error {
	if s.signupGrant <= 0 {
		return nil
	}
	_, err := s.credit(ctx, userID, s.signupGrant, wallet.EntryGrant, "signup grant")
	return err
}

// Deposit credits points to a user's wallet.
func (s *Service) Deposit(ctx context.Context, userID string, amount int64, note string) (wallet.Account, error) {
	if amount <= 0 {
		return wallet.Account{}, fmt.Errorf("amount must be positive")
	}
	return s.credit(ctx, userID, amount, wallet.EntryDeposit, note)
}

func (s *Service) credit(ctx context.Context, userID string, amount int64, kind wallet.EntryKind, note string) (wallet.Account, error) {
	acct, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		return wallet.Account{}, err
	}
	acct.Balance += amount
	updated, err := s.store.UpdateWalletAccount(ctx, acct)
	if err != nil {
		return wallet.Account{}, err
	}
	if _, err := s.store.CreateWalletEntry(ctx, wallet.Entry{
		UserID: userID,
		Kind:   kind,
		Amount: amount,
		Note:   note,
	}); err != nil {
		return wallet.Account{}, fmt.Errorf("record %s entry: %w", kind, err)
	}
	s.cache.Delete(ctx, cache.KeyWalletBalance(userID))
	s.log.WithField("user_id", userID).WithField("amount", amount).WithField("kind", string(kind)).Info("points credited")
	return updated, nil
}

// Hold locks points for a job. Returns the ledger entry whose ID settles the
// hold later. The available-balance check and the held increment happen in
// one store operation so concurrent holds cannot overspend.
func (s *Service) Hold(ctx context.Context, userID, jobID string, amount int64) (wallet.Entry, error) {
	if amount <= 0 {
		return wallet.Entry{}, fmt.Errorf("amount must be positive")
	}
	if _, err := s.EnsureAccount(ctx, userID); err != nil {
		return wallet.Entry{}, err
	}
	entry, err := s.store.PlaceHold(ctx, wallet.Entry{
		UserID: userID,
		JobID:  jobID,
		Kind:   wallet.EntryHold,
		Amount: amount,
		Note:   "generation hold",
	})
	if err != nil {
		return wallet.Entry{}, err
	}
	s.cache.Delete(ctx, cache.KeyWalletBalance(userID))
	s.log.WithField("user_id", userID).WithField("job_id", jobID).WithField("amount", amount).Info("points held")
	return entry, nil
}

// Capture settles a hold by debiting the held points.
func (s *Service) Capture(ctx context.Context, holdID string) error {
	return s.settle(ctx, holdID, wallet.EntryCapture)
}

// Release settles a hold by returning the held points.
func (s *Service) Release(ctx context.Context, holdID string) error {
	return s.settle(ctx, holdID, wallet.EntryRelease)
}

func (s *Service) settle(ctx context.Context, holdID string, kind wallet.EntryKind) error {
	hold, err := s.store.GetWalletEntry(ctx, holdID)
	if err != nil {
		return err
	}
	if hold.Kind != wallet.EntryHold {
		return fmt.Errorf("entry %s is %s, not a hold", holdID, hold.Kind)
	}
	if _, err := s.store.SettleHold(ctx, hold, kind); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.KeyWalletBalance(hold.UserID))
	s.log.WithField("user_id", hold.UserID).WithField("job_id", hold.JobID).WithField("kind", string(kind)).Info("hold settled")
	return nil
}

// Balance returns the user's wallet account, via the cache when configured.
func (s *Service) Balance(ctx context.Context, userID string) (wallet.Account, error) {
	key := cache.KeyWalletBalance(userID)
	var cached wallet.Account
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	acct, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		return wallet.Account{}, err
	}
	s.cache.SetJSON(ctx, key, acct, 30*time.Second)
	return acct, nil
}

// Ledger returns the user's ledger entries, oldest first.
func (s *Service) Ledger(ctx context.Context, userID string) ([]wallet.Entry, error) {
	return s.store.ListWalletEntries(ctx, userID)
}
