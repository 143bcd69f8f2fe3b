package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/repository"
	"smartBin/internal/domain/useCases"
)

// DefaultCreditsPerBottle is the reward for one accepted submission.
const DefaultCreditsPerBottle int64 = 100

var (
	ErrUnknownUser         = errors.New("unknown user")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidCost         = errors.New("cost must not be negative")
	ErrInvalidUserID       = errors.New("user id must not be empty")
	ErrInvalidItem         = errors.New("item id must not be empty")
	ErrCorruptAccount      = errors.New("stored account violates ledger invariants")
)

// PersistFailureCounter is notified when a committed mutation could not be written to the store.
type PersistFailureCounter interface {
	LedgerPersistFailed(op string)
}

type ledgerAccount struct {
	mu          sync.Mutex
	account     model.Account
	submissions []model.BottleSubmission
	redemptions []model.Redemption
}

// RewardLedger owns every account balance and both audit trails.
//
// Each account has its own mutex and every mutation of an account (balance, counters and the
// audit record) happens inside one critical section, so concurrent submissions cannot lose
// updates and the sufficiency check of a redemption cannot go stale before the debit.
// The durable store is written after the lock is released; rows carry the account Version
// so a late write never overwrites a newer snapshot.
type RewardLedger struct {
	creditsPerBottle int64
	store            repository.LedgerStore
	failures         PersistFailureCounter
	log              *slog.Logger

	now   func() time.Time
	newID func() string

	mu       sync.RWMutex
	accounts map[string]*ledgerAccount
}

// NewRewardLedger creates an empty ledger. store and failures may be nil.
func NewRewardLedger(creditsPerBottle int64, store repository.LedgerStore, failures PersistFailureCounter, logger *slog.Logger) *RewardLedger {
	if creditsPerBottle <= 0 {
		creditsPerBottle = DefaultCreditsPerBottle
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RewardLedger{
		creditsPerBottle: creditsPerBottle,
		store:            store,
		failures:         failures,
		log:              logger,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            func() string { return uuid.NewString() },
		accounts:         make(map[string]*ledgerAccount),
	}
}

// Load replaces the in-memory state with the store's content. Called once at startup.
func (l *RewardLedger) Load(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	states, err := l.store.LoadAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}

	accounts := make(map[string]*ledgerAccount, len(states))
	for _, st := range states {
		a := st.Account
		if a.CreditBalance < 0 || a.CreditBalance != a.TotalEarned-a.TotalRedeemed {
			return 0, fmt.Errorf("%w: user %s balance %d earned %d redeemed %d",
				ErrCorruptAccount, a.UserID, a.CreditBalance, a.TotalEarned, a.TotalRedeemed)
		}
		accounts[a.UserID] = &ledgerAccount{
			account:     a,
			submissions: append([]model.BottleSubmission(nil), st.Submissions...),
			redemptions: append([]model.Redemption(nil), st.Redemptions...),
		}
	}

	l.mu.Lock()
	l.accounts = accounts
	l.mu.Unlock()
	return len(accounts), nil
}

// OpenAccount creates the account for userID if it does not exist yet and returns it.
func (l *RewardLedger) OpenAccount(ctx context.Context, userID string) (model.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.Account{}, ErrInvalidUserID
	}

	l.mu.Lock()
	if existing, ok := l.accounts[userID]; ok {
		l.mu.Unlock()
		existing.mu.Lock()
		defer existing.mu.Unlock()
		return existing.account, nil
	}
	now := l.now()
	created := model.Account{UserID: userID, Version: 1, CreatedAt: now, UpdatedAt: now}
	l.accounts[userID] = &ledgerAccount{account: created}
	l.mu.Unlock()

	l.persist(ctx, "open_account", func(ctx context.Context) error {
		return l.store.SaveAccount(ctx, created)
	})
	return created, nil
}

// GetAccount returns a copy of the account.
func (l *RewardLedger) GetAccount(userID string) (model.Account, error) {
	acct, err := l.lookup(userID)
	if err != nil {
		return model.Account{}, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.account, nil
}

// SubmitBottle credits the account with the per-bottle reward and appends one submission record.
func (l *RewardLedger) SubmitBottle(ctx context.Context, userID string) (model.SubmitResult, error) {
	acct, err := l.lookup(userID)
	if err != nil {
		return model.SubmitResult{}, err
	}

	acct.mu.Lock()
	now := l.now()
	a := &acct.account
	a.CreditBalance += l.creditsPerBottle
	a.TotalEarned += l.creditsPerBottle
	a.BottlesSubmitted++
	a.Version++
	a.UpdatedAt = now
	record := model.BottleSubmission{
		ID:               l.newID(),
		UserID:           a.UserID,
		Timestamp:        now,
		CreditsAwarded:   l.creditsPerBottle,
		ResultingBalance: a.CreditBalance,
	}
	acct.submissions = append(acct.submissions, record)
	snapshot := *a
	acct.mu.Unlock()

	l.persist(ctx, "submit_bottle", func(ctx context.Context) error {
		return l.store.AppendSubmission(ctx, record, snapshot)
	})

	return model.SubmitResult{
		CreditsAwarded: record.CreditsAwarded,
		NewBalance:     snapshot.CreditBalance,
		Record:         record,
		Account:        snapshot,
	}, nil
}

// RedeemItem debits cost from the account if the balance covers it. The check and the debit
// happen in the same critical section. On ErrInsufficientCredits nothing is changed and the
// returned result carries the unchanged balance.
func (l *RewardLedger) RedeemItem(ctx context.Context, userID, itemID string, cost int64) (model.RedeemResult, error) {
	if cost < 0 {
		return model.RedeemResult{}, ErrInvalidCost
	}
	if strings.TrimSpace(itemID) == "" {
		return model.RedeemResult{}, ErrInvalidItem
	}
	acct, err := l.lookup(userID)
	if err != nil {
		return model.RedeemResult{}, err
	}

	acct.mu.Lock()
	a := &acct.account
	if a.CreditBalance < cost {
		balance := a.CreditBalance
		acct.mu.Unlock()
		return model.RedeemResult{Success: false, NewBalance: balance},
			fmt.Errorf("%w: balance %d, cost %d", ErrInsufficientCredits, balance, cost)
	}
	now := l.now()
	a.CreditBalance -= cost
	a.TotalRedeemed += cost
	a.Version++
	a.UpdatedAt = now
	record := model.Redemption{
		ID:               l.newID(),
		UserID:           a.UserID,
		Timestamp:        now,
		ItemID:           itemID,
		CreditsSpent:     cost,
		ResultingBalance: a.CreditBalance,
	}
	acct.redemptions = append(acct.redemptions, record)
	snapshot := *a
	acct.mu.Unlock()

	l.persist(ctx, "redeem_item", func(ctx context.Context) error {
		return l.store.AppendRedemption(ctx, record, snapshot)
	})

	return model.RedeemResult{
		Success:    true,
		NewBalance: snapshot.CreditBalance,
		Record:     record,
		Account:    snapshot,
	}, nil
}

// GetBottleHistory returns the user's submissions, newest first.
func (l *RewardLedger) GetBottleHistory(userID string) ([]model.BottleSubmission, error) {
	acct, err := l.lookup(userID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	out := make([]model.BottleSubmission, len(acct.submissions))
	for i, rec := range acct.submissions {
		out[len(out)-1-i] = rec
	}
	return out, nil
}

// GetRedemptionHistory returns the user's redemptions, newest first.
func (l *RewardLedger) GetRedemptionHistory(userID string) ([]model.Redemption, error) {
	acct, err := l.lookup(userID)
	if err != nil {
		return nil, err
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()

	out := make([]model.Redemption, len(acct.redemptions))
	for i, rec := range acct.redemptions {
		out[len(out)-1-i] = rec
	}
	return out, nil
}

// AccountCount returns the number of open accounts.
func (l *RewardLedger) AccountCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.accounts)
}

func (l *RewardLedger) lookup(userID string) (*ledgerAccount, error) {
	l.mu.RLock()
	acct, ok := l.accounts[strings.TrimSpace(userID)]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, userID)
	}
	return acct, nil
}

// persist writes to the store outside any account lock. The caller's cancellation is
// detached so an abandoned request does not drop a committed mutation.
func (l *RewardLedger) persist(ctx context.Context, op string, write func(context.Context) error) {
	if l.store == nil {
		return
	}
	if err := write(context.WithoutCancel(ctx)); err != nil {
		l.log.Error("ledger persist failed", "op", op, "error", err)
		if l.failures != nil {
			l.failures.LedgerPersistFailed(op)
		}
	}
}

var _ useCases.Ledger = (*RewardLedger)(nil)
