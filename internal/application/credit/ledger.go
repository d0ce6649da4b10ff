// Package credit reads and adjusts user credit balances.
package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/store"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
	"github.com/taosiq/p2pskillx-sub000/pkg/retry"
)

// Direction of an adjustment.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Adjustment is the outcome of a successful Adjust.
type Adjustment struct {
	UserID    string
	Direction Direction
	Amount    int
	Previous  int
	New       int
}

// Ledger owns the credits field of user documents.
type Ledger struct {
	store   store.Store
	log     *logger.Logger
	retrier *retry.Retrier
}

// NewLedger creates a Ledger. Concurrent adjustments of one balance are
// serialized with a compare-and-set on the previous value and retried on
// conflict.
func NewLedger(s store.Store, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{
		store: s,
		log:   log.With(logger.Component("credit_ledger")),
		retrier: retry.ConflictRetrier(func(err error) bool {
			return errors.Is(err, store.ErrPreconditionFailed)
		}),
	}
}

// Balance returns the user's credits. A profile without a credits field
// has a balance of 0.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	doc, err := l.store.Get(ctx, store.Users, userID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, shared.ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance of %s: %w", userID, err)
	}
	v, _ := store.Lookup(doc, user.FieldCredits)
	return store.AsInt(v), nil
}

// Adjust applies a debit or credit of amount. A debit larger than the
// balance fails with *shared.InsufficientCreditsError and writes nothing.
func (l *Ledger) Adjust(ctx context.Context, userID string, amount int, dir Direction) (Adjustment, error) {
	if amount <= 0 {
		return Adjustment{}, shared.ErrInvalidAmount
	}
	if dir != Debit && dir != Credit {
		return Adjustment{}, shared.NewDomainError("credit", "Adjust", shared.ErrInvalidInput, "unknown direction")
	}

	adj, err := retry.DoWithData(ctx, l.retrier, func(ctx context.Context) (Adjustment, error) {
		return l.adjustOnce(ctx, userID, amount, dir)
	})
	if errors.Is(err, store.ErrPreconditionFailed) {
		return Adjustment{}, shared.WrapError("credit", "Adjust", shared.ErrConcurrentModification,
			"balance kept changing", err)
	}
	if err != nil {
		return Adjustment{}, err
	}

	l.log.Debug("credits adjusted",
		logger.UserID(userID),
		logger.String("direction", string(dir)),
		logger.Amount(amount),
		logger.Credits(adj.New),
	)
	return adj, nil
}

func (l *Ledger) adjustOnce(ctx context.Context, userID string, amount int, dir Direction) (Adjustment, error) {
	doc, err := l.store.Get(ctx, store.Users, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Adjustment{}, retry.Permanent(shared.ErrUserNotFound)
	}
	if err != nil {
		return Adjustment{}, retry.Permanent(fmt.Errorf("failed to read balance of %s: %w", userID, err))
	}

	raw, present := store.Lookup(doc, user.FieldCredits)
	prev := store.AsInt(raw)

	next := prev + amount
	if dir == Debit {
		if prev < amount {
			return Adjustment{}, retry.Permanent(&shared.InsufficientCreditsError{Balance: prev, Required: amount})
		}
		next = prev - amount
	}

	guard := store.Equals(user.FieldCredits, raw)
	if !present || raw == nil {
		guard = store.Absent(user.FieldCredits)
	}
	err = l.store.Update(ctx, store.Users, userID, []store.Op{store.Set(user.FieldCredits, next)}, guard)
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) {
			return Adjustment{}, err
		}
		if errors.Is(err, store.ErrNotFound) {
			return Adjustment{}, retry.Permanent(shared.ErrUserNotFound)
		}
		return Adjustment{}, retry.Permanent(fmt.Errorf("failed to write balance of %s: %w", userID, err))
	}
	return Adjustment{UserID: userID, Direction: dir, Amount: amount, Previous: prev, New: next}, nil
}
