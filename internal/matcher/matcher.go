package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/payplanhq/payplan/internal/sched"
	"github.com/payplanhq/payplan/internal/storage"
)

// ErrNoQualified is returned when no entrant in the queue is eligible to win
var ErrNoQualified = errors.New("no qualified entrants in queue")

// Notifier appends notifications to an account's feed
type Notifier interface {
	Notify(ctx context.Context, accountID int64, typ storage.NotificationType, message string)
}

// MatchResult describes one completed queue pass
type MatchResult struct {
	Winner  storage.QueueEntrant
	Pair    *storage.Pair
	Skipped []storage.QueueEntrant
}

// Matcher owns the global binary matching queue and the pair ledger. All
// mutation of the queue and pairs goes through one lock, so a rotation and
// its pair creation are atomic as a unit.
type Matcher struct {
	store  *storage.Storage
	notify Notifier
	clock  sched.Clock
	log    *slog.Logger

	mu sync.Mutex
}

// New creates a new Matcher
func New(store *storage.Storage, notify Notifier, clock sched.Clock, log *slog.Logger) *Matcher {
	return &Matcher{
		store:  store,
		notify: notify,
		clock:  clock,
		log:    log,
	}
}

// Enqueue appends an account to the back of the queue
func (m *Matcher) Enqueue(ctx context.Context, account *storage.Account) (*storage.QueueEntrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entrant, err := m.store.Enqueue(account.ID, account.DisplayName, account.Qualified)
	if err != nil {
		return nil, fmt.Errorf("enqueue account: %w", err)
	}

	m.log.Info("account enqueued", "account_id", account.ID, "position", entrant.Position)
	return entrant, nil
}

// ProcessQueue runs one matching pass. The first qualified entrant wins and
// is consumed from the queue; the unqualified entrants ahead of them rotate
// to the back in their original relative order, and everyone left is
// renumbered 1..N. Explicitly triggered, never scheduled.
//
// With no qualified entrant the queue is left untouched and ErrNoQualified
// is returned, so repeated calls are harmless.
func (m *Matcher) ProcessQueue(ctx context.Context) (*MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entrants, err := m.store.ListQueue()
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}

	winnerIdx := -1
	for i, e := range entrants {
		if e.Qualified {
			winnerIdx = i
			break
		}
	}
	if winnerIdx == -1 {
		m.log.Info("queue pass produced no match", "entrants", len(entrants))
		return nil, ErrNoQualified
	}

	winner := entrants[winnerIdx]
	skipped := entrants[:winnerIdx]
	remaining := entrants[winnerIdx+1:]

	// New order: everyone behind the winner moves up, the skipped prefix
	// goes to the back. The winner leaves the queue.
	reordered := make([]storage.QueueEntrant, 0, len(remaining)+len(skipped))
	reordered = append(reordered, remaining...)
	reordered = append(reordered, skipped...)
	for i := range reordered {
		reordered[i].Position = i + 1
	}

	if err := m.store.ReplaceQueue(reordered); err != nil {
		return nil, fmt.Errorf("rotate queue: %w", err)
	}

	settings, err := m.store.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	// The winner is qualified by construction, so the pair pays out
	// immediately; the pending-pair path only serves income from outside
	// the matcher.
	pair, err := m.store.CreatePair(winner.AccountID, settings.BinaryAmount, storage.PairPaid, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("create pair: %w", err)
	}

	if err := m.store.AddTransaction(winner.AccountID, "binary_income",
		fmt.Sprintf("binary match #%d", pair.PairNumber), pair.Amount, "completed"); err != nil {
		m.log.Error("binary income ledger entry", "error", err)
	}

	m.notify.Notify(ctx, winner.AccountID, storage.NotifyIncome,
		fmt.Sprintf("Binary match #%d! You earned $%.2f.", pair.PairNumber, pair.Amount))

	for _, s := range skipped {
		m.notify.Notify(ctx, s.AccountID, storage.NotifySystem,
			"You were passed over in the matching queue because you are not yet qualified. Get one paid referral on each leg to become eligible.")
	}

	m.log.Info("queue match",
		"winner", winner.AccountID,
		"pair_number", pair.PairNumber,
		"skipped", len(skipped),
		"queue_size", len(reordered),
	)

	return &MatchResult{Winner: winner, Pair: pair, Skipped: skipped}, nil
}

// CreditBinaryIncome records income arriving outside a queue pass (spillover
// or manual award). Qualified accounts are paid immediately; unqualified ones
// get a pending pair held until they qualify.
func (m *Matcher) CreditBinaryIncome(ctx context.Context, accountID int64, amount float64) (*storage.Pair, error) {
	account, err := m.store.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status := storage.PairPending
	if account.Qualified {
		status = storage.PairPaid
	}

	pair, err := m.store.CreatePair(accountID, amount, status, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("create pair: %w", err)
	}

	if status == storage.PairPaid {
		if err := m.store.AddTransaction(accountID, "binary_income",
			fmt.Sprintf("binary match #%d", pair.PairNumber), amount, "completed"); err != nil {
			m.log.Error("binary income ledger entry", "error", err)
		}
		m.notify.Notify(ctx, accountID, storage.NotifyIncome,
			fmt.Sprintf("Binary match #%d! You earned $%.2f.", pair.PairNumber, amount))
	} else {
		m.notify.Notify(ctx, accountID, storage.NotifySystem,
			fmt.Sprintf("Binary match #%d of $%.2f is on hold until you qualify with one paid referral on each leg.",
				pair.PairNumber, amount))
	}

	m.log.Info("binary income credited", "account_id", accountID, "status", status, "amount", amount)
	return pair, nil
}

// SetQualified records a change in an account's sponsor qualification.
// Conversion of held pairs is edge-triggered: only a false-to-true transition
// releases them, and it happens exactly once. Repeated true updates and
// downgrades never convert anything.
//
// The whole update runs under the queue lock. A rotation in flight holds a
// snapshot of the queue and writes it back wholesale, so a flag update landing
// inside that window would be erased by the rewrite.
func (m *Matcher) SetQualified(ctx context.Context, accountID int64, qualified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, err := m.store.GetAccount(accountID)
	if err != nil {
		return err
	}

	if account.Qualified == qualified {
		return nil
	}

	if err := m.store.SetAccountQualified(accountID, qualified); err != nil {
		return fmt.Errorf("set qualified: %w", err)
	}
	if err := m.store.SetEntrantQualified(accountID, qualified); err != nil {
		return fmt.Errorf("update entrant: %w", err)
	}

	if !qualified {
		m.log.Info("account disqualified", "account_id", accountID)
		return nil
	}

	converted, err := m.store.ConvertPendingPairs(accountID)
	if err != nil {
		return fmt.Errorf("convert pending pairs: %w", err)
	}

	var total float64
	for _, p := range converted {
		total += p.Amount
		if err := m.store.AddTransaction(accountID, "binary_income",
			fmt.Sprintf("binary match #%d (released)", p.PairNumber), p.Amount, "completed"); err != nil {
			m.log.Error("released income ledger entry", "error", err)
		}
	}

	if len(converted) > 0 {
		m.notify.Notify(ctx, accountID, storage.NotifyIncome,
			fmt.Sprintf("You are now qualified! %d held binary matches worth $%.2f were released to your balance.",
				len(converted), total))
	} else {
		m.notify.Notify(ctx, accountID, storage.NotifySystem,
			"You are now qualified for binary income.")
	}

	m.log.Info("account qualified",
		"account_id", accountID,
		"released_pairs", len(converted),
		"released_total", total,
	)
	return nil
}
