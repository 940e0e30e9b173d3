package matcher

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payplanhq/payplan/internal/storage"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type note struct {
	AccountID int64
	Type      storage.NotificationType
	Message   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (f *fakeNotifier) Notify(ctx context.Context, accountID int64, typ storage.NotificationType, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{accountID, typ, message})
}

func (f *fakeNotifier) byType(typ storage.NotificationType) []note {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []note
	for _, n := range f.notes {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func newTestMatcher(t *testing.T) (*Matcher, *storage.Storage, *fakeNotifier) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveSettings(&storage.Settings{
		ReferralAmount:    25,
		BinaryAmount:      25,
		UplineAmount:      10,
		AdminFeeAmount:    5,
		PaymentTimerHours: 24,
	}))

	notifier := &fakeNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(store, notifier, &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}, log)

	return m, store, notifier
}

// addEntrant creates an account with the given qualification and enqueues it
func addEntrant(t *testing.T, m *Matcher, store *storage.Storage, name string, qualified bool) *storage.Account {
	t.Helper()
	ctx := context.Background()

	account, err := store.CreateAccount(name, "", 0)
	require.NoError(t, err)
	if qualified {
		require.NoError(t, store.SetAccountQualified(account.ID, true))
		account.Qualified = true
	}

	_, err = m.Enqueue(ctx, account)
	require.NoError(t, err)
	return account
}

func queueNames(t *testing.T, store *storage.Storage) []string {
	t.Helper()
	entrants, err := store.ListQueue()
	require.NoError(t, err)
	names := make([]string, len(entrants))
	for i, e := range entrants {
		require.Equal(t, i+1, e.Position, "positions must be contiguous from 1")
		names[i] = e.DisplayName
	}
	return names
}

func TestProcessQueueSkipsUnqualified(t *testing.T) {
	m, store, notifier := newTestMatcher(t)
	a := addEntrant(t, m, store, "A", false)
	b := addEntrant(t, m, store, "B", true)
	addEntrant(t, m, store, "C", false)

	result, err := m.ProcessQueue(context.Background())
	require.NoError(t, err)

	// B wins and leaves the queue; the skipped prefix [A] rotates behind C
	assert.Equal(t, b.ID, result.Winner.AccountID)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, a.ID, result.Skipped[0].AccountID)
	assert.Equal(t, []string{"C", "A"}, queueNames(t, store))

	// Paid pair and ledger entry for the winner
	require.NotNil(t, result.Pair)
	assert.Equal(t, 1, result.Pair.PairNumber)
	assert.Equal(t, storage.PairPaid, result.Pair.Status)
	assert.Equal(t, 25.0, result.Pair.Amount)

	transactions, err := store.ListTransactions(b.ID, 10)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	assert.Equal(t, "binary_income", transactions[0].Type)

	income := notifier.byType(storage.NotifyIncome)
	require.Len(t, income, 1)
	assert.Equal(t, b.ID, income[0].AccountID)

	passedOver := notifier.byType(storage.NotifySystem)
	require.Len(t, passedOver, 1)
	assert.Equal(t, a.ID, passedOver[0].AccountID)
}

func TestProcessQueueFirstQualifiedWins(t *testing.T) {
	m, store, _ := newTestMatcher(t)
	addEntrant(t, m, store, "A", false)
	b := addEntrant(t, m, store, "B", true)
	addEntrant(t, m, store, "C", true)

	result, err := m.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b.ID, result.Winner.AccountID, "smallest index among qualified wins")
	assert.Equal(t, []string{"C", "A"}, queueNames(t, store))
}

func TestProcessQueuePreservesEntrants(t *testing.T) {
	m, store, _ := newTestMatcher(t)
	names := []string{"A", "B", "C", "D", "E"}
	for i, n := range names {
		addEntrant(t, m, store, n, i == 3) // only D qualified
	}

	result, err := m.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "D", result.Winner.DisplayName)

	// Rotation is a permutation of everyone but the winner, renumbered 1..N-1
	assert.Equal(t, []string{"E", "A", "B", "C"}, queueNames(t, store))
}

func TestProcessQueueNoQualified(t *testing.T) {
	m, store, _ := newTestMatcher(t)
	addEntrant(t, m, store, "A", false)
	addEntrant(t, m, store, "B", false)

	before := queueNames(t, store)

	_, err := m.ProcessQueue(context.Background())
	require.ErrorIs(t, err, ErrNoQualified)
	assert.Equal(t, before, queueNames(t, store), "queue untouched")

	// Repeated calls stay harmless
	_, err = m.ProcessQueue(context.Background())
	require.ErrorIs(t, err, ErrNoQualified)
	assert.Equal(t, before, queueNames(t, store))
}

func TestPairNumbersMonotonicAcrossKinds(t *testing.T) {
	m, store, _ := newTestMatcher(t)
	a := addEntrant(t, m, store, "A", false)
	b := addEntrant(t, m, store, "B", true)

	p1, err := m.CreditBinaryIncome(context.Background(), a.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.PairNumber)
	assert.Equal(t, storage.PairPending, p1.Status)

	result, err := m.ProcessQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, b.ID, result.Winner.AccountID)
	assert.Equal(t, 2, result.Pair.PairNumber, "pending pairs count toward the sequence")
}

func TestCreditBinaryIncome(t *testing.T) {
	m, store, notifier := newTestMatcher(t)
	a := addEntrant(t, m, store, "A", false)
	b := addEntrant(t, m, store, "B", true)

	// Unqualified income is held
	pa, err := m.CreditBinaryIncome(context.Background(), a.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, storage.PairPending, pa.Status)
	transactions, err := store.ListTransactions(a.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, transactions, "held income is not on the ledger yet")

	// Qualified income pays out immediately
	pb, err := m.CreditBinaryIncome(context.Background(), b.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, storage.PairPaid, pb.Status)
	transactions, err = store.ListTransactions(b.ID, 10)
	require.NoError(t, err)
	require.Len(t, transactions, 1)

	income := notifier.byType(storage.NotifyIncome)
	require.Len(t, income, 1)
	assert.Equal(t, b.ID, income[0].AccountID)
}

func TestSetQualifiedReleasesHeldPairs(t *testing.T) {
	m, store, notifier := newTestMatcher(t)
	a := addEntrant(t, m, store, "A", false)

	_, err := m.CreditBinaryIncome(context.Background(), a.ID, 25)
	require.NoError(t, err)
	_, err = m.CreditBinaryIncome(context.Background(), a.ID, 25)
	require.NoError(t, err)

	require.NoError(t, m.SetQualified(context.Background(), a.ID, true))

	pending, err := store.ListPendingPairs(a.ID)
	require.NoError(t, err)
	assert.Empty(t, pending, "pending total is zero after conversion")

	pairs, err := store.ListPairs(a.ID)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	for _, p := range pairs {
		assert.Equal(t, storage.PairPaid, p.Status)
	}

	transactions, err := store.ListTransactions(a.ID, 10)
	require.NoError(t, err)
	assert.Len(t, transactions, 2, "one ledger entry per released pair")

	// One lump-sum income notification for the release
	income := notifier.byType(storage.NotifyIncome)
	require.Len(t, income, 1)
	assert.Equal(t, a.ID, income[0].AccountID)
}

func TestSetQualifiedEdgeTriggeredOnce(t *testing.T) {
	m, store, notifier := newTestMatcher(t)
	a := addEntrant(t, m, store, "A", false)

	_, err := m.CreditBinaryIncome(context.Background(), a.ID, 25)
	require.NoError(t, err)

	require.NoError(t, m.SetQualified(context.Background(), a.ID, true))
	released := len(notifier.byType(storage.NotifyIncome))
	require.Equal(t, 1, released)

	// Repeated true updates are level, not edges: nothing fires again
	require.NoError(t, m.SetQualified(context.Background(), a.ID, true))
	require.NoError(t, m.SetQualified(context.Background(), a.ID, true))
	assert.Len(t, notifier.byType(storage.NotifyIncome), released)

	transactions, err := store.ListTransactions(a.ID, 10)
	require.NoError(t, err)
	assert.Len(t, transactions, 1)
}

func TestSetQualifiedConcurrentCallsFireOnce(t *testing.T) {
	m, store, notifier := newTestMatcher(t)
	a := addEntrant(t, m, store, "A", false)

	// Both callers race for the same false-to-true edge; the queue lock
	// serializes them so exactly one observes the transition
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.SetQualified(context.Background(), a.ID, true))
		}()
	}
	wg.Wait()

	assert.Len(t, notifier.byType(storage.NotifySystem), 1, "one qualification notification")

	account, err := store.GetAccount(a.ID)
	require.NoError(t, err)
	assert.True(t, account.Qualified)
}

func TestSetQualifiedSurvivesConcurrentRotation(t *testing.T) {
	m, store, _ := newTestMatcher(t)
	addEntrant(t, m, store, "X", false)
	addEntrant(t, m, store, "W1", true)
	a := addEntrant(t, m, store, "A", false)
	addEntrant(t, m, store, "W2", true)

	// Rotations rewrite the queue wholesale from a snapshot; a flag update
	// must never land inside that window and be erased by the rewrite
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 4; i++ {
			m.ProcessQueue(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, m.SetQualified(context.Background(), a.ID, true))
	}()
	wg.Wait()

	account, err := store.GetAccount(a.ID)
	require.NoError(t, err)
	require.True(t, account.Qualified)

	// A either won a pass and left the queue, or is still queued with the
	// flag intact. A stale entrant row means the update was lost.
	entrants, err := store.ListQueue()
	require.NoError(t, err)
	for _, e := range entrants {
		if e.AccountID == a.ID {
			assert.True(t, e.Qualified, "entrant flag must match the account flag")
		}
	}
}

func TestSetQualifiedDowngradeHoldsNewIncome(t *testing.T) {
	m, store, _ := newTestMatcher(t)
	a := addEntrant(t, m, store, "A", true)

	require.NoError(t, m.SetQualified(context.Background(), a.ID, false))

	p, err := m.CreditBinaryIncome(context.Background(), a.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, storage.PairPending, p.Status)

	entrants, err := store.ListQueue()
	require.NoError(t, err)
	require.Len(t, entrants, 1)
	assert.False(t, entrants[0].Qualified)
}
