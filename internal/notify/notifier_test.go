package notify

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payplanhq/payplan/internal/storage"
)

func newTestNotifier(t *testing.T) (*Notifier, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	n, err := New(store, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return n, store
}

func TestNotifyAppendsToFeed(t *testing.T) {
	n, store := newTestNotifier(t)

	account, err := store.CreateAccount("Alice", "", 0)
	require.NoError(t, err)

	n.Notify(context.Background(), account.ID, storage.NotifyIncome, "You received $25.00")
	n.Notify(context.Background(), account.ID, storage.NotifySystem, "Queue position updated")

	notifications, err := store.ListNotifications(account.ID, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 2)

	for _, note := range notifications {
		assert.False(t, note.IsRead)
	}
}

func TestNotifyUnknownAccountDoesNotPanic(t *testing.T) {
	n, _ := newTestNotifier(t)

	// Feed rows are keyed by account ID only; delivery is skipped without a bot
	n.Notify(context.Background(), 9999, storage.NotifyError, "orphan")
}

func TestFormatMessage(t *testing.T) {
	assert.True(t, strings.Contains(formatMessage(storage.NotifyIncome, "x"), "<b>Income</b>"))
	assert.True(t, strings.Contains(formatMessage(storage.NotifyError, "x"), "<b>Attention</b>"))
	assert.Equal(t, "plain", formatMessage(storage.NotifySystem, "plain"))
}
