package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payplanhq/payplan/internal/config"
	"github.com/payplanhq/payplan/internal/engine"
	"github.com/payplanhq/payplan/internal/matcher"
	"github.com/payplanhq/payplan/internal/notify"
	"github.com/payplanhq/payplan/internal/sched"
	"github.com/payplanhq/payplan/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*gin.Engine, *storage.Storage, *config.Config) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveSettings(&storage.Settings{
		ReferralAmount:    50,
		BinaryAmount:      25,
		UplineAmount:      10,
		AdminFeeAmount:    5,
		PaymentTimerHours: 12,
	}))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	notifier, err := notify.New(store, "", log)
	require.NoError(t, err)

	clock := sched.RealClock()
	eng := engine.New(store, notifier, nil, clock, time.Millisecond, time.Millisecond, log)
	m := matcher.New(store, notifier, clock, log)

	cfg := &config.Config{
		JWTSecret:     "test-secret",
		AdminUser:     "admin",
		AdminPassword: "hunter2",
	}

	srv := NewServer(cfg, store, eng, m, log)
	return srv.Router(), store, cfg
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T, router *gin.Engine) string {
	t.Helper()

	w := doJSON(t, router, http.MethodPost, "/auth/login", "",
		gin.H{"username": "admin", "password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func onboard(t *testing.T, router *gin.Engine, token, name string) *storage.Account {
	t.Helper()

	w := doJSON(t, router, http.MethodPost, "/admin/accounts", token,
		gin.H{"display_name": name})
	require.Equal(t, http.StatusCreated, w.Code)

	var account storage.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	return &account
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/auth/login", "",
		gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/auth/login", "", gin.H{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/admin/settings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodGet, "/admin/settings", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Token signed with the wrong secret must be rejected too
	forged, err := IssueToken([]byte("other-secret"), "admin", time.Hour)
	require.NoError(t, err)
	w = doJSON(t, router, http.MethodGet, "/admin/settings", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOnboardIssuesSlotsAndEnqueues(t *testing.T) {
	router, store, _ := newTestServer(t)
	token := adminToken(t, router)

	account := onboard(t, router, token, "Alice")
	assert.Equal(t, "Alice", account.DisplayName)

	payments, err := store.ListPayments(account.ID)
	require.NoError(t, err)
	assert.Len(t, payments, len(storage.SlotOrder))

	w := doJSON(t, router, http.MethodGet, "/queue", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entrants []storage.QueueEntrant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entrants))
	require.Len(t, entrants, 1)
	assert.Equal(t, account.ID, entrants[0].AccountID)
	assert.Equal(t, 1, entrants[0].Position)
}

func TestSubmitAndConfirmFlow(t *testing.T) {
	router, store, _ := newTestServer(t)
	token := adminToken(t, router)
	account := onboard(t, router, token, "Alice")

	payments, err := store.ListPayments(account.ID)
	require.NoError(t, err)
	payment := payments[0]

	// Missing proof fails validation
	w := doJSON(t, router, http.MethodPost, "/payments/"+payment.ID+"/submit", "",
		gin.H{"sender_name": "Alice", "transaction_id": "tx-1", "proof": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/payments/"+payment.ID+"/submit", "",
		gin.H{"sender_name": "Alice", "transaction_id": "tx-1", "proof": "receipt.png"})
	require.Equal(t, http.StatusCreated, w.Code)

	var confirmation storage.Confirmation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmation))

	// Second submission on the same slot conflicts
	w = doJSON(t, router, http.MethodPost, "/payments/"+payment.ID+"/submit", "",
		gin.H{"sender_name": "Alice", "transaction_id": "tx-2", "proof": "receipt.png"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/admin/confirmations/"+confirmation.ID+"/confirm", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := store.GetPayment(payment.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusConfirmed, updated.Status)
}

func TestVerifyWithoutCryptoConfigured(t *testing.T) {
	router, store, _ := newTestServer(t)
	token := adminToken(t, router)
	account := onboard(t, router, token, "Alice")

	payments, err := store.ListPayments(account.ID)
	require.NoError(t, err)
	payment := payments[0]

	// Request is accepted; the fail-closed outcome lands asynchronously
	w := doJSON(t, router, http.MethodPost, "/payments/"+payment.ID+"/verify", "",
		gin.H{"transaction_id": "tx-1"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, router, http.MethodPost, "/payments/unknown/verify", "",
		gin.H{"transaction_id": "tx-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunQueueNoQualified(t *testing.T) {
	router, _, _ := newTestServer(t)
	token := adminToken(t, router)
	onboard(t, router, token, "Alice")

	w := doJSON(t, router, http.MethodPost, "/admin/queue/run", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Matched bool `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Matched)
}

func TestRunQueueMatchesQualified(t *testing.T) {
	router, _, _ := newTestServer(t)
	token := adminToken(t, router)
	account := onboard(t, router, token, "Alice")

	w := doJSON(t, router, http.MethodPost, "/admin/accounts/"+itoa(account.ID)+"/qualified", token,
		gin.H{"qualified": true})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/admin/queue/run", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Matched bool `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Matched)

	// Winner is consumed from the queue
	w = doJSON(t, router, http.MethodGet, "/queue", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var entrants []storage.QueueEntrant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entrants))
	assert.Empty(t, entrants)
}

func TestSettingsRoundTrip(t *testing.T) {
	router, _, _ := newTestServer(t)
	token := adminToken(t, router)

	w := doJSON(t, router, http.MethodPut, "/admin/settings", token, gin.H{
		"referral_amount":     60,
		"binary_amount":       30,
		"upline_amount":       12,
		"admin_fee_amount":    6,
		"payment_timer_hours": 24,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/admin/settings", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var settings storage.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, 60.0, settings.ReferralAmount)
	assert.Equal(t, 24, settings.PaymentTimerHours)
}

func TestNotificationsFeedOverHTTP(t *testing.T) {
	router, _, _ := newTestServer(t)
	token := adminToken(t, router)
	account := onboard(t, router, token, "Alice")

	w := doJSON(t, router, http.MethodGet, "/accounts/"+itoa(account.ID)+"/notifications", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var notifications []storage.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notifications))
	require.NotEmpty(t, notifications) // onboarding welcome

	w = doJSON(t, router, http.MethodPost, "/accounts/"+itoa(account.ID)+"/notifications/read", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGetAccountNotFound(t *testing.T) {
	router, _, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/accounts/9999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/accounts/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
