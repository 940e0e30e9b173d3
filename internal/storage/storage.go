package storage

import (
	"database/sql"
	"errors"
	"hash/fnv"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			display_name TEXT NOT NULL,
			wallet_addr TEXT NOT NULL DEFAULT '',
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			qualified INTEGER NOT NULL DEFAULT 0,
			on_hold INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			account_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			proof TEXT NOT NULL DEFAULT '',
			assigned_at INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL DEFAULT 0,
			receiver_name TEXT NOT NULL DEFAULT '',
			receiver_wallet TEXT NOT NULL DEFAULT '',
			unique_amount REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_account_id ON payments(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,

		`CREATE TABLE IF NOT EXISTS confirmations (
			id TEXT PRIMARY KEY,
			payment_id TEXT NOT NULL,
			account_id INTEGER NOT NULL,
			sender_name TEXT NOT NULL,
			amount REAL NOT NULL,
			transaction_id TEXT NOT NULL,
			proof TEXT NOT NULL DEFAULT '',
			submitted_at INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_confirmations_payment_id ON confirmations(payment_id)`,

		`CREATE TABLE IF NOT EXISTS disputes (
			id TEXT PRIMARY KEY,
			payment_id TEXT NOT NULL,
			account_id INTEGER NOT NULL,
			sender_name TEXT NOT NULL,
			amount REAL NOT NULL,
			transaction_id TEXT NOT NULL,
			proof TEXT NOT NULL DEFAULT '',
			submitted_at INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL DEFAULT 0,
			opened_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'open'
		)`,

		`CREATE TABLE IF NOT EXISTS queue (
			account_id INTEGER PRIMARY KEY,
			display_name TEXT NOT NULL,
			position INTEGER NOT NULL,
			qualified INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_position ON queue(position)`,

		`CREATE TABLE IF NOT EXISTS pairs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair_number INTEGER NOT NULL,
			account_id INTEGER NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL,
			matched_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pairs_account_id ON pairs(account_id)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_account_id ON notifications(account_id)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			details TEXT NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id)`,

		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			referral_amount REAL NOT NULL,
			binary_amount REAL NOT NULL,
			upline_amount REAL NOT NULL,
			admin_fee_amount REAL NOT NULL,
			payment_timer_hours INTEGER NOT NULL,
			enable_crypto_verification INTEGER NOT NULL DEFAULT 0,
			service_wallet_addr TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Accounts ---

// CreateAccount creates a new account
func (s *Storage) CreateAccount(displayName, walletAddr string, telegramChatID int64) (*Account, error) {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		`INSERT INTO accounts (display_name, wallet_addr, telegram_chat_id, created_at) VALUES (?, ?, ?, ?)`,
		displayName, walletAddr, telegramChatID, now,
	)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Account{
		ID:             id,
		DisplayName:    displayName,
		WalletAddr:     walletAddr,
		TelegramChatID: telegramChatID,
		CreatedAt:      time.Unix(now, 0),
	}, nil
}

// GetAccount returns an account by ID
func (s *Storage) GetAccount(accountID int64) (*Account, error) {
	var a Account
	var qualified, onHold int
	var createdAt int64

	err := s.db.QueryRow(
		`SELECT id, display_name, wallet_addr, telegram_chat_id, qualified, on_hold, created_at
		 FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&a.ID, &a.DisplayName, &a.WalletAddr, &a.TelegramChatID, &qualified, &onHold, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.Qualified = qualified != 0
	a.OnHold = onHold != 0
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// SetAccountQualified updates the qualification flag
func (s *Storage) SetAccountQualified(accountID int64, qualified bool) error {
	result, err := s.db.Exec(
		"UPDATE accounts SET qualified = ? WHERE id = ?",
		boolToInt(qualified), accountID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAccountOnHold updates the on-hold flag
func (s *Storage) SetAccountOnHold(accountID int64, onHold bool) error {
	_, err := s.db.Exec(
		"UPDATE accounts SET on_hold = ? WHERE id = ?",
		boolToInt(onHold), accountID,
	)
	return err
}

// --- Payments ---

// CreatePayment inserts a new payment slot
func (s *Storage) CreatePayment(p *Payment) error {
	_, err := s.db.Exec(
		`INSERT INTO payments (id, account_id, type, amount, status, transaction_id, proof,
			assigned_at, receiver_id, receiver_name, receiver_wallet, unique_amount)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.Type, p.Amount, p.Status, p.TransactionID, p.Proof,
		p.AssignedAt.Unix(), p.ReceiverID, p.ReceiverName, p.ReceiverWallet, p.UniqueAmount,
	)
	return err
}

const paymentCols = `id, account_id, type, amount, status, transaction_id, proof,
	assigned_at, receiver_id, receiver_name, receiver_wallet, unique_amount`

func scanPayment(row interface{ Scan(...interface{}) error }) (*Payment, error) {
	var p Payment
	var assignedAt int64

	err := row.Scan(&p.ID, &p.AccountID, &p.Type, &p.Amount, &p.Status, &p.TransactionID,
		&p.Proof, &assignedAt, &p.ReceiverID, &p.ReceiverName, &p.ReceiverWallet, &p.UniqueAmount)
	if err != nil {
		return nil, err
	}

	p.AssignedAt = time.Unix(assignedAt, 0)
	return &p, nil
}

// GetPayment returns a payment by ID
func (s *Storage) GetPayment(paymentID string) (*Payment, error) {
	p, err := scanPayment(s.db.QueryRow(
		`SELECT `+paymentCols+` FROM payments WHERE id = ?`, paymentID,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPayments returns all payment slots for an account in issue order
func (s *Storage) ListPayments(accountID int64) ([]Payment, error) {
	rows, err := s.db.Query(
		`SELECT `+paymentCols+` FROM payments WHERE account_id = ? ORDER BY rowid`, accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}

	return payments, rows.Err()
}

// ListUnpaidOlderThan returns expirable unpaid payments assigned before the
// cutoff. Admin fee slots never expire and are excluded.
func (s *Storage) ListUnpaidOlderThan(cutoff time.Time) ([]Payment, error) {
	rows, err := s.db.Query(
		`SELECT `+paymentCols+` FROM payments
		 WHERE status = ? AND type != ? AND assigned_at < ?`,
		StatusUnpaid, PaymentAdmin, cutoff.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}

	return payments, rows.Err()
}

// SetPaymentStatus updates only the status column
func (s *Storage) SetPaymentStatus(paymentID string, status PaymentStatus) error {
	result, err := s.db.Exec(
		"UPDATE payments SET status = ? WHERE id = ?",
		status, paymentID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaymentPending records the submitted transaction and moves the slot to pending
func (s *Storage) MarkPaymentPending(paymentID, transactionID, proof string) error {
	_, err := s.db.Exec(
		"UPDATE payments SET status = ?, transaction_id = ?, proof = ? WHERE id = ?",
		StatusPending, transactionID, proof, paymentID,
	)
	return err
}

// MarkPaymentVerifying records the transaction and moves the slot to verifying
func (s *Storage) MarkPaymentVerifying(paymentID, transactionID string) error {
	_, err := s.db.Exec(
		"UPDATE payments SET status = ?, transaction_id = ? WHERE id = ?",
		StatusVerifying, transactionID, paymentID,
	)
	return err
}

// ResetPaymentUnpaid clears the slot back to unpaid and restarts its timer
func (s *Storage) ResetPaymentUnpaid(paymentID string, assignedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE payments SET status = ?, transaction_id = '', proof = '', assigned_at = ?
		 WHERE id = ?`,
		StatusUnpaid, assignedAt.Unix(), paymentID,
	)
	return err
}

// --- Confirmations ---

// CreateConfirmation inserts a pending confirmation. A payment can hold only
// one live confirmation at a time.
func (s *Storage) CreateConfirmation(c *Confirmation) error {
	_, err := s.db.Exec(
		`INSERT INTO confirmations (id, payment_id, account_id, sender_name, amount,
			transaction_id, proof, submitted_at, receiver_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.PaymentID, c.AccountID, c.SenderName, c.Amount,
		c.TransactionID, c.Proof, c.SubmittedAt.Unix(), c.ReceiverID,
	)
	return err
}

const confirmationCols = `id, payment_id, account_id, sender_name, amount,
	transaction_id, proof, submitted_at, receiver_id`

func scanConfirmation(row interface{ Scan(...interface{}) error }) (*Confirmation, error) {
	var c Confirmation
	var submittedAt int64

	err := row.Scan(&c.ID, &c.PaymentID, &c.AccountID, &c.SenderName, &c.Amount,
		&c.TransactionID, &c.Proof, &submittedAt, &c.ReceiverID)
	if err != nil {
		return nil, err
	}

	c.SubmittedAt = time.Unix(submittedAt, 0)
	return &c, nil
}

// GetConfirmation returns a confirmation by ID
func (s *Storage) GetConfirmation(confirmationID string) (*Confirmation, error) {
	c, err := scanConfirmation(s.db.QueryRow(
		`SELECT `+confirmationCols+` FROM confirmations WHERE id = ?`, confirmationID,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// ListConfirmations returns all pending confirmations, oldest first
func (s *Storage) ListConfirmations() ([]Confirmation, error) {
	rows, err := s.db.Query(
		`SELECT ` + confirmationCols + ` FROM confirmations ORDER BY submitted_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var confirmations []Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		confirmations = append(confirmations, *c)
	}

	return confirmations, rows.Err()
}

// ListConfirmationsOlderThan returns confirmations submitted before the cutoff
func (s *Storage) ListConfirmationsOlderThan(cutoff time.Time) ([]Confirmation, error) {
	rows, err := s.db.Query(
		`SELECT `+confirmationCols+` FROM confirmations WHERE submitted_at < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var confirmations []Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		confirmations = append(confirmations, *c)
	}

	return confirmations, rows.Err()
}

// DeleteConfirmation removes a confirmation
func (s *Storage) DeleteConfirmation(confirmationID string) error {
	_, err := s.db.Exec("DELETE FROM confirmations WHERE id = ?", confirmationID)
	return err
}

// --- Disputes ---

// CreateDispute escalates an expired confirmation to a dispute
func (s *Storage) CreateDispute(d *Dispute) error {
	_, err := s.db.Exec(
		`INSERT INTO disputes (id, payment_id, account_id, sender_name, amount,
			transaction_id, proof, submitted_at, receiver_id, opened_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PaymentID, d.AccountID, d.SenderName, d.Amount,
		d.TransactionID, d.Proof, d.SubmittedAt.Unix(), d.ReceiverID,
		d.OpenedAt.Unix(), d.Status,
	)
	return err
}

const disputeCols = `id, payment_id, account_id, sender_name, amount,
	transaction_id, proof, submitted_at, receiver_id, opened_at, status`

func scanDispute(row interface{ Scan(...interface{}) error }) (*Dispute, error) {
	var d Dispute
	var submittedAt, openedAt int64

	err := row.Scan(&d.ID, &d.PaymentID, &d.AccountID, &d.SenderName, &d.Amount,
		&d.TransactionID, &d.Proof, &submittedAt, &d.ReceiverID, &openedAt, &d.Status)
	if err != nil {
		return nil, err
	}

	d.SubmittedAt = time.Unix(submittedAt, 0)
	d.OpenedAt = time.Unix(openedAt, 0)
	return &d, nil
}

// GetDispute returns a dispute by ID
func (s *Storage) GetDispute(disputeID string) (*Dispute, error) {
	d, err := scanDispute(s.db.QueryRow(
		`SELECT `+disputeCols+` FROM disputes WHERE id = ?`, disputeID,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

// ListOpenDisputes returns all unresolved disputes, oldest first
func (s *Storage) ListOpenDisputes() ([]Dispute, error) {
	rows, err := s.db.Query(
		`SELECT `+disputeCols+` FROM disputes WHERE status = ? ORDER BY opened_at`,
		DisputeOpen,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, *d)
	}

	return disputes, rows.Err()
}

// ResolveDispute closes a dispute with the given outcome
func (s *Storage) ResolveDispute(disputeID string, status DisputeStatus) error {
	result, err := s.db.Exec(
		"UPDATE disputes SET status = ? WHERE id = ? AND status = ?",
		status, disputeID, DisputeOpen,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOpenDisputesAgainst returns the number of open disputes where the
// account is the receiver
func (s *Storage) CountOpenDisputesAgainst(accountID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM disputes WHERE receiver_id = ? AND status = ?",
		accountID, DisputeOpen,
	).Scan(&count)
	return count, err
}

// --- Queue ---

// Enqueue appends an account to the back of the matching queue
func (s *Storage) Enqueue(accountID int64, displayName string, qualified bool) (*QueueEntrant, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM queue").Scan(&count); err != nil {
		return nil, err
	}

	position := count + 1
	_, err := s.db.Exec(
		"INSERT INTO queue (account_id, display_name, position, qualified) VALUES (?, ?, ?, ?)",
		accountID, displayName, position, boolToInt(qualified),
	)
	if err != nil {
		return nil, err
	}

	return &QueueEntrant{
		AccountID:   accountID,
		DisplayName: displayName,
		Position:    position,
		Qualified:   qualified,
	}, nil
}

// ListQueue returns all entrants ordered by position
func (s *Storage) ListQueue() ([]QueueEntrant, error) {
	rows, err := s.db.Query(
		"SELECT account_id, display_name, position, qualified FROM queue ORDER BY position",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entrants []QueueEntrant
	for rows.Next() {
		var e QueueEntrant
		var qualified int
		if err := rows.Scan(&e.AccountID, &e.DisplayName, &e.Position, &qualified); err != nil {
			return nil, err
		}
		e.Qualified = qualified != 0
		entrants = append(entrants, e)
	}

	return entrants, rows.Err()
}

// ReplaceQueue atomically swaps the whole queue for a new ordering
func (s *Storage) ReplaceQueue(entrants []QueueEntrant) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM queue"); err != nil {
		return err
	}

	for _, e := range entrants {
		_, err := tx.Exec(
			"INSERT INTO queue (account_id, display_name, position, qualified) VALUES (?, ?, ?, ?)",
			e.AccountID, e.DisplayName, e.Position, boolToInt(e.Qualified),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SetEntrantQualified updates an entrant's qualification flag in place
func (s *Storage) SetEntrantQualified(accountID int64, qualified bool) error {
	_, err := s.db.Exec(
		"UPDATE queue SET qualified = ? WHERE account_id = ?",
		boolToInt(qualified), accountID,
	)
	return err
}

// --- Pairs ---

// CreatePair records a binary match. The pair number is monotonic over paid
// and pending pairs together.
func (s *Storage) CreatePair(accountID int64, amount float64, status PairStatus, matchedAt time.Time) (*Pair, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM pairs").Scan(&count); err != nil {
		return nil, err
	}

	pairNumber := count + 1
	result, err := tx.Exec(
		"INSERT INTO pairs (pair_number, account_id, amount, status, matched_at) VALUES (?, ?, ?, ?, ?)",
		pairNumber, accountID, amount, status, matchedAt.Unix(),
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Pair{
		ID:         id,
		PairNumber: pairNumber,
		AccountID:  accountID,
		Amount:     amount,
		Status:     status,
		MatchedAt:  matchedAt,
	}, nil
}

// ListPairs returns all pairs for an account, newest first
func (s *Storage) ListPairs(accountID int64) ([]Pair, error) {
	rows, err := s.db.Query(
		`SELECT id, pair_number, account_id, amount, status, matched_at
		 FROM pairs WHERE account_id = ? ORDER BY pair_number DESC`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPairs(rows)
}

// ListPendingPairs returns an account's held pairs
func (s *Storage) ListPendingPairs(accountID int64) ([]Pair, error) {
	rows, err := s.db.Query(
		`SELECT id, pair_number, account_id, amount, status, matched_at
		 FROM pairs WHERE account_id = ? AND status = ? ORDER BY pair_number`,
		accountID, PairPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPairs(rows)
}

func scanPairs(rows *sql.Rows) ([]Pair, error) {
	var pairs []Pair
	for rows.Next() {
		var p Pair
		var matchedAt int64
		if err := rows.Scan(&p.ID, &p.PairNumber, &p.AccountID, &p.Amount, &p.Status, &matchedAt); err != nil {
			return nil, err
		}
		p.MatchedAt = time.Unix(matchedAt, 0)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ConvertPendingPairs atomically marks all of an account's pending pairs as
// paid and returns the converted pairs
func (s *Storage) ConvertPendingPairs(accountID int64) ([]Pair, error) {
	pairs, err := s.ListPendingPairs(accountID)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	_, err = s.db.Exec(
		"UPDATE pairs SET status = ? WHERE account_id = ? AND status = ?",
		PairPaid, accountID, PairPending,
	)
	if err != nil {
		return nil, err
	}

	for i := range pairs {
		pairs[i].Status = PairPaid
	}
	return pairs, nil
}

// --- Notifications ---

// AddNotification appends a notification to an account's feed
func (s *Storage) AddNotification(accountID int64, typ NotificationType, message string) (*Notification, error) {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		"INSERT INTO notifications (account_id, type, message, created_at) VALUES (?, ?, ?, ?)",
		accountID, typ, message, now,
	)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Notification{
		ID:        id,
		AccountID: accountID,
		Type:      typ,
		Message:   message,
		CreatedAt: time.Unix(now, 0),
	}, nil
}

// ListNotifications returns an account's feed, newest first
func (s *Storage) ListNotifications(accountID int64, limit int) ([]Notification, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, type, message, is_read, created_at
		 FROM notifications WHERE account_id = ? ORDER BY id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		var isRead int
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Type, &n.Message, &isRead, &createdAt); err != nil {
			return nil, err
		}
		n.IsRead = isRead != 0
		n.CreatedAt = time.Unix(createdAt, 0)
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationsRead marks an account's whole feed as read
func (s *Storage) MarkNotificationsRead(accountID int64) error {
	_, err := s.db.Exec(
		"UPDATE notifications SET is_read = 1 WHERE account_id = ?",
		accountID,
	)
	return err
}

// --- Transactions ---

// AddTransaction appends a ledger entry
func (s *Storage) AddTransaction(accountID int64, typ, details string, amount float64, status string) error {
	_, err := s.db.Exec(
		`INSERT INTO transactions (account_id, type, details, amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		accountID, typ, details, amount, status, time.Now().Unix(),
	)
	return err
}

// ListTransactions returns an account's ledger history, newest first
func (s *Storage) ListTransactions(accountID int64, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(
		`SELECT id, account_id, type, details, amount, status, created_at
		 FROM transactions WHERE account_id = ? ORDER BY id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		var t Transaction
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Details, &t.Amount, &t.Status, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

// --- Settings ---

// GetSettings returns the stored system settings
func (s *Storage) GetSettings() (*Settings, error) {
	var st Settings
	var enableCrypto int
	var updatedAt int64

	err := s.db.QueryRow(
		`SELECT referral_amount, binary_amount, upline_amount, admin_fee_amount,
			payment_timer_hours, enable_crypto_verification, service_wallet_addr, updated_at
		 FROM settings WHERE id = 1`,
	).Scan(&st.ReferralAmount, &st.BinaryAmount, &st.UplineAmount, &st.AdminFeeAmount,
		&st.PaymentTimerHours, &enableCrypto, &st.ServiceWalletAddr, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st.EnableCryptoVerification = enableCrypto != 0
	st.UpdatedAt = time.Unix(updatedAt, 0)
	return &st, nil
}

// SaveSettings upserts the system settings
func (s *Storage) SaveSettings(st *Settings) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (id, referral_amount, binary_amount, upline_amount,
			admin_fee_amount, payment_timer_hours, enable_crypto_verification,
			service_wallet_addr, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			referral_amount = excluded.referral_amount,
			binary_amount = excluded.binary_amount,
			upline_amount = excluded.upline_amount,
			admin_fee_amount = excluded.admin_fee_amount,
			payment_timer_hours = excluded.payment_timer_hours,
			enable_crypto_verification = excluded.enable_crypto_verification,
			service_wallet_addr = excluded.service_wallet_addr,
			updated_at = excluded.updated_at`,
		st.ReferralAmount, st.BinaryAmount, st.UplineAmount, st.AdminFeeAmount,
		st.PaymentTimerHours, boolToInt(st.EnableCryptoVerification),
		st.ServiceWalletAddr, time.Now().Unix(),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GenerateUniqueAmount derives a payment amount with a micro-suffix so
// incoming crypto transfers can be matched back to their slot. The suffix is
// hashed from the payment ID, giving every slot in the system its own value
// in a 4-decimal keyspace.
func GenerateUniqueAmount(paymentID string, baseAmount float64) float64 {
	h := fnv.New32a()
	h.Write([]byte(paymentID))
	suffix := float64(h.Sum32()%9999+1) / 10000.0
	return math.Round((baseAmount+suffix)*10000) / 10000
}
