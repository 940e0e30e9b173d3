package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/payplanhq/payplan/internal/sched"
	"github.com/payplanhq/payplan/internal/storage"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidState        = errors.New("invalid payment state")
	ErrCryptoNotConfigured = errors.New("crypto verification not configured")
)

// Notifier appends notifications to an account's feed
type Notifier interface {
	Notify(ctx context.Context, accountID int64, typ storage.NotificationType, message string)
}

// Verifier decides whether a submitted crypto transaction settled on chain.
// Tests inject a stub; production uses the tonapi lookup.
type Verifier interface {
	Verify(ctx context.Context, payment *storage.Payment) (bool, error)
}

// VerifierFunc adapts a function to the Verifier interface
type VerifierFunc func(ctx context.Context, payment *storage.Payment) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, payment *storage.Payment) (bool, error) {
	return f(ctx, payment)
}

// Receiver identifies who a payment slot is owed to
type Receiver struct {
	ID     int64
	Name   string
	Wallet string
}

// Engine drives every activation payment through its lifecycle:
// unpaid -> pending -> confirmed/disputed, plus the crypto verifying path
// and the expiry sweeps.
type Engine struct {
	store    *storage.Storage
	notify   Notifier
	verifier Verifier
	clock    sched.Clock
	log      *slog.Logger

	settleDelay time.Duration // verifying -> resolved
	resetDelay  time.Duration // failed -> unpaid

	mu    sync.Mutex
	locks map[int64]*sync.Mutex // one lock per account aggregate
}

// New creates a new Engine
func New(store *storage.Storage, notify Notifier, verifier Verifier, clock sched.Clock,
	settleDelay, resetDelay time.Duration, log *slog.Logger) *Engine {
	return &Engine{
		store:       store,
		notify:      notify,
		verifier:    verifier,
		clock:       clock,
		log:         log,
		settleDelay: settleDelay,
		resetDelay:  resetDelay,
		locks:       make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) accountLock(accountID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[accountID] = l
	}
	return l
}

// Onboard creates an account and issues its 8 activation slots from the
// current settings. Amounts carry a unique micro-suffix so crypto transfers
// can be matched back to their slot. Settings changes never touch slots
// already issued.
func (e *Engine) Onboard(ctx context.Context, displayName, walletAddr string, telegramChatID int64, receivers map[storage.PaymentType]Receiver) (*storage.Account, error) {
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name required", ErrValidation)
	}

	settings, err := e.store.GetSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	account, err := e.store.CreateAccount(displayName, walletAddr, telegramChatID)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	now := e.clock.Now()
	for _, slot := range storage.SlotOrder {
		recv := receivers[slot]
		amount := settings.AmountFor(slot)
		id := uuid.NewString()

		p := &storage.Payment{
			ID:             id,
			AccountID:      account.ID,
			Type:           slot,
			Amount:         amount,
			Status:         storage.StatusUnpaid,
			AssignedAt:     now,
			ReceiverID:     recv.ID,
			ReceiverName:   recv.Name,
			ReceiverWallet: recv.Wallet,
			UniqueAmount:   storage.GenerateUniqueAmount(id, amount),
		}
		if err := e.store.CreatePayment(p); err != nil {
			return nil, fmt.Errorf("issue %s slot: %w", slot, err)
		}
	}

	e.notify.Notify(ctx, account.ID, storage.NotifySystem,
		fmt.Sprintf("Welcome %s! Complete your %d activation payments to join the plan.",
			displayName, len(storage.SlotOrder)))

	e.log.Info("account onboarded", "account_id", account.ID, "name", displayName)
	return account, nil
}

// Submit records a manual payment claim. Requires a transaction ID and proof;
// only an unpaid slot accepts a submission, so a payment can never hold two
// live confirmations.
func (e *Engine) Submit(ctx context.Context, paymentID, senderName, transactionID, proof string) (*storage.Confirmation, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction ID required", ErrValidation)
	}
	if proof == "" {
		return nil, fmt.Errorf("%w: payment proof required", ErrValidation)
	}

	payment, err := e.store.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}

	lock := e.accountLock(payment.AccountID)
	lock.Lock()
	defer lock.Unlock()

	payment, err = e.store.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != storage.StatusUnpaid {
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidState, payment.Status)
	}

	if err := e.store.MarkPaymentPending(paymentID, transactionID, proof); err != nil {
		return nil, fmt.Errorf("mark pending: %w", err)
	}

	c := &storage.Confirmation{
		ID:            uuid.NewString(),
		PaymentID:     payment.ID,
		AccountID:     payment.AccountID,
		SenderName:    senderName,
		Amount:        payment.Amount,
		TransactionID: transactionID,
		Proof:         proof,
		SubmittedAt:   e.clock.Now(),
		ReceiverID:    payment.ReceiverID,
	}
	if err := e.store.CreateConfirmation(c); err != nil {
		return nil, fmt.Errorf("create confirmation: %w", err)
	}

	if payment.ReceiverID != 0 {
		e.notify.Notify(ctx, payment.ReceiverID, storage.NotifyPaymentReceived,
			fmt.Sprintf("%s submitted a %s payment of $%.2f — please confirm or reject it.",
				senderName, payment.Type, payment.Amount))
	}

	e.log.Info("payment submitted",
		"payment_id", paymentID,
		"account_id", payment.AccountID,
		"type", payment.Type,
	)
	return c, nil
}

// Confirm approves a pending confirmation: the payment completes, the payer
// gets a ledger entry and the receiver is credited.
func (e *Engine) Confirm(ctx context.Context, confirmationID string) error {
	c, err := e.store.GetConfirmation(confirmationID)
	if err != nil {
		return err
	}

	lock := e.accountLock(c.AccountID)
	lock.Lock()
	defer lock.Unlock()

	payment, err := e.store.GetPayment(c.PaymentID)
	if err != nil {
		return err
	}
	if payment.Status != storage.StatusPending {
		return fmt.Errorf("%w: payment is %s", ErrInvalidState, payment.Status)
	}

	if err := e.store.SetPaymentStatus(payment.ID, storage.StatusConfirmed); err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	if err := e.store.DeleteConfirmation(confirmationID); err != nil {
		return fmt.Errorf("delete confirmation: %w", err)
	}

	if err := e.store.AddTransaction(payment.AccountID, "activation",
		fmt.Sprintf("%s payment confirmed", payment.Type), payment.Amount, "completed"); err != nil {
		e.log.Error("ledger entry", "error", err)
	}

	e.notify.Notify(ctx, payment.AccountID, storage.NotifyPaymentConfirmed,
		fmt.Sprintf("Your %s payment of $%.2f was confirmed.", payment.Type, payment.Amount))

	// Sponsor commission: the receiving side earns the slot amount
	if payment.ReceiverID != 0 {
		if err := e.store.AddTransaction(payment.ReceiverID, "commission",
			fmt.Sprintf("%s commission from %s", payment.Type, c.SenderName),
			payment.Amount, "completed"); err != nil {
			e.log.Error("commission ledger entry", "error", err)
		}
		e.notify.Notify(ctx, payment.ReceiverID, storage.NotifyIncome,
			fmt.Sprintf("You received a $%.2f %s commission from %s.",
				payment.Amount, payment.Type, c.SenderName))
	}

	e.log.Info("payment confirmed", "payment_id", payment.ID, "confirmation_id", confirmationID)
	return nil
}

// Reject declines a pending confirmation. The slot resets to unpaid with a
// fresh timer; the recipient does not change.
func (e *Engine) Reject(ctx context.Context, confirmationID string) error {
	c, err := e.store.GetConfirmation(confirmationID)
	if err != nil {
		return err
	}

	lock := e.accountLock(c.AccountID)
	lock.Lock()
	defer lock.Unlock()

	payment, err := e.store.GetPayment(c.PaymentID)
	if err != nil {
		return err
	}
	if payment.Status != storage.StatusPending {
		return fmt.Errorf("%w: payment is %s", ErrInvalidState, payment.Status)
	}

	if err := e.store.ResetPaymentUnpaid(payment.ID, e.clock.Now()); err != nil {
		return fmt.Errorf("reset payment: %w", err)
	}
	if err := e.store.DeleteConfirmation(confirmationID); err != nil {
		return fmt.Errorf("delete confirmation: %w", err)
	}

	e.notify.Notify(ctx, payment.AccountID, storage.NotifySystem,
		fmt.Sprintf("Your %s payment was rejected. Submit again within the payment window.",
			payment.Type))

	e.log.Info("payment rejected", "payment_id", payment.ID, "confirmation_id", confirmationID)
	return nil
}

// ExpirePayments sweeps unpaid slots past the payment window into expired.
// Admin fee slots never expire. No dispute is raised on this path; the slot
// is simply lost to the participant.
func (e *Engine) ExpirePayments(ctx context.Context) error {
	settings, err := e.store.GetSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	cutoff := e.clock.Now().Add(-settings.Timer())
	payments, err := e.store.ListUnpaidOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("list expirable: %w", err)
	}

	for _, p := range payments {
		lock := e.accountLock(p.AccountID)
		lock.Lock()

		if err := e.store.SetPaymentStatus(p.ID, storage.StatusExpired); err != nil {
			lock.Unlock()
			e.log.Error("expire payment", "payment_id", p.ID, "error", err)
			continue
		}

		e.notify.Notify(ctx, p.AccountID, storage.NotifySystem,
			fmt.Sprintf("Your %s payment slot expired after %d hours without payment.",
				p.Type, settings.PaymentTimerHours))
		lock.Unlock()

		e.log.Info("payment expired", "payment_id", p.ID, "type", p.Type)
	}

	return nil
}

// ExpireConfirmations sweeps stale pending confirmations. Upline/matrix
// confirmations escalate to disputes and put the receiver on hold; referral,
// binary and admin confirmations silently reset their slot instead.
func (e *Engine) ExpireConfirmations(ctx context.Context) error {
	settings, err := e.store.GetSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	cutoff := e.clock.Now().Add(-settings.Timer())
	confirmations, err := e.store.ListConfirmationsOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("list stale confirmations: %w", err)
	}

	for _, c := range confirmations {
		if err := e.expireConfirmation(ctx, &c); err != nil {
			e.log.Error("expire confirmation", "confirmation_id", c.ID, "error", err)
		}
	}

	return nil
}

func (e *Engine) expireConfirmation(ctx context.Context, c *storage.Confirmation) error {
	lock := e.accountLock(c.AccountID)
	lock.Lock()
	defer lock.Unlock()

	payment, err := e.store.GetPayment(c.PaymentID)
	if err != nil {
		return err
	}

	if err := e.store.DeleteConfirmation(c.ID); err != nil {
		return fmt.Errorf("delete confirmation: %w", err)
	}

	if !payment.Type.IsUpline() {
		// Silent reset, no arbitration for referral/binary/admin slots
		if err := e.store.ResetPaymentUnpaid(payment.ID, e.clock.Now()); err != nil {
			return fmt.Errorf("reset payment: %w", err)
		}

		e.notify.Notify(ctx, c.AccountID, storage.NotifySystem,
			fmt.Sprintf("Your %s payment confirmation expired unanswered. The slot was reset — submit again.",
				payment.Type))

		e.log.Info("confirmation expired, slot reset",
			"confirmation_id", c.ID, "payment_id", payment.ID, "type", payment.Type)
		return nil
	}

	d := &storage.Dispute{
		ID:            uuid.NewString(),
		PaymentID:     c.PaymentID,
		AccountID:     c.AccountID,
		SenderName:    c.SenderName,
		Amount:        c.Amount,
		TransactionID: c.TransactionID,
		Proof:         c.Proof,
		SubmittedAt:   c.SubmittedAt,
		ReceiverID:    c.ReceiverID,
		OpenedAt:      e.clock.Now(),
		Status:        storage.DisputeOpen,
	}
	if err := e.store.CreateDispute(d); err != nil {
		return fmt.Errorf("create dispute: %w", err)
	}
	if err := e.store.SetPaymentStatus(payment.ID, storage.StatusDisputed); err != nil {
		return fmt.Errorf("mark disputed: %w", err)
	}

	if c.ReceiverID != 0 {
		if err := e.store.SetAccountOnHold(c.ReceiverID, true); err != nil {
			e.log.Error("set on hold", "account_id", c.ReceiverID, "error", err)
		}
		e.notify.Notify(ctx, c.ReceiverID, storage.NotifyError,
			fmt.Sprintf("A %s payment you received went unconfirmed and is now disputed. Your account is on hold until an admin resolves it.",
				payment.Type))
	}

	e.notify.Notify(ctx, c.AccountID, storage.NotifySystem,
		fmt.Sprintf("Your %s payment confirmation was not answered in time and has been escalated to a dispute.",
			payment.Type))

	e.log.Info("confirmation escalated to dispute",
		"dispute_id", d.ID, "payment_id", payment.ID, "receiver_id", c.ReceiverID)
	return nil
}

// ResolveDispute settles a dispute in favor of the sender (payment confirmed)
// or the receiver (payment reset and re-timed). The receiver's hold is lifted
// once no open disputes remain against them.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID string, forSender bool) error {
	d, err := e.store.GetDispute(disputeID)
	if err != nil {
		return err
	}
	if d.Status != storage.DisputeOpen {
		return fmt.Errorf("%w: dispute already resolved", ErrInvalidState)
	}

	lock := e.accountLock(d.AccountID)
	lock.Lock()
	defer lock.Unlock()

	outcome := storage.DisputeForReceiver
	if forSender {
		outcome = storage.DisputeForSender
	}
	if err := e.store.ResolveDispute(disputeID, outcome); err != nil {
		return err
	}

	if forSender {
		if err := e.store.SetPaymentStatus(d.PaymentID, storage.StatusConfirmed); err != nil {
			return fmt.Errorf("confirm disputed payment: %w", err)
		}
		if err := e.store.AddTransaction(d.AccountID, "activation",
			"disputed payment resolved in your favor", d.Amount, "completed"); err != nil {
			e.log.Error("ledger entry", "error", err)
		}
		e.notify.Notify(ctx, d.AccountID, storage.NotifyPaymentConfirmed,
			fmt.Sprintf("Your disputed payment of $%.2f was resolved in your favor and confirmed.", d.Amount))
	} else {
		if err := e.store.ResetPaymentUnpaid(d.PaymentID, e.clock.Now()); err != nil {
			return fmt.Errorf("reset disputed payment: %w", err)
		}
		e.notify.Notify(ctx, d.AccountID, storage.NotifySystem,
			"Your dispute was resolved in the receiver's favor. The payment slot was reset — submit again.")
	}

	if d.ReceiverID != 0 {
		open, err := e.store.CountOpenDisputesAgainst(d.ReceiverID)
		if err == nil && open == 0 {
			if err := e.store.SetAccountOnHold(d.ReceiverID, false); err != nil {
				e.log.Error("clear on hold", "account_id", d.ReceiverID, "error", err)
			}
			e.notify.Notify(ctx, d.ReceiverID, storage.NotifySystem,
				"All disputes against your account are resolved. The hold has been lifted.")
		}
	}

	e.log.Info("dispute resolved", "dispute_id", disputeID, "for_sender", forSender)
	return nil
}
