package engine

import (
	"context"
	"fmt"

	"github.com/payplanhq/payplan/internal/storage"
)

// AutoVerify runs the crypto payment path: the slot moves to verifying, and
// after the settle delay the verifier decides the outcome. Success confirms
// the payment; failure parks it in failed and then resets it to unpaid after
// the grace period, with the transaction ID cleared.
//
// Fails closed: if crypto verification is disabled or the service wallet is
// missing, no verify attempt is made. An error notification is emitted and
// the slot never leaves unpaid.
func (e *Engine) AutoVerify(ctx context.Context, paymentID, transactionID string) error {
	if transactionID == "" {
		return fmt.Errorf("%w: transaction ID required", ErrValidation)
	}

	payment, err := e.store.GetPayment(paymentID)
	if err != nil {
		return err
	}

	settings, err := e.store.GetSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if !settings.EnableCryptoVerification || settings.ServiceWalletAddr == "" || e.verifier == nil {
		e.notify.Notify(ctx, payment.AccountID, storage.NotifyError,
			"Crypto verification is not available. Use a manual payment method instead.")
		e.log.Warn("auto-verify refused: not configured", "payment_id", paymentID)
		return ErrCryptoNotConfigured
	}

	lock := e.accountLock(payment.AccountID)
	lock.Lock()
	payment, err = e.store.GetPayment(paymentID)
	if err != nil {
		lock.Unlock()
		return err
	}
	if payment.Status != storage.StatusUnpaid {
		lock.Unlock()
		return fmt.Errorf("%w: payment is %s", ErrInvalidState, payment.Status)
	}
	if err := e.store.MarkPaymentVerifying(paymentID, transactionID); err != nil {
		lock.Unlock()
		return fmt.Errorf("mark verifying: %w", err)
	}
	lock.Unlock()

	e.log.Info("verifying crypto payment", "payment_id", paymentID, "tx", transactionID)

	// Simulated chain settle latency; the slot must not stay in verifying if
	// the process is shutting down.
	select {
	case <-ctx.Done():
		lock.Lock()
		e.revertVerification(context.Background(), paymentID)
		lock.Unlock()
		return ctx.Err()
	case <-e.clock.After(e.settleDelay):
	}

	payment.TransactionID = transactionID
	ok, verr := e.verifier.Verify(ctx, payment)
	if verr != nil {
		e.log.Error("chain lookup failed", "payment_id", paymentID, "error", verr)
		ok = false
	}

	lock.Lock()

	current, err := e.store.GetPayment(paymentID)
	if err != nil {
		lock.Unlock()
		return err
	}
	if current.Status != storage.StatusVerifying {
		lock.Unlock()
		return fmt.Errorf("%w: payment is %s", ErrInvalidState, current.Status)
	}

	if ok {
		if err := e.store.SetPaymentStatus(paymentID, storage.StatusConfirmed); err != nil {
			lock.Unlock()
			return fmt.Errorf("confirm payment: %w", err)
		}
		if err := e.store.AddTransaction(payment.AccountID, "activation",
			fmt.Sprintf("%s payment auto-verified on chain", payment.Type),
			payment.Amount, "completed"); err != nil {
			e.log.Error("ledger entry", "error", err)
		}
		e.notify.Notify(ctx, payment.AccountID, storage.NotifyPaymentConfirmed,
			fmt.Sprintf("Your %s payment of $%.2f was verified on chain.", payment.Type, payment.Amount))
		lock.Unlock()

		e.log.Info("crypto payment verified", "payment_id", paymentID)
		return nil
	}

	if err := e.store.SetPaymentStatus(paymentID, storage.StatusFailed); err != nil {
		lock.Unlock()
		return fmt.Errorf("mark failed: %w", err)
	}
	e.notify.Notify(ctx, payment.AccountID, storage.NotifyError,
		fmt.Sprintf("Verification of your %s payment failed. The slot will reset shortly — check the transaction and try again.",
			payment.Type))
	lock.Unlock()
	e.log.Info("crypto verification failed", "payment_id", paymentID)

	// Grace period before the slot is usable again
	select {
	case <-ctx.Done():
	case <-e.clock.After(e.resetDelay):
	}

	lock.Lock()
	e.revertVerification(ctx, paymentID)
	lock.Unlock()
	return nil
}

// revertVerification puts a verifying/failed slot back to unpaid with its
// transaction ID cleared and the timer restarted.
func (e *Engine) revertVerification(ctx context.Context, paymentID string) {
	payment, err := e.store.GetPayment(paymentID)
	if err != nil {
		e.log.Error("revert verification", "payment_id", paymentID, "error", err)
		return
	}
	if payment.Status != storage.StatusVerifying && payment.Status != storage.StatusFailed {
		return
	}

	if err := e.store.ResetPaymentUnpaid(paymentID, e.clock.Now()); err != nil {
		e.log.Error("revert verification", "payment_id", paymentID, "error", err)
	}
}
