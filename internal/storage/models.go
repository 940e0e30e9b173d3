package storage

import "time"

// PaymentType identifies one of the 8 activation slots every account carries.
type PaymentType string

const (
	PaymentReferral PaymentType = "referral"
	PaymentBinary   PaymentType = "binary"
	PaymentUpline1  PaymentType = "upline1"
	PaymentUpline2  PaymentType = "upline2"
	PaymentUpline3  PaymentType = "upline3"
	PaymentUpline4  PaymentType = "upline4"
	PaymentUpline5  PaymentType = "upline5"
	PaymentAdmin    PaymentType = "admin"
)

// SlotOrder is the canonical issue order of activation slots.
var SlotOrder = []PaymentType{
	PaymentReferral, PaymentBinary,
	PaymentUpline1, PaymentUpline2, PaymentUpline3, PaymentUpline4, PaymentUpline5,
	PaymentAdmin,
}

// IsUpline reports whether t is a matrix/upline slot. Expired confirmations on
// these escalate to disputes; the other slot types silently reset.
func (t PaymentType) IsUpline() bool {
	switch t {
	case PaymentUpline1, PaymentUpline2, PaymentUpline3, PaymentUpline4, PaymentUpline5:
		return true
	}
	return false
}

type PaymentStatus string

const (
	StatusUnpaid    PaymentStatus = "unpaid"
	StatusPending   PaymentStatus = "pending"
	StatusVerifying PaymentStatus = "verifying"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusFailed    PaymentStatus = "failed"
	StatusExpired   PaymentStatus = "expired"
	StatusDisputed  PaymentStatus = "disputed"
)

// Account is one participant in the plan
type Account struct {
	ID             int64
	DisplayName    string
	WalletAddr     string
	TelegramChatID int64 // 0 disables telegram delivery for this account
	Qualified      bool  // one paid direct referral on each leg, supplied externally
	OnHold         bool  // set while the account has an open dispute against it
	CreatedAt      time.Time
}

// Payment is a single activation slot owed by an account
type Payment struct {
	ID             string
	AccountID      int64
	Type           PaymentType
	Amount         float64
	Status         PaymentStatus
	TransactionID  string
	Proof          string
	AssignedAt     time.Time // when the slot was (re)issued; expiry counts from here
	ReceiverID     int64     // 0 means the system/admin wallet
	ReceiverName   string
	ReceiverWallet string
	UniqueAmount   float64 // micro-amount for matching on-chain transfers
}

// Confirmation is a pending claim that a payment was sent
type Confirmation struct {
	ID            string
	PaymentID     string
	AccountID     int64 // payer
	SenderName    string
	Amount        float64
	TransactionID string
	Proof         string
	SubmittedAt   time.Time
	ReceiverID    int64
}

// DisputeStatus tracks arbitration outcome
type DisputeStatus string

const (
	DisputeOpen        DisputeStatus = "open"
	DisputeForSender   DisputeStatus = "resolved_sender"
	DisputeForReceiver DisputeStatus = "resolved_receiver"
)

// Dispute is a confirmation that expired without receiver action
type Dispute struct {
	ID            string
	PaymentID     string
	AccountID     int64
	SenderName    string
	Amount        float64
	TransactionID string
	Proof         string
	SubmittedAt   time.Time
	ReceiverID    int64
	OpenedAt      time.Time
	Status        DisputeStatus
}

// QueueEntrant is an account's position in the global binary matching queue
type QueueEntrant struct {
	AccountID   int64
	DisplayName string
	Position    int // 1-based, contiguous, unique
	Qualified   bool
}

type PairStatus string

const (
	PairPaid    PairStatus = "paid"
	PairPending PairStatus = "pending"
)

// Pair is a resolved binary match; pending pairs hold income until the
// earning account qualifies
type Pair struct {
	ID         int64
	PairNumber int
	AccountID  int64
	Amount     float64
	Status     PairStatus
	MatchedAt  time.Time
}

type NotificationType string

const (
	NotifyIncome           NotificationType = "income"
	NotifyReferral         NotificationType = "referral"
	NotifyPaymentConfirmed NotificationType = "payment_confirmed"
	NotifyPaymentReceived  NotificationType = "payment_received"
	NotifySystem           NotificationType = "system"
	NotifyError            NotificationType = "error"
)

// Notification is one entry in an account's feed
type Notification struct {
	ID        int64
	AccountID int64
	Type      NotificationType
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

// Transaction is one append-only ledger entry
type Transaction struct {
	ID        int64
	AccountID int64
	Type      string
	Details   string
	Amount    float64
	Status    string
	CreatedAt time.Time
}

// Settings are the admin-tunable system parameters. Changes affect newly
// issued payments only, never in-flight ones.
type Settings struct {
	ReferralAmount           float64
	BinaryAmount             float64
	UplineAmount             float64
	AdminFeeAmount           float64
	PaymentTimerHours        int
	EnableCryptoVerification bool
	ServiceWalletAddr        string
	UpdatedAt                time.Time
}

// AmountFor returns the configured amount for a slot type.
func (s *Settings) AmountFor(t PaymentType) float64 {
	switch t {
	case PaymentReferral:
		return s.ReferralAmount
	case PaymentBinary:
		return s.BinaryAmount
	case PaymentAdmin:
		return s.AdminFeeAmount
	default:
		return s.UplineAmount
	}
}

// Timer returns the payment window as a duration.
func (s *Settings) Timer() time.Duration {
	return time.Duration(s.PaymentTimerHours) * time.Hour
}
