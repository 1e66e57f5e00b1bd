package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// CanTransition описывает автомат платежа:
// pending -> completed | failed, completed -> refunded.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return to == PaymentCompleted || to == PaymentFailed
	case PaymentCompleted:
		return to == PaymentRefunded
	}
	return false
}

type Payment struct {
	ID                uuid.UUID     `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID     `gorm:"type:uuid;not null;index:idx_payment_user_course,priority:1"`
	CourseID          uuid.UUID     `gorm:"type:uuid;not null;index:idx_payment_user_course,priority:2"`
	Course            *Course       `gorm:"foreignKey:CourseID" json:",omitempty"`
	AmountCents       int64         `gorm:"not null"`
	Currency          string        `gorm:"size:3;not null;default:'usd'"`
	Status            PaymentStatus `gorm:"size:20;not null;default:'pending';index"`
	CheckoutSessionID *string       `gorm:"size:255;uniqueIndex"`
	PaymentIntentID   *string       `gorm:"size:255;index"`
	FailureReason     string

	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	CompletedAt *time.Time
	RefundedAt  *time.Time
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PaymentPending
	}
	return nil
}

// WebhookEvent - сырое уведомление процессора, event_id - ключ дедупликации.
type WebhookEvent struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	EventID         string         `gorm:"size:255;uniqueIndex;not null"`
	EventType       string         `gorm:"size:255;index;not null"`
	Payload         datatypes.JSON `gorm:"not null"`
	Processed       bool           `gorm:"not null;default:false;index"`
	ProcessedAt     *time.Time
	ProcessingError string
	CreatedAt       time.Time
}

func (e *WebhookEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Типы событий процессора, на которые реагирует сверка.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired        = "checkout.session.expired"
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded         = "charge.refunded"
)

// CheckoutSession - то, что сверке нужно знать о сессии оплаты.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          string // open, complete, expired
	PaymentStatus   string // paid, unpaid, no_payment_required
	PaymentIntentID string
}

func (s *CheckoutSession) Paid() bool     { return s.PaymentStatus == "paid" }
func (s *CheckoutSession) Open() bool     { return s.Status == "open" }
func (s *CheckoutSession) Complete() bool { return s.Status == "complete" }

// CheckoutRequest - параметры создания сессии оплаты.
type CheckoutRequest struct {
	AmountCents   int64
	Currency      string
	ProductName   string
	Description   string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

// ProcessorEvent - проверенное уведомление процессора.
// ObjectID - id объекта события (сессия или payment intent), а не id нашего платежа.
type ProcessorEvent struct {
	ID              string
	Type            string
	ObjectID        string
	PaymentStatus   string
	PaymentIntentID string
	Metadata        map[string]string
	Payload         []byte
}
