package kafka

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentCompletedEvent is published once per payment record, by the caller
// that flipped it to completed
type PaymentCompletedEvent struct {
	EventID               string          `json:"event_id"`
	EventType             string          `json:"event_type"`
	PaymentID             uint            `json:"payment_id"`
	OrderNumber           string          `json:"order_number"`
	Purpose               string          `json:"purpose"`
	UserID                *uint           `json:"user_id,omitempty"`
	Gateway               string          `json:"gateway"`
	ExternalRef           string          `json:"external_ref"`
	FinalAmount           decimal.Decimal `json:"final_amount"`
	Currency              string          `json:"currency"`
	CompletedAt           time.Time       `json:"completed_at"`
	SubscriptionActivated bool            `json:"subscription_activated"`
	Timestamp             time.Time       `json:"timestamp"`
}

// RenewalFailedEvent reports a subscription whose renewal invoice could not be created
type RenewalFailedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	PaymentID   uint      `json:"payment_id"`
	OrderNumber string    `json:"order_number"`
	UserID      *uint     `json:"user_id,omitempty"`
	Gateway     string    `json:"gateway"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event types
const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypeRenewalFailed    = "subscription.renewal_failed"
)

// Kafka topics
const (
	TopicPaymentCompleted = "payment-completed"
	TopicRenewalFailed    = "subscription-renewal-failed"
)
