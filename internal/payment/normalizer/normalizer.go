// Package normalizer maps each gateway's native status vocabulary to the canonical lifecycle.
package normalizer

import (
	"strings"

	"github.com/tair/reseller-billing/internal/payment/domain"
)

var tables = map[domain.Gateway]map[string]domain.CanonicalStatus{
	domain.GatewayStripe: {
		"checkout.session.completed":               domain.StatusCompleted,
		"checkout.session.async_payment_succeeded": domain.StatusCompleted,
		"checkout.session.async_payment_failed":    domain.StatusFailed,
		"checkout.session.expired":                 domain.StatusExpired,
		"payment_intent.succeeded":                 domain.StatusCompleted,
		"payment_intent.processing":                domain.StatusConfirming,
		"payment_intent.payment_failed":            domain.StatusFailed,
		"payment_intent.canceled":                  domain.StatusCancelled,
		// checkout session states returned by status polls
		"open":     domain.StatusPending,
		"complete": domain.StatusConfirming,
	},
	domain.GatewayCryptomus: {
		"paid":                 domain.StatusCompleted,
		"paid_over":            domain.StatusCompleted,
		"wrong_amount":         domain.StatusConfirming,
		"wrong_amount_waiting": domain.StatusConfirming,
		"process":              domain.StatusConfirming,
		"confirm_check":        domain.StatusConfirming,
		"check":                domain.StatusPending,
		"cancel":               domain.StatusCancelled,
		"fail":                 domain.StatusFailed,
		"system_fail":          domain.StatusFailed,
	},
	domain.GatewayPayGate: {
		"paid":   domain.StatusCompleted,
		"unpaid": domain.StatusPending,
	},
	domain.GatewayPlisio: {
		"new":              domain.StatusPending,
		"pending":          domain.StatusConfirming,
		"pending internal": domain.StatusConfirming,
		"completed":        domain.StatusCompleted,
		"mismatch":         domain.StatusCompleted,
		"expired":          domain.StatusExpired,
		"error":            domain.StatusFailed,
		"cancelled":        domain.StatusCancelled,
	},
	domain.GatewayHoodPay: {
		"pending":          domain.StatusPending,
		"awaiting_payment": domain.StatusPending,
		"processing":       domain.StatusConfirming,
		"completed":        domain.StatusCompleted,
		"expired":          domain.StatusExpired,
		"cancelled":        domain.StatusCancelled,
		"failed":           domain.StatusFailed,
	},
	domain.GatewayChangeNow: {
		"new":        domain.StatusPending,
		"waiting":    domain.StatusPending,
		"confirming": domain.StatusConfirming,
		"exchanging": domain.StatusConfirming,
		"sending":    domain.StatusConfirming,
		"verifying":  domain.StatusConfirming,
		"finished":   domain.StatusCompleted,
		"failed":     domain.StatusFailed,
		"refunded":   domain.StatusFailed,
		"expired":    domain.StatusExpired,
	},
	domain.GatewayNOWPayments: {
		"waiting":        domain.StatusPending,
		"confirming":     domain.StatusConfirming,
		"sending":        domain.StatusConfirming,
		"partially_paid": domain.StatusConfirming,
		"confirmed":      domain.StatusCompleted,
		"finished":       domain.StatusCompleted,
		"failed":         domain.StatusFailed,
		"expired":        domain.StatusExpired,
	},
	domain.GatewayVolet: {
		"pending":   domain.StatusPending,
		"process":   domain.StatusConfirming,
		"confirmed": domain.StatusCompleted,
		"completed": domain.StatusCompleted,
		"canceled":  domain.StatusCancelled,
		"cancelled": domain.StatusCancelled,
		"failed":    domain.StatusFailed,
	},
}

// Map translates a native status. The second result is false for values the
// gateway table does not know.
func Map(gateway domain.Gateway, native string) (domain.CanonicalStatus, bool) {
	table, ok := tables[gateway]
	if !ok {
		return "", false
	}
	s, ok := table[strings.ToLower(strings.TrimSpace(native))]
	return s, ok
}

// Resolve translates a native status, falling back to current for unknown values
// so an unparseable status neither completes nor fails a payment.
func Resolve(gateway domain.Gateway, native string, current domain.CanonicalStatus) domain.CanonicalStatus {
	if s, ok := Map(gateway, native); ok {
		return s
	}
	return current
}
