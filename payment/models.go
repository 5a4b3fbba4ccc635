// Package payment defines the contract supplied by the payment source.
//
// The core treats payment processing as an external collaborator: it
// receives a payment record once the gateway reports it completed and
// must tolerate at-least-once delivery of that event.
package payment

import (
	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/types"
)

// Status is the gateway-reported state of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment is the confirmed-payment event consumed by token issuance.
// Only completed payments are accepted.
type Payment struct {
	types.Entity
	ID         id.PaymentID  `json:"id"`
	PropertyID id.PropertyID `json:"property_id"`
	Amount     types.Money   `json:"amount"`
	Status     Status        `json:"status"`
	Reference  string        `json:"reference,omitempty"` // gateway transaction reference
}
