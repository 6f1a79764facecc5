// Package purchase implements the purchase lifecycle state machine.
//
// Flow:
//  1. Buyer buys against a trade → inventory reserved, payment custodied (Paid)
//  2. Buyer confirms delivery → funds released to seller and provider (Delivered)
//  3. Buyer cancels before delivery → full refund, fee included (Cancelled)
//  4. Buyer raises a dispute → funds frozen (Disputed)
//  5. Admin resolves → refund or release (Resolved)
//
// Delivered, Cancelled and Resolved are terminal: no transition ever leaves
// them, and nothing re-enters Paid.
package purchase

import (
	"errors"
	"math"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrPurchaseNotFound         = errors.New("purchase: not found")
	ErrUnauthorized             = errors.New("purchase: caller is not the buyer")
	ErrBuyerIsSeller            = errors.New("purchase: buyer cannot be the seller")
	ErrInvalidPaymentAmount     = errors.New("purchase: tendered amount does not match total")
	ErrAmountOverflow           = errors.New("purchase: total amount overflows")
	ErrPurchaseAlreadyDelivered = errors.New("purchase: already delivered")
	ErrPurchaseNotDelivered     = errors.New("purchase: not delivered")
	ErrPurchaseCancelled        = errors.New("purchase: already cancelled")
	ErrPurchaseResolved         = errors.New("purchase: already resolved")
	ErrPurchaseDisputed         = errors.New("purchase: under dispute")
	ErrDisputeAlreadyExists     = errors.New("purchase: dispute already exists")
	ErrNoDisputeFound           = errors.New("purchase: no dispute found")
	ErrInvalidOutcome           = errors.New("purchase: invalid resolution outcome")
)

// -----------------------------------------------------------------------------
// Fee math
// -----------------------------------------------------------------------------

// Escrow fee: 250 basis points (2.5%) of the product value, floored.
const (
	EscrowFeeBps = 250
	BasisPoints  = 10000
)

// EscrowFee computes floor(quantity * productCost * 250 / 10000).
func EscrowFee(quantity, productCost uint64) uint64 {
	return quantity * productCost * EscrowFeeBps / BasisPoints
}

// TotalAmount computes the exact figure a buyer must tender:
// quantity*(product+logistics) plus the escrow fee on top.
func TotalAmount(quantity, productCost, logisticsCost uint64) uint64 {
	return quantity*(productCost+logisticsCost) + EscrowFee(quantity, productCost)
}

// PriceOverflows reports whether TotalAmount for these terms would wrap
// uint64. The fee intermediate quantity*productCost*EscrowFeeBps is the
// widest product, so each factor chain is bounded before the arithmetic in
// TotalAmount runs.
func PriceOverflows(quantity, productCost, logisticsCost uint64) bool {
	if quantity == 0 {
		return false
	}
	if productCost > math.MaxUint64/EscrowFeeBps/quantity {
		return true
	}
	unit := productCost + logisticsCost
	if unit < productCost {
		return true
	}
	if unit != 0 && quantity > math.MaxUint64/unit {
		return true
	}
	return quantity*unit > math.MaxUint64-EscrowFee(quantity, productCost)
}

// -----------------------------------------------------------------------------
// State machine
// -----------------------------------------------------------------------------

// State is the purchase lifecycle state.
type State string

const (
	StatePaid      State = "paid"      // funds custodied, awaiting delivery
	StateDelivered State = "delivered" // buyer confirmed, funds released
	StateDisputed  State = "disputed"  // funds frozen pending arbitration
	StateResolved  State = "resolved"  // admin arbitrated
	StateCancelled State = "cancelled" // buyer cancelled, full refund
)

// Resolution outcomes for a disputed purchase.
type Outcome string

const (
	OutcomeRefundBuyer Outcome = "refund"  // full refund, quantity restored
	OutcomeRelease     Outcome = "release" // pay seller and provider, withhold fee
)

// Purchase is one buyer's order against a trade. Unit costs are captured at
// purchase time so later trade edits cannot change what this buyer owes or
// what the parties are paid.
type Purchase struct {
	PurchaseID        uint64     `json:"purchaseId"`
	TradeID           uint64     `json:"tradeId"`
	Buyer             string     `json:"buyer"`
	Seller            string     `json:"seller"`
	LogisticsProvider string     `json:"logisticsProvider"`
	Quantity          uint64     `json:"quantity"`
	UnitProductCost   uint64     `json:"unitProductCost"`
	UnitLogisticsCost uint64     `json:"unitLogisticsCost"`
	EscrowFee         uint64     `json:"escrowFee"`
	TotalAmount       uint64     `json:"totalAmount"`
	State             State      `json:"state"`
	Resolution        Outcome    `json:"resolution,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	DisputedAt        *time.Time `json:"disputedAt,omitempty"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true if no further transition is permitted.
func (p *Purchase) IsTerminal() bool {
	switch p.State {
	case StateDelivered, StateCancelled, StateResolved:
		return true
	}
	return false
}

// terminalErr maps a terminal state to its "already X" error.
func (p *Purchase) terminalErr() error {
	switch p.State {
	case StateDelivered:
		return ErrPurchaseAlreadyDelivered
	case StateCancelled:
		return ErrPurchaseCancelled
	case StateResolved:
		return ErrPurchaseResolved
	}
	return nil
}
