// Package trade implements the trade ledger: sellers list goods with a
// per-unit cost, a quantity, and up to ten logistics options. Inventory is
// reserved through the store so concurrent purchases can never oversell.
package trade

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrTradeNotFound            = errors.New("trade: not found")
	ErrTradeInactive            = errors.New("trade: not active")
	ErrUnauthorized             = errors.New("trade: caller is not the seller")
	ErrInsufficientQuantity     = errors.New("trade: requested quantity exceeds remaining")
	ErrInvalidLogisticsProvider = errors.New("trade: provider not in logistics options")
	ErrNoLogisticsOptions       = errors.New("trade: at least one logistics option required")
	ErrTooManyOptions           = errors.New("trade: too many logistics options")
	ErrInvalidCost              = errors.New("trade: costs must be greater than zero")
	ErrInvalidQuantity          = errors.New("trade: quantity must be greater than zero")
)

// MaxLogisticsOptions bounds the provider list per trade.
const MaxLogisticsOptions = 10

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// LogisticsOption pairs a registered provider with its per-unit delivery cost.
type LogisticsOption struct {
	Provider string `json:"provider"`
	Cost     uint64 `json:"cost"`
}

// Trade is a seller's listing. RemainingQuantity only moves through Reserve
// and Restore; Active is an explicit seller-controlled flag, deliberately not
// derived from quantity, so a seller can pause a listing with stock left.
type Trade struct {
	TradeID           uint64            `json:"tradeId"`
	Seller            string            `json:"seller"`
	LogisticsOptions  []LogisticsOption `json:"logisticsOptions"`
	ProductCost       uint64            `json:"productCost"`
	TotalQuantity     uint64            `json:"totalQuantity"`
	RemainingQuantity uint64            `json:"remainingQuantity"`
	Active            bool              `json:"active"`
	PurchaseIDs       []uint64          `json:"purchaseIds"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// OptionCost returns the per-unit cost for a provider, or
// ErrInvalidLogisticsProvider when the provider is not listed.
func (t *Trade) OptionCost(provider string) (uint64, error) {
	for _, opt := range t.LogisticsOptions {
		if opt.Provider == provider {
			return opt.Cost, nil
		}
	}
	return 0, ErrInvalidLogisticsProvider
}
