// Package registry implements role registration for protocol participants.
// Every mutation in the protocol is gated on the caller holding the right
// role here: sellers list trades, buyers purchase, logistics providers are
// referenced as delivery options.
package registry

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	ErrAlreadyRegistered = errors.New("registry: already registered")
	ErrNotRegistered     = errors.New("registry: not registered")
	ErrInvalidAddress    = errors.New("registry: invalid wallet address")
	ErrPurchaseRefsFull  = errors.New("registry: buyer purchase list at capacity")
)

// MaxBuyerPurchaseRefs bounds the purchase ids tracked per buyer. The 1001st
// purchase reference is rejected; the purchase itself must not go through.
const MaxBuyerPurchaseRefs = 1000

// -----------------------------------------------------------------------------
// Roles
// -----------------------------------------------------------------------------

// Role identifies what a registered account is allowed to do.
type Role string

const (
	RoleSeller    Role = "seller"
	RoleBuyer     Role = "buyer"
	RoleLogistics Role = "logistics"
)

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// SellerAccount is a registered seller identity. Registration is permanent;
// there is no deregistration path.
type SellerAccount struct {
	Owner      string    `json:"owner"`
	Registered bool      `json:"registered"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BuyerAccount is a registered buyer identity plus the ordered list of
// purchase ids the buyer has made.
type BuyerAccount struct {
	Owner       string    `json:"owner"`
	Registered  bool      `json:"registered"`
	PurchaseIDs []uint64  `json:"purchaseIds"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProviderAccount is a registered logistics provider identity.
type ProviderAccount struct {
	Owner      string    `json:"owner"`
	Registered bool      `json:"registered"`
	CreatedAt  time.Time `json:"createdAt"`
}
