package registry

import "context"

// Store persists registered accounts.
//
// CreateSeller/CreateBuyer/CreateProvider must fail with ErrAlreadyRegistered
// when a registered record already exists for the owner. AppendBuyerPurchase
// must enforce MaxBuyerPurchaseRefs atomically; the check cannot be left to
// the caller because concurrent purchases by one buyer would race past it.
type Store interface {
	CreateSeller(ctx context.Context, acct *SellerAccount) error
	GetSeller(ctx context.Context, owner string) (*SellerAccount, error)

	CreateBuyer(ctx context.Context, acct *BuyerAccount) error
	GetBuyer(ctx context.Context, owner string) (*BuyerAccount, error)
	AppendBuyerPurchase(ctx context.Context, owner string, purchaseID uint64) error
	RemoveBuyerPurchase(ctx context.Context, owner string, purchaseID uint64) error

	CreateProvider(ctx context.Context, acct *ProviderAccount) error
	GetProvider(ctx context.Context, owner string) (*ProviderAccount, error)
}
