package staking

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway loads the remote state a session needs for one wallet.
// Each call is independent; implementations may fail or block.
type Gateway interface {
	FetchStakes(ctx context.Context, identity Identity) ([]Stake, error)
	FetchConfig(ctx context.Context, identity Identity) (ProtocolConfig, error)
	FetchNftOwnership(ctx context.Context, identity Identity) ([]NftHandle, error)
}

// PriceSource supplies the current token price in USD. Zero means unknown.
type PriceSource interface {
	CurrentPrice() decimal.Decimal
}

// StaticPrice is a PriceSource with a fixed value.
type StaticPrice decimal.Decimal

// CurrentPrice returns the fixed price.
func (price StaticPrice) CurrentPrice() decimal.Decimal {
	return decimal.Decimal(price)
}
