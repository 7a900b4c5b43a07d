package staking

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// StakeCap limits how much a single wallet may stake into a pool.
type StakeCap struct {
	Limit     decimal.Decimal
	Unlimited bool
}

// LimitedCap returns a per-wallet cap.
func LimitedCap(limit decimal.Decimal) StakeCap {
	return StakeCap{Limit: limit}
}

// UnlimitedCap returns a cap without a per-wallet limit.
func UnlimitedCap() StakeCap {
	return StakeCap{Unlimited: true}
}

// Description renders the cap the way pool cards show it.
func (stakeCap StakeCap) Description() string {
	if stakeCap.Unlimited {
		return fmt.Sprintf("There is no limit to the %s staked.", TokenSymbol)
	}
	return fmt.Sprintf("Maximum %s staked per wallet %s %s.", TokenSymbol, formatTokens(stakeCap.Limit), TokenSymbol)
}

// PoolDefinition is either a FixedTermPool or a FlexiblePool.
type PoolDefinition interface {
	StakeCap() StakeCap
	AnnualYield() decimal.Decimal
	NftRequired() bool
	Description() string
	isPoolDefinition()
}

// FixedTermPool locks principal for DurationDays.
type FixedTermPool struct {
	DurationDays int
	Cap          StakeCap
	APY          decimal.Decimal
	RequiresNFT  bool
}

func (pool FixedTermPool) StakeCap() StakeCap           { return pool.Cap }
func (pool FixedTermPool) AnnualYield() decimal.Decimal { return pool.APY }
func (pool FixedTermPool) NftRequired() bool            { return pool.RequiresNFT }
func (FixedTermPool) isPoolDefinition()                 {}

// Description returns the pool card text.
func (pool FixedTermPool) Description() string {
	return pool.Cap.Description()
}

// FlexiblePool allows staking and unstaking at any time.
type FlexiblePool struct {
	Cap         StakeCap
	APY         decimal.Decimal
	RequiresNFT bool
}

func (pool FlexiblePool) StakeCap() StakeCap           { return pool.Cap }
func (pool FlexiblePool) AnnualYield() decimal.Decimal { return pool.APY }
func (pool FlexiblePool) NftRequired() bool            { return pool.RequiresNFT }
func (FlexiblePool) isPoolDefinition()                 {}

// Description returns the pool card text.
func (pool FlexiblePool) Description() string {
	return "Stake or de-stake anytime. " + pool.Cap.Description()
}

// IndexedPool pairs a definition with its catalog position.
type IndexedPool struct {
	Index int
	Pool  PoolDefinition
}

// PoolCatalog is the ordered set of pools offered by the dashboard.
// Pools are addressed by position; reordering the catalog changes what an
// index refers to.
type PoolCatalog struct {
	definitions []PoolDefinition
}

// NewPoolCatalog validates and stores an ordered pool list.
func NewPoolCatalog(definitions ...PoolDefinition) (PoolCatalog, error) {
	if len(definitions) == 0 {
		return PoolCatalog{}, WrapError(errorOperationCatalog, errorSubjectPool, errorCodeEmpty, ErrInvalidPoolDefinition)
	}
	stored := make([]PoolDefinition, 0, len(definitions))
	for index, definition := range definitions {
		if err := validatePoolDefinition(definition); err != nil {
			return PoolCatalog{}, fmt.Errorf("pool %d: %w", index, err)
		}
		stored = append(stored, definition)
	}
	return PoolCatalog{definitions: stored}, nil
}

// DefaultPoolCatalog returns the production staking tiers.
func DefaultPoolCatalog() PoolCatalog {
	walletCap := LimitedCap(decimal.NewFromInt(750000))
	return PoolCatalog{definitions: []PoolDefinition{
		FixedTermPool{DurationDays: 45, Cap: walletCap, APY: decimal.RequireFromString("0.20")},
		FixedTermPool{DurationDays: 80, Cap: walletCap, APY: decimal.RequireFromString("0.50")},
		FixedTermPool{DurationDays: 90, Cap: walletCap, APY: decimal.RequireFromString("1.10")},
		FlexiblePool{Cap: UnlimitedCap(), APY: decimal.RequireFromString("0.055")},
	}}
}

// Len returns the number of pools.
func (catalog PoolCatalog) Len() int {
	return len(catalog.definitions)
}

// Definitions returns the pools in display order.
func (catalog PoolCatalog) Definitions() []PoolDefinition {
	definitions := make([]PoolDefinition, len(catalog.definitions))
	copy(definitions, catalog.definitions)
	return definitions
}

// EligiblePools filters out NFT-gated pools when the wallet holds no NFT.
func (catalog PoolCatalog) EligiblePools(nftEligible bool) []IndexedPool {
	pools := make([]IndexedPool, 0, len(catalog.definitions))
	for index, definition := range catalog.definitions {
		if definition.NftRequired() && !nftEligible {
			continue
		}
		pools = append(pools, IndexedPool{Index: index, Pool: definition})
	}
	return pools
}

// Get returns the pool at index.
func (catalog PoolCatalog) Get(index int) (PoolDefinition, error) {
	if index < 0 || index >= len(catalog.definitions) {
		return nil, WrapError(errorOperationCatalog, errorSubjectPool, errorCodeOutOfRange,
			fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, index, len(catalog.definitions)))
	}
	return catalog.definitions[index], nil
}

// PoolTermDays returns the lock duration of a pool, or false for flexible pools.
func PoolTermDays(definition PoolDefinition) (int, bool) {
	switch pool := definition.(type) {
	case FixedTermPool:
		return pool.DurationDays, true
	case FlexiblePool:
		return 0, false
	default:
		return 0, false
	}
}

func validatePoolDefinition(definition PoolDefinition) error {
	switch pool := definition.(type) {
	case FixedTermPool:
		if pool.DurationDays <= 0 {
			return fmt.Errorf("%w: fixed term pool needs a positive duration", ErrInvalidPoolDefinition)
		}
		return validateYieldAndCap(pool.APY, pool.Cap)
	case FlexiblePool:
		return validateYieldAndCap(pool.APY, pool.Cap)
	case nil:
		return fmt.Errorf("%w: nil definition", ErrInvalidPoolDefinition)
	default:
		return fmt.Errorf("%w: unsupported definition %T", ErrInvalidPoolDefinition, definition)
	}
}

func validateYieldAndCap(apy decimal.Decimal, stakeCap StakeCap) error {
	if apy.IsNegative() {
		return fmt.Errorf("%w: apy must not be negative", ErrInvalidPoolDefinition)
	}
	if !stakeCap.Unlimited && !stakeCap.Limit.IsPositive() {
		return fmt.Errorf("%w: cap must be positive or unlimited", ErrInvalidPoolDefinition)
	}
	return nil
}

func formatTokens(amount decimal.Decimal) string {
	if amount.Equal(amount.Truncate(0)) {
		return formatGrouped(amount, 0)
	}
	return formatGrouped(amount, 2)
}

// formatGrouped rounds amount to places and groups the integer digits with
// commas without passing through float64.
func formatGrouped(amount decimal.Decimal, places int32) string {
	rounded := amount.Round(places)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	whole := rounded.Truncate(0)
	grouped := sign + humanize.BigComma(whole.BigInt())
	if places <= 0 {
		return grouped
	}
	// StringFixed of the fraction is "0.dd"; keep ".dd".
	return grouped + rounded.Sub(whole).StringFixed(places)[1:]
}
