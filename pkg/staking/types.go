package staking

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Identity is the public address of a connected wallet.
type Identity struct {
	value string
}

// NewIdentity validates and normalizes a wallet address.
func NewIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("%w: empty value", ErrInvalidIdentity)
	}
	if strings.ContainsAny(trimmed, " \t\r\n") {
		return Identity{}, fmt.Errorf("%w: contains whitespace", ErrInvalidIdentity)
	}
	return Identity{value: trimmed}, nil
}

// String returns the normalized address.
func (identity Identity) String() string {
	return identity.value
}

// IsZero reports whether no wallet is present.
func (identity Identity) IsZero() bool {
	return identity.value == ""
}

// WalletState is what the wallet adapter reports on every change.
type WalletState struct {
	Identity  Identity
	Connected bool
}

// Stake is one staking position owned by the connected wallet.
type Stake struct {
	Address      string
	Amount       decimal.Decimal
	StartUnixUTC int64
	// DurationDays is zero for flexible positions.
	DurationDays int
	APY          decimal.Decimal
	NftBoosted   bool
	Claimed      decimal.Decimal
}

// NewStake validates a fetched stake position.
func NewStake(address string, amount decimal.Decimal, startUnixUTC int64, durationDays int, apy decimal.Decimal, nftBoosted bool, claimed decimal.Decimal) (Stake, error) {
	if amount.IsNegative() {
		return Stake{}, fmt.Errorf("%w: stake amount must not be negative", ErrInvalidAmount)
	}
	if claimed.IsNegative() {
		return Stake{}, fmt.Errorf("%w: claimed amount must not be negative", ErrInvalidAmount)
	}
	if apy.IsNegative() {
		return Stake{}, fmt.Errorf("%w: apy must not be negative", ErrInvalidAmount)
	}
	if durationDays < 0 {
		return Stake{}, fmt.Errorf("%w: duration must not be negative", ErrInvalidAmount)
	}
	return Stake{
		Address:      strings.TrimSpace(address),
		Amount:       amount,
		StartUnixUTC: startUnixUTC,
		DurationDays: durationDays,
		APY:          apy,
		NftBoosted:   nftBoosted,
		Claimed:      claimed,
	}, nil
}

// IsFlexible reports whether the position can be withdrawn at any time.
func (stake Stake) IsFlexible() bool {
	return stake.DurationDays == 0
}

// MaturesAtUnixUTC returns the unlock time; flexible stakes have none.
func (stake Stake) MaturesAtUnixUTC() (int64, bool) {
	if stake.IsFlexible() {
		return 0, false
	}
	return stake.StartUnixUTC + int64(stake.DurationDays)*secondsPerDay, true
}

// IsLocked reports whether the principal is still locked at nowUnixUTC.
func (stake Stake) IsLocked(nowUnixUTC int64) bool {
	maturesAt, hasTerm := stake.MaturesAtUnixUTC()
	if !hasTerm {
		return false
	}
	return nowUnixUTC < maturesAt
}

// ElapsedDays returns the fractional number of days since the stake started.
func (stake Stake) ElapsedDays(nowUnixUTC int64) decimal.Decimal {
	elapsed := nowUnixUTC - stake.StartUnixUTC
	if elapsed <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(elapsed).Div(decimal.NewFromInt(secondsPerDay))
}

// APYFromBasisPoints converts an on-chain basis point rate to a fraction.
func APYFromBasisPoints(basisPoints uint16) decimal.Decimal {
	return decimal.NewFromInt(int64(basisPoints)).Div(decimal.NewFromInt(basisPointsPerOne))
}

// ProtocolConfig holds the global staking parameters.
type ProtocolConfig struct {
	TokenMint         string
	MaxStakePerWallet decimal.Decimal
	TotalStaked       decimal.Decimal
	TotalSupply       decimal.Decimal
	NftBonusAPY       decimal.Decimal
	Paused            bool
}

// NftHandle references one qualifying NFT held by the wallet.
type NftHandle struct {
	Mint         string
	TokenAccount string
}

// FetchSource names one of the three independently loaded slices.
type FetchSource string

const (
	FetchSourceStakes FetchSource = "stakes"
	FetchSourceConfig FetchSource = "config"
	FetchSourceNfts   FetchSource = "nft_ownership"
)

// String returns the source name.
func (source FetchSource) String() string {
	return string(source)
}

// FetchWarning is a non-fatal load failure surfaced to the UI layer.
type FetchWarning struct {
	Source  FetchSource
	Message string
}

// LoadState tracks which slices resolved in the current fetch cycle.
type LoadState struct {
	Stakes bool
	Config bool
	Nfts   bool
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Identity          Identity
	Stakes            []Stake
	Config            *ProtocolConfig
	NftEligible       bool
	NftCount          int
	SelectedPoolIndex *int
	Warnings          []FetchWarning
	Loaded            LoadState
}

// HasSelection reports whether a pool is selected.
func (snapshot Snapshot) HasSelection() bool {
	return snapshot.SelectedPoolIndex != nil
}
