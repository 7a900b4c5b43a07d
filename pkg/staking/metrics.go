package staking

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Metric is one labelled dashboard figure.
type Metric struct {
	Label   string
	Value   decimal.Decimal
	Display string
	// Defined is false when an input (price, config) is missing and Display
	// holds MetricPlaceholder.
	Defined bool
}

// RewardFormula computes the reward a stake is expected to earn.
type RewardFormula interface {
	ExpectedReward(stake Stake, config *ProtocolConfig, nowUnixUTC int64) decimal.Decimal
}

// SimpleInterestFormula accrues APY linearly over the stake's term. Flexible
// stakes accrue over the days elapsed so far. NFT-boosted stakes add the
// protocol's NFT bonus once the config is known.
type SimpleInterestFormula struct{}

// ExpectedReward returns the unclaimed expected reward, never below zero.
func (SimpleInterestFormula) ExpectedReward(stake Stake, config *ProtocolConfig, nowUnixUTC int64) decimal.Decimal {
	rate := stake.APY
	if stake.NftBoosted && config != nil {
		rate = rate.Add(config.NftBonusAPY)
	}
	var termDays decimal.Decimal
	if stake.IsFlexible() {
		termDays = stake.ElapsedDays(nowUnixUTC)
	} else {
		termDays = decimal.NewFromInt(int64(stake.DurationDays))
	}
	reward := stake.Amount.Mul(rate).Mul(termDays).Div(decimal.NewFromInt(daysPerYear))
	remaining := reward.Sub(stake.Claimed)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// MetricsProjector derives dashboard metrics from session snapshots.
type MetricsProjector struct {
	formula RewardFormula
	nowFn   func() int64
}

// NewMetricsProjector wires a projector. A nil formula selects
// SimpleInterestFormula; a nil clock selects the wall clock.
func NewMetricsProjector(formula RewardFormula, now func() int64) MetricsProjector {
	if formula == nil {
		formula = SimpleInterestFormula{}
	}
	if now == nil {
		now = func() int64 { return time.Now().UTC().Unix() }
	}
	return MetricsProjector{formula: formula, nowFn: now}
}

// GlobalMetrics renders protocol-wide figures.
func (projector MetricsProjector) GlobalMetrics(config *ProtocolConfig, price decimal.Decimal) []Metric {
	priceKnown := price.IsPositive()
	metrics := make([]Metric, 0, 4)

	if config != nil && config.TotalSupply.IsPositive() {
		share := config.TotalStaked.Div(config.TotalSupply).Mul(decimal.NewFromInt(100))
		metrics = append(metrics, definedMetric(LabelTotalSupplyLocked, share, formatPercent(share)))
	} else {
		metrics = append(metrics, placeholderMetric(LabelTotalSupplyLocked))
	}

	if config != nil && priceKnown {
		valuation := config.TotalSupply.Mul(price)
		metrics = append(metrics, definedMetric(LabelFullyDilutedValuation, valuation, formatUSD(valuation)))
	} else {
		metrics = append(metrics, placeholderMetric(LabelFullyDilutedValuation))
	}

	if priceKnown {
		metrics = append(metrics, definedMetric(LabelUSDPrice, price, "$"+price.String()))
	} else {
		metrics = append(metrics, placeholderMetric(LabelUSDPrice))
	}

	if config != nil {
		metrics = append(metrics, definedMetric(LabelTotalValueLocked, config.TotalStaked, formatTokenAmount(config.TotalStaked)))
	} else {
		metrics = append(metrics, placeholderMetric(LabelTotalValueLocked))
	}
	return metrics
}

// UserMetrics renders the connected wallet's figures. An empty stake list
// yields zeros; a missing price yields a placeholder for the USD value only.
func (projector MetricsProjector) UserMetrics(snapshot Snapshot, price decimal.Decimal) []Metric {
	nowUnixUTC := projector.nowFn()
	owned := decimal.Zero
	locked := decimal.Zero
	rewards := decimal.Zero
	for _, stake := range snapshot.Stakes {
		owned = owned.Add(stake.Amount)
		if stake.IsLocked(nowUnixUTC) {
			locked = locked.Add(stake.Amount)
		}
		rewards = rewards.Add(projector.formula.ExpectedReward(stake, snapshot.Config, nowUnixUTC))
	}

	metrics := make([]Metric, 0, 5)
	metrics = append(metrics, definedMetric(LabelTotalOwned, owned, formatTokenAmount(owned)))
	if price.IsPositive() {
		value := owned.Mul(price)
		metrics = append(metrics, definedMetric(LabelTotalOwnedValue, value, formatUSD(value)))
	} else {
		metrics = append(metrics, placeholderMetric(LabelTotalOwnedValue))
	}
	metrics = append(metrics, definedMetric(LabelLockedInStaking, locked, formatTokenAmount(locked)))
	metrics = append(metrics, definedMetric(LabelExpectedRewards, rewards, formatTokenAmount(rewards)))
	nftCount := decimal.NewFromInt(int64(snapshot.NftCount))
	metrics = append(metrics, definedMetric(LabelOwnedNfts, nftCount, fmt.Sprintf("%d NFTs", snapshot.NftCount)))
	return metrics
}

// StakePosition is one stake valued for the stakes and rewards table.
type StakePosition struct {
	Stake          Stake
	Locked         bool
	ExpectedReward Metric
	Value          Metric
}

// StakePositions values every stake of snapshot at price. The USD value is a
// placeholder while the price is unknown.
func (projector MetricsProjector) StakePositions(snapshot Snapshot, price decimal.Decimal, nowUnixUTC int64) []StakePosition {
	positions := make([]StakePosition, 0, len(snapshot.Stakes))
	for _, stake := range snapshot.Stakes {
		reward := projector.formula.ExpectedReward(stake, snapshot.Config, nowUnixUTC)
		position := StakePosition{
			Stake:          stake,
			Locked:         stake.IsLocked(nowUnixUTC),
			ExpectedReward: definedMetric(LabelExpectedRewards, reward, formatTokenAmount(reward)),
			Value:          placeholderMetric(LabelTotalOwnedValue),
		}
		if price.IsPositive() {
			value := stake.Amount.Mul(price)
			position.Value = definedMetric(LabelTotalOwnedValue, value, formatUSD(value))
		}
		positions = append(positions, position)
	}
	return positions
}

func definedMetric(label string, value decimal.Decimal, display string) Metric {
	return Metric{Label: label, Value: value, Display: display, Defined: true}
}

func placeholderMetric(label string) Metric {
	return Metric{Label: label, Value: decimal.Zero, Display: MetricPlaceholder}
}

func formatUSD(amount decimal.Decimal) string {
	return "$" + formatGrouped(amount, 2)
}

func formatPercent(share decimal.Decimal) string {
	return share.Round(2).String() + "%"
}

func formatTokenAmount(amount decimal.Decimal) string {
	return formatTokens(amount) + " " + TokenSymbol
}
