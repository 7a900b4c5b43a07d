package staking

import (
	"testing"

	"github.com/shopspring/decimal"
)

func metricByLabel(test *testing.T, metrics []Metric, label string) Metric {
	test.Helper()
	for _, metric := range metrics {
		if metric.Label == label {
			return metric
		}
	}
	test.Fatalf("metric %q not found", label)
	return Metric{}
}

func TestUserMetricsSingleStakeAtPrice(test *testing.T) {
	test.Parallel()
	projector := NewMetricsProjector(nil, fixedClock)
	snapshot := Snapshot{Stakes: []Stake{mustStake(test, "1000", 45, "0.20")}}

	metrics := projector.UserMetrics(snapshot, mustDecimal(test, "0.002"))
	if len(metrics) != 5 {
		test.Fatalf("expected 5 user metrics, got %d", len(metrics))
	}
	ownedValue := metricByLabel(test, metrics, LabelTotalOwnedValue)
	if !ownedValue.Defined || !ownedValue.Value.Equal(decimal.NewFromInt(2)) {
		test.Fatalf("expected owned value 2, got %+v", ownedValue)
	}
	if ownedValue.Display != "$2.00" {
		test.Fatalf("expected $2.00, got %q", ownedValue.Display)
	}
	owned := metricByLabel(test, metrics, LabelTotalOwned)
	if owned.Display != "1,000 $REFI" {
		test.Fatalf("unexpected owned display %q", owned.Display)
	}
	locked := metricByLabel(test, metrics, LabelLockedInStaking)
	if !locked.Value.Equal(decimal.NewFromInt(1000)) {
		test.Fatalf("expected 1000 locked, got %s", locked.Value)
	}
	rewards := metricByLabel(test, metrics, LabelExpectedRewards)
	if !rewards.Value.Round(6).Equal(mustDecimal(test, "24.657534")) {
		test.Fatalf("unexpected rewards %s", rewards.Value)
	}
}

func TestUserMetricsEmptyStakesAreZero(test *testing.T) {
	test.Parallel()
	projector := NewMetricsProjector(nil, fixedClock)
	metrics := projector.UserMetrics(Snapshot{}, mustDecimal(test, "0.002"))
	for _, metric := range metrics {
		if !metric.Defined {
			test.Fatalf("expected %s defined", metric.Label)
		}
		if !metric.Value.IsZero() {
			test.Fatalf("expected %s zero, got %s", metric.Label, metric.Value)
		}
	}
	if metricByLabel(test, metrics, LabelOwnedNfts).Display != "0 NFTs" {
		test.Fatalf("expected 0 NFTs display")
	}
}

func TestUserMetricsWithoutPriceUsePlaceholder(test *testing.T) {
	test.Parallel()
	projector := NewMetricsProjector(nil, fixedClock)
	snapshot := Snapshot{Stakes: []Stake{mustStake(test, "1000", 45, "0.20")}}
	for _, price := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		metrics := projector.UserMetrics(snapshot, price)
		ownedValue := metricByLabel(test, metrics, LabelTotalOwnedValue)
		if ownedValue.Defined || ownedValue.Display != MetricPlaceholder {
			test.Fatalf("expected placeholder, got %+v", ownedValue)
		}
		if !metricByLabel(test, metrics, LabelTotalOwned).Defined {
			test.Fatalf("expected owned amount defined without price")
		}
	}
}

func TestUserMetricsMaturedStakeIsNotLocked(test *testing.T) {
	test.Parallel()
	later := func() int64 { return fixedNow + 46*secondsPerDay }
	projector := NewMetricsProjector(nil, later)
	snapshot := Snapshot{Stakes: []Stake{
		mustStake(test, "1000", 45, "0.20"),
		mustStake(test, "500", 80, "0.50"),
		mustStake(test, "250", 0, "0.055"),
	}}
	metrics := projector.UserMetrics(snapshot, decimal.Zero)
	if !metricByLabel(test, metrics, LabelTotalOwned).Value.Equal(decimal.NewFromInt(1750)) {
		test.Fatalf("expected 1750 owned")
	}
	if !metricByLabel(test, metrics, LabelLockedInStaking).Value.Equal(decimal.NewFromInt(500)) {
		test.Fatalf("expected only the 80 day stake locked")
	}
}

func TestSimpleInterestFormula(test *testing.T) {
	test.Parallel()
	formula := SimpleInterestFormula{}
	config := sampleConfig(test)

	flexible := mustStake(test, "365", 0, "0.10")
	reward := formula.ExpectedReward(flexible, nil, fixedNow+10*secondsPerDay)
	if !reward.Equal(decimal.NewFromInt(1)) {
		test.Fatalf("expected flexible reward 1, got %s", reward)
	}

	boosted := mustStake(test, "365", 10, "0.10")
	boosted.NftBoosted = true
	if !formula.ExpectedReward(boosted, nil, fixedNow).Equal(decimal.NewFromInt(1)) {
		test.Fatalf("expected bonus ignored without config")
	}
	if !formula.ExpectedReward(boosted, &config, fixedNow).Round(6).Equal(mustDecimal(test, "1.5")) {
		test.Fatalf("expected bonus applied with config")
	}

	claimed := mustStake(test, "365", 10, "0.10")
	claimed.Claimed = decimal.NewFromInt(5)
	if !formula.ExpectedReward(claimed, nil, fixedNow).IsZero() {
		test.Fatalf("expected reward floored at zero")
	}
}

func TestGlobalMetrics(test *testing.T) {
	test.Parallel()
	projector := NewMetricsProjector(nil, fixedClock)
	config := sampleConfig(test)

	metrics := projector.GlobalMetrics(&config, mustDecimal(test, "0.002"))
	expectedLabels := []string{LabelTotalSupplyLocked, LabelFullyDilutedValuation, LabelUSDPrice, LabelTotalValueLocked}
	if len(metrics) != len(expectedLabels) {
		test.Fatalf("expected %d metrics, got %d", len(expectedLabels), len(metrics))
	}
	for index, label := range expectedLabels {
		if metrics[index].Label != label {
			test.Fatalf("position %d: expected %s, got %s", index, label, metrics[index].Label)
		}
	}
	expectedDisplays := map[string]string{
		LabelTotalSupplyLocked:     "50%",
		LabelFullyDilutedValuation: "$2,000,000.00",
		LabelUSDPrice:              "$0.002",
		LabelTotalValueLocked:      "500,000,000 $REFI",
	}
	for label, display := range expectedDisplays {
		metric := metricByLabel(test, metrics, label)
		if metric.Display != display {
			test.Fatalf("%s: expected %q, got %q", label, display, metric.Display)
		}
	}
}

func TestGlobalMetricsPlaceholders(test *testing.T) {
	test.Parallel()
	projector := NewMetricsProjector(nil, fixedClock)
	metrics := projector.GlobalMetrics(nil, decimal.Zero)
	for _, metric := range metrics {
		if metric.Defined || metric.Display != MetricPlaceholder {
			test.Fatalf("expected placeholder for %s, got %+v", metric.Label, metric)
		}
	}

	config := sampleConfig(test)
	withoutPrice := projector.GlobalMetrics(&config, decimal.Zero)
	if metricByLabel(test, withoutPrice, LabelFullyDilutedValuation).Defined {
		test.Fatalf("expected valuation placeholder without price")
	}
	if !metricByLabel(test, withoutPrice, LabelTotalSupplyLocked).Defined {
		test.Fatalf("expected supply share defined without price")
	}
}

func TestStakePositions(test *testing.T) {
	test.Parallel()
	projector := NewMetricsProjector(nil, fixedClock)
	snapshot := Snapshot{Stakes: []Stake{mustStake(test, "1000", 45, "0.20")}}

	positions := projector.StakePositions(snapshot, mustDecimal(test, "0.002"), fixedNow)
	if len(positions) != 1 || !positions[0].Locked {
		test.Fatalf("expected one locked position, got %+v", positions)
	}
	position := positions[0]
	if !position.ExpectedReward.Value.Round(6).Equal(mustDecimal(test, "24.657534")) || position.ExpectedReward.Display != "24.66 $REFI" {
		test.Fatalf("unexpected expected reward %+v", position.ExpectedReward)
	}
	if !position.Value.Defined || position.Value.Display != "$2.00" {
		test.Fatalf("unexpected value %+v", position.Value)
	}

	unpriced := projector.StakePositions(snapshot, decimal.Zero, fixedNow)[0]
	if unpriced.Value.Defined || unpriced.Value.Display != MetricPlaceholder {
		test.Fatalf("expected value placeholder without price, got %+v", unpriced.Value)
	}
	if !unpriced.ExpectedReward.Defined {
		test.Fatalf("expected reward defined without price")
	}
}

func TestFormattingKeepsLargeAmountsExact(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		amount   string
		tokens   string
		currency string
	}{
		{name: "whole", amount: "1000", tokens: "1,000", currency: "$1,000.00"},
		{name: "fraction", amount: "1234.5", tokens: "1,234.50", currency: "$1,234.50"},
		{name: "beyond float precision", amount: "123456789012345678.91", tokens: "123,456,789,012,345,678.91", currency: "$123,456,789,012,345,678.91"},
		{name: "beyond int64", amount: "98765432109876543210", tokens: "98,765,432,109,876,543,210", currency: "$98,765,432,109,876,543,210.00"},
		{name: "rounds half up", amount: "0.005", tokens: "0.01", currency: "$0.01"},
		{name: "negative", amount: "-1234.567", tokens: "-1,234.57", currency: "$-1,234.57"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			amount := mustDecimal(test, testCase.amount)
			if got := formatTokens(amount); got != testCase.tokens {
				test.Fatalf("tokens: expected %q, got %q", testCase.tokens, got)
			}
			if got := formatUSD(amount); got != testCase.currency {
				test.Fatalf("currency: expected %q, got %q", testCase.currency, got)
			}
		})
	}
}
