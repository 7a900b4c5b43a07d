package dashboards

import (
	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/shopspring/decimal"
)

const (
	poolKindFixed    = "fixed"
	poolKindFlexible = "flexible"
)

// DashboardView is the rendered state of one user's dashboard.
type DashboardView struct {
	Connected         bool          `json:"connected"`
	ConnectPromptOpen bool          `json:"connect_prompt_open"`
	Identity          string        `json:"identity"`
	Modal             string        `json:"modal"`
	SelectedPoolIndex *int          `json:"selected_pool_index"`
	NftEligible       bool          `json:"nft_eligible"`
	NftCount          int           `json:"nft_count"`
	Stakes            []StakeView   `json:"stakes"`
	Config            *ConfigView   `json:"config"`
	Pools             []PoolView    `json:"pools"`
	Warnings          []WarningView `json:"warnings"`
	Loaded            LoadedView    `json:"loaded"`
}

// StakeView renders one row of the stakes and rewards table.
type StakeView struct {
	Address        string          `json:"address"`
	Amount         decimal.Decimal `json:"amount"`
	StartUnixUTC   int64           `json:"start_unix_utc"`
	DurationDays   int             `json:"duration_days"`
	APY            decimal.Decimal `json:"apy"`
	NftBoosted     bool            `json:"nft_boosted"`
	Claimed        decimal.Decimal `json:"claimed"`
	Locked         bool            `json:"locked"`
	ExpectedReward MetricView      `json:"expected_reward"`
	Value          MetricView      `json:"value"`
}

// ConfigView renders the protocol configuration.
type ConfigView struct {
	TokenMint         string          `json:"token_mint"`
	MaxStakePerWallet decimal.Decimal `json:"max_stake_per_wallet"`
	TotalStaked       decimal.Decimal `json:"total_staked"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
	NftBonusAPY       decimal.Decimal `json:"nft_bonus_apy"`
	Paused            bool            `json:"paused"`
}

// PoolView renders one catalog entry as a pool card.
type PoolView struct {
	Index        int             `json:"index"`
	Kind         string          `json:"kind"`
	DurationDays int             `json:"duration_days"`
	APY          decimal.Decimal `json:"apy"`
	NftRequired  bool            `json:"nft_required"`
	Eligible     bool            `json:"eligible"`
	Selected     bool            `json:"selected"`
	Description  string          `json:"description"`
}

// WarningView renders a non-fatal fetch failure.
type WarningView struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// LoadedView reports which slices resolved.
type LoadedView struct {
	Stakes       bool `json:"stakes"`
	Config       bool `json:"config"`
	NftOwnership bool `json:"nft_ownership"`
}

// MetricView renders one dashboard figure.
type MetricView struct {
	Label   string          `json:"label"`
	Value   decimal.Decimal `json:"value"`
	Display string          `json:"display"`
	Defined bool            `json:"defined"`
}

// Render builds the view of dashboard at nowUnixUTC.
func Render(dashboard *staking.Dashboard, nowUnixUTC int64) DashboardView {
	snapshot := dashboard.SessionSnapshot()
	view := DashboardView{
		Connected:         dashboard.Ready(),
		ConnectPromptOpen: dashboard.ConnectPromptOpen(),
		Identity:          snapshot.Identity.String(),
		Modal:             string(dashboard.ModalState()),
		SelectedPoolIndex: snapshot.SelectedPoolIndex,
		NftEligible:       snapshot.NftEligible,
		NftCount:          snapshot.NftCount,
		Stakes:            make([]StakeView, 0, len(snapshot.Stakes)),
		Pools:             RenderPools(dashboard.Catalog(), snapshot),
		Warnings:          make([]WarningView, 0, len(snapshot.Warnings)),
		Loaded: LoadedView{
			Stakes:       snapshot.Loaded.Stakes,
			Config:       snapshot.Loaded.Config,
			NftOwnership: snapshot.Loaded.Nfts,
		},
	}
	for _, position := range dashboard.Projector().StakePositions(snapshot, dashboard.CurrentPrice(), nowUnixUTC) {
		stake := position.Stake
		view.Stakes = append(view.Stakes, StakeView{
			Address:        stake.Address,
			Amount:         stake.Amount,
			StartUnixUTC:   stake.StartUnixUTC,
			DurationDays:   stake.DurationDays,
			APY:            stake.APY,
			NftBoosted:     stake.NftBoosted,
			Claimed:        stake.Claimed,
			Locked:         position.Locked,
			ExpectedReward: renderMetric(position.ExpectedReward),
			Value:          renderMetric(position.Value),
		})
	}
	if snapshot.Config != nil {
		view.Config = &ConfigView{
			TokenMint:         snapshot.Config.TokenMint,
			MaxStakePerWallet: snapshot.Config.MaxStakePerWallet,
			TotalStaked:       snapshot.Config.TotalStaked,
			TotalSupply:       snapshot.Config.TotalSupply,
			NftBonusAPY:       snapshot.Config.NftBonusAPY,
			Paused:            snapshot.Config.Paused,
		}
	}
	for _, warning := range snapshot.Warnings {
		view.Warnings = append(view.Warnings, WarningView{Source: warning.Source.String(), Message: warning.Message})
	}
	return view
}

// RenderPools renders the catalog against a snapshot's eligibility and selection.
func RenderPools(catalog staking.PoolCatalog, snapshot staking.Snapshot) []PoolView {
	definitions := catalog.Definitions()
	pools := make([]PoolView, 0, len(definitions))
	for index, definition := range definitions {
		pools = append(pools, RenderPool(index, definition, snapshot))
	}
	return pools
}

// RenderPool renders a single pool card.
func RenderPool(index int, definition staking.PoolDefinition, snapshot staking.Snapshot) PoolView {
	durationDays, fixed := staking.PoolTermDays(definition)
	kind := poolKindFlexible
	if fixed {
		kind = poolKindFixed
	}
	return PoolView{
		Index:        index,
		Kind:         kind,
		DurationDays: durationDays,
		APY:          definition.AnnualYield(),
		NftRequired:  definition.NftRequired(),
		Eligible:     !definition.NftRequired() || snapshot.NftEligible,
		Selected:     snapshot.SelectedPoolIndex != nil && *snapshot.SelectedPoolIndex == index,
		Description:  definition.Description(),
	}
}

// RenderMetrics converts projector output.
func RenderMetrics(metrics []staking.Metric) []MetricView {
	views := make([]MetricView, 0, len(metrics))
	for _, metric := range metrics {
		views = append(views, renderMetric(metric))
	}
	return views
}

func renderMetric(metric staking.Metric) MetricView {
	return MetricView{
		Label:   metric.Label,
		Value:   metric.Value,
		Display: metric.Display,
		Defined: metric.Defined,
	}
}
