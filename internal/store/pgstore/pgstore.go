// Package pgstore serves the SQL stake mirror to dashboards over pgx,
// without GORM on the read path.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	defaultConfigKey    = "default"
	errorOperationStore = "store"
	errorSubjectStake   = "stake"
	errorSubjectConfig  = "config"
	errorSubjectNft     = "nft"
	errorCodeGet        = "get"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"

	sqlListStakes = `
		select
			address,
			amount::text,
			extract(epoch from started_at)::bigint,
			duration_days,
			apy::text,
			nft_boosted,
			claimed::text
		from stake_positions
		where wallet = $1
		order by address asc
	`

	sqlSelectConfig = `
		select
			token_mint,
			max_stake_per_wallet::text,
			total_staked::text,
			total_supply::text,
			nft_bonus_apy::text,
			paused
		from protocol_config
		where config_key = $1
	`

	sqlListNftHoldings = `
		select mint, token_account
		from nft_holdings
		where wallet = $1
		order by token_account asc
	`
)

// ErrConfigNotIndexed is returned before the mirror has recorded a config.
var ErrConfigNotIndexed = errors.New("protocol config not indexed")

// Querier is the read subset shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements staking.Gateway over the mirror tables.
type Store struct {
	querier   Querier
	configKey string
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool, configKey string) *Store {
	return NewWithQuerier(pool, configKey)
}

// NewWithQuerier returns a Store reading through querier.
func NewWithQuerier(querier Querier, configKey string) *Store {
	if configKey == "" {
		configKey = defaultConfigKey
	}
	return &Store{querier: querier, configKey: configKey}
}

func (store *Store) FetchStakes(ctx context.Context, identity staking.Identity) ([]staking.Stake, error) {
	rows, err := store.querier.Query(ctx, sqlListStakes, identity.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectStake, errorCodeList, err)
	}
	defer rows.Close()

	stakes := []staking.Stake{}
	for rows.Next() {
		var (
			address      string
			amountValue  string
			startedAt    int64
			durationDays int
			apyValue     string
			nftBoosted   bool
			claimedValue string
		)
		if err := rows.Scan(&address, &amountValue, &startedAt, &durationDays, &apyValue, &nftBoosted, &claimedValue); err != nil {
			return nil, wrapStoreError(errorSubjectStake, errorCodeList, err)
		}
		amounts, err := parseDecimals(amountValue, apyValue, claimedValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectStake, errorCodeInvalid, err)
		}
		stake, err := staking.NewStake(address, amounts[0], startedAt, durationDays, amounts[1], nftBoosted, amounts[2])
		if err != nil {
			return nil, wrapStoreError(errorSubjectStake, errorCodeInvalid, err)
		}
		stakes = append(stakes, stake)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectStake, errorCodeList, err)
	}
	return stakes, nil
}

func (store *Store) FetchConfig(ctx context.Context, _ staking.Identity) (staking.ProtocolConfig, error) {
	var (
		tokenMint   string
		maxStake    string
		totalStaked string
		totalSupply string
		nftBonus    string
		paused      bool
	)
	err := store.querier.QueryRow(ctx, sqlSelectConfig, store.configKey).Scan(
		&tokenMint,
		&maxStake,
		&totalStaked,
		&totalSupply,
		&nftBonus,
		&paused,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return staking.ProtocolConfig{}, wrapStoreError(errorSubjectConfig, errorCodeGet, ErrConfigNotIndexed)
		}
		return staking.ProtocolConfig{}, wrapStoreError(errorSubjectConfig, errorCodeGet, err)
	}
	amounts, err := parseDecimals(maxStake, totalStaked, totalSupply, nftBonus)
	if err != nil {
		return staking.ProtocolConfig{}, wrapStoreError(errorSubjectConfig, errorCodeInvalid, err)
	}
	return staking.ProtocolConfig{
		TokenMint:         tokenMint,
		MaxStakePerWallet: amounts[0],
		TotalStaked:       amounts[1],
		TotalSupply:       amounts[2],
		NftBonusAPY:       amounts[3],
		Paused:            paused,
	}, nil
}

func (store *Store) FetchNftOwnership(ctx context.Context, identity staking.Identity) ([]staking.NftHandle, error) {
	rows, err := store.querier.Query(ctx, sqlListNftHoldings, identity.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectNft, errorCodeList, err)
	}
	defer rows.Close()

	handles := []staking.NftHandle{}
	for rows.Next() {
		var handle staking.NftHandle
		if err := rows.Scan(&handle.Mint, &handle.TokenAccount); err != nil {
			return nil, wrapStoreError(errorSubjectNft, errorCodeList, err)
		}
		handles = append(handles, handle)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectNft, errorCodeList, err)
	}
	return handles, nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	parsed := make([]decimal.Decimal, 0, len(values))
	for _, value := range values {
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("numeric %q: %w", value, err)
		}
		parsed = append(parsed, amount)
	}
	return parsed, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return staking.WrapError(errorOperationStore, subject, code, err)
}
