package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultConfigKey identifies the single staking program mirrored by default.
	DefaultConfigKey      = "default"
	defaultSnapshotJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectStake     = "stake"
	errorSubjectConfig    = "config"
	errorSubjectNft       = "nft"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeReplace      = "replace"
	errorCodeUpsert       = "upsert"
)

var (
	// ErrConfigNotIndexed is returned before the mirror has recorded a config.
	ErrConfigNotIndexed = errors.New("protocol config not indexed")
	// ErrDuplicateRecord is returned when a recorded batch repeats a key.
	ErrDuplicateRecord = errors.New("duplicate record")
)

// Store mirrors chain state in SQL through GORM. It serves reads as a
// staking.Gateway and accepts writes as a gateway.Recorder.
type Store struct {
	db        *gorm.DB
	configKey string
	clock     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithConfigKey selects the protocol_config row the store reads and writes.
func WithConfigKey(configKey string) Option {
	return func(store *Store) {
		if configKey != "" {
			store.configKey = configKey
		}
	}
}

// WithClock overrides the timestamp source for UpdatedAt columns.
func WithClock(clock func() time.Time) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Store {
	store := &Store{
		db:        db,
		configKey: DefaultConfigKey,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction, configKey: store.configKey, clock: store.clock})
	})
}

func (store *Store) FetchStakes(ctx context.Context, identity staking.Identity) ([]staking.Stake, error) {
	var rows []StakeRecord
	err := store.db.WithContext(ctx).
		Where("wallet = ?", identity.String()).
		Order("address ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectStake, errorCodeList, err)
	}
	stakes := make([]staking.Stake, 0, len(rows))
	for _, row := range rows {
		stake, err := staking.NewStake(row.Address, row.Amount, row.StartedAt.Unix(), row.DurationDays, row.APY, row.NftBoosted, row.Claimed)
		if err != nil {
			return nil, wrapStoreError(errorSubjectStake, errorCodeInvalid, err)
		}
		stakes = append(stakes, stake)
	}
	return stakes, nil
}

func (store *Store) FetchConfig(ctx context.Context, _ staking.Identity) (staking.ProtocolConfig, error) {
	var row ProtocolConfigRecord
	err := store.db.WithContext(ctx).
		Where("config_key = ?", store.configKey).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return staking.ProtocolConfig{}, wrapStoreError(errorSubjectConfig, errorCodeGet, ErrConfigNotIndexed)
		}
		return staking.ProtocolConfig{}, wrapStoreError(errorSubjectConfig, errorCodeGet, err)
	}
	return staking.ProtocolConfig{
		TokenMint:         row.TokenMint,
		MaxStakePerWallet: row.MaxStakePerWallet,
		TotalStaked:       row.TotalStaked,
		TotalSupply:       row.TotalSupply,
		NftBonusAPY:       row.NftBonusAPY,
		Paused:            row.Paused,
	}, nil
}

func (store *Store) FetchNftOwnership(ctx context.Context, identity staking.Identity) ([]staking.NftHandle, error) {
	var rows []NftHolding
	err := store.db.WithContext(ctx).
		Where("wallet = ?", identity.String()).
		Order("token_account ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectNft, errorCodeList, err)
	}
	handles := make([]staking.NftHandle, 0, len(rows))
	for _, row := range rows {
		handles = append(handles, staking.NftHandle{Mint: row.Mint, TokenAccount: row.TokenAccount})
	}
	return handles, nil
}

// RecordStakes replaces the mirrored positions of identity.
func (store *Store) RecordStakes(ctx context.Context, identity staking.Identity, stakes []staking.Stake) error {
	updatedAt := store.clock()
	rows := make([]StakeRecord, 0, len(stakes))
	for _, stake := range stakes {
		rows = append(rows, StakeRecord{
			Wallet:       identity.String(),
			Address:      stake.Address,
			Amount:       stake.Amount,
			StartedAt:    time.Unix(stake.StartUnixUTC, 0).UTC(),
			DurationDays: stake.DurationDays,
			APY:          stake.APY,
			NftBoosted:   stake.NftBoosted,
			Claimed:      stake.Claimed,
			UpdatedAt:    updatedAt,
		})
	}
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("wallet = ?", identity.String()).Delete(&StakeRecord{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return transaction.Create(&rows).Error
	})
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectStake, errorCodeDuplicate, ErrDuplicateRecord)
	}
	if err != nil {
		return wrapStoreError(errorSubjectStake, errorCodeReplace, err)
	}
	return nil
}

// RecordConfig upserts the mirrored protocol config.
func (store *Store) RecordConfig(ctx context.Context, config staking.ProtocolConfig) error {
	snapshot, err := json.Marshal(config)
	if err != nil {
		return wrapStoreError(errorSubjectConfig, errorCodeInvalid, err)
	}
	row := ProtocolConfigRecord{
		ConfigKey:         store.configKey,
		TokenMint:         config.TokenMint,
		MaxStakePerWallet: config.MaxStakePerWallet,
		TotalStaked:       config.TotalStaked,
		TotalSupply:       config.TotalSupply,
		NftBonusAPY:       config.NftBonusAPY,
		Paused:            config.Paused,
		Snapshot:          datatypesJSON(snapshot),
		UpdatedAt:         store.clock(),
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectConfig, errorCodeUpsert, err)
	}
	return nil
}

// RecordNftOwnership replaces the mirrored NFT holdings of identity.
func (store *Store) RecordNftOwnership(ctx context.Context, identity staking.Identity, handles []staking.NftHandle) error {
	updatedAt := store.clock()
	rows := make([]NftHolding, 0, len(handles))
	for _, handle := range handles {
		rows = append(rows, NftHolding{
			Wallet:       identity.String(),
			TokenAccount: handle.TokenAccount,
			Mint:         handle.Mint,
			UpdatedAt:    updatedAt,
		})
	}
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Where("wallet = ?", identity.String()).Delete(&NftHolding{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return transaction.Create(&rows).Error
	})
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectNft, errorCodeDuplicate, ErrDuplicateRecord)
	}
	if err != nil {
		return wrapStoreError(errorSubjectNft, errorCodeReplace, err)
	}
	return nil
}

// RecordWallet replaces the positions and NFT holdings of identity in one
// transaction; a failure in either leaves both as they were.
func (store *Store) RecordWallet(ctx context.Context, identity staking.Identity, stakes []staking.Stake, handles []staking.NftHandle) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		if err := txStore.RecordStakes(ctx, identity, stakes); err != nil {
			return err
		}
		return txStore.RecordNftOwnership(ctx, identity, handles)
	})
}

// ConfigSnapshot returns the raw JSON recorded with the last config.
func (store *Store) ConfigSnapshot(ctx context.Context) (datatypes.JSON, error) {
	var row ProtocolConfigRecord
	err := store.db.WithContext(ctx).
		Select("snapshot").
		Where("config_key = ?", store.configKey).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapStoreError(errorSubjectConfig, errorCodeGet, ErrConfigNotIndexed)
		}
		return nil, wrapStoreError(errorSubjectConfig, errorCodeGet, err)
	}
	return row.Snapshot, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return staking.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte(defaultSnapshotJSON))
	}
	return datatypes.JSON(raw)
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
