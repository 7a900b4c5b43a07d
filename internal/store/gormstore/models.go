package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StakeRecord mirrors the stake_positions table.
type StakeRecord struct {
	RecordID     string          `gorm:"type:uuid;primaryKey"`
	Wallet       string          `gorm:"not null;index:idx_stake_wallet_address,unique,priority:1"`
	Address      string          `gorm:"not null;index:idx_stake_wallet_address,unique,priority:2"`
	Amount       decimal.Decimal `gorm:"type:numeric;not null"`
	StartedAt    time.Time       `gorm:"not null"`
	DurationDays int             `gorm:"not null"`
	APY          decimal.Decimal `gorm:"type:numeric;not null"`
	NftBoosted   bool            `gorm:"not null"`
	Claimed      decimal.Decimal `gorm:"type:numeric;not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

func (StakeRecord) TableName() string { return "stake_positions" }

func (record *StakeRecord) BeforeCreate(tx *gorm.DB) error {
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	return nil
}

// ProtocolConfigRecord mirrors the protocol_config table. There is one row
// per staking program.
type ProtocolConfigRecord struct {
	ConfigKey         string          `gorm:"primaryKey"`
	TokenMint         string          `gorm:"not null"`
	MaxStakePerWallet decimal.Decimal `gorm:"type:numeric;not null"`
	TotalStaked       decimal.Decimal `gorm:"type:numeric;not null"`
	TotalSupply       decimal.Decimal `gorm:"type:numeric;not null"`
	NftBonusAPY       decimal.Decimal `gorm:"type:numeric;not null"`
	Paused            bool            `gorm:"not null"`
	Snapshot          datatypes.JSON  `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

func (ProtocolConfigRecord) TableName() string { return "protocol_config" }

// NftHolding mirrors the nft_holdings table.
type NftHolding struct {
	HoldingID    string    `gorm:"type:uuid;primaryKey"`
	Wallet       string    `gorm:"not null;index:idx_nft_wallet_account,unique,priority:1"`
	TokenAccount string    `gorm:"not null;index:idx_nft_wallet_account,unique,priority:2"`
	Mint         string    `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (NftHolding) TableName() string { return "nft_holdings" }

func (holding *NftHolding) BeforeCreate(tx *gorm.DB) error {
	if holding.HoldingID == "" {
		holding.HoldingID = uuid.NewString()
	}
	return nil
}
