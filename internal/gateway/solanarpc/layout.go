package solanarpc

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	discriminatorLength = 8
	// StakeAccountSize is the serialized size of a staking program position.
	StakeAccountSize = discriminatorLength + 32 + 8 + 8 + 2 + 2 + 1 + 8
	// ConfigAccountSize is the serialized size of the program config account.
	ConfigAccountSize = discriminatorLength + 32 + 8 + 8 + 8 + 2 + 1
	// stake owner follows the discriminator.
	stakeOwnerOffset = discriminatorLength

	tokenAccountMinSize = 72
	configSeed          = "config"
	accountNamespace    = "account"
)

// ErrAccountLayout reports account data that does not match the expected layout.
var ErrAccountLayout = errors.New("unexpected account layout")

// Anchor account discriminators: the first 8 bytes of sha256("account:<Name>").
var (
	StakeAccountDiscriminator  = accountDiscriminator("StakeAccount")
	ConfigAccountDiscriminator = accountDiscriminator("ConfigAccount")
)

func accountDiscriminator(name string) [discriminatorLength]byte {
	var discriminator [discriminatorLength]byte
	copy(discriminator[:], bin.Sighash(accountNamespace, name))
	return discriminator
}

// StakeAccount is the on-chain representation of one staking position.
type StakeAccount struct {
	Discriminator [8]byte
	Owner         solana.PublicKey
	Amount        uint64
	StartUnix     int64
	DurationDays  uint16
	APYBasisPts   uint16
	NftBoosted    bool
	Claimed       uint64
}

// ConfigAccount is the on-chain staking program configuration.
type ConfigAccount struct {
	Discriminator     [8]byte
	TokenMint         solana.PublicKey
	MaxStakePerWallet uint64
	TotalStaked       uint64
	TotalSupply       uint64
	NftBonusBasisPts  uint16
	Paused            bool
}

// TokenAccount holds the fields of an SPL token account needed for NFT detection.
type TokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// DecodeStakeAccount parses borsh encoded stake account data.
func DecodeStakeAccount(data []byte) (StakeAccount, error) {
	if len(data) < StakeAccountSize {
		return StakeAccount{}, fmt.Errorf("%w: stake account has %d bytes, want %d", ErrAccountLayout, len(data), StakeAccountSize)
	}
	decoder := bin.NewBorshDecoder(data)
	var account StakeAccount
	var err error
	if err = readFixed(decoder, account.Discriminator[:]); err != nil {
		return StakeAccount{}, err
	}
	if account.Discriminator != StakeAccountDiscriminator {
		return StakeAccount{}, fmt.Errorf("%w: stake discriminator %x, want %x", ErrAccountLayout, account.Discriminator, StakeAccountDiscriminator)
	}
	if err = readFixed(decoder, account.Owner[:]); err != nil {
		return StakeAccount{}, err
	}
	if account.Amount, err = decoder.ReadUint64(bin.LE); err != nil {
		return StakeAccount{}, fmt.Errorf("%w: amount: %v", ErrAccountLayout, err)
	}
	if account.StartUnix, err = decoder.ReadInt64(bin.LE); err != nil {
		return StakeAccount{}, fmt.Errorf("%w: start: %v", ErrAccountLayout, err)
	}
	if account.DurationDays, err = decoder.ReadUint16(bin.LE); err != nil {
		return StakeAccount{}, fmt.Errorf("%w: duration: %v", ErrAccountLayout, err)
	}
	if account.APYBasisPts, err = decoder.ReadUint16(bin.LE); err != nil {
		return StakeAccount{}, fmt.Errorf("%w: apy: %v", ErrAccountLayout, err)
	}
	if account.NftBoosted, err = decoder.ReadBool(); err != nil {
		return StakeAccount{}, fmt.Errorf("%w: nft flag: %v", ErrAccountLayout, err)
	}
	if account.Claimed, err = decoder.ReadUint64(bin.LE); err != nil {
		return StakeAccount{}, fmt.Errorf("%w: claimed: %v", ErrAccountLayout, err)
	}
	return account, nil
}

// EncodeStakeAccount serializes a stake account. Used by fixtures and tooling.
// A zero discriminator is written as StakeAccountDiscriminator.
func EncodeStakeAccount(account StakeAccount) ([]byte, error) {
	buffer := new(bytes.Buffer)
	encoder := bin.NewBorshEncoder(buffer)
	if account.Discriminator == ([discriminatorLength]byte{}) {
		account.Discriminator = StakeAccountDiscriminator
	}
	steps := []func() error{
		func() error { return encoder.WriteBytes(account.Discriminator[:], false) },
		func() error { return encoder.WriteBytes(account.Owner[:], false) },
		func() error { return encoder.WriteUint64(account.Amount, bin.LE) },
		func() error { return encoder.WriteInt64(account.StartUnix, bin.LE) },
		func() error { return encoder.WriteUint16(account.DurationDays, bin.LE) },
		func() error { return encoder.WriteUint16(account.APYBasisPts, bin.LE) },
		func() error { return encoder.WriteBool(account.NftBoosted) },
		func() error { return encoder.WriteUint64(account.Claimed, bin.LE) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return buffer.Bytes(), nil
}

// DecodeConfigAccount parses borsh encoded program config data.
func DecodeConfigAccount(data []byte) (ConfigAccount, error) {
	if len(data) < ConfigAccountSize {
		return ConfigAccount{}, fmt.Errorf("%w: config account has %d bytes, want %d", ErrAccountLayout, len(data), ConfigAccountSize)
	}
	decoder := bin.NewBorshDecoder(data)
	var account ConfigAccount
	var err error
	if err = readFixed(decoder, account.Discriminator[:]); err != nil {
		return ConfigAccount{}, err
	}
	if account.Discriminator != ConfigAccountDiscriminator {
		return ConfigAccount{}, fmt.Errorf("%w: config discriminator %x, want %x", ErrAccountLayout, account.Discriminator, ConfigAccountDiscriminator)
	}
	if err = readFixed(decoder, account.TokenMint[:]); err != nil {
		return ConfigAccount{}, err
	}
	if account.MaxStakePerWallet, err = decoder.ReadUint64(bin.LE); err != nil {
		return ConfigAccount{}, fmt.Errorf("%w: max stake: %v", ErrAccountLayout, err)
	}
	if account.TotalStaked, err = decoder.ReadUint64(bin.LE); err != nil {
		return ConfigAccount{}, fmt.Errorf("%w: total staked: %v", ErrAccountLayout, err)
	}
	if account.TotalSupply, err = decoder.ReadUint64(bin.LE); err != nil {
		return ConfigAccount{}, fmt.Errorf("%w: total supply: %v", ErrAccountLayout, err)
	}
	if account.NftBonusBasisPts, err = decoder.ReadUint16(bin.LE); err != nil {
		return ConfigAccount{}, fmt.Errorf("%w: nft bonus: %v", ErrAccountLayout, err)
	}
	if account.Paused, err = decoder.ReadBool(); err != nil {
		return ConfigAccount{}, fmt.Errorf("%w: paused: %v", ErrAccountLayout, err)
	}
	return account, nil
}

// EncodeConfigAccount serializes a config account. A zero discriminator is
// written as ConfigAccountDiscriminator.
func EncodeConfigAccount(account ConfigAccount) ([]byte, error) {
	buffer := new(bytes.Buffer)
	encoder := bin.NewBorshEncoder(buffer)
	if account.Discriminator == ([discriminatorLength]byte{}) {
		account.Discriminator = ConfigAccountDiscriminator
	}
	steps := []func() error{
		func() error { return encoder.WriteBytes(account.Discriminator[:], false) },
		func() error { return encoder.WriteBytes(account.TokenMint[:], false) },
		func() error { return encoder.WriteUint64(account.MaxStakePerWallet, bin.LE) },
		func() error { return encoder.WriteUint64(account.TotalStaked, bin.LE) },
		func() error { return encoder.WriteUint64(account.TotalSupply, bin.LE) },
		func() error { return encoder.WriteUint16(account.NftBonusBasisPts, bin.LE) },
		func() error { return encoder.WriteBool(account.Paused) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return buffer.Bytes(), nil
}

// DecodeTokenAccount reads mint, owner and amount from SPL token account data.
func DecodeTokenAccount(data []byte) (TokenAccount, error) {
	if len(data) < tokenAccountMinSize {
		return TokenAccount{}, fmt.Errorf("%w: token account has %d bytes", ErrAccountLayout, len(data))
	}
	decoder := bin.NewBinDecoder(data)
	var account TokenAccount
	if err := readFixed(decoder, account.Mint[:]); err != nil {
		return TokenAccount{}, err
	}
	if err := readFixed(decoder, account.Owner[:]); err != nil {
		return TokenAccount{}, err
	}
	amount, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return TokenAccount{}, fmt.Errorf("%w: amount: %v", ErrAccountLayout, err)
	}
	account.Amount = amount
	return account, nil
}

func readFixed(decoder *bin.Decoder, target []byte) error {
	raw, err := decoder.ReadNBytes(len(target))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountLayout, err)
	}
	copy(target, raw)
	return nil
}

// baseUnitsToTokens scales a raw u64 token amount by the mint decimals.
func baseUnitsToTokens(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals)
}
