// Package solanarpc reads staking positions, the program config and NFT
// ownership straight from a Solana JSON-RPC node.
package solanarpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	errorOperationGateway = "gateway"
	errorSubjectStake     = "stake"
	errorSubjectConfig    = "config"
	errorSubjectNft       = "nft"
	errorSubjectIdentity  = "identity"
	errorCodeRequest      = "request"
	errorCodeDecode       = "decode"
	errorCodeInvalid      = "invalid"

	defaultTokenDecimals = 9
)

// ErrInvalidConfig reports an unusable gateway configuration.
var ErrInvalidConfig = errors.New("invalid solana gateway config")

// Config describes the staking program and the node to read it from.
type Config struct {
	Endpoint      string
	ProgramID     string
	TokenDecimals int32
	// CollectionMints restricts NFT detection to these mints. Empty accepts
	// every token account holding exactly one unit.
	CollectionMints []string
	Commitment      rpc.CommitmentType
}

// Gateway implements staking.Gateway over the Solana RPC API.
type Gateway struct {
	client        *rpc.Client
	programID     solana.PublicKey
	configAddress solana.PublicKey
	decimals      int32
	collection    map[solana.PublicKey]struct{}
	commitment    rpc.CommitmentType
}

// New validates config and connects an RPC client.
func New(config Config) (*Gateway, error) {
	endpoint := strings.TrimSpace(config.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	return NewWithClient(rpc.New(endpoint), config)
}

// NewWithClient builds a Gateway around an existing RPC client.
func NewWithClient(client *rpc.Client, config Config) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: rpc client is nil", ErrInvalidConfig)
	}
	programID, err := solana.PublicKeyFromBase58(strings.TrimSpace(config.ProgramID))
	if err != nil {
		return nil, fmt.Errorf("%w: program id: %v", ErrInvalidConfig, err)
	}
	configAddress, _, err := solana.FindProgramAddress([][]byte{[]byte(configSeed)}, programID)
	if err != nil {
		return nil, fmt.Errorf("%w: config address: %v", ErrInvalidConfig, err)
	}
	collection := make(map[solana.PublicKey]struct{}, len(config.CollectionMints))
	for _, rawMint := range config.CollectionMints {
		mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(rawMint))
		if err != nil {
			return nil, fmt.Errorf("%w: collection mint %q: %v", ErrInvalidConfig, rawMint, err)
		}
		collection[mint] = struct{}{}
	}
	decimals := config.TokenDecimals
	if decimals <= 0 {
		decimals = defaultTokenDecimals
	}
	commitment := config.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &Gateway{
		client:        client,
		programID:     programID,
		configAddress: configAddress,
		decimals:      decimals,
		collection:    collection,
		commitment:    commitment,
	}, nil
}

// ConfigAddress returns the derived program config account.
func (gateway *Gateway) ConfigAddress() solana.PublicKey {
	return gateway.configAddress
}

// FetchStakes lists the wallet's positions owned by the staking program.
func (gateway *Gateway) FetchStakes(ctx context.Context, identity staking.Identity) ([]staking.Stake, error) {
	owner, err := ownerKey(identity)
	if err != nil {
		return nil, err
	}
	accounts, err := gateway.client.GetProgramAccountsWithOpts(ctx, gateway.programID, &rpc.GetProgramAccountsOpts{
		Commitment: gateway.commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{DataSize: StakeAccountSize},
			{
				Memcmp: &rpc.RPCFilterMemcmp{
					Offset: 0,
					Bytes:  StakeAccountDiscriminator[:],
				},
			},
			{
				Memcmp: &rpc.RPCFilterMemcmp{
					Offset: stakeOwnerOffset,
					Bytes:  owner[:],
				},
			},
		},
	})
	if err != nil {
		return nil, staking.WrapError(errorOperationGateway, errorSubjectStake, errorCodeRequest, err)
	}
	stakes := make([]staking.Stake, 0, len(accounts))
	for _, keyed := range accounts {
		if keyed == nil || keyed.Account == nil || keyed.Account.Data == nil {
			continue
		}
		decoded, err := DecodeStakeAccount(keyed.Account.Data.GetBinary())
		if err != nil {
			return nil, staking.WrapError(errorOperationGateway, errorSubjectStake, errorCodeDecode,
				fmt.Errorf("account %s: %w", keyed.Pubkey, err))
		}
		stake, err := gateway.toStake(keyed.Pubkey, decoded)
		if err != nil {
			return nil, staking.WrapError(errorOperationGateway, errorSubjectStake, errorCodeDecode, err)
		}
		stakes = append(stakes, stake)
	}
	return stakes, nil
}

// FetchConfig reads the program config account.
func (gateway *Gateway) FetchConfig(ctx context.Context, _ staking.Identity) (staking.ProtocolConfig, error) {
	result, err := gateway.client.GetAccountInfoWithOpts(ctx, gateway.configAddress, &rpc.GetAccountInfoOpts{
		Commitment: gateway.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		return staking.ProtocolConfig{}, staking.WrapError(errorOperationGateway, errorSubjectConfig, errorCodeRequest, err)
	}
	if result == nil || result.Value == nil || result.Value.Data == nil {
		return staking.ProtocolConfig{}, staking.WrapError(errorOperationGateway, errorSubjectConfig, errorCodeRequest, rpc.ErrNotFound)
	}
	decoded, err := DecodeConfigAccount(result.Value.Data.GetBinary())
	if err != nil {
		return staking.ProtocolConfig{}, staking.WrapError(errorOperationGateway, errorSubjectConfig, errorCodeDecode, err)
	}
	return staking.ProtocolConfig{
		TokenMint:         decoded.TokenMint.String(),
		MaxStakePerWallet: baseUnitsToTokens(decoded.MaxStakePerWallet, gateway.decimals),
		TotalStaked:       baseUnitsToTokens(decoded.TotalStaked, gateway.decimals),
		TotalSupply:       baseUnitsToTokens(decoded.TotalSupply, gateway.decimals),
		NftBonusAPY:       staking.APYFromBasisPoints(decoded.NftBonusBasisPts),
		Paused:            decoded.Paused,
	}, nil
}

// FetchNftOwnership lists qualifying NFTs held by the wallet.
func (gateway *Gateway) FetchNftOwnership(ctx context.Context, identity staking.Identity) ([]staking.NftHandle, error) {
	owner, err := ownerKey(identity)
	if err != nil {
		return nil, err
	}
	programID := solana.TokenProgramID
	result, err := gateway.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &programID},
		&rpc.GetTokenAccountsOpts{Commitment: gateway.commitment, Encoding: solana.EncodingBase64},
	)
	if err != nil {
		return nil, staking.WrapError(errorOperationGateway, errorSubjectNft, errorCodeRequest, err)
	}
	handles := []staking.NftHandle{}
	if result == nil {
		return handles, nil
	}
	for _, tokenAccount := range result.Value {
		if tokenAccount == nil || tokenAccount.Account == nil || tokenAccount.Account.Data == nil {
			continue
		}
		decoded, err := DecodeTokenAccount(tokenAccount.Account.Data.GetBinary())
		if err != nil {
			return nil, staking.WrapError(errorOperationGateway, errorSubjectNft, errorCodeDecode,
				fmt.Errorf("account %s: %w", tokenAccount.Pubkey, err))
		}
		if !gateway.qualifies(decoded) {
			continue
		}
		handles = append(handles, staking.NftHandle{Mint: decoded.Mint.String(), TokenAccount: tokenAccount.Pubkey.String()})
	}
	return handles, nil
}

func (gateway *Gateway) qualifies(account TokenAccount) bool {
	if account.Amount != 1 {
		return false
	}
	if len(gateway.collection) == 0 {
		return true
	}
	_, listed := gateway.collection[account.Mint]
	return listed
}

func (gateway *Gateway) toStake(address solana.PublicKey, account StakeAccount) (staking.Stake, error) {
	return staking.NewStake(
		address.String(),
		baseUnitsToTokens(account.Amount, gateway.decimals),
		account.StartUnix,
		int(account.DurationDays),
		staking.APYFromBasisPoints(account.APYBasisPts),
		account.NftBoosted,
		baseUnitsToTokens(account.Claimed, gateway.decimals),
	)
}

func ownerKey(identity staking.Identity) (solana.PublicKey, error) {
	owner, err := solana.PublicKeyFromBase58(identity.String())
	if err != nil {
		return solana.PublicKey{}, staking.WrapError(errorOperationGateway, errorSubjectIdentity, errorCodeInvalid,
			fmt.Errorf("%w: %v", staking.ErrInvalidIdentity, err))
	}
	return owner, nil
}
