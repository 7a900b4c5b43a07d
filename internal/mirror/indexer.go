// Package mirror copies on-chain staking state into the SQL mirror that the
// store-backed gateways serve from.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/internal/gateway"
	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Summary counts the outcome of one indexing pass.
type Summary struct {
	Wallets       int
	Stakes        int
	NftHoldings   int
	FailedWallets int
	ConfigIndexed bool
}

// Indexer reads wallets from a source gateway and records them.
type Indexer struct {
	source      staking.Gateway
	recorder    gateway.Recorder
	logger      *zap.Logger
	concurrency int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithConcurrency bounds how many wallets are indexed at once.
func WithConcurrency(concurrency int) Option {
	return func(indexer *Indexer) {
		if concurrency > 0 {
			indexer.concurrency = concurrency
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(indexer *Indexer) {
		if logger != nil {
			indexer.logger = logger
		}
	}
}

// NewIndexer wires an Indexer.
func NewIndexer(source staking.Gateway, recorder gateway.Recorder, options ...Option) (*Indexer, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: source gateway is nil", staking.ErrInvalidServiceConfig)
	}
	if recorder == nil {
		return nil, fmt.Errorf("%w: recorder is nil", staking.ErrInvalidServiceConfig)
	}
	indexer := &Indexer{
		source:      source,
		recorder:    recorder,
		logger:      zap.NewNop(),
		concurrency: defaultConcurrency,
	}
	for _, option := range options {
		option(indexer)
	}
	return indexer, nil
}

// IndexOnce records the protocol config and every wallet's stakes and NFT
// holdings. A failing wallet is logged and counted; it does not stop the
// others. Only a config failure or cancellation is returned as an error.
func (indexer *Indexer) IndexOnce(ctx context.Context, wallets []staking.Identity) (Summary, error) {
	summary := Summary{Wallets: len(wallets)}
	if len(wallets) == 0 {
		return summary, nil
	}

	config, err := indexer.source.FetchConfig(ctx, wallets[0])
	if err != nil {
		return summary, fmt.Errorf("fetch config: %w", err)
	}
	if err := indexer.recorder.RecordConfig(ctx, config); err != nil {
		return summary, fmt.Errorf("record config: %w", err)
	}
	summary.ConfigIndexed = true

	var (
		stakes atomic.Int64
		nfts   atomic.Int64
		failed atomic.Int64
	)
	group, groupContext := errgroup.WithContext(ctx)
	group.SetLimit(indexer.concurrency)
	for _, wallet := range wallets {
		wallet := wallet
		group.Go(func() error {
			stakeCount, nftCount, err := indexer.indexWallet(groupContext, wallet)
			if err != nil {
				if groupContext.Err() != nil {
					return groupContext.Err()
				}
				failed.Add(1)
				indexer.logger.Warn("wallet indexing failed", zap.String("wallet", wallet.String()), zap.Error(err))
				return nil
			}
			stakes.Add(int64(stakeCount))
			nfts.Add(int64(nftCount))
			return nil
		})
	}
	err = group.Wait()
	summary.Stakes = int(stakes.Load())
	summary.NftHoldings = int(nfts.Load())
	summary.FailedWallets = int(failed.Load())
	if err != nil {
		return summary, err
	}
	indexer.logger.Info("mirror pass complete",
		zap.Int("wallets", summary.Wallets),
		zap.Int("stakes", summary.Stakes),
		zap.Int("nft_holdings", summary.NftHoldings),
		zap.Int("failed_wallets", summary.FailedWallets))
	return summary, nil
}

// Run indexes immediately and then on every interval until ctx ends.
func (indexer *Indexer) Run(ctx context.Context, wallets []staking.Identity, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := indexer.IndexOnce(ctx, wallets); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			indexer.logger.Warn("mirror pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (indexer *Indexer) indexWallet(ctx context.Context, wallet staking.Identity) (int, int, error) {
	stakes, err := indexer.source.FetchStakes(ctx, wallet)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch stakes: %w", err)
	}
	handles, err := indexer.source.FetchNftOwnership(ctx, wallet)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch nft ownership: %w", err)
	}
	if walletRecorder, ok := indexer.recorder.(gateway.WalletRecorder); ok {
		if err := walletRecorder.RecordWallet(ctx, wallet, stakes, handles); err != nil {
			return 0, 0, fmt.Errorf("record wallet: %w", err)
		}
		return len(stakes), len(handles), nil
	}
	if err := indexer.recorder.RecordStakes(ctx, wallet, stakes); err != nil {
		return 0, 0, fmt.Errorf("record stakes: %w", err)
	}
	if err := indexer.recorder.RecordNftOwnership(ctx, wallet, handles); err != nil {
		return 0, 0, fmt.Errorf("record nft ownership: %w", err)
	}
	return len(stakes), len(handles), nil
}

// ParseWallets validates a list of wallet addresses, skipping blanks and
// duplicates.
func ParseWallets(raw []string) ([]staking.Identity, error) {
	seen := map[string]struct{}{}
	wallets := make([]staking.Identity, 0, len(raw))
	for _, value := range raw {
		if strings.TrimSpace(value) == "" {
			continue
		}
		identity, err := staking.NewIdentity(value)
		if err != nil {
			return nil, fmt.Errorf("wallet %q: %w", value, err)
		}
		if _, ok := seen[identity.String()]; ok {
			continue
		}
		seen[identity.String()] = struct{}{}
		wallets = append(wallets, identity)
	}
	return wallets, nil
}
