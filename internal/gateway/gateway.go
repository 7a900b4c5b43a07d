// Package gateway holds staking.Gateway decorators shared by the binaries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"go.uber.org/zap"
)

// ErrInvalidGateway reports a decorator built without its dependencies.
var ErrInvalidGateway = errors.New("invalid gateway")

// Recorder persists fetched chain state so a SQL-backed gateway can serve it later.
type Recorder interface {
	RecordStakes(ctx context.Context, identity staking.Identity, stakes []staking.Stake) error
	RecordConfig(ctx context.Context, config staking.ProtocolConfig) error
	RecordNftOwnership(ctx context.Context, identity staking.Identity, handles []staking.NftHandle) error
}

// WalletRecorder is implemented by recorders that can replace a wallet's
// stakes and NFT holdings atomically.
type WalletRecorder interface {
	RecordWallet(ctx context.Context, identity staking.Identity, stakes []staking.Stake, handles []staking.NftHandle) error
}

// Timeout bounds every fetch of the wrapped gateway.
type Timeout struct {
	next    staking.Gateway
	timeout time.Duration
}

// WithTimeout wraps next so each fetch gives up after timeout.
func WithTimeout(next staking.Gateway, timeout time.Duration) (*Timeout, error) {
	if next == nil {
		return nil, fmt.Errorf("%w: wrapped gateway is nil", ErrInvalidGateway)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive", ErrInvalidGateway)
	}
	return &Timeout{next: next, timeout: timeout}, nil
}

func (gateway *Timeout) FetchStakes(ctx context.Context, identity staking.Identity) ([]staking.Stake, error) {
	boundedContext, cancel := context.WithTimeout(ctx, gateway.timeout)
	defer cancel()
	return gateway.next.FetchStakes(boundedContext, identity)
}

func (gateway *Timeout) FetchConfig(ctx context.Context, identity staking.Identity) (staking.ProtocolConfig, error) {
	boundedContext, cancel := context.WithTimeout(ctx, gateway.timeout)
	defer cancel()
	return gateway.next.FetchConfig(boundedContext, identity)
}

func (gateway *Timeout) FetchNftOwnership(ctx context.Context, identity staking.Identity) ([]staking.NftHandle, error) {
	boundedContext, cancel := context.WithTimeout(ctx, gateway.timeout)
	defer cancel()
	return gateway.next.FetchNftOwnership(boundedContext, identity)
}

// Mirror reads from a primary gateway, records successful reads and serves
// the fallback gateway when the primary fails.
type Mirror struct {
	primary  staking.Gateway
	fallback staking.Gateway
	recorder Recorder
	logger   *zap.Logger
}

// NewMirror wires a Mirror. fallback and recorder are optional.
func NewMirror(primary staking.Gateway, fallback staking.Gateway, recorder Recorder, logger *zap.Logger) (*Mirror, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: primary gateway is nil", ErrInvalidGateway)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{primary: primary, fallback: fallback, recorder: recorder, logger: logger}, nil
}

func (mirror *Mirror) FetchStakes(ctx context.Context, identity staking.Identity) ([]staking.Stake, error) {
	stakes, err := mirror.primary.FetchStakes(ctx, identity)
	if err == nil {
		if mirror.recorder != nil {
			mirror.logRecordFailure(staking.FetchSourceStakes, identity, mirror.recorder.RecordStakes(ctx, identity, stakes))
		}
		return stakes, nil
	}
	if mirror.fallback == nil {
		return nil, err
	}
	mirror.logFallback(staking.FetchSourceStakes, identity, err)
	stakes, fallbackErr := mirror.fallback.FetchStakes(ctx, identity)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	return stakes, nil
}

func (mirror *Mirror) FetchConfig(ctx context.Context, identity staking.Identity) (staking.ProtocolConfig, error) {
	config, err := mirror.primary.FetchConfig(ctx, identity)
	if err == nil {
		if mirror.recorder != nil {
			mirror.logRecordFailure(staking.FetchSourceConfig, identity, mirror.recorder.RecordConfig(ctx, config))
		}
		return config, nil
	}
	if mirror.fallback == nil {
		return staking.ProtocolConfig{}, err
	}
	mirror.logFallback(staking.FetchSourceConfig, identity, err)
	config, fallbackErr := mirror.fallback.FetchConfig(ctx, identity)
	if fallbackErr != nil {
		return staking.ProtocolConfig{}, errors.Join(err, fallbackErr)
	}
	return config, nil
}

func (mirror *Mirror) FetchNftOwnership(ctx context.Context, identity staking.Identity) ([]staking.NftHandle, error) {
	handles, err := mirror.primary.FetchNftOwnership(ctx, identity)
	if err == nil {
		if mirror.recorder != nil {
			mirror.logRecordFailure(staking.FetchSourceNfts, identity, mirror.recorder.RecordNftOwnership(ctx, identity, handles))
		}
		return handles, nil
	}
	if mirror.fallback == nil {
		return nil, err
	}
	mirror.logFallback(staking.FetchSourceNfts, identity, err)
	handles, fallbackErr := mirror.fallback.FetchNftOwnership(ctx, identity)
	if fallbackErr != nil {
		return nil, errors.Join(err, fallbackErr)
	}
	return handles, nil
}

func (mirror *Mirror) logFallback(source staking.FetchSource, identity staking.Identity, err error) {
	mirror.logger.Warn("primary gateway failed, serving mirror",
		zap.String("source", source.String()),
		zap.String("wallet", identity.String()),
		zap.Error(err),
	)
}

func (mirror *Mirror) logRecordFailure(source staking.FetchSource, identity staking.Identity, err error) {
	if err == nil {
		return
	}
	mirror.logger.Warn("mirror record failed",
		zap.String("source", source.String()),
		zap.String("wallet", identity.String()),
		zap.Error(err),
	)
}
