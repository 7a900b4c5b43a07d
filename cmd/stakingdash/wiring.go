package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/internal/dashboardapi"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/dashboards"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/gateway"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/gateway/solanarpc"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/pricefeed"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/telemetry"
	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	gatewayRPC    = "rpc"
	gatewaySQL    = "sql"
	gatewayPGX    = "pgx"
	gatewayMirror = "mirror"
)

var errUnknownGateway = errors.New("unknown gateway")

type runtimeConfig struct {
	API            dashboardapi.Config
	GRPCListenAddr string
	Gateway        gatewayConfig
	Price          priceConfig
}

type gatewayConfig struct {
	Kind            string
	RPCEndpoint     string
	ProgramID       string
	TokenDecimals   int32
	CollectionMints []string
	Commitment      string
	DatabaseURL     string
	ConfigKey       string
	FetchTimeout    time.Duration
}

type priceConfig struct {
	Static   string
	Endpoint string
	Field    string
	Interval time.Duration
}

func (cfg *runtimeConfig) validate() error {
	switch cfg.Gateway.Kind {
	case gatewayRPC, gatewayMirror:
		if cfg.Gateway.RPCEndpoint == "" {
			return fmt.Errorf("%s is required for the %s gateway", flagRPCEndpoint, cfg.Gateway.Kind)
		}
		if cfg.Gateway.ProgramID == "" {
			return fmt.Errorf("%s is required for the %s gateway", flagProgramID, cfg.Gateway.Kind)
		}
	case gatewaySQL, gatewayPGX:
	default:
		return fmt.Errorf("%w %q", errUnknownGateway, cfg.Gateway.Kind)
	}
	if cfg.Gateway.Kind != gatewayRPC && cfg.Gateway.DatabaseURL == "" {
		return fmt.Errorf("%s is required for the %s gateway", flagDatabaseURL, cfg.Gateway.Kind)
	}
	if cfg.Gateway.FetchTimeout <= 0 {
		cfg.Gateway.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Price.Endpoint == "" && cfg.Price.Static != "" {
		if _, err := parsePrice(cfg.Price.Static); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := telemetry.NewMetrics()
	operationLogger := telemetry.Fanout{telemetry.NewZapOperationLogger(logger), metrics}

	source, cleanup, err := buildGateway(ctx, cfg.Gateway, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	price, poller, err := buildPriceSource(cfg.Price, logger)
	if err != nil {
		return err
	}

	factory := dashboards.NewFactory(source, staking.DefaultPoolCatalog(), staking.NewMetricsProjector(nil, nil), price, operationLogger)
	registry, err := dashboards.NewRegistry(factory,
		dashboards.WithIdleTTL(cfg.API.DashboardIdleTTL),
		dashboards.WithSizeObserver(metrics.SetActiveDashboards),
		dashboards.WithRegistryLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("dashboard registry init: %w", err)
	}
	defer registry.Close()

	server, err := dashboardapi.NewServer(cfg.API, registry, dashboardapi.WithLogger(logger), dashboardapi.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("dashboard api init: %w", err)
	}

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Run(groupContext) })
	if poller != nil {
		group.Go(func() error {
			poller.Run(groupContext)
			return nil
		})
	}
	if cfg.GRPCListenAddr != "" {
		group.Go(func() error { return serveGRPC(groupContext, cfg.GRPCListenAddr, registry, logger) })
	}
	return group.Wait()
}

// buildGateway assembles the configured data source wrapped in a per-fetch
// timeout. The returned cleanup releases database pools.
func buildGateway(ctx context.Context, cfg gatewayConfig, logger *zap.Logger) (staking.Gateway, func(), error) {
	noop := func() {}
	var (
		source  staking.Gateway
		cleanup = noop
	)
	switch cfg.Kind {
	case gatewayRPC:
		rpcGateway, err := newRPCGateway(cfg)
		if err != nil {
			return nil, noop, err
		}
		source = rpcGateway
	case gatewaySQL:
		store, closeStore, err := openMirrorStore(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		source, cleanup = store, closeStore
	case gatewayPGX:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("pgx pool: %w", err)
		}
		source, cleanup = pgstore.New(pool, cfg.ConfigKey), pool.Close
	case gatewayMirror:
		rpcGateway, err := newRPCGateway(cfg)
		if err != nil {
			return nil, noop, err
		}
		store, closeStore, err := openMirrorStore(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		mirror, err := gateway.NewMirror(rpcGateway, store, store, logger)
		if err != nil {
			closeStore()
			return nil, noop, err
		}
		source, cleanup = mirror, closeStore
	default:
		return nil, noop, fmt.Errorf("%w %q", errUnknownGateway, cfg.Kind)
	}

	bounded, err := gateway.WithTimeout(source, cfg.FetchTimeout)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	logger.Info("gateway ready", zap.String("gateway", cfg.Kind), zap.Duration("fetch_timeout", cfg.FetchTimeout))
	return bounded, cleanup, nil
}

func newRPCGateway(cfg gatewayConfig) (*solanarpc.Gateway, error) {
	return solanarpc.New(solanarpc.Config{
		Endpoint:        cfg.RPCEndpoint,
		ProgramID:       cfg.ProgramID,
		TokenDecimals:   cfg.TokenDecimals,
		CollectionMints: cfg.CollectionMints,
		Commitment:      rpc.CommitmentType(cfg.Commitment),
	})
}

func openMirrorStore(ctx context.Context, cfg gatewayConfig) (*gormstore.Store, func(), error) {
	db, closeDB, _, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		_ = closeDB()
		return nil, nil, err
	}
	return gormstore.New(db, gormstore.WithConfigKey(cfg.ConfigKey)), func() { _ = closeDB() }, nil
}

// buildPriceSource prefers a polled endpoint over a static price. With
// neither configured the price stays zero and monetary metrics render as
// placeholders.
func buildPriceSource(cfg priceConfig, logger *zap.Logger) (staking.PriceSource, *pricefeed.Poller, error) {
	if cfg.Endpoint != "" {
		poller, err := pricefeed.NewPoller(pricefeed.Config{
			Endpoint:   cfg.Endpoint,
			PriceField: cfg.Field,
			Interval:   cfg.Interval,
		}, pricefeed.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return poller, poller, nil
	}
	if cfg.Static == "" {
		return staking.StaticPrice(decimal.Zero), nil, nil
	}
	price, err := parsePrice(cfg.Static)
	if err != nil {
		return nil, nil, err
	}
	return staking.StaticPrice(price), nil, nil
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", flagStaticPrice, err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", flagStaticPrice)
	}
	return price, nil
}

func serveGRPC(ctx context.Context, listenAddr string, registry *dashboards.Registry, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	grpcserver.RegisterSessionServiceServer(grpcServer, grpcserver.NewSessionServer(registry, nil))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		if serveErr := <-errCh; serveErr != nil && serveErr != grpc.ErrServerStopped {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if serveErr == grpc.ErrServerStopped {
			return nil
		}
		return serveErr
	}
}
