package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/internal/gateway"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/gateway/solanarpc"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/mirror"
	"github.com/MarkoPoloResearchLab/stakingdash/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagRPCEndpoint     = "rpc-endpoint"
	flagProgramID       = "program-id"
	flagTokenDecimals   = "token-decimals"
	flagCollectionMints = "collection-mints"
	flagCommitment      = "commitment"
	flagDatabaseURL     = "database-url"
	flagConfigKey       = "config-key"
	flagWallets         = "wallets"
	flagInterval        = "interval"
	flagConcurrency     = "concurrency"
	flagFetchTimeout    = "fetch-timeout"
	flagOnce            = "once"
	envPrefix           = "STAKEMIRROR"

	defaultDatabaseURL  = "sqlite:///tmp/stakingdash.db"
	defaultCommitment   = "confirmed"
	defaultInterval     = 5 * time.Minute
	defaultConcurrency  = 4
	defaultFetchTimeout = 15 * time.Second
)

type runtimeConfig struct {
	Source       solanarpc.Config
	DatabaseURL  string
	ConfigKey    string
	Wallets      []staking.Identity
	Interval     time.Duration
	Concurrency  int
	FetchTimeout time.Duration
	Once         bool
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stakemirror: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "stakemirror",
		Short:         "Copy on-chain staking state into the SQL mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagRPCEndpoint, "", "Solana JSON-RPC endpoint (required)")
	flags.String(flagProgramID, "", "staking program id (required)")
	flags.Int(flagTokenDecimals, 9, "decimals of the staked token")
	flags.String(flagCollectionMints, "", "comma-separated NFT mints that qualify for boosted pools")
	flags.String(flagCommitment, defaultCommitment, "RPC commitment level")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "mirror database (sqlite:// or postgres://)")
	flags.String(flagConfigKey, "", "protocol config row key")
	flags.String(flagWallets, "", "comma-separated wallets to mirror (required)")
	flags.Duration(flagInterval, defaultInterval, "time between passes")
	flags.Int(flagConcurrency, defaultConcurrency, "wallets indexed in parallel")
	flags.Duration(flagFetchTimeout, defaultFetchTimeout, "per-fetch timeout")
	flags.Bool(flagOnce, false, "run a single pass and exit")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range []string{flagRPCEndpoint, flagProgramID, flagTokenDecimals, flagCollectionMints, flagCommitment, flagDatabaseURL, flagConfigKey, flagWallets, flagInterval, flagConcurrency, flagFetchTimeout, flagOnce} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.Source = solanarpc.Config{
		Endpoint:        strings.TrimSpace(v.GetString(flagRPCEndpoint)),
		ProgramID:       strings.TrimSpace(v.GetString(flagProgramID)),
		TokenDecimals:   int32(v.GetInt(flagTokenDecimals)),
		CollectionMints: strings.FieldsFunc(v.GetString(flagCollectionMints), isListSeparator),
		Commitment:      rpc.CommitmentType(strings.TrimSpace(v.GetString(flagCommitment))),
	}
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.ConfigKey = strings.TrimSpace(v.GetString(flagConfigKey))
	cfg.Interval = v.GetDuration(flagInterval)
	cfg.Concurrency = v.GetInt(flagConcurrency)
	cfg.FetchTimeout = v.GetDuration(flagFetchTimeout)
	cfg.Once = v.GetBool(flagOnce)

	wallets, err := mirror.ParseWallets(strings.Split(v.GetString(flagWallets), ","))
	if err != nil {
		return err
	}
	cfg.Wallets = wallets

	if cfg.Source.Endpoint == "" {
		return fmt.Errorf("%s is required", flagRPCEndpoint)
	}
	if cfg.Source.ProgramID == "" {
		return fmt.Errorf("%s is required", flagProgramID)
	}
	if len(cfg.Wallets) == 0 {
		return fmt.Errorf("%s is required", flagWallets)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("%s is required", flagDatabaseURL)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return nil
}

func isListSeparator(character rune) bool {
	return character == ',' || character == ' '
}

func run(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rpcGateway, err := solanarpc.New(cfg.Source)
	if err != nil {
		return err
	}
	source, err := gateway.WithTimeout(rpcGateway, cfg.FetchTimeout)
	if err != nil {
		return err
	}

	db, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(db); err != nil {
		return err
	}
	store := gormstore.New(db, gormstore.WithConfigKey(cfg.ConfigKey))

	indexer, err := mirror.NewIndexer(source, store, mirror.WithConcurrency(cfg.Concurrency), mirror.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("mirror starting",
		zap.String("driver", driver),
		zap.Int("wallets", len(cfg.Wallets)),
		zap.Duration("interval", cfg.Interval))

	if cfg.Once {
		summary, err := indexer.IndexOnce(ctx, cfg.Wallets)
		if err != nil {
			return err
		}
		if summary.FailedWallets > 0 {
			return fmt.Errorf("%d of %d wallets failed", summary.FailedWallets, summary.Wallets)
		}
		return nil
	}
	return indexer.Run(ctx, cfg.Wallets, cfg.Interval)
}
