package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/internal/dashboardapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr       = "listen-addr"
	flagGRPCListenAddr   = "grpc-listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	flagJWTSigningKey    = "jwt-signing-key"
	flagJWTIssuer        = "jwt-issuer"
	flagJWTCookieName    = "jwt-cookie-name"
	flagTAuthBaseURL     = "tauth-base-url"
	flagDashboardIdleTTL = "dashboard-idle-ttl"
	flagGateway          = "gateway"
	flagRPCEndpoint      = "rpc-endpoint"
	flagProgramID        = "program-id"
	flagTokenDecimals    = "token-decimals"
	flagCollectionMints  = "collection-mints"
	flagCommitment       = "commitment"
	flagDatabaseURL      = "database-url"
	flagConfigKey        = "config-key"
	flagFetchTimeout     = "fetch-timeout"
	flagStaticPrice      = "static-price"
	flagPriceEndpoint    = "price-endpoint"
	flagPriceField       = "price-field"
	flagPriceInterval    = "price-interval"
	envPrefix            = "STAKINGDASH"

	defaultGRPCListenAddr = ":7070"
	defaultGateway        = gatewayRPC
	defaultCommitment     = "confirmed"
	defaultDatabaseURL    = "sqlite:///tmp/stakingdash.db"
	defaultConfigKey      = "default"
	defaultFetchTimeout   = 10 * time.Second
	defaultTokenDecimals  = 9
)

var boundFlags = []string{
	flagListenAddr, flagGRPCListenAddr, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer,
	flagJWTCookieName, flagTAuthBaseURL, flagDashboardIdleTTL, flagGateway, flagRPCEndpoint,
	flagProgramID, flagTokenDecimals, flagCollectionMints, flagCommitment, flagDatabaseURL,
	flagConfigKey, flagFetchTimeout, flagStaticPrice, flagPriceEndpoint, flagPriceField, flagPriceInterval,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stakingdash: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "stakingdash",
		Short:         "Staking dashboard HTTP and gRPC server",
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
	flags.String(flagListenAddr, "", "HTTP listen address (default :9090)")
	flags.String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address; empty disables the gRPC service")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer")
	flags.String(flagJWTCookieName, "", "JWT cookie name")
	flags.String(flagTAuthBaseURL, "", "base URL of TAuth")
	flags.Duration(flagDashboardIdleTTL, 0, "evict per-user dashboards idle for longer than this")
	flags.String(flagGateway, defaultGateway, "data source: rpc, sql, pgx or mirror")
	flags.String(flagRPCEndpoint, "", "Solana JSON-RPC endpoint (rpc and mirror gateways)")
	flags.String(flagProgramID, "", "staking program id (rpc and mirror gateways)")
	flags.Int(flagTokenDecimals, defaultTokenDecimals, "decimals of the staked token")
	flags.String(flagCollectionMints, "", "comma-separated NFT mints that qualify for boosted pools")
	flags.String(flagCommitment, defaultCommitment, "RPC commitment level")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "mirror database (sqlite:// or postgres://)")
	flags.String(flagConfigKey, defaultConfigKey, "protocol config row key in the mirror")
	flags.Duration(flagFetchTimeout, defaultFetchTimeout, "per-fetch timeout")
	flags.String(flagStaticPrice, "", "fixed USD token price; ignored when a price endpoint is set")
	flags.String(flagPriceEndpoint, "", "HTTP endpoint returning the token price as JSON")
	flags.String(flagPriceField, "", "JSON field holding the price (default price)")
	flags.Duration(flagPriceInterval, 0, "price poll interval (default 1m)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.API = dashboardapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:    dashboardapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagJWTCookieName)),
		TAuthBaseURL:      strings.TrimSpace(v.GetString(flagTAuthBaseURL)),
		DashboardIdleTTL:  v.GetDuration(flagDashboardIdleTTL),
	}
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.Gateway = gatewayConfig{
		Kind:            strings.ToLower(strings.TrimSpace(v.GetString(flagGateway))),
		RPCEndpoint:     strings.TrimSpace(v.GetString(flagRPCEndpoint)),
		ProgramID:       strings.TrimSpace(v.GetString(flagProgramID)),
		TokenDecimals:   int32(v.GetInt(flagTokenDecimals)),
		CollectionMints: splitList(v.GetString(flagCollectionMints)),
		Commitment:      strings.TrimSpace(v.GetString(flagCommitment)),
		DatabaseURL:     strings.TrimSpace(v.GetString(flagDatabaseURL)),
		ConfigKey:       strings.TrimSpace(v.GetString(flagConfigKey)),
		FetchTimeout:    v.GetDuration(flagFetchTimeout),
	}
	cfg.Price = priceConfig{
		Static:   strings.TrimSpace(v.GetString(flagStaticPrice)),
		Endpoint: strings.TrimSpace(v.GetString(flagPriceEndpoint)),
		Field:    strings.TrimSpace(v.GetString(flagPriceField)),
		Interval: v.GetDuration(flagPriceInterval),
	}

	if err := cfg.API.Validate(); err != nil {
		return err
	}
	return cfg.validate()
}

func splitList(raw string) []string {
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
