package main

import (
	"fmt"

	"payroll-gateway/internal/observability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// flagKeys liga cada chave de configuração à flag que pode sobrescrevê-la.
var flagKeys = map[string]string{
	"listen_addr":  "listen-addr",
	"upstream_url": "upstream-url",
	"verify_url":   "verify-url",
	"log_level":    "log-level",
	"log_format":   "log-format",
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Resilience and access-control gateway for the payroll API",
		Long: `gateway fronts the employee/payroll API with rate limiting, IP verification
through a circuit breaker and JWT authentication.

Configuration comes from environment variables (LISTEN_ADDR, UPSTREAM_URL, RATE_*,
BREAKER_*, VERIFY_*, TOKEN_*, RSA_*, AUTH_USERS, LOG_*) and an optional YAML file
whose keys are the lower-case variable names.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cfgFile)
			if err != nil {
				return err
			}
			for key, flag := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			if v.ConfigFileUsed() != "" {
				logger.Info("using config file", zap.String("path", v.ConfigFileUsed()))
			}
			return run(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (YAML, optional)")
	cmd.Flags().String("listen-addr", ":8080", "listen address (LISTEN_ADDR)")
	cmd.Flags().String("upstream-url", "", "payroll API base URL (UPSTREAM_URL)")
	cmd.Flags().String("verify-url", "http://localhost:8081", "verification service base URL (VERIFY_URL)")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error (LOG_LEVEL)")
	cmd.Flags().String("log-format", "json", "log format: json or console (LOG_FORMAT)")

	return cmd
}
