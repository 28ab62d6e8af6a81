package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jgoldverg/nexusgw/internal"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type ctxKey string

const appCtxKey ctxKey = "gatewayConfig"
const appConfigPathKey ctxKey = "gatewayConfigPath"

func NewRootCommand() *cobra.Command {
	var configPath string
	var envFile string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "nexusgw",
		Short: "nexusgw bridges a KAT treadmill to UDP clients",
		Long: `nexusgw announces a locally attached treadmill on the discovery port,
accepts client sessions on the control port and streams sensor status to
every registered client port.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env values must be in the environment before viper reads it.
			if err := godotenv.Load(envFile); err != nil {
				if cmd.Flags().Changed("env-file") || !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("load env file %s: %w", envFile, err)
				}
			}

			cfg, err := internal.LoadGatewayConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load gateway config: %w", err)
			}
			if strings.TrimSpace(logLevel) != "" {
				cfg.LogLevel = logLevel
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in gateway config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			cfgPath := configPath
			if strings.TrimSpace(cfgPath) == "" {
				if cfgPath, err = internal.DefaultConfigPath(); err != nil {
					return err
				}
			}

			ctx := context.WithValue(cmd.Context(), appCtxKey, cfg)
			ctx = context.WithValue(ctx, appConfigPathKey, cfgPath)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to gateway config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log_level from the config")

	rootCmd.AddCommand(ServeCommand())
	rootCmd.AddCommand(WatchCommand())
	rootCmd.AddCommand(ClientCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

// GetGatewayConfig returns the config loaded by the root command.
func GetGatewayConfig(cmd *cobra.Command) *internal.GatewayConfig {
	if v := cmd.Context().Value(appCtxKey); v != nil {
		if data, ok := v.(*internal.GatewayConfig); ok {
			return data
		}
	}
	return nil
}

func getConfigPath(cmd *cobra.Command) string {
	if v := cmd.Context().Value(appConfigPathKey); v != nil {
		if path, ok := v.(string); ok {
			return path
		}
	}
	return ""
}
