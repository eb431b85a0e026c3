package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/config"
	"github.com/yatharth29/cygraph-extract-cti-knowledge-graph/internal/observability"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "cygraph",
	Short:   "cygraph extracts threat-intelligence knowledge graphs from text.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		if err := config.Load(viper.GetViper()); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		cfg := config.Get()
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Starting cygraph", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command with the given context for graceful
// shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newFeedbackCmd())
	rootCmd.AddCommand(versionCmd)
}

// initializeConfig reads the config file and environment variables into
// Viper.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CYGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("postgres.url", "CYGRAPH_POSTGRES_URL")
	_ = viper.BindEnv("ai.api_key", "CYGRAPH_AI_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env cover everything.
	}
	return nil
}
