package main

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// configFile is set by the --config flag.
	configFile string

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wateringd",
	Short: "wateringd drives a weight-controlled plant watering rig",
	Long: `wateringd reads the load cells under every pot, compares the weights
against each pot's watering schedule and waters the pots that need it.

Without a subcommand it runs the control loop until interrupted.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runLoop,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(waterCmd)
	rootCmd.AddCommand(homeCmd)
	rootCmd.AddCommand(positionsCmd)
	rootCmd.AddCommand(weightsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rigsCmd)
}

// setup loads the config and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	l, err := newLogger(loaded.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	cfg = loaded
	logger = l
	logger.Debug("Config loaded", zap.String("path", configFile), zap.String("rig", cfg.Rig.Name))
	return nil
}

func newLogger(c config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
