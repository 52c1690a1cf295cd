// cmd/candle-tracker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/YaganovValera/candle-tracker/internal/app"
	"github.com/YaganovValera/candle-tracker/internal/config"
	"github.com/YaganovValera/candle-tracker/pkg/logger"
)

// errConfigNotReady signals an exit after the configuration contract
// messages were printed; nothing more is reported.
var errConfigNotReady = errors.New("configuration not ready")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errConfigNotReady) {
			fmt.Fprintf(os.Stderr, "candle-tracker: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		envFile string
	)

	root := &cobra.Command{
		Use:           "candle-tracker",
		Short:         "Reports completed Coinbase candles as they close",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotenv(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}

			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return err
			}

			log, err := logger.New(logger.Config{Level: cfg.Logging.Level, DevMode: cfg.Logging.DevMode})
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer log.Sync()

			if cfg.Logging.DevMode {
				cfg.Print()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.Run(ctx, cfg, log); err != nil {
				log.Error("candle tracker failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	bindFlags(root.Flags(), &cfgFile, &envFile)
	root.SetContext(context.Background())
	return root
}

func bindFlags(fs *pflag.FlagSet, cfgFile, envFile *string) {
	fs.StringVarP(cfgFile, "config", "c", "config/config.yaml", "path to config file")
	fs.StringVar(envFile, "env-file", ".env", "dotenv file with TRACKER_* overrides")
	fs.SortFlags = false
}

// loadConfig reads path. A missing file is created with defaults so the
// operator can fill it in; both failure cases stop the process.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	fmt.Println("Could not load configuration file.")
	if config.Exists(path) {
		fmt.Printf("File exists, %v\n", err)
		return nil, errConfigNotReady
	}
	if werr := config.WriteDefault(path); werr != nil {
		return nil, fmt.Errorf("write default config: %w", werr)
	}
	fmt.Println("Empty configuration file created, please update it.")
	return nil, errConfigNotReady
}
