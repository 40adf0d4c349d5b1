package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/milepost/internal/infrastructure/config"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/logging"
	"github.com/felixgeelhaar/milepost/internal/infrastructure/wiring"
)

// wiringOptions lets tests swap broker dialers.
var wiringOptions wiring.Options

// loadConfig resolves file, environment and flag settings.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, NewCLIError("cannot read config", "Run 'milepost config init' to write a default milepost.yaml", err)
	}
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, NewCLIError("invalid configuration", "Check milepost.yaml and MILEPOST_* environment variables", err)
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flags := cmd.Flags()
	for key, name := range flagBindings {
		f := flags.Lookup(name)
		if f == nil {
			f = cmd.Root().PersistentFlags().Lookup(name)
		}
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// withServices builds the application for one command invocation and tears it
// down afterwards.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, s *wiring.AppServices) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	services, err := wiring.BuildAppServices(ctx, cfg, logger, wiringOptions)
	if err != nil {
		return NewCLIError("cannot open workspace", fmt.Sprintf("Check storage settings (driver %q)", cfg.Storage.Driver), err)
	}
	defer services.Close()
	return MapError(fn(ctx, services))
}
