package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teresa-solution/tenant-context-service/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("tenantctx failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	var configFile string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve tenant contexts over HTTP and gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			setupLogging(cfg.Log)
			return serve(cmd.Context(), cfg)
		},
	}

	root := &cobra.Command{
		Use:           "tenantctx",
		Short:         "Tenant context resolution and configuration overlay service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML configuration file")
	if err := config.BindFlags(root.PersistentFlags(), v); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}

	root.AddCommand(serve, newCheckTemplateCommand())
	return root
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
