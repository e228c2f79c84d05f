package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/pkg/opqueue"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "opqueue",
		Short:         "Batched cache-operation queue",
		Long:          `opqueue buffers Set, Get and Delete operations and applies them to a cache backend in bounded batches.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (.yaml, .yml or .json)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCmd(flags), newDemoCmd(flags), newConfigCmd(flags))
	return cmd
}

// load reads .env, the config file and OPQUEUE_* variables, then installs
// the logger.
func (f *rootFlags) load() (*opqueue.Config, error) {
	_ = godotenv.Load()

	cfg, err := opqueue.LoadConfig(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", f.configPath, err)
	}
	if f.debug {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Setup(cfg.Logging); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	return cfg, nil
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			data, err := opqueue.ConfigYAML(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
