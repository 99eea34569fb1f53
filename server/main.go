package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/parley/internal/config"
	"github.com/devilmonastery/parley/internal/pkg/logger"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every subcommand
type rootOptions struct {
	configPath    string
	logLevel      string
	logFile       string
	alsoLogStderr bool
	logFormat     string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Parley chat server",
		Long:          "The Parley chat server: completes external logins and manages accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (optional)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file path; overrides logging.file")
	flags.BoolVar(&opts.alsoLogStderr, "alsologtostderr", false, "Log to both file and stderr")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json); overrides logging.format")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newUserCommand(opts))

	return cmd
}

// setup loads the configuration and installs the global logger
func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	o.cfg = cfg

	level, file, format := cfg.Logging.Level, cfg.Logging.File, cfg.Logging.Format
	if cmd.Flags().Changed("log-level") {
		level = o.logLevel
	}
	if cmd.Flags().Changed("log-file") {
		file = o.logFile
	}
	if cmd.Flags().Changed("log-format") {
		format = o.logFormat
	}

	globalLogger, err := logger.SetupLogger(logger.Config{
		Level:         logger.ParseLevel(level),
		LogFile:       file,
		AlsoLogStderr: o.alsoLogStderr,
		Format:        format,
	})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	slog.SetDefault(logger.WithCommand(globalLogger, cmd.Name()))
	return nil
}
