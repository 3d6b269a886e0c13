package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/factlog/internal/config"
	"github.com/roach88/factlog/internal/ir"
)

// RootOptions holds global flags for all commands, and the configuration
// and logger they resolve to before a command runs.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to a YAML config file

	cfg    config.Config
	logger *slog.Logger
	ready  bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the factlog CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "factlog",
		Version: ir.EngineVersion,
		Short:   "factlog - datalog over an entity store",
		Long: `Compile factlog programs, run their named queries and explain query plans.

Programs are CUE files declaring predicates, entities, facts, rules and
queries. Facts live in memory or in a SQLite database.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logs on stderr)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to a YAML config file")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// resolve loads the config file, if any, and builds the stderr logger.
func (o *RootOptions) resolve(stderr io.Writer) error {
	cfg := config.Default()
	if o.Config != "" {
		loaded, err := config.Load(o.Config)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		cfg = loaded
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	o.cfg = cfg
	o.logger = cfg.NewLogger(stderr)
	o.ready = true
	return nil
}

// settings returns the resolved config and logger. Commands run without the
// root command get the defaults.
func (o *RootOptions) settings() (config.Config, *slog.Logger) {
	if !o.ready {
		_ = o.resolve(io.Discard)
	}
	return o.cfg, o.logger
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
