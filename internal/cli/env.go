package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/factlog/internal/compiler"
	"github.com/roach88/factlog/internal/config"
	"github.com/roach88/factlog/internal/engine"
	"github.com/roach88/factlog/internal/rules"
)

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadProgram compiles a program file, reporting failures through f.
func loadProgram(f *OutputFormatter, path string) (*compiler.Program, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("program not found: %s", path))
	}
	prog, err := compiler.LoadFile(path)
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeCompile, err)
	}
	f.VerboseLog("compiled %s: %d predicates, %d rules, %d queries",
		path, len(prog.Predicates), len(prog.Rules), len(prog.QueryNames()))
	return prog, nil
}

// openEngine builds an engine from the resolved config and loads prog into
// it. A non-empty dbPath selects a SQLite database over the configured store.
func (o *RootOptions) openEngine(ctx context.Context, f *OutputFormatter, prog *compiler.Program, dbPath string) (*engine.Engine, error) {
	cfg, logger := o.settings()
	if dbPath != "" {
		cfg.Store = config.Store{Driver: config.DriverSQLite, Path: dbPath}
	}

	backend, err := cfg.OpenBackend()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStore, err)
	}
	opts, err := cfg.Options(logger)
	if err != nil {
		backend.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeStore, err)
	}
	eng, err := engine.New(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeStore, err)
	}

	if err := prog.Load(ctx, eng); err != nil {
		eng.Close()
		code := ErrCodeStore
		if rules.IsDefinitionError(err) {
			code = ErrCodeDefinition
		}
		return nil, f.Fail(ExitFailure, code, err)
	}
	return eng, nil
}

// namedQuery looks up a query of prog, reporting unknown names through f.
func namedQuery(f *OutputFormatter, prog *compiler.Program, name string) error {
	if _, ok := prog.Query(name); ok {
		return nil
	}
	return f.Fail(ExitCommandError, ErrCodeUnknownQuery,
		fmt.Errorf("unknown query %q (program has %v)", name, prog.QueryNames()))
}

// queryErrorCode maps a query error to a CLI error code.
func queryErrorCode(err error) string {
	if code := engine.ErrorCode(err); code != "" {
		return string(code)
	}
	return ErrCodeQuery
}
