package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/record"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// KeyGen assigns keys for add --gen-id.
	KeyGen record.KeyGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the recstore CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{KeyGen: record.UUIDGenerator{}})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "recstore",
		SilenceErrors: true,
		Short:         "recstore - local versioned record store",
		Long: `A local persistent record store.

Records live in named collections inside a versioned database, keyed by
an identifier field. Settings come from recstore.yaml, RECSTORE_* environment
variables and the flags below, in increasing precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVar(&opts.ConfigPath, "config", "", "config file (default: recstore.yaml in the user config dir or .)")

	// Config overrides; names map to config keys in config.Load.
	pf.String("backend", "", "storage backend (sqlite|memory|redis)")
	pf.String("data-dir", "", "directory for sqlite databases")
	pf.String("database", "", "database name")
	pf.String("collection", "", "collection name")
	pf.String("key-path", "", "dotted identifier field of each record")
	pf.Int("db-version", 0, "requested schema version")
	pf.Bool("normalize-keys", false, "fold string keys to Unicode NFC")
	pf.String("redis-addr", "", "redis server address")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (console|json)")

	// Add subcommands
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatterFor builds the output formatter of a command run.
func formatterFor(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
