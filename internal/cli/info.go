package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// InfoResult describes the configured store.
type InfoResult struct {
	Backend     string   `json:"backend"`
	Database    string   `json:"database"`
	Collection  string   `json:"collection"`
	KeyPath     string   `json:"key_path"`
	Version     int      `json:"version"`
	Collections []string `json:"collections"`
	Count       int      `json:"count"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective store settings",
		Long: `Open the configured collection, creating it if needed, and print the
database version, its collections and the record count.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, cmd)
		},
	}
}

func runInfo(opts *RootOptions, cmd *cobra.Command) error {
	f := formatterFor(opts, cmd)

	s, err := openSession(cmd.Context(), opts, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	db, err := s.factory.Open(cmd.Context(), s.cfg.Database, 0, nil)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabaseOpen, "failed to open database", err)
	}
	defer db.Close()

	info := InfoResult{
		Backend:     s.cfg.Backend,
		Database:    db.Name(),
		Collection:  s.cfg.Collection,
		KeyPath:     s.cfg.KeyPath,
		Version:     db.Version(),
		Collections: db.Collections(),
		Count:       s.store.Len(),
	}
	if info.Collections == nil {
		info.Collections = []string{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "backend:     %s\n", info.Backend)
	fmt.Fprintf(&b, "database:    %s (version %d)\n", info.Database, info.Version)
	fmt.Fprintf(&b, "collection:  %s (key path %q)\n", info.Collection, info.KeyPath)
	fmt.Fprintf(&b, "collections: %s\n", strings.Join(info.Collections, ", "))
	fmt.Fprintf(&b, "records:     %d", info.Count)

	return f.Success(info, b.String())
}
