package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recstore/internal/record"
)

// RecordOptions holds flags shared by the record commands.
type RecordOptions struct {
	*RootOptions
	Numeric bool // treat ids as numbers
	GenID   bool // assign a key when the record has none
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <json|->",
		Short: "Insert a new record",
		Long: `Insert a record into the configured collection.

The record is a JSON object given as the argument, or read from stdin
when the argument is "-". Adding a key that already exists fails.

Examples:
  recstore add '{"id":"t1","title":"Buy milk"}'
  recstore add --gen-id '{"title":"Buy milk"}'
  echo '{"id":1}' | recstore add -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd, args[0], "add")
		},
	}

	cmd.Flags().BoolVar(&opts.GenID, "gen-id", false, "assign a generated key when the record has none")
	return cmd
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	return &cobra.Command{
		Use:   "put <json|->",
		Short: "Insert or replace a record",
		Long: `Store a record, replacing any record with the same key.

Examples:
  recstore put '{"id":"t1","title":"Buy oat milk"}'
  recstore put - < record.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd, args[0], "put")
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print one record",
		Long: `Print the record stored under id.

Exit codes:
  0 - Record found
  1 - No record under id

Examples:
  recstore get t1
  recstore get --numeric 42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Numeric, "numeric", false, "treat id as a number")
	return cmd
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a record",
		Long: `Delete the record stored under id. Removing an absent id succeeds.

Examples:
  recstore rm t1
  recstore rm --numeric 42`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Numeric, "numeric", false, "treat id as a number")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "Print every record in key order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

// ListResult is the payload of the list command.
type ListResult struct {
	Records []map[string]any `json:"records"`
	Count   int              `json:"count"`
}

func runWrite(opts *RecordOptions, cmd *cobra.Command, arg, op string) error {
	f := formatterFor(opts.RootOptions, cmd)

	raw, err := readRecordArg(cmd.InOrStdin(), arg)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to read record", err)
	}
	doc, err := record.ParseDocument(raw)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid record", err)
	}

	s, err := openSession(cmd.Context(), opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.GenID {
		if _, ok := doc.Lookup(s.cfg.KeyPath); !ok {
			if err := doc.Set(s.cfg.KeyPath, opts.KeyGen.NewKey().Value()); err != nil {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "failed to assign key", err)
			}
		}
	}

	rec := map[string]any(doc)
	if op == "add" {
		err = s.store.Add(cmd.Context(), rec)
	} else {
		err = s.store.Update(cmd.Context(), rec)
	}
	if err != nil {
		code, exit := classifyError(err)
		return f.Fail(exit, code, fmt.Sprintf("%s failed", op), err)
	}

	key, err := s.store.KeyOf(rec)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, "failed to read key", err)
	}
	f.VerboseLog("%s %s/%s %s", op, s.cfg.Database, s.cfg.Collection, key)
	return f.Success(map[string]any{"key": key, "op": op}, fmt.Sprintf("✓ %s %s", op, key))
}

func runGet(opts *RecordOptions, cmd *cobra.Command, arg string) error {
	f := formatterFor(opts.RootOptions, cmd)

	key, err := record.ParseKey(arg, opts.Numeric)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid id", err)
	}

	s, err := openSession(cmd.Context(), opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, found, err := s.store.Get(cmd.Context(), key)
	if err != nil {
		code, exit := classifyError(err)
		return f.Fail(exit, code, "get failed", err)
	}
	if !found {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no record with key %s", key), nil)
	}

	text, err := recordText(rec)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeGeneric, "failed to encode record", err)
	}
	return f.Success(rec, text)
}

func runRemove(opts *RecordOptions, cmd *cobra.Command, arg string) error {
	f := formatterFor(opts.RootOptions, cmd)

	key, err := record.ParseKey(arg, opts.Numeric)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid id", err)
	}

	s, err := openSession(cmd.Context(), opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.Remove(cmd.Context(), key); err != nil {
		code, exit := classifyError(err)
		return f.Fail(exit, code, "remove failed", err)
	}
	return f.Success(map[string]any{"key": key, "op": "rm"}, fmt.Sprintf("✓ rm %s", key))
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	f := formatterFor(opts, cmd)

	s, err := openSession(cmd.Context(), opts, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	// Open already read the collection into the mirror.
	records := s.store.Records()
	if records == nil {
		records = []map[string]any{}
	}

	var b strings.Builder
	for _, rec := range records {
		line, err := recordText(rec)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeGeneric, "failed to encode record", err)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d record(s)", len(records))

	return f.Success(ListResult{Records: records, Count: len(records)}, b.String())
}

// readRecordArg returns the record text of arg, reading r when arg is "-".
func readRecordArg(r io.Reader, arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}

// recordText renders a record as one line of canonical JSON.
func recordText(rec map[string]any) (string, error) {
	data, err := record.MarshalCanonical(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
