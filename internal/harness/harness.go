package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/backend/memory"
	"github.com/roach88/recstore/internal/objstore"
	"github.com/roach88/recstore/internal/record"
)

// Default addressing for scenarios that name none.
const (
	DefaultDatabase   = "harness"
	DefaultCollection = "records"
)

// Harness runs one scenario against one accessor.
type Harness struct {
	factory backend.Factory
	store   *objstore.Accessor[map[string]any]
	cfg     objstore.Config
	logger  *zap.Logger
}

// Run executes a scenario on a fresh in-memory factory.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	f := memory.NewFactory()
	defer f.Close()
	return RunWithFactory(ctx, f, scenario, zap.NewNop())
}

// RunWithFactory executes a scenario on f. The factory is left open.
//
// Execution flow:
//  0. Validate the scenario, as LoadScenario does
//  1. Open the accessor (its initial read is not traced)
//  2. Execute steps, checking expect clauses
//  3. Evaluate assertions
func RunWithFactory(ctx context.Context, f backend.Factory, scenario *Scenario, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	cfg := scenario.accessorConfig()

	acc, err := objstore.Open[map[string]any](ctx, f, cfg, objstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open accessor: %w", err)
	}
	defer acc.Close()

	h := &Harness{
		factory: f,
		store:   acc,
		cfg:     acc.Config(),
		logger:  logger.With(zap.String("scenario", scenario.Name)),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if len(step.Parallel) > 0 {
			h.executeParallel(ctx, i, step.Parallel, result)
			continue
		}
		ev, errs := h.execute(ctx, step)
		result.addTrace(ev)
		for _, e := range errs {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Op, e))
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Debug("scenario finished",
		zap.Bool("pass", result.Pass),
		zap.Int("steps", len(result.Trace)),
	)
	return result, nil
}

func (s *Scenario) accessorConfig() objstore.Config {
	cfg := objstore.Config{
		Database:      s.Database,
		Collection:    s.Collection,
		KeyPath:       s.KeyPath,
		Version:       s.Version,
		NormalizeKeys: s.NormalizeKeys,
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	return cfg
}

// executeParallel runs a group concurrently. Trace entries and errors are
// added in declaration order once every call has returned.
func (h *Harness) executeParallel(ctx context.Context, index int, steps []Step, result *Result) {
	events := make([]TraceEvent, len(steps))
	errs := make([][]string, len(steps))

	var g errgroup.Group
	for j, step := range steps {
		g.Go(func() error {
			events[j], errs[j] = h.execute(ctx, step)
			return nil
		})
	}
	_ = g.Wait()

	for j, step := range steps {
		result.addTrace(events[j])
		for _, e := range errs[j] {
			result.AddError(fmt.Sprintf("steps[%d].parallel[%d] %s: %s", index, j, step.Op, e))
		}
	}
}

// execute performs one step and returns its trace event and any unmet
// expectations.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, []string) {
	ev := TraceEvent{Op: step.Op}
	var (
		err  error
		errs []string
	)

	switch step.Op {
	case OpAdd, OpUpdate:
		if key, kerr := h.store.KeyOf(step.Record); kerr == nil {
			ev.Key = key.Value()
		}
		if step.Op == OpAdd {
			err = h.store.Add(ctx, step.Record)
		} else {
			err = h.store.Update(ctx, step.Record)
		}
		ev.Outcome = outcomeOf(err)

	case OpGet:
		// ids were checked by validateScenario.
		key, _ := record.KeyOf(step.ID)
		ev.Key = key.Value()
		var (
			rec   map[string]any
			found bool
		)
		rec, found, err = h.store.Get(ctx, key)
		ev.Outcome = outcomeOf(err)
		if err == nil && !found {
			ev.Outcome = OutcomeAbsent
		}
		if found {
			ev.Record = rec
		}
		if e := step.Expect; e != nil && err == nil {
			switch {
			case e.Absent && found:
				errs = append(errs, fmt.Sprintf("expected absent, got %v", rec))
			case e.Record != nil && !found:
				errs = append(errs, "expected a record, got absent")
			case e.Record != nil:
				if diff := cmp.Diff(normalize(e.Record), normalize(rec)); diff != "" {
					errs = append(errs, fmt.Sprintf("record mismatch (-want +got):\n%s", diff))
				}
			}
		}

	case OpGetAll:
		var recs []map[string]any
		recs, err = h.store.GetAll(ctx)
		ev.Outcome = outcomeOf(err)
		if err == nil {
			n := len(recs)
			ev.Count = &n
			if e := step.Expect; e != nil && e.Count != nil && *e.Count != n {
				errs = append(errs, fmt.Sprintf("expected %d records, got %d", *e.Count, n))
			}
		}

	case OpRemove:
		key, _ := record.KeyOf(step.ID)
		ev.Key = key.Value()
		err = h.store.Remove(ctx, key)
		ev.Outcome = outcomeOf(err)
	}

	want := ErrorNone
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}
	if got := errorKind(err); got != want {
		msg := fmt.Sprintf("expected error %s, got %s", want, got)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		errs = append(errs, msg)
	}
	return ev, errs
}

// errorKind maps an accessor error to its scenario spelling.
func errorKind(err error) string {
	if err == nil {
		return ErrorNone
	}
	switch objstore.KindOf(err) {
	case objstore.KindConstraint:
		return ErrorConstraint
	case objstore.KindDatabaseOpen:
		return ErrorDatabaseOpen
	default:
		return ErrorOperationFailed
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return errorKind(err)
}

// normalize round-trips v through JSON so YAML integers and JSON floats
// compare equal.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
