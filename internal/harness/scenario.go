package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recstore/internal/record"
)

// Scenario drives one accessor through a list of steps and checks the
// resulting mirror, store and error state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Database and Collection address the accessor. They default to
	// "harness" and "records".
	Database   string `yaml:"database,omitempty"`
	Collection string `yaml:"collection,omitempty"`

	// KeyPath, Version and NormalizeKeys pass through to the accessor
	// config.
	KeyPath       string `yaml:"key_path,omitempty"`
	Version       int    `yaml:"version,omitempty"`
	NormalizeKeys bool   `yaml:"normalize_keys,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one accessor call, or a group of calls run concurrently.
type Step struct {
	// Op is add, get, get_all, update or remove. Empty when Parallel is set.
	Op string `yaml:"op,omitempty"`

	// Record is the argument of add and update.
	Record map[string]any `yaml:"record,omitempty"`

	// ID is the key argument of get and remove: a string or a number.
	ID any `yaml:"id,omitempty"`

	// Expect checks the outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`

	// Parallel runs its steps concurrently. Their trace entries keep
	// declaration order.
	Parallel []Step `yaml:"parallel,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected failure kind: none, constraint, database_open
	// or operation_failed. Empty means none.
	Error string `yaml:"error,omitempty"`

	// Record is the record get must return.
	Record map[string]any `yaml:"record,omitempty"`

	// Absent means get must find nothing.
	Absent bool `yaml:"absent,omitempty"`

	// Count is the number of records get_all must return.
	Count *int `yaml:"count,omitempty"`
}

// Assertion checks final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by mirror_count and store_count.
	Count int `yaml:"count,omitempty"`

	// ID is used by mirror_contains and mirror_absent.
	ID any `yaml:"id,omitempty"`

	// Record is the optional expected value for mirror_contains.
	Record map[string]any `yaml:"record,omitempty"`

	// Error is the expected error state kind for error_state.
	Error string `yaml:"error,omitempty"`
}

// Step operations.
const (
	OpAdd    = "add"
	OpGet    = "get"
	OpGetAll = "get_all"
	OpUpdate = "update"
	OpRemove = "remove"
)

// Assertion type constants.
const (
	AssertMirrorCount    = "mirror_count"
	AssertMirrorContains = "mirror_contains"
	AssertMirrorAbsent   = "mirror_absent"
	AssertStoreCount     = "store_count"
	AssertErrorState     = "error_state"
)

// Error kinds as written in scenarios.
const (
	ErrorNone            = "none"
	ErrorConstraint      = "constraint"
	ErrorDatabaseOpen    = "database_open"
	ErrorOperationFailed = "operation_failed"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Version < 0 {
		return fmt.Errorf("version must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), step, true); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step, allowParallel bool) error {
	if len(step.Parallel) > 0 {
		if !allowParallel {
			return fmt.Errorf("%s: parallel groups cannot nest", where)
		}
		if step.Op != "" || step.Record != nil || step.ID != nil || step.Expect != nil {
			return fmt.Errorf("%s: parallel excludes op, record, id and expect", where)
		}
		for i, sub := range step.Parallel {
			if err := validateStep(fmt.Sprintf("%s.parallel[%d]", where, i), sub, false); err != nil {
				return err
			}
		}
		return nil
	}

	switch step.Op {
	case OpAdd, OpUpdate:
		if step.Record == nil {
			return fmt.Errorf("%s: record is required for %s", where, step.Op)
		}
	case OpGet, OpRemove:
		if step.ID == nil {
			return fmt.Errorf("%s: id is required for %s", where, step.Op)
		}
		if _, err := record.KeyOf(step.ID); err != nil {
			return fmt.Errorf("%s: id: %w", where, err)
		}
	case OpGetAll:
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}

	if e := step.Expect; e != nil {
		if !validErrorKind(e.Error) {
			return fmt.Errorf("%s.expect: unknown error kind %q", where, e.Error)
		}
		if (e.Record != nil || e.Absent) && step.Op != OpGet {
			return fmt.Errorf("%s.expect: record and absent apply to get only", where)
		}
		if e.Record != nil && e.Absent {
			return fmt.Errorf("%s.expect: record and absent are exclusive", where)
		}
		if e.Count != nil && step.Op != OpGetAll {
			return fmt.Errorf("%s.expect: count applies to get_all only", where)
		}
	}
	return nil
}

func validErrorKind(kind string) bool {
	switch kind {
	case "", ErrorNone, ErrorConstraint, ErrorDatabaseOpen, ErrorOperationFailed:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertMirrorCount, AssertStoreCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertMirrorContains, AssertMirrorAbsent:
		if a.ID == nil {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
		if _, err := record.KeyOf(a.ID); err != nil {
			return fmt.Errorf("assertions[%d]: id: %w", index, err)
		}
	case AssertErrorState:
		if a.Error == "" || !validErrorKind(a.Error) {
			return fmt.Errorf("assertions[%d]: error must be one of none, constraint, database_open, operation_failed", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
