package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/litewatch/internal/core"
)

// Scenario is a scripted run against a fresh in-memory database.
// Steps run in order; the notifications each top-level step produces for
// the watched tables are recorded alongside its result.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Options configures the database the scenario runs against.
	Options Options `yaml:"options,omitempty"`

	// Migrations maps table names to their migration steps. Every table is
	// resolved, in name order, before the first step runs.
	Migrations map[string][]string `yaml:"migrations,omitempty"`

	// Watch lists the tables whose change notifications are recorded.
	Watch []string `yaml:"watch,omitempty"`

	// Steps is the script.
	Steps []Step `yaml:"steps"`
}

// Options mirrors the database open flags a scenario may set.
type Options struct {
	// LegacyNotifications records the broad all-tables stream as well.
	LegacyNotifications bool `yaml:"legacy_notifications,omitempty"`

	// Verbose logs every query and every change.
	Verbose bool `yaml:"verbose,omitempty"`
}

// Step is exactly one of Exec, Query, Write or Transaction.
type Step struct {
	// Name labels the step in the trace. Optional.
	Name string `yaml:"name,omitempty"`

	// Exec is multi-statement SQL run without arguments.
	Exec string `yaml:"exec,omitempty"`

	// Query is one statement, bound with Args or Named.
	Query string `yaml:"query,omitempty"`

	// Args are positional arguments for Query.
	Args []any `yaml:"args,omitempty"`

	// Named are named arguments for Query.
	Named map[string]any `yaml:"named,omitempty"`

	// Write is a keyed write.
	Write *WriteStep `yaml:"write,omitempty"`

	// Transaction runs nested steps atomically.
	Transaction *TransactionStep `yaml:"transaction,omitempty"`

	// Expect validates the step's outcome. If nil, the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// WriteStep is a write whose changed primary keys are declared up front.
type WriteStep struct {
	Table string `yaml:"table"`
	Keys  []any  `yaml:"keys,omitempty"`
	SQL   string `yaml:"sql"`
	Args  []any  `yaml:"args,omitempty"`
}

// TransactionStep runs Steps inside one transaction. With Cancel set it
// rolls back even when every step succeeds.
type TransactionStep struct {
	Cancel bool   `yaml:"cancel,omitempty"`
	Steps  []Step `yaml:"steps"`
}

// Expect describes the expected outcome of a step.
type Expect struct {
	// Rows is the expected number of result rows.
	Rows *int `yaml:"rows,omitempty"`

	// First is a subset match against the first result row.
	First map[string]any `yaml:"first,omitempty"`

	// Error is the expected error code, e.g. EXECUTION_FAILURE.
	Error string `yaml:"error,omitempty"`

	// Committed is the expected transaction outcome.
	Committed *bool `yaml:"committed,omitempty"`
}

// Step kinds.
const (
	KindExec        = "exec"
	KindQuery       = "query"
	KindWrite       = "write"
	KindTransaction = "transaction"
	KindResolve     = "resolve"
)

// Kind returns which of the step's mutually exclusive fields is set, or ""
// if none or several are.
func (s *Step) Kind() string {
	var kinds []string
	if s.Exec != "" {
		kinds = append(kinds, KindExec)
	}
	if s.Query != "" {
		kinds = append(kinds, KindQuery)
	}
	if s.Write != nil {
		kinds = append(kinds, KindWrite)
	}
	if s.Transaction != nil {
		kinds = append(kinds, KindTransaction)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

var knownErrorCodes = map[string]bool{
	string(core.ErrCodePrepareFailure):   true,
	string(core.ErrCodeBindFailure):      true,
	string(core.ErrCodeUnknownParameter): true,
	string(core.ErrCodeExecutionFailure): true,
	string(core.ErrCodeResultDecoding):   true,
	string(core.ErrCodeClosed):           true,
}

// Load reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse parses scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "step:" vs "steps:"
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validate(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validate checks that required fields are present and valid.
func validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for table, steps := range s.Migrations {
		if len(steps) == 0 {
			return fmt.Errorf("migrations[%s]: at least one step is required", table)
		}
	}
	return validateSteps("steps", s.Steps)
}

func validateSteps(prefix string, steps []Step) error {
	for i := range steps {
		step := &steps[i]
		where := fmt.Sprintf("%s[%d]", prefix, i)

		kind := step.Kind()
		if kind == "" {
			return fmt.Errorf("%s: exactly one of exec, query, write or transaction is required", where)
		}

		if (len(step.Args) > 0 || len(step.Named) > 0) && kind != KindQuery {
			return fmt.Errorf("%s: args and named only apply to query", where)
		}
		if len(step.Args) > 0 && len(step.Named) > 0 {
			return fmt.Errorf("%s: args and named are mutually exclusive", where)
		}

		switch kind {
		case KindWrite:
			if step.Write.Table == "" || step.Write.SQL == "" {
				return fmt.Errorf("%s.write: table and sql are required", where)
			}
		case KindTransaction:
			if len(step.Transaction.Steps) == 0 {
				return fmt.Errorf("%s.transaction: steps list is required and must be non-empty", where)
			}
			if err := validateSteps(where+".transaction.steps", step.Transaction.Steps); err != nil {
				return err
			}
		}

		if e := step.Expect; e != nil {
			if e.Error != "" && !knownErrorCodes[e.Error] {
				return fmt.Errorf("%s.expect: unknown error code %q", where, e.Error)
			}
			if e.Error != "" && (e.Rows != nil || e.First != nil || e.Committed != nil) {
				return fmt.Errorf("%s.expect: error cannot be combined with other expectations", where)
			}
			if e.Committed != nil && kind != KindTransaction {
				return fmt.Errorf("%s.expect: committed only applies to transaction", where)
			}
			if (e.Rows != nil || e.First != nil) && kind != KindQuery && kind != KindWrite {
				return fmt.Errorf("%s.expect: rows and first only apply to query and write", where)
			}
		}
	}
	return nil
}
