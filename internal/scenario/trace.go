package scenario

import (
	"github.com/roach88/litewatch/internal/changes"
	"github.com/roach88/litewatch/internal/value"
)

// Event is one executed step in the trace.
type Event struct {
	// Step is the step's position, dotted for nested steps ("2", "2.1").
	Step string `json:"step"`

	// Name is the step's label, when it has one.
	Name string `json:"name,omitempty"`

	// Kind is exec, query, write, transaction or resolve.
	Kind string `json:"kind"`

	// SQL is the statement text for exec, query and write steps, and the
	// table name for resolve events.
	SQL string `json:"sql,omitempty"`

	// Rows holds query results.
	Rows []value.Row `json:"rows,omitempty"`

	// Error is the error code when the step failed.
	Error string `json:"error,omitempty"`

	// Committed is the outcome of a transaction step.
	Committed *bool `json:"committed,omitempty"`

	// Changes are the notifications for watched tables that became visible
	// once this top-level step finished.
	Changes []Notification `json:"changes,omitempty"`

	// Legacy are the notifications on the all-tables stream.
	Legacy []Notification `json:"legacy,omitempty"`
}

// Notification is a change rendered for the trace. Keys are SQL literals.
type Notification struct {
	Table      string   `json:"table"`
	WholeTable bool     `json:"whole_table,omitempty"`
	Keys       []string `json:"keys,omitempty"`
}

func notificationOf(c changes.Change) Notification {
	n := Notification{Table: c.Table, WholeTable: c.WholeTable}
	for _, k := range c.Keys {
		n.Keys = append(n.Keys, value.Literal(k))
	}
	return n
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []Event `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []Event{},
		Errors: []string{},
	}
}

// AddError records an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
