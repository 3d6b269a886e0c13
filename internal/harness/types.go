package harness

import (
	"github.com/roach88/factlog/internal/ir"
)

// TraceEvent records what one step did. Steps inside a scope are numbered
// under their scope step, e.g. "3.1".
type TraceEvent struct {
	Step    string      `json:"step"`
	Kind    string      `json:"kind"`
	Query   string      `json:"query,omitempty"`
	QueryID string      `json:"query_id,omitempty"`
	Count   int         `json:"count"`
	Rows    []ir.Object `json:"rows,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// object renders the event for the golden snapshot.
func (e TraceEvent) object() ir.Object {
	obj := ir.Object{
		"step":  ir.String(e.Step),
		"kind":  ir.String(e.Kind),
		"count": ir.Int(e.Count),
	}
	if e.Query != "" {
		obj["query"] = ir.String(e.Query)
	}
	if e.QueryID != "" {
		obj["query_id"] = ir.String(e.QueryID)
	}
	if e.Rows != nil {
		rows := make(ir.List, len(e.Rows))
		for i, r := range e.Rows {
			rows[i] = r
		}
		obj["rows"] = rows
	}
	if e.Error != "" {
		obj["error"] = ir.String(e.Error)
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Trace holds one event per executed step, in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds the failed expectations. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
