package cypher

import "unicode/utf8"

// Result is the outcome of executing one query.
//
// Records hold one slice per row, aligned with Columns. The Summary is
// always populated, including for failed executions: a runtime failure
// reports its message, stage and class there instead of aborting the
// caller. Queries without a RETURN produce no columns and no records.
type Result struct {
	Columns []string `json:"columns"`
	Records [][]any  `json:"records"`
	Summary Summary  `json:"summary"`
}

// Summary describes how a query ran.
type Summary struct {
	// Query is the original statement, truncated for logging.
	Query string `json:"query"`

	// QueryType is "read", "write" or "read-write". Empty when the
	// statement never compiled.
	QueryType string `json:"query_type,omitempty"`

	Counters Counters `json:"counters"`

	// Error fields are set when any stage failed. Stage is one of
	// "parameters", "lex", "parse", "compile" or "execution"; Class is a
	// machine-readable failure class such as "syntax" or "type_error".
	Error      string `json:"error,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
	ErrorStage string `json:"error_stage,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`
}

// Counters tallies the write effects of a query.
type Counters struct {
	NodesCreated         int64 `json:"nodes_created"`
	NodesDeleted         int64 `json:"nodes_deleted"`
	RelationshipsCreated int64 `json:"relationships_created"`
	RelationshipsDeleted int64 `json:"relationships_deleted"`
	PropertiesSet        int64 `json:"properties_set"`
	LabelsRemoved        int64 `json:"labels_removed"`
}

// ContainsUpdates reports whether the query changed the graph.
func (c Counters) ContainsUpdates() bool {
	return c.NodesCreated > 0 || c.NodesDeleted > 0 ||
		c.RelationshipsCreated > 0 || c.RelationshipsDeleted > 0 ||
		c.PropertiesSet > 0 || c.LabelsRemoved > 0
}

// setError records a failure in the summary.
func (r *Result) setError(stage, class string, err error) {
	r.Summary.Error = err.Error()
	r.Summary.ErrorStage = stage
	r.Summary.ErrorClass = class
	r.Summary.ErrorType = errorTypeFor(stage, class)
}

// errorTypeFor buckets failures the way drivers report them: client
// errors are the caller's statement or arguments, transient errors may
// succeed on retry, database errors are the store's fault.
func errorTypeFor(stage, class string) string {
	if stage != "execution" {
		return "client_error"
	}
	switch class {
	case errClassCanceled, errClassResource:
		return "transient_error"
	case errClassStorage, errClassInternal:
		return "database_error"
	}
	return "client_error"
}

const maxSummaryQuery = 200

// truncateQuery bounds the echoed statement, cutting on a rune boundary.
func truncateQuery(q string) string {
	if len(q) <= maxSummaryQuery {
		return q
	}
	cut := maxSummaryQuery
	for cut > 0 && !utf8.RuneStart(q[cut]) {
		cut--
	}
	return q[:cut] + "…"
}
