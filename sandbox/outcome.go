package sandbox

import "time"

// Stats records timing information for one execution.
type Stats struct {
	DurationMillis int64     `json:"durationInMilliSeconds"`
	StartTimestamp time.Time `json:"startTimestamp"`
	EndTimestamp   time.Time `json:"endTimestamp"`
}

// Frame is one user-code stack frame. Interpreter-internal frames are
// stripped before a JobError is built.
type Frame struct {
	Function   string `json:"function,omitempty"`
	LineNumber int    `json:"lineNumber"`
	Position   int    `json:"position"`
}

// JobError is the normalized error produced by a failed execution.
// Name is one of the fixed taxonomy: "SyntaxError" for compile failures,
// the underlying JavaScript error class for runtime failures (for example
// ReferenceError or TypeError), "TimeoutError", or "MissingReturnError".
type JobError struct {
	Name       string  `json:"name"`
	Message    string  `json:"message"`
	LineNumber int     `json:"lineNumber"`
	Position   int     `json:"position"`
	Stacktrace []Frame `json:"stacktrace"`
}

// Outcome is the closed result union of a sandbox execution. Exactly one
// concrete type is returned per run: Success, CompileError, RuntimeError,
// Timeout, or MissingReturn.
type Outcome interface {
	isOutcome()
	ExecutionStats() Stats
}

// Success carries the value the user code returned.
type Success struct {
	Value any
	Stats Stats
}

// CompileError reports that the snippet failed to compile.
type CompileError struct {
	Err   JobError
	Stats Stats
}

// RuntimeError reports that the snippet threw during execution.
type RuntimeError struct {
	Err   JobError
	Stats Stats
}

// Timeout reports that the snippet exceeded its wall-clock budget.
type Timeout struct {
	Err   JobError
	Stats Stats
}

// MissingReturn reports that the snippet completed without returning a value.
type MissingReturn struct {
	Err   JobError
	Stats Stats
}

func (Success) isOutcome()       {}
func (CompileError) isOutcome()  {}
func (RuntimeError) isOutcome()  {}
func (Timeout) isOutcome()       {}
func (MissingReturn) isOutcome() {}

func (o Success) ExecutionStats() Stats       { return o.Stats }
func (o CompileError) ExecutionStats() Stats  { return o.Stats }
func (o RuntimeError) ExecutionStats() Stats  { return o.Stats }
func (o Timeout) ExecutionStats() Stats       { return o.Stats }
func (o MissingReturn) ExecutionStats() Stats { return o.Stats }

// ErrorOf extracts the JobError from a non-success outcome.
// The second return is false for Success.
func ErrorOf(o Outcome) (JobError, bool) {
	switch v := o.(type) {
	case CompileError:
		return v.Err, true
	case RuntimeError:
		return v.Err, true
	case Timeout:
		return v.Err, true
	case MissingReturn:
		return v.Err, true
	default:
		return JobError{}, false
	}
}
