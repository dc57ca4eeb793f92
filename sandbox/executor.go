package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/logger"
	"github.com/datarill/datarill/resilience"
)

const (
	scriptName = "job.js"

	// The user snippet is wrapped in a one-line function header, so every
	// line number reported by the interpreter is off by this much.
	wrapperLineOffset = 1
)

var (
	compileLocRe = regexp.MustCompile(`Line (\d+):(\d+)`)
	stackFrameRe = regexp.MustCompile(`at\s+(?:(\S+)\s+)?\(?` + scriptName + `:(\d+):(\d+)`)
)

// Executor runs untrusted JavaScript snippets in isolated interpreter
// instances. A fresh runtime is created per call, so no state leaks
// between executions and no host capability is ever exposed.
type Executor struct {
	timeout  time.Duration
	bulkhead *resilience.Bulkhead
	log      *logger.Logger
}

// NewExecutor builds an Executor from cfg. cfg must have passed Validate.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		timeout: cfg.ParsedTimeout(),
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{
			Name:          "sandbox",
			MaxConcurrent: cfg.MaxConcurrent,
			MaxWait:       cfg.ParsedTimeout(),
		}),
		log: logger.WithComponent("sandbox"),
	}
}

// Execute compiles and runs code as the body of a function receiving a
// single "data" argument. The returned Outcome is always one of the
// concrete types in this package; Execute itself never returns an error
// for user-code failures. It does error when no execution slot frees up
// within the configured timeout.
func (e *Executor) Execute(ctx context.Context, code string, data any) (Outcome, error) {
	outcome, err := resilience.ExecuteWithResult(e.bulkhead, ctx, func() (Outcome, error) {
		return e.run(ctx, code, data), nil
	})
	if errors.Is(err, resilience.ErrBulkheadFull) || errors.Is(err, resilience.ErrBulkheadTimeout) {
		return nil, apperrors.Timeout("sandbox execution").
			WithDetail("max_wait", e.timeout.String()).
			WithCause(err)
	}
	return outcome, err
}

func (e *Executor) run(ctx context.Context, code string, data any) Outcome {
	start := time.Now()
	stats := func() Stats {
		end := time.Now()
		return Stats{
			DurationMillis: end.Sub(start).Milliseconds(),
			StartTimestamp: start,
			EndTimestamp:   end,
		}
	}

	src := "(function(data) {\n" + code + "\n})"

	prog, err := goja.Compile(scriptName, src, false)
	if err != nil {
		jobErr := compileDiagnostics(err)
		e.log.Debug("snippet failed to compile", map[string]interface{}{
			"line":    jobErr.LineNumber,
			"message": jobErr.Message,
		})
		return CompileError{Err: jobErr, Stats: stats()}
	}

	vm := goja.New()

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < timeout {
			timeout = remain
		}
	}
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer timer.Stop()

	wrapped, err := vm.RunProgram(prog)
	if err != nil {
		return e.failure(err, stats())
	}

	fn, ok := goja.AssertFunction(wrapped)
	if !ok {
		// Unreachable for a function-expression program.
		return RuntimeError{
			Err:   JobError{Name: "TypeError", Message: "compiled program is not callable"},
			Stats: stats(),
		}
	}

	var arg goja.Value = goja.Undefined()
	if data != nil {
		arg = vm.ToValue(data)
	}

	result, err := fn(goja.Undefined(), arg)
	if err != nil {
		return e.failure(err, stats())
	}

	if result == nil || goja.IsUndefined(result) {
		return MissingReturn{
			Err: JobError{
				Name:    "MissingReturnError",
				Message: "code did not return a value",
			},
			Stats: stats(),
		}
	}

	return Success{Value: result.Export(), Stats: stats()}
}

func (e *Executor) failure(err error, stats Stats) Outcome {
	if _, ok := err.(*goja.InterruptedError); ok {
		e.log.Warn("snippet interrupted after timeout", map[string]interface{}{
			"timeout": e.timeout.String(),
		})
		return Timeout{
			Err: JobError{
				Name:    "TimeoutError",
				Message: fmt.Sprintf("execution exceeded %s", e.timeout),
			},
			Stats: stats,
		}
	}
	if ex, ok := err.(*goja.Exception); ok {
		return RuntimeError{Err: runtimeDiagnostics(ex), Stats: stats}
	}
	return RuntimeError{
		Err:   JobError{Name: "Error", Message: err.Error()},
		Stats: stats,
	}
}

// Evaluate runs expr as a boolean expression against data. A non-boolean
// result or any execution failure yields an error naming the literal
// expression so callers can surface the offending condition.
func (e *Executor) Evaluate(ctx context.Context, expr string, data any) (bool, error) {
	outcome, err := e.Execute(ctx, "return "+expr+";", data)
	if err != nil {
		return false, err
	}
	success, ok := outcome.(Success)
	if !ok {
		jobErr, _ := ErrorOf(outcome)
		return false, apperrors.InvalidInput("condition",
			fmt.Sprintf("%q failed to evaluate: %s: %s", expr, jobErr.Name, jobErr.Message))
	}
	b, ok := success.Value.(bool)
	if !ok {
		return false, apperrors.InvalidInput("condition",
			fmt.Sprintf("%q did not evaluate to a boolean", expr))
	}
	return b, nil
}

// compileDiagnostics normalizes a goja compile failure into a JobError.
// goja reports locations as "Line N:M" against the wrapped source, so the
// line is shifted back into user-code coordinates.
func compileDiagnostics(err error) JobError {
	msg := err.Error()
	jobErr := JobError{Name: "SyntaxError", Message: firstLine(msg)}
	if m := compileLocRe.FindStringSubmatch(msg); m != nil {
		line, _ := strconv.Atoi(m[1])
		pos, _ := strconv.Atoi(m[2])
		jobErr.LineNumber = line - wrapperLineOffset
		jobErr.Position = pos
	}
	return jobErr
}

func runtimeDiagnostics(ex *goja.Exception) JobError {
	jobErr := JobError{Name: "Error", Message: firstLine(ex.Error())}

	val := ex.Value()
	if obj, ok := val.(*goja.Object); ok {
		if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
			jobErr.Name = v.String()
		}
		if v := obj.Get("message"); v != nil && !goja.IsUndefined(v) {
			jobErr.Message = v.String()
		}
		if v := obj.Get("stack"); v != nil && !goja.IsUndefined(v) {
			jobErr.Stacktrace = parseStack(v.String())
		}
	}

	if len(jobErr.Stacktrace) > 0 {
		jobErr.LineNumber = jobErr.Stacktrace[0].LineNumber
		jobErr.Position = jobErr.Stacktrace[0].Position
	}
	return jobErr
}

// parseStack keeps only frames located in the user script and rebases
// their line numbers to user-code coordinates.
func parseStack(stack string) []Frame {
	var frames []Frame
	for _, line := range strings.Split(stack, "\n") {
		m := stackFrameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		pos, _ := strconv.Atoi(m[3])
		frames = append(frames, Frame{
			Function:   m[1],
			LineNumber: lineNum - wrapperLineOffset,
			Position:   pos,
		})
	}
	return frames
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
