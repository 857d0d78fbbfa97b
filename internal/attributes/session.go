package attributes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionInfo is what session-level expressions are evaluated against.
type SessionInfo struct {
	Environ map[string]string
	Args    []string
}

func sessionEnv(info *SessionInfo) map[string]interface{} {
	return map[string]interface{}{
		"env":  info.Environ,
		"args": info.Args,
	}
}

func compileSession(exprStr, what string) (*vm.Program, error) {
	if exprStr == "" {
		return nil, nil
	}
	program, err := expr.Compile(exprStr, expr.Env(sessionEnv(&SessionInfo{Environ: map[string]string{}, Args: []string{}})))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s expression: %w", what, err)
	}
	return program, nil
}

func runSession(program *vm.Program, info *SessionInfo, what string) (string, error) {
	if info == nil {
		return "", fmt.Errorf("no session info available")
	}
	output, err := expr.Run(program, sessionEnv(info))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s expression: %w", what, err)
	}
	return fmt.Sprint(output), nil
}

// TraceIDEvaluator handles evaluation and validation of trace ID expressions.
type TraceIDEvaluator struct {
	program *vm.Program
}

// NewTraceIDEvaluator creates a new trace ID evaluator.
// If exprStr is empty, the evaluator yields the zero trace ID and the SDK
// generates random ones.
func NewTraceIDEvaluator(exprStr string) (*TraceIDEvaluator, error) {
	program, err := compileSession(exprStr, "trace-id")
	if err != nil {
		return nil, err
	}
	return &TraceIDEvaluator{program: program}, nil
}

// EvaluateAndValidate evaluates the trace-id expression and validates the result.
// Returns the trace ID and any warnings to attach to spans.
func (e *TraceIDEvaluator) EvaluateAndValidate(info *SessionInfo) (trace.TraceID, []attribute.KeyValue, error) {
	if e.program == nil {
		return trace.TraceID{}, nil, nil
	}

	resultStr, err := runSession(e.program, info, "trace-id")
	if err != nil {
		return trace.TraceID{}, nil, err
	}

	if len(resultStr) == 32 {
		if traceID, err := trace.TraceIDFromHex(resultStr); err == nil {
			return traceID, nil, nil
		}
	}

	// Hash anything else into a valid ID so related sessions still group.
	hash := sha256.Sum256([]byte(resultStr))
	traceID, err := trace.TraceIDFromHex(hex.EncodeToString(hash[:16]))
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to create trace ID from hash: %w", err)
	}

	warnings := []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", resultStr),
		attribute.String("_trace_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 32-char hex trace ID, used SHA-256 hash instead", resultStr)),
	}
	return traceID, warnings, nil
}

// ParentIDEvaluator handles evaluation and validation of parent span ID expressions.
type ParentIDEvaluator struct {
	program *vm.Program
}

// NewParentIDEvaluator creates a new parent ID evaluator.
// If exprStr is empty, the evaluator returns no parent ID.
func NewParentIDEvaluator(exprStr string) (*ParentIDEvaluator, error) {
	program, err := compileSession(exprStr, "parent-id")
	if err != nil {
		return nil, err
	}
	return &ParentIDEvaluator{program: program}, nil
}

// EvaluateAndValidate evaluates the parent-id expression and validates the result.
// Invalid results give the zero span ID plus warnings.
func (e *ParentIDEvaluator) EvaluateAndValidate(info *SessionInfo) (trace.SpanID, []attribute.KeyValue, error) {
	if e.program == nil {
		return trace.SpanID{}, nil, nil
	}

	resultStr, err := runSession(e.program, info, "parent-id")
	if err != nil {
		return trace.SpanID{}, nil, err
	}

	if len(resultStr) == 16 {
		if spanID, err := trace.SpanIDFromHex(resultStr); err == nil {
			return spanID, nil, nil
		}
	}

	warnings := []attribute.KeyValue{
		attribute.String("_parent_id_expr_result", resultStr),
		attribute.String("_parent_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 16-char hex span ID, using null parent ID instead", resultStr)),
	}
	return trace.SpanID{}, warnings, nil
}

// RemoteParent builds the span context session spans are parented to. It is
// invalid unless both IDs are set.
func RemoteParent(traceID trace.TraceID, parentID trace.SpanID) trace.SpanContext {
	if !traceID.IsValid() || !parentID.IsValid() {
		return trace.SpanContext{}
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     parentID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}
