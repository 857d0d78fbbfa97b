// Package attributes evaluates user supplied expressions into span
// attributes and span context for the relay session.
//
// Expressions use the expr language.
//
//   - Evaluator: per-frame custom attributes, evaluated against the frame just
//     delivered and the session counters
//   - TraceIDEvaluator: session trace ID (32 hex chars), evaluated once at
//     startup against the process environment and arguments
//   - ParentIDEvaluator: remote parent span ID (16 hex chars), same inputs
//
// Invalid trace IDs are hashed with SHA-256 to produce valid IDs. Invalid
// parent IDs result in a null parent (zero span ID).
package attributes
