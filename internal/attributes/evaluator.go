package attributes

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mrzor/frame-relay/internal/config"
	"github.com/mrzor/frame-relay/internal/stats"
	"go.opentelemetry.io/otel/attribute"
)

// FrameInfo describes one delivered frame for expression evaluation.
type FrameInfo struct {
	Cycle    uint64
	Tag      uint16
	Blocks   int
	Bytes    int
	Counters stats.Snapshot
}

// Evaluator handles compilation and evaluation of custom attribute expressions.
type Evaluator struct {
	customAttrs   []config.CustomAttribute
	compiledExprs []*vm.Program
	environ       map[string]string
}

func frameEnv(info FrameInfo, environ map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"cycle":      int(info.Cycle),
		"tag":        int(info.Tag),
		"blocks":     info.Blocks,
		"bytes":      info.Bytes,
		"captured":   int(info.Counters.Captured),
		"sent":       int(info.Counters.Sent),
		"dropped":    int(info.Counters.Dropped),
		"incomplete": int(info.Counters.Incomplete),
		"env":        environ,
	}
}

// NewEvaluator creates a new attribute evaluator.
// It pre-compiles all custom attribute expressions and snapshots the process
// environment, which stays fixed for the session.
func NewEvaluator(customAttrs []config.CustomAttribute) (*Evaluator, error) {
	exprEnv := frameEnv(FrameInfo{}, map[string]string{})

	compiledExprs := make([]*vm.Program, len(customAttrs))
	for i, attr := range customAttrs {
		program, err := expr.Compile(attr.Expression, expr.Env(exprEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for attribute %q: %w", attr.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		customAttrs:   customAttrs,
		compiledExprs: compiledExprs,
		environ:       Environ(os.Environ()),
	}, nil
}

// Len returns the number of configured attributes.
func (e *Evaluator) Len() int {
	return len(e.customAttrs)
}

// EvaluateFrameAttributes evaluates custom attribute expressions for a frame.
// A failing expression is logged and skipped.
func (e *Evaluator) EvaluateFrameAttributes(info FrameInfo) []attribute.KeyValue {
	if len(e.customAttrs) == 0 {
		return nil
	}

	env := frameEnv(info, e.environ)

	var attrs []attribute.KeyValue
	for i, customAttr := range e.customAttrs {
		output, err := expr.Run(e.compiledExprs[i], env)
		if err != nil {
			log.Printf("failed to evaluate expression for attribute %q: %v", customAttr.Name, err)
			continue
		}
		attrs = appendValue(attrs, customAttr.Name, output)
	}
	return attrs
}

// appendValue converts an expression result to attributes. Maps expand into
// one attribute per key with dot notation.
func appendValue(attrs []attribute.KeyValue, name string, output interface{}) []attribute.KeyValue {
	outputValue := reflect.ValueOf(output)
	if outputValue.Kind() != reflect.Map {
		return append(attrs, scalar(name, output))
	}

	for _, key := range outputValue.MapKeys() {
		attrName := name + "." + sanitizeAttributeName(fmt.Sprintf("%v", key.Interface()))
		value := outputValue.MapIndex(key).Interface()
		attrs = append(attrs, attribute.String(attrName, fmt.Sprintf("%v", value)))
	}
	return attrs
}

func scalar(name string, v interface{}) attribute.KeyValue {
	switch v := v.(type) {
	case bool:
		return attribute.Bool(name, v)
	case int:
		return attribute.Int(name, v)
	case int64:
		return attribute.Int64(name, v)
	case float64:
		return attribute.Float64(name, v)
	default:
		return attribute.String(name, fmt.Sprint(v))
	}
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}

// Environ turns KEY=VALUE pairs into a map. Entries without '=' are skipped.
func Environ(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
