package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

const (
	defaultScriptTimeout = 30 * time.Second

	// defaultScriptSteps bounds the work one script may do regardless of
	// wall-clock time.
	defaultScriptSteps = 50_000_000
)

// StarlarkEvaluator runs Starlark scripts that compute configuration
// bindings. Every public, non-callable global of a script becomes one
// binding. Scripts see no file system or environment; the json and math
// modules and struct() are predeclared.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
}

// NewStarlarkEvaluator creates an evaluator that aborts scripts running longer
// than timeout. A zero timeout means 30 seconds.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = defaultScriptTimeout
	}
	return &StarlarkEvaluator{
		timeout:  timeout,
		maxSteps: defaultScriptSteps,
	}
}

// Evaluate executes script with input predeclared as globals. On failure the
// returned result still carries the execution time and error text.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	return se.exec(ctx, "config.star", script, input)
}

// EvaluateConfiguration runs script and turns its globals into a configuration
// whose source is name.
func (se *StarlarkEvaluator) EvaluateConfiguration(ctx context.Context, name, script string, input map[string]interface{}) (Configuration, error) {
	result, err := se.exec(ctx, name, script, input)
	if err != nil {
		return Configuration{}, configurationError(fmt.Sprintf("script %s failed", name), err).
			WithResource(name).
			WithOperation("evaluate")
	}

	c, err := FromMap(result.Output)
	if err != nil {
		return Configuration{}, err
	}
	c.source = name
	return c, nil
}

func (se *StarlarkEvaluator) exec(ctx context.Context, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	start := time.Now()
	result := &StarlarkResult{}

	output, err := se.run(ctx, filename, script, input)
	result.ExecutionTime = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Output = output
	return result, nil
}

func (se *StarlarkEvaluator) run(ctx context.Context, filename, script string, input map[string]interface{}) (map[string]interface{}, error) {
	runCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			log.Debug().Str("script", filename).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(se.maxSteps)
	stop := context.AfterFunc(runCtx, func() { thread.Cancel(runCtx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   json.Module,
		"math":   math.Module,
	}
	for key, val := range input {
		sv, err := toStarlark(val)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("script timed out after %v: %w", se.timeout, err)
		}
		return nil, fmt.Errorf("script failed: %w", err)
	}

	output := make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		gv, err := fromStarlark(val)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		output[name] = gv
	}
	return output, nil
}

func toStarlark(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		items := make([]starlark.Value, len(val))
		for i, s := range val {
			items[i] = starlark.String(s)
		}
		return starlark.NewList(items), nil
	case []interface{}:
		items := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[i] = sv
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func fromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s overflows int64", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			gv, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			out[name] = gv
		}
		return out, nil
	case starlark.Iterable:
		// lists, tuples and sets
		var out []interface{}
		iter := val.Iterate()
		defer iter.Done()
		var x starlark.Value
		for iter.Next(&x) {
			gv, err := fromStarlark(x)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		if out == nil {
			out = []interface{}{}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
}
