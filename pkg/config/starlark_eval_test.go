package config

import (
	"context"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple binding",
			script: `memory_mb = 256 * 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["memory_mb"] != int64(512) {
					t.Errorf("expected memory_mb=512, got %v", sr.Output["memory_mb"])
				}
			},
		},
		{
			name:   "input variables",
			script: `replicas = base * 2`,
			input:  map[string]interface{}{"base": 3},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["replicas"] != int64(6) {
					t.Errorf("expected replicas=6, got %v", sr.Output["replicas"])
				}
				if _, ok := sr.Output["base"]; ok {
					t.Error("predeclared input must not leak into output")
				}
			},
		},
		{
			name: "helper functions are not bindings",
			script: `
def service_names(n):
    out = []
    for i in range(n):
        out.append("svc-" + str(i))
    return out

services = service_names(3)
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["service_names"]; ok {
					t.Error("function definitions must be skipped")
				}
				services, ok := sr.Output["services"].([]interface{})
				if !ok || len(services) != 3 || services[2] != "svc-2" {
					t.Errorf("unexpected services: %v", sr.Output["services"])
				}
			},
		},
		{
			name:   "private globals are skipped",
			script: "_scratch = 1\nid = \"ctx\"",
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if _, ok := sr.Output["_scratch"]; ok {
					t.Error("underscore globals must be skipped")
				}
				if sr.Output["id"] != "ctx" {
					t.Errorf("expected id=ctx, got %v", sr.Output["id"])
				}
			},
		},
		{
			name: "struct becomes nested bindings",
			script: `
runtime = struct(name = "alternate", options = {"gc": "serial"})
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				rt, ok := sr.Output["runtime"].(map[string]interface{})
				if !ok {
					t.Fatalf("expected runtime to be a map, got %T", sr.Output["runtime"])
				}
				if rt["name"] != "alternate" {
					t.Errorf("expected runtime.name=alternate, got %v", rt["name"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `id = `,
			wantErr: true,
		},
		{
			name:    "undefined name",
			script:  `id = missing`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, tt.script, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(100 * time.Millisecond)

	script := `
def spin():
    total = 0
    for i in range(100000000):
        total = total + i
    return total

output = spin()
`

	result, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if result == nil || result.Error == "" {
		t.Error("expected timeout error in result")
	}
}

func TestStarlarkEvaluator_EvaluateConfiguration(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	c, err := evaluator.EvaluateConfiguration(context.Background(), "tuning.star", `
heap_mb = 128
labels = {"tier": "batch"}
`, nil)
	if err != nil {
		t.Fatalf("EvaluateConfiguration() error = %v", err)
	}

	if c.Source() != "tuning.star" {
		t.Errorf("Source() = %q, want tuning.star", c.Source())
	}
	if v, ok := c.Lookup("labels.tier"); !ok || v != "batch" {
		t.Errorf("labels.tier = %v, %v", v, ok)
	}

	_, err = evaluator.EvaluateConfiguration(context.Background(), "broken.star", `x = `, nil)
	if !IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestStarlarkEvaluator_Modules(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	result, err := evaluator.Evaluate(context.Background(), `
labels = json.decode('{"tier": "batch"}')
heap_mb = int(math.ceil(memory / 3))
ports = (8080, 8081)
`, map[string]interface{}{"memory": 1024})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	labels, ok := result.Output["labels"].(map[string]interface{})
	if !ok || labels["tier"] != "batch" {
		t.Errorf("unexpected labels: %v", result.Output["labels"])
	}
	if result.Output["heap_mb"] != int64(342) {
		t.Errorf("expected heap_mb=342, got %v", result.Output["heap_mb"])
	}
	ports, ok := result.Output["ports"].([]interface{})
	if !ok || len(ports) != 2 || ports[1] != int64(8081) {
		t.Errorf("unexpected ports: %v", result.Output["ports"])
	}
}

func TestStarlarkEvaluator_StepLimit(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute)
	evaluator.maxSteps = 1000

	_, err := evaluator.Evaluate(context.Background(), `
def count():
    n = 0
    for i in range(100000):
        n += 1
    return n

total = count()
`, nil)
	if err == nil {
		t.Fatal("expected the step limit to abort the script")
	}
}

func TestStarlarkEvaluator_Cancelled(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := evaluator.Evaluate(ctx, `
def spin():
    for i in range(100000000):
        pass

spin()
`, nil); err == nil {
		t.Fatal("expected a cancelled context to abort the script")
	}
}
