package launch

import (
	"strings"
	"testing"

	"github.com/openfroyo/launchpad/pkg/engine"
)

func validConfigBuilder() *EvaluatorConfigBuilder {
	return NewEvaluatorConfigBuilder().
		SetApplicationID("app").
		SetDriverRemoteID("driver:1").
		SetEvaluatorID("e1").
		SetRootContextConfig(`id: "ctx1"`)
}

func TestEvaluatorConfigBuilder_Build(t *testing.T) {
	tests := []struct {
		name    string
		builder *EvaluatorConfigBuilder
		wantErr bool
	}{
		{name: "context only", builder: validConfigBuilder()},
		{name: "with service and task", builder: validConfigBuilder().SetRootServiceConfig(`services: ["web"]`).SetTaskConfig(`id: "t1"`)},
		{name: "missing root context", builder: validConfigBuilder().SetRootContextConfig(""), wantErr: true},
		{name: "missing evaluator id", builder: validConfigBuilder().SetEvaluatorID(""), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Build() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !engine.HasCode(err, engine.ErrCodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestEvaluatorConfigBuilder_BuildOnce(t *testing.T) {
	b := validConfigBuilder()
	cfg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HasService() || cfg.HasTask() {
		t.Error("context-only configuration reports optional fragments")
	}

	_, err = b.Build()
	if !engine.HasCode(err, engine.ErrCodeInvalidState) {
		t.Errorf("second Build() error = %v, want INVALID_STATE", err)
	}
}

func TestDescriptorBuilder(t *testing.T) {
	cfg, err := validConfigBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}

	b := NewDescriptorBuilder().
		SetIdentifier("e1").
		SetRemoteID("driver:1").
		SetEvaluatorConfig(cfg).
		SetProcess(NewProcess(ProcessTypeAlternate).WithOption("gc", "serial")).
		AddFiles(NewFileResource("/jobs/input.txt", FileTypePlain), NewFileResource("/jobs/input.txt", FileTypeLib))

	d, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(d.FilesOfType(FileTypePlain)) != 1 || len(d.FilesOfType(FileTypeLib)) != 1 {
		t.Errorf("unexpected files: %+v", d.Files)
	}

	b.AddFiles(NewFileResource("/jobs/late.txt", FileTypePlain))
	if len(d.Files) != 2 {
		t.Error("descriptor must not change after Build")
	}

	data, err := d.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"identifier"`, `"remoteId"`, `"evaluatorConfig"`, `"rootContextConfig"`, `"kind": "LIB"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("marshaled descriptor lacks %s:\n%s", key, data)
		}
	}
	if strings.Contains(string(data), "taskConfig") {
		t.Error("absent task must be omitted")
	}

	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Process.Options["gc"] != "serial" {
		t.Errorf("process options lost: %+v", back.Process)
	}
}

func TestDescriptorBuilder_Invalid(t *testing.T) {
	cfg, _ := validConfigBuilder().Build()

	tests := []struct {
		name    string
		builder *DescriptorBuilder
	}{
		{
			name:    "missing identifier",
			builder: NewDescriptorBuilder().SetRemoteID("r").SetEvaluatorConfig(cfg).SetProcess(NewProcess(ProcessTypeManaged)),
		},
		{
			name:    "zero process",
			builder: NewDescriptorBuilder().SetIdentifier("e1").SetRemoteID("r").SetEvaluatorConfig(cfg),
		},
		{
			name: "bad file kind",
			builder: NewDescriptorBuilder().SetIdentifier("e1").SetRemoteID("r").SetEvaluatorConfig(cfg).
				SetProcess(NewProcess(ProcessTypeManaged)).
				AddFiles(FileResource{Name: "x", Path: "/x", Type: "ARCHIVE"}),
		},
		{
			name:    "missing evaluator config",
			builder: NewDescriptorBuilder().SetIdentifier("e1").SetRemoteID("r").SetProcess(NewProcess(ProcessTypeManaged)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.builder.Build(); !engine.HasCode(err, engine.ErrCodeValidation) {
				t.Errorf("Build() error = %v, want VALIDATION_ERROR", err)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: "e1"},
		{id: "RootContext_e1"},
		{id: "3f1c2a9e-6b7d-4e8f-9a0b-1c2d3e4f5a6b"},
		{id: "v1..2"},
		{id: "", wantErr: true},
		{id: ".", wantErr: true},
		{id: "..", wantErr: true},
		{id: "../etc", wantErr: true},
		{id: "a/b", wantErr: true},
		{id: `a\b`, wantErr: true},
		{id: "line\nbreak", wantErr: true},
	}

	for _, tt := range tests {
		err := ValidateIdentifier(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}
