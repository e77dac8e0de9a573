package dispatch

import (
	"testing"

	"github.com/openfroyo/launchpad/pkg/launch"
)

// testDescriptor builds a managed descriptor for id carrying files.
func testDescriptor(t *testing.T, id string, files ...launch.FileResource) *launch.Descriptor {
	t.Helper()
	return descriptorWithProcess(t, id, launch.NewProcess(launch.ProcessTypeManaged), files...)
}

func descriptorWithProcess(t *testing.T, id string, p launch.ProcessDescriptor, files ...launch.FileResource) *launch.Descriptor {
	t.Helper()

	cfg, err := launch.NewEvaluatorConfigBuilder().
		SetApplicationID("app").
		SetDriverRemoteID("driver:1").
		SetEvaluatorID(id).
		SetRootContextConfig(`id: "RootContext_` + id + `"`).
		Build()
	if err != nil {
		t.Fatalf("failed to build evaluator config: %v", err)
	}

	d, err := launch.NewDescriptorBuilder().
		SetIdentifier(id).
		SetRemoteID("driver:1").
		SetEvaluatorConfig(cfg).
		SetProcess(p).
		AddFiles(files...).
		Build()
	if err != nil {
		t.Fatalf("failed to build descriptor: %v", err)
	}
	return d
}
