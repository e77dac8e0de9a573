package evaluator

import (
	"context"
	"sync"
	"testing"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/providers"
)

// recordingDispatcher keeps every descriptor it receives.
type recordingDispatcher struct {
	mu          sync.Mutex
	descriptors []*launch.Descriptor
	err         error
	block       chan struct{}
}

func (r *recordingDispatcher) Name() string { return "recording" }

func (r *recordingDispatcher) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = append(r.descriptors, d)
	return r.err
}

func (r *recordingDispatcher) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.descriptors)
}

func (r *recordingDispatcher) last(t *testing.T) *launch.Descriptor {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.descriptors) == 0 {
		t.Fatal("dispatcher was not called")
	}
	return r.descriptors[len(r.descriptors)-1]
}

func newTestRegistry(t *testing.T, d Dispatcher, ps ...providers.ConfigurationProvider) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{
		ApplicationID: "app-1",
		RemoteID:      "driver://localhost:7000",
		Providers:     providers.NewSet(ps...),
		Dispatcher:    d,
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func newTestEvaluator(t *testing.T, d Dispatcher, ps ...providers.ConfigurationProvider) *AllocatedEvaluator {
	t.Helper()
	e, err := newTestRegistry(t, d, ps...).Allocate(context.Background(), "e1")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	return e
}

func static(name, src string) providers.ConfigurationProvider {
	return providers.NewStatic(name, config.MustParse(src))
}
