package evaluator_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/evaluator"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/providers"
)

// Example demonstrates allocating and launching an evaluator with one
// configuration provider.
func Example() {
	set := providers.NewSet(
		providers.NewStatic("defaults", config.MustParse(`a: 1`)),
	)

	var dispatched *launch.Descriptor
	registry, err := evaluator.NewRegistry(evaluator.RegistryConfig{
		ApplicationID: "app-1",
		RemoteID:      "driver://localhost:7000",
		Providers:     set,
		Dispatcher: evaluator.DispatcherFunc(func(ctx context.Context, d *launch.Descriptor) error {
			dispatched = d
			return nil
		}),
	})
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	e, err := registry.Allocate(ctx, "e1")
	if err != nil {
		panic(err)
	}
	_ = e.AddFile("/data/input.csv")

	if err := e.SubmitContext(ctx, config.MustParse(`id: "ctx1"`)); err != nil {
		panic(err)
	}

	fmt.Println(e)
	fmt.Println(e.Manager().State())
	fmt.Println(dispatched.Process)
	fmt.Println(dispatched.Files[0].Name, dispatched.Files[0].Type)
	// Output:
	// AllocatedEvaluator{ID='e1'}
	// SUBMITTED
	// managed(512MB)[]
	// input.csv PLAIN
}

// ExampleCompose shows that provider fragments only reach managed processes.
func ExampleCompose() {
	set := providers.NewSet(
		providers.NewStatic("a", config.MustParse(`a: 1`)),
		providers.NewStatic("b", config.MustParse(`b: 2`)),
	)
	ctx := context.Background()
	root := config.MustParse(`id: "ctx1"`)

	managed, _ := evaluator.Compose(ctx, root, set, launch.ProcessTypeManaged)
	alternate, _ := evaluator.Compose(ctx, root, set, launch.ProcessTypeAlternate)

	s := config.NewSerializer()
	m, _ := s.ToString(managed)
	a, _ := s.ToString(alternate)
	fmt.Println(m == `id: "ctx1"`, a == `id: "ctx1"`)
	// Output: false true
}
