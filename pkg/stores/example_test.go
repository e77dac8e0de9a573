package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/launchpad/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a ledger.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Ledger initialized successfully")
	// Output: Ledger initialized successfully
}

// ExampleSQLiteStore_CreateLaunch demonstrates recording a launch and its outcome.
func ExampleSQLiteStore_CreateLaunch() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	launch := &stores.Launch{
		EvaluatorID: "e1",
		ProcessType: "managed",
		MemoryMB:    512,
		Dispatcher:  "stream",
		Descriptor:  `{"identifier":"e1"}`,
	}
	if err := store.CreateLaunch(ctx, launch); err != nil {
		log.Fatal(err)
	}

	if err := store.UpdateLaunchStatus(ctx, "e1", stores.LaunchStatusDispatched, nil); err != nil {
		log.Fatal(err)
	}

	again := &stores.Launch{EvaluatorID: "e1", ProcessType: "managed", MemoryMB: 512, Dispatcher: "stream", Descriptor: "{}"}
	err := store.CreateLaunch(ctx, again)

	got, _ := store.GetLaunch(ctx, "e1")
	fmt.Println(got.EvaluatorID, got.Status)
	fmt.Println(err)
	// Output:
	// e1 dispatched
	// [conflict] launch already recorded for evaluator: e1 (resource=e1)
}
