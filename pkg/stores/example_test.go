package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
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
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleMemoryStore_AddRegulationObjects demonstrates seeding a regulation.
func ExampleMemoryStore_AddRegulationObjects() {
	store := stores.NewMemoryStore()
	ctx := context.Background()

	tenant := &engine.Tenant{Identifier: "acme"}
	_ = store.CreateTenant(ctx, tenant)

	regulation := &engine.Regulation{TenantID: tenant.ID, Name: "CH.Base"}
	_ = store.CreateRegulation(ctx, regulation)

	_ = store.AddRegulationObjects(ctx, regulation.ID, &engine.RegulationObjects{
		WageTypes: []*engine.WageType{{Name: "Salary", ValueExpression: engine.Starlark("return 5000")}},
	})

	objects, _ := store.GetRegulationObjects(ctx, tenant.ID, regulation.ID)
	fmt.Println(len(objects.WageTypes), objects.WageTypes[0].RegulationID == regulation.ID)
	// Output: 1 true
}
