package tag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"stocktag.GO/core/stockerr"
	catalogEntity "stocktag.GO/model/entity/catalog"
	instanceEntity "stocktag.GO/model/entity/instance"
	tagEntity "stocktag.GO/model/entity/tag"
	catalogRepo "stocktag.GO/model/repository/catalog"
	instanceRepo "stocktag.GO/model/repository/instance"
	tagRepo "stocktag.GO/model/repository/tag"
	"stocktag.GO/service/allocation"
	"stocktag.GO/service/catalog"
	"stocktag.GO/service/invariant"
)

type stack struct {
	db        *gorm.DB
	instances *instanceRepo.InstanceRepository
	tags      *tagRepo.TagRepository
	manager   *Manager
	checker   *invariant.Checker
}

func testStack(t *testing.T) *stack {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&instanceEntity.Instance{}, &tagEntity.Tag{}, &tagEntity.Item{}, &catalogEntity.Entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	instances, err := instanceRepo.NewInstanceRepository(db)
	if err != nil {
		t.Fatalf("NewInstanceRepository: %v", err)
	}
	tags := tagRepo.NewTagRepository(db)
	engine := allocation.NewEngine(instances, nil, zerolog.Nop())
	manager := NewManager(tags, instances, engine, nil, nil, zerolog.Nop())
	return &stack{
		db:        db,
		instances: instances,
		tags:      tags,
		manager:   manager,
		checker:   invariant.NewChecker(instances, tags),
	}
}

func (s *stack) seed(t *testing.T, sku string, cost float64, at time.Time) uint {
	inst, err := s.instances.Create(context.Background(), instanceRepo.CreateInput{SKU: sku, Cost: cost, AcquiredAt: at})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return inst.InstanceID
}

func (s *stack) seedN(t *testing.T, sku string, n int) []uint {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]uint, n)
	for i := 0; i < n; i++ {
		ids[i] = s.seed(t, sku, float64(10*(i+1)), base.Add(time.Duration(i)*time.Hour))
	}
	return ids
}

func (s *stack) assertInvariantHolds(t *testing.T) {
	t.Helper()
	violations, err := s.checker.Check(context.Background())
	if err != nil {
		t.Fatalf("invariant check: %v", err)
	}
	for _, v := range violations {
		t.Errorf("invariant violated: %s", v)
	}
}

func TestCreateAllocatesAllLines(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 3)
	s.seedN(t, "BRACKET", 2)

	tg, err := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
		{SKU: "BRACKET", Quantity: 1, Method: tagEntity.MethodCostBased},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tg.Status != tagEntity.StatusActive {
		t.Errorf("status = %s, want active", tg.Status)
	}
	if tg.CreatedBy != "clerk" {
		t.Errorf("creator = %q", tg.CreatedBy)
	}
	if len(tg.Items) != 2 || tg.ItemFor("PLANK").Quantity() != 2 || tg.ItemFor("BRACKET").Quantity() != 1 {
		t.Errorf("items = %+v", tg.Items)
	}
	s.assertInvariantHolds(t)
}

func TestCreateIsAllOrNothing(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 3)
	s.seedN(t, "BRACKET", 1)

	_, err := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
		{SKU: "BRACKET", Quantity: 5, Method: tagEntity.MethodFIFO},
	})
	if !errors.Is(err, stockerr.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}
	// The PLANK allocation from the failed call was compensated.
	n, _ := s.instances.CountAvailable(ctx, "PLANK")
	if n != 3 {
		t.Errorf("PLANK available = %d, want 3", n)
	}
	tags, _ := s.tags.ListAll(ctx)
	if len(tags) != 0 {
		t.Errorf("tags persisted by failed create: %d", len(tags))
	}
	s.assertInvariantHolds(t)
}

func TestFulfillPartialThenComplete(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 5)

	tg, err := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 5, Method: tagEntity.MethodFIFO},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tg, err = s.manager.FulfillPartial(ctx, tg.TagID, "PLANK", 2, "picker")
	if err != nil {
		t.Fatalf("FulfillPartial: %v", err)
	}
	if tg.Status != tagEntity.StatusActive {
		t.Errorf("status after partial = %s, want active", tg.Status)
	}
	if tg.ItemFor("PLANK").Quantity() != 3 {
		t.Errorf("remaining = %d, want 3", tg.ItemFor("PLANK").Quantity())
	}
	survivors, _ := s.instances.ListBySKU(ctx, "PLANK")
	if len(survivors) != 3 {
		t.Errorf("surviving instances = %d, want 3", len(survivors))
	}

	tg, err = s.manager.FulfillPartial(ctx, tg.TagID, "PLANK", 3, "picker")
	if err != nil {
		t.Fatalf("FulfillPartial: %v", err)
	}
	if tg.Status != tagEntity.StatusFulfilled {
		t.Errorf("status = %s, want fulfilled", tg.Status)
	}
	if tg.FulfilledAt == nil || tg.FulfilledBy != "picker" {
		t.Error("fulfillment stamp missing")
	}
	survivors, _ = s.instances.ListBySKU(ctx, "PLANK")
	if len(survivors) != 0 {
		t.Errorf("surviving instances = %d, want 0", len(survivors))
	}
	s.assertInvariantHolds(t)
}

func TestFulfillPartialConsumesOldestFirst(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	ids := s.seedN(t, "PLANK", 3) // seeded oldest-first

	tg, err := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 3, Method: tagEntity.MethodFIFO},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.manager.FulfillPartial(ctx, tg.TagID, "PLANK", 1, "picker"); err != nil {
		t.Fatalf("FulfillPartial: %v", err)
	}
	survivors, _ := s.instances.ListBySKU(ctx, "PLANK")
	for _, inst := range survivors {
		if inst.InstanceID == ids[0] {
			t.Error("oldest instance survived a partial fulfillment")
		}
	}
}

func TestFulfillPartialOverdraw(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 2)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
	})
	_, err := s.manager.FulfillPartial(ctx, tg.TagID, "PLANK", 3, "picker")
	if !errors.Is(err, stockerr.ErrInsufficientAllocation) {
		t.Fatalf("err = %v, want ErrInsufficientAllocation", err)
	}
	// Tag unchanged.
	reloaded, _ := s.tags.FindByID(ctx, tg.TagID)
	if reloaded.ItemFor("PLANK").Quantity() != 2 || reloaded.Status != tagEntity.StatusActive {
		t.Errorf("tag mutated by failed partial: %+v", reloaded)
	}
}

func TestFulfillAll(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 2)
	s.seedN(t, "BRACKET", 1)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
		{SKU: "BRACKET", Quantity: 1, Method: tagEntity.MethodFIFO},
	})
	tg, err := s.manager.FulfillAll(ctx, tg.TagID, "picker")
	if err != nil {
		t.Fatalf("FulfillAll: %v", err)
	}
	if tg.Status != tagEntity.StatusFulfilled || tg.FulfilledAt == nil {
		t.Errorf("tag = %+v", tg)
	}
	for _, sku := range []string{"PLANK", "BRACKET"} {
		survivors, _ := s.instances.ListBySKU(ctx, sku)
		if len(survivors) != 0 {
			t.Errorf("%s survivors = %d, want 0", sku, len(survivors))
		}
	}
	s.assertInvariantHolds(t)
}

func TestCancelReleasesAndTerminalRejectsEverything(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 2)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeLoaned, []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
	})
	tg, err := s.manager.Cancel(ctx, tg.TagID, "tools checked back in", "clerk")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if tg.Status != tagEntity.StatusCancelled || tg.CancelReason != "tools checked back in" {
		t.Errorf("tag = %+v", tg)
	}
	// Released, not deleted.
	n, _ := s.instances.CountAvailable(ctx, "PLANK")
	if n != 2 {
		t.Errorf("available = %d, want 2", n)
	}

	// Terminal: every mutating op must refuse without side effects.
	if _, err := s.manager.Cancel(ctx, tg.TagID, "again", "clerk"); !errors.Is(err, stockerr.ErrInvalidTransition) {
		t.Errorf("second cancel err = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.manager.FulfillAll(ctx, tg.TagID, "picker"); !errors.Is(err, stockerr.ErrInvalidTransition) {
		t.Errorf("fulfill on cancelled err = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.manager.AddItems(ctx, tg.TagID, "clerk", []catalog.Line{{SKU: "PLANK", Quantity: 1, Method: tagEntity.MethodFIFO}}); !errors.Is(err, stockerr.ErrInvalidTransition) {
		t.Errorf("add on cancelled err = %v, want ErrInvalidTransition", err)
	}
	n, _ = s.instances.CountAvailable(ctx, "PLANK")
	if n != 2 {
		t.Errorf("available after rejected ops = %d, want 2", n)
	}
	s.assertInvariantHolds(t)
}

func TestRemoveItemsReleasesOldestFirst(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	ids := s.seedN(t, "PLANK", 3)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 3, Method: tagEntity.MethodFIFO},
	})
	tg, err := s.manager.RemoveItems(ctx, tg.TagID, "clerk", []Reduction{{SKU: "PLANK", Quantity: 1}})
	if err != nil {
		t.Fatalf("RemoveItems: %v", err)
	}
	if tg.ItemFor("PLANK").Quantity() != 2 {
		t.Errorf("remaining = %d, want 2", tg.ItemFor("PLANK").Quantity())
	}
	// The oldest-acquired unit went back to the pool.
	insts, _ := s.instances.FindByIDs(ctx, []uint{ids[0]})
	if !insts[0].Available() {
		t.Error("oldest instance was not the one released")
	}
	s.assertInvariantHolds(t)
}

func TestRemoveItemsOverdrawLeavesTagUntouched(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 2)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
	})
	_, err := s.manager.RemoveItems(ctx, tg.TagID, "clerk", []Reduction{{SKU: "PLANK", Quantity: 5}})
	if !errors.Is(err, stockerr.ErrInsufficientAllocation) {
		t.Fatalf("err = %v, want ErrInsufficientAllocation", err)
	}
	reloaded, _ := s.tags.FindByID(ctx, tg.TagID)
	if reloaded.ItemFor("PLANK").Quantity() != 2 {
		t.Errorf("tag mutated by failed removal: %+v", reloaded.Items)
	}
}

func TestAddItemsMergesMatchingLine(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 3)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 1, Method: tagEntity.MethodFIFO},
	})
	tg, err := s.manager.AddItems(ctx, tg.TagID, "clerk", []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
	})
	if err != nil {
		t.Fatalf("AddItems: %v", err)
	}
	if len(tg.Items) != 1 || tg.ItemFor("PLANK").Quantity() != 3 {
		t.Errorf("items = %+v", tg.Items)
	}
	s.assertInvariantHolds(t)
}

func TestAdjustQuantitiesDispatchesBothWays(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 4)
	s.seedN(t, "BRACKET", 3)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 1, Method: tagEntity.MethodFIFO},
		{SKU: "BRACKET", Quantity: 3, Method: tagEntity.MethodFIFO},
	})
	tg, err := s.manager.AdjustQuantities(ctx, tg.TagID, "clerk", []Target{
		{SKU: "PLANK", Quantity: 3},
		{SKU: "BRACKET", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("AdjustQuantities: %v", err)
	}
	if tg.ItemFor("PLANK").Quantity() != 3 {
		t.Errorf("PLANK = %d, want 3", tg.ItemFor("PLANK").Quantity())
	}
	if tg.ItemFor("BRACKET").Quantity() != 1 {
		t.Errorf("BRACKET = %d, want 1", tg.ItemFor("BRACKET").Quantity())
	}
	n, _ := s.instances.CountAvailable(ctx, "BRACKET")
	if n != 2 {
		t.Errorf("BRACKET available = %d, want 2", n)
	}
	s.assertInvariantHolds(t)
}

func TestAdjustToZeroKeepsTagActive(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	s.seedN(t, "PLANK", 2)

	tg, _ := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "PLANK", Quantity: 2, Method: tagEntity.MethodFIFO},
	})
	tg, err := s.manager.AdjustQuantities(ctx, tg.TagID, "clerk", []Target{{SKU: "PLANK", Quantity: 0}})
	if err != nil {
		t.Fatalf("AdjustQuantities: %v", err)
	}
	if tg.Status != tagEntity.StatusActive {
		t.Errorf("status = %s, want active (only fulfillment terminates)", tg.Status)
	}
	if tg.ItemFor("PLANK").Quantity() != 0 {
		t.Errorf("line = %d, want 0", tg.ItemFor("PLANK").Quantity())
	}
	n, _ := s.instances.CountAvailable(ctx, "PLANK")
	if n != 2 {
		t.Errorf("available = %d, want 2", n)
	}
}

func TestCreateResolvesBundles(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	crepo := catalogRepo.NewCatalogRepository(s.db)
	for _, e := range []*catalogEntity.Entry{
		{SKU: "PLANK", UnitCost: 4},
		{SKU: "BRACKET", UnitCost: 1},
		{SKU: "SHELF-KIT", UnitCost: 10, IsBundle: true, BundleComponents: datatypes.NewJSONSlice([]catalogEntity.Component{
			{SKU: "PLANK", Quantity: 2},
			{SKU: "BRACKET", Quantity: 1},
		})},
	} {
		if err := crepo.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	provider := catalog.NewService(crepo)
	engine := allocation.NewEngine(s.instances, nil, zerolog.Nop())
	manager := NewManager(s.tags, s.instances, engine, provider, nil, zerolog.Nop())

	s.seedN(t, "PLANK", 4)
	s.seedN(t, "BRACKET", 2)

	tg, err := manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "SHELF-KIT", Quantity: 2, Method: tagEntity.MethodFIFO},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tg.ItemFor("PLANK") == nil || tg.ItemFor("PLANK").Quantity() != 4 {
		t.Errorf("PLANK line = %+v", tg.ItemFor("PLANK"))
	}
	if tg.ItemFor("BRACKET") == nil || tg.ItemFor("BRACKET").Quantity() != 2 {
		t.Errorf("BRACKET line = %+v", tg.ItemFor("BRACKET"))
	}
	if tg.ItemFor("SHELF-KIT") != nil {
		t.Error("bundle SKU leaked into line items")
	}
	s.assertInvariantHolds(t)
}

// The walkthrough from the stock-selection design discussion: cost-based and
// fifo tags over the same pool, exhaustion, cancellation, then reallocation
// of the released units.
func TestSelectionScenario(t *testing.T) {
	s := testStack(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	costs := []float64{10, 20, 30, 40}
	ids := make([]uint, 4)
	for i, c := range costs {
		ids[i] = s.seed(t, "WALL-A", c, base.Add(time.Duration(i)*time.Hour))
	}

	t1, err := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "WALL-A", Quantity: 2, Method: tagEntity.MethodCostBased},
	})
	if err != nil {
		t.Fatalf("create T1: %v", err)
	}
	got := t1.ItemFor("WALL-A").InstanceIDs
	if got[0] != ids[0] || got[1] != ids[1] {
		t.Errorf("T1 selected %v, want [%d %d] (costs 10, 20)", got, ids[0], ids[1])
	}

	t2, err := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "WALL-A", Quantity: 2, Method: tagEntity.MethodFIFO},
	})
	if err != nil {
		t.Fatalf("create T2: %v", err)
	}
	got = t2.ItemFor("WALL-A").InstanceIDs
	if got[0] != ids[2] || got[1] != ids[3] {
		t.Errorf("T2 selected %v, want [%d %d]", got, ids[2], ids[3])
	}

	_, err = s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "WALL-A", Quantity: 1, Method: tagEntity.MethodFIFO},
	})
	if !errors.Is(err, stockerr.ErrInsufficientStock) {
		t.Fatalf("exhausted pool err = %v, want ErrInsufficientStock", err)
	}

	if _, err := s.manager.Cancel(ctx, t1.TagID, "changed mind", "clerk"); err != nil {
		t.Fatalf("cancel T1: %v", err)
	}

	t3, err := s.manager.Create(ctx, "clerk", tagEntity.TypeReserved, []catalog.Line{
		{SKU: "WALL-A", Quantity: 1, Method: tagEntity.MethodFIFO},
	})
	if err != nil {
		t.Fatalf("create T3: %v", err)
	}
	got = t3.ItemFor("WALL-A").InstanceIDs
	if len(got) != 1 || got[0] != ids[0] {
		t.Errorf("T3 selected %v, want [%d] (earlier-dated released unit)", got, ids[0])
	}
	s.assertInvariantHolds(t)
}
