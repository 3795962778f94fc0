// Package tag models reservation/loan/defect claims as a state machine over
// sets of allocated instances. Active tags mutate; fulfilled and cancelled
// tags are terminal. Fulfillment deletes instances (real-world consumption),
// cancellation and removal release them back to the pool — the two paths are
// never mixed.
package tag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"stocktag.GO/core/events"
	"stocktag.GO/core/stockerr"
	tagEntity "stocktag.GO/model/entity/tag"
	instanceRepo "stocktag.GO/model/repository/instance"
	tagRepo "stocktag.GO/model/repository/tag"
	"stocktag.GO/service/allocation"
	"stocktag.GO/service/catalog"
)

type Manager struct {
	tags      *tagRepo.TagRepository
	instances *instanceRepo.InstanceRepository
	engine    *allocation.Engine
	catalog   catalog.EntryProvider
	events    events.Emitter
	log       zerolog.Logger
}

// NewManager wires the lifecycle manager. catalog may be nil when bundle
// resolution is not wanted (lines then pass through as-is).
func NewManager(tags *tagRepo.TagRepository, instances *instanceRepo.InstanceRepository, engine *allocation.Engine, provider catalog.EntryProvider, emitter events.Emitter, log zerolog.Logger) *Manager {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Manager{tags: tags, instances: instances, engine: engine, catalog: provider, events: emitter, log: log}
}

// Reduction asks to release quantity units from one line.
type Reduction struct {
	SKU      string
	Quantity int
}

// Target sets a line's absolute quantity; AdjustQuantities computes the
// signed delta and dispatches to add or remove.
type Target struct {
	SKU      string
	Quantity int
}

// lineAlloc pairs a resolved line with the ids the engine claimed for it.
type lineAlloc struct {
	line catalog.Line
	ids  []uint
}

// Create builds a new active tag with every line allocated, or nothing at
// all: if any line fails, everything allocated earlier in this call is
// released and the originating error surfaces.
func (m *Manager) Create(ctx context.Context, actor string, tagType tagEntity.Type, lines []catalog.Line) (*tagEntity.Tag, error) {
	if !tagEntity.ValidType(tagType) {
		return nil, fmt.Errorf("unknown tag type %q", tagType)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("a tag needs at least one line")
	}
	resolved, err := catalog.ResolveLines(ctx, m.catalog, lines)
	if err != nil {
		return nil, err
	}

	tagID := uuid.NewString()
	allocs, err := m.allocateLines(ctx, tagID, tagType, actor, resolved)
	if err != nil {
		return nil, err
	}

	t := &tagEntity.Tag{
		TagID:     tagID,
		TagType:   tagType,
		Status:    tagEntity.StatusActive,
		CreatedBy: actor,
	}
	for _, a := range allocs {
		t.Items = append(t.Items, tagEntity.Item{
			SKU:         a.line.SKU,
			Method:      a.line.Method,
			InstanceIDs: datatypes.NewJSONSlice(a.ids),
		})
	}
	if err := m.tags.Create(ctx, t); err != nil {
		m.rollback(ctx, tagID, tagType, actor, allocs)
		return nil, fmt.Errorf("persist tag: %w", err)
	}
	return t, nil
}

// FulfillAll consumes every allocated instance of the tag: instances are
// deleted, line sets cleared, status flips to fulfilled.
func (m *Manager) FulfillAll(ctx context.Context, tagID, actor string) (*tagEntity.Tag, error) {
	t, err := m.loadActive(ctx, tagID)
	if err != nil {
		return nil, err
	}
	for i := range t.Items {
		it := &t.Items[i]
		if it.Quantity() == 0 {
			continue
		}
		ids := []uint(it.InstanceIDs)
		if err := m.instances.Delete(ctx, ids); err != nil {
			return nil, fmt.Errorf("consume %s instances: %w", it.SKU, err)
		}
		if err := m.tags.UpdateItemSet(ctx, it.ItemID, nil); err != nil {
			return nil, fmt.Errorf("clear %s line: %w", it.SKU, err)
		}
		m.emitFulfill(t, it.SKU, ids, actor)
		it.InstanceIDs = datatypes.NewJSONSlice([]uint{})
	}
	return t, m.markFulfilled(ctx, t, actor)
}

// FulfillPartial consumes quantity units from one line, oldest acquisition
// first. When the last unit across all lines is consumed the tag becomes
// fulfilled.
func (m *Manager) FulfillPartial(ctx context.Context, tagID, sku string, quantity int, actor string) (*tagEntity.Tag, error) {
	t, err := m.loadActive(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, stockerr.InvalidSelection(sku, "quantity must be positive")
	}
	it := t.ItemFor(sku)
	if it == nil {
		return nil, stockerr.InsufficientAllocation(sku, quantity, 0)
	}
	if quantity > it.Quantity() {
		return nil, stockerr.InsufficientAllocation(sku, quantity, it.Quantity())
	}

	ordered, err := m.instances.SortByAcquisition(ctx, it.InstanceIDs)
	if err != nil {
		return nil, fmt.Errorf("order line instances: %w", err)
	}
	if len(ordered) != it.Quantity() {
		verr := stockerr.ConsistencyViolation(sku,
			fmt.Sprintf("tag %s line holds %d ids but %d instances exist", t.TagID, it.Quantity(), len(ordered)))
		m.log.Error().Err(verr).Str("tag_id", t.TagID).Msg("ownership mismatch detected during fulfillment")
		return nil, verr
	}

	take := ordered[:quantity]
	if err := m.instances.Delete(ctx, take); err != nil {
		return nil, fmt.Errorf("consume instances: %w", err)
	}
	it.Remove(take)
	if err := m.tags.UpdateItemSet(ctx, it.ItemID, it.InstanceIDs); err != nil {
		return nil, fmt.Errorf("update line: %w", err)
	}
	m.emitFulfill(t, sku, take, actor)

	if remaining(t) == 0 {
		return t, m.markFulfilled(ctx, t, actor)
	}
	return t, nil
}

// Cancel releases every allocated instance back to the pool and ends the tag.
// Forbidden on terminal tags; releases nothing in that case.
func (m *Manager) Cancel(ctx context.Context, tagID, reason, actor string) (*tagEntity.Tag, error) {
	t, err := m.loadActive(ctx, tagID)
	if err != nil {
		return nil, err
	}
	for i := range t.Items {
		it := &t.Items[i]
		if it.Quantity() == 0 {
			continue
		}
		if err := m.engine.Release(ctx, t.TagID, t.TagType, it.SKU, actor, it.InstanceIDs); err != nil {
			return nil, err
		}
		if err := m.tags.UpdateItemSet(ctx, it.ItemID, nil); err != nil {
			return nil, fmt.Errorf("clear %s line: %w", it.SKU, err)
		}
		it.InstanceIDs = datatypes.NewJSONSlice([]uint{})
	}
	fields := map[string]interface{}{
		"status":        tagEntity.StatusCancelled,
		"cancel_reason": reason,
	}
	if err := m.tags.UpdateStatus(ctx, t.TagID, fields); err != nil {
		return nil, fmt.Errorf("mark cancelled: %w", err)
	}
	t.Status = tagEntity.StatusCancelled
	t.CancelReason = reason
	m.events.Emit(events.Event{
		Action:  events.ActionCancel,
		TagID:   t.TagID,
		TagType: string(t.TagType),
		Actor:   actor,
	})
	return t, nil
}

// AddItems allocates additional lines onto an active tag. All-or-nothing like
// Create.
func (m *Manager) AddItems(ctx context.Context, tagID, actor string, lines []catalog.Line) (*tagEntity.Tag, error) {
	t, err := m.loadActive(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no lines to add")
	}
	resolved, err := catalog.ResolveLines(ctx, m.catalog, lines)
	if err != nil {
		return nil, err
	}
	return t, m.addLines(ctx, t, actor, resolved)
}

// RemoveItems releases quantity units per line, oldest-acquired ids first —
// choosing oldest keeps FIFO fairness for the returned stock.
func (m *Manager) RemoveItems(ctx context.Context, tagID, actor string, reductions []Reduction) (*tagEntity.Tag, error) {
	t, err := m.loadActive(ctx, tagID)
	if err != nil {
		return nil, err
	}
	// Validate every reduction before touching anything.
	for _, rd := range reductions {
		if rd.Quantity <= 0 {
			return nil, stockerr.InvalidSelection(rd.SKU, "quantity must be positive")
		}
		it := t.ItemFor(rd.SKU)
		if it == nil {
			return nil, stockerr.InsufficientAllocation(rd.SKU, rd.Quantity, 0)
		}
		if rd.Quantity > it.Quantity() {
			return nil, stockerr.InsufficientAllocation(rd.SKU, rd.Quantity, it.Quantity())
		}
	}
	for _, rd := range reductions {
		if err := m.releaseFromLine(ctx, t, rd.SKU, rd.Quantity, actor); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// AdjustQuantities sets absolute line quantities, dispatching the signed
// delta per line to add or remove. Growth on a manual line falls back to
// fifo selection; shrinking any line releases its oldest-acquired units.
func (m *Manager) AdjustQuantities(ctx context.Context, tagID, actor string, targets []Target) (*tagEntity.Tag, error) {
	t, err := m.loadActive(ctx, tagID)
	if err != nil {
		return nil, err
	}
	var adds []catalog.Line
	var removes []Reduction
	for _, tgt := range targets {
		if tgt.Quantity < 0 {
			return nil, stockerr.InvalidSelection(tgt.SKU, "quantity must not be negative")
		}
		current := 0
		method := tagEntity.MethodFIFO
		if it := t.ItemFor(tgt.SKU); it != nil {
			current = it.Quantity()
			if it.Method != tagEntity.MethodManual {
				method = it.Method
			}
		}
		switch delta := tgt.Quantity - current; {
		case delta > 0:
			adds = append(adds, catalog.Line{SKU: tgt.SKU, Quantity: delta, Method: method})
		case delta < 0:
			removes = append(removes, Reduction{SKU: tgt.SKU, Quantity: -delta})
		}
	}

	for _, rd := range removes {
		if err := m.releaseFromLine(ctx, t, rd.SKU, rd.Quantity, actor); err != nil {
			return nil, err
		}
	}
	if len(adds) > 0 {
		if err := m.addLines(ctx, t, actor, adds); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// loadActive fetches the tag and rejects terminal ones.
func (m *Manager) loadActive(ctx context.Context, tagID string) (*tagEntity.Tag, error) {
	t, err := m.tags.FindByID(ctx, tagID)
	if err != nil {
		return nil, fmt.Errorf("load tag %s: %w", tagID, err)
	}
	if t.Terminal() {
		return nil, stockerr.InvalidTransition(fmt.Sprintf("tag %s is %s", t.TagID, t.Status))
	}
	return t, nil
}

// allocateLines claims every line or nothing: the first failure rolls back
// all earlier allocations of this call and surfaces the originating error.
func (m *Manager) allocateLines(ctx context.Context, tagID string, tagType tagEntity.Type, actor string, lines []catalog.Line) ([]lineAlloc, error) {
	var done []lineAlloc
	for _, ln := range lines {
		ids, err := m.engine.Allocate(ctx, allocation.Request{
			TagID:     tagID,
			TagType:   tagType,
			SKU:       ln.SKU,
			Quantity:  ln.Quantity,
			Method:    ln.Method,
			ManualIDs: ln.ManualIDs,
			Actor:     actor,
		})
		if err != nil {
			m.rollback(ctx, tagID, tagType, actor, done)
			return nil, err
		}
		done = append(done, lineAlloc{line: ln, ids: ids})
	}
	return done, nil
}

// rollback releases every allocation made earlier in the failing call.
// Release failures here are logged and skipped so the original error wins.
func (m *Manager) rollback(ctx context.Context, tagID string, tagType tagEntity.Type, actor string, allocs []lineAlloc) {
	for _, a := range allocs {
		if err := m.engine.Release(ctx, tagID, tagType, a.line.SKU, actor, a.ids); err != nil {
			m.log.Error().Err(err).Str("tag_id", tagID).Str("sku", a.line.SKU).
				Msg("compensating release failed")
		}
	}
}

// addLines allocates and persists extra lines on a loaded active tag,
// merging into an existing line with the same SKU and method.
func (m *Manager) addLines(ctx context.Context, t *tagEntity.Tag, actor string, lines []catalog.Line) error {
	allocs, err := m.allocateLines(ctx, t.TagID, t.TagType, actor, lines)
	if err != nil {
		return err
	}

	var persistedItems []uint          // new item rows created by this call
	original := map[uint][]uint{}      // prior sets of items this call grew
	undo := func() {
		m.rollback(ctx, t.TagID, t.TagType, actor, allocs)
		for itemID, ids := range original {
			if err := m.tags.UpdateItemSet(ctx, itemID, ids); err != nil {
				m.log.Error().Err(err).Uint("item_id", itemID).Msg("item set restore failed")
			}
		}
		for _, itemID := range persistedItems {
			if err := m.tags.DeleteItem(ctx, itemID); err != nil {
				m.log.Error().Err(err).Uint("item_id", itemID).Msg("item row cleanup failed")
			}
		}
	}

	for _, a := range allocs {
		if it := itemFor(t, a.line.SKU, a.line.Method); it != nil {
			prior := append([]uint(nil), it.InstanceIDs...)
			it.Append(a.ids)
			if err := m.tags.UpdateItemSet(ctx, it.ItemID, it.InstanceIDs); err != nil {
				it.InstanceIDs = datatypes.NewJSONSlice(prior)
				undo()
				return fmt.Errorf("grow %s line: %w", a.line.SKU, err)
			}
			original[it.ItemID] = prior
			continue
		}
		item := tagEntity.Item{
			TagID:       t.TagID,
			SKU:         a.line.SKU,
			Method:      a.line.Method,
			InstanceIDs: datatypes.NewJSONSlice(a.ids),
		}
		if err := m.tags.AddItem(ctx, &item); err != nil {
			undo()
			return fmt.Errorf("add %s line: %w", a.line.SKU, err)
		}
		persistedItems = append(persistedItems, item.ItemID)
		t.Items = append(t.Items, item)
	}
	return nil
}

// releaseFromLine releases quantity oldest-acquired units from one line of a
// loaded tag. The caller has already validated the quantity.
func (m *Manager) releaseFromLine(ctx context.Context, t *tagEntity.Tag, sku string, quantity int, actor string) error {
	it := t.ItemFor(sku)
	ordered, err := m.instances.SortByAcquisition(ctx, it.InstanceIDs)
	if err != nil {
		return fmt.Errorf("order line instances: %w", err)
	}
	if len(ordered) != it.Quantity() {
		verr := stockerr.ConsistencyViolation(sku,
			fmt.Sprintf("tag %s line holds %d ids but %d instances exist", t.TagID, it.Quantity(), len(ordered)))
		m.log.Error().Err(verr).Str("tag_id", t.TagID).Msg("ownership mismatch detected during removal")
		return verr
	}
	take := ordered[:quantity]
	if err := m.engine.Release(ctx, t.TagID, t.TagType, sku, actor, take); err != nil {
		return err
	}
	it.Remove(take)
	if err := m.tags.UpdateItemSet(ctx, it.ItemID, it.InstanceIDs); err != nil {
		return fmt.Errorf("shrink %s line: %w", sku, err)
	}
	return nil
}

func (m *Manager) markFulfilled(ctx context.Context, t *tagEntity.Tag, actor string) error {
	now := time.Now()
	fields := map[string]interface{}{
		"status":       tagEntity.StatusFulfilled,
		"fulfilled_at": now,
		"fulfilled_by": actor,
	}
	if err := m.tags.UpdateStatus(ctx, t.TagID, fields); err != nil {
		return fmt.Errorf("mark fulfilled: %w", err)
	}
	t.Status = tagEntity.StatusFulfilled
	t.FulfilledAt = &now
	t.FulfilledBy = actor
	return nil
}

func (m *Manager) emitFulfill(t *tagEntity.Tag, sku string, ids []uint, actor string) {
	m.events.Emit(events.Event{
		Action:      events.ActionFulfill,
		TagID:       t.TagID,
		TagType:     string(t.TagType),
		SKU:         sku,
		InstanceIDs: ids,
		Quantity:    len(ids),
		Actor:       actor,
	})
}

func itemFor(t *tagEntity.Tag, sku string, method tagEntity.Method) *tagEntity.Item {
	for i := range t.Items {
		if t.Items[i].SKU == sku && t.Items[i].Method == method {
			return &t.Items[i]
		}
	}
	return nil
}

func remaining(t *tagEntity.Tag) int {
	n := 0
	for i := range t.Items {
		n += t.Items[i].Quantity()
	}
	return n
}
