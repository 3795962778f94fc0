// Package allocation selects available instances for a requested quantity
// and atomically marks them assigned. The conditional owner write plus one
// compensated retry substitutes for a global lock: across concurrent calls no
// instance is ever owned by more than one tag.
package allocation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"stocktag.GO/core/events"
	"stocktag.GO/core/stockerr"
	tagEntity "stocktag.GO/model/entity/tag"
	instanceRepo "stocktag.GO/model/repository/instance"
)

type Engine struct {
	instances *instanceRepo.InstanceRepository
	events    events.Emitter
	log       zerolog.Logger
}

func NewEngine(instances *instanceRepo.InstanceRepository, emitter events.Emitter, log zerolog.Logger) *Engine {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Engine{instances: instances, events: emitter, log: log}
}

// Request describes one line allocation.
type Request struct {
	TagID     string
	TagType   tagEntity.Type
	SKU       string
	Quantity  int
	Method    tagEntity.Method
	ManualIDs []uint
	Actor     string
}

// Allocate claims instances for the request and returns the finalized
// ordered id set to be stored in the tag's line item. On any failure nothing
// stays claimed.
func (e *Engine) Allocate(ctx context.Context, req Request) ([]uint, error) {
	switch req.Method {
	case tagEntity.MethodManual:
		return e.allocateManual(ctx, req)
	case tagEntity.MethodFIFO, tagEntity.MethodCostBased:
		if req.Quantity <= 0 {
			return nil, stockerr.InvalidSelection(req.SKU, "quantity must be positive")
		}
		return e.allocateAuto(ctx, req)
	default:
		return nil, stockerr.InvalidSelection(req.SKU, fmt.Sprintf("unknown selection method %q", req.Method))
	}
}

func (e *Engine) allocateManual(ctx context.Context, req Request) ([]uint, error) {
	ids := req.ManualIDs
	if len(ids) == 0 {
		return nil, stockerr.InvalidSelection(req.SKU, "manual selection requires instance ids")
	}
	if req.Quantity > 0 && req.Quantity != len(ids) {
		return nil, stockerr.InvalidSelection(req.SKU,
			fmt.Sprintf("quantity %d does not match %d selected ids", req.Quantity, len(ids)))
	}
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, stockerr.InvalidSelection(req.SKU, fmt.Sprintf("instance %d selected twice", id))
		}
		seen[id] = struct{}{}
	}

	insts, err := e.instances.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch manual selection: %w", err)
	}
	byID := make(map[uint]bool, len(insts))
	for i := range insts {
		inst := &insts[i]
		if inst.SKU != req.SKU {
			return nil, stockerr.InvalidSelection(req.SKU,
				fmt.Sprintf("instance %d belongs to sku %q", inst.InstanceID, inst.SKU))
		}
		if !inst.Available() {
			return nil, stockerr.InvalidSelection(req.SKU,
				fmt.Sprintf("instance %d is already owned", inst.InstanceID))
		}
		byID[inst.InstanceID] = true
	}
	for _, id := range ids {
		if !byID[id] {
			return nil, stockerr.InvalidSelection(req.SKU, fmt.Sprintf("instance %d does not exist", id))
		}
	}

	affected, err := e.instances.ClaimIfFree(ctx, ids, req.TagID)
	if err != nil {
		return nil, fmt.Errorf("claim manual selection: %w", err)
	}
	if affected < int64(len(ids)) {
		// A concurrent allocation took some of the chosen units between
		// validation and claim. Manual selection has no substitute rows.
		if err := e.compensate(ctx, ids, req.TagID); err != nil {
			return nil, err
		}
		return nil, stockerr.InvalidSelection(req.SKU, "selected instances are no longer available")
	}

	e.emit(events.ActionAllocate, req, ids)
	return ids, nil
}

func (e *Engine) allocateAuto(ctx context.Context, req Request) ([]uint, error) {
	// One retry: a lost race releases whatever it grabbed and re-selects
	// fresh candidates once before giving up.
	for attempt := 0; attempt < 2; attempt++ {
		candidates, err := e.instances.FindAvailable(ctx, req.SKU, req.Method, req.Quantity)
		if err != nil {
			return nil, fmt.Errorf("select candidates: %w", err)
		}
		if len(candidates) < req.Quantity {
			return nil, stockerr.InsufficientStock(req.SKU, req.Quantity, len(candidates))
		}
		ids := make([]uint, len(candidates))
		for i := range candidates {
			ids[i] = candidates[i].InstanceID
		}

		affected, err := e.instances.ClaimIfFree(ctx, ids, req.TagID)
		if err != nil {
			return nil, fmt.Errorf("claim candidates: %w", err)
		}
		if affected == int64(req.Quantity) {
			e.emit(events.ActionAllocate, req, ids)
			return ids, nil
		}

		e.log.Debug().
			Str("tag_id", req.TagID).Str("sku", req.SKU).
			Int64("claimed", affected).Int("wanted", req.Quantity).
			Msg("allocation race lost, retrying selection")
		if err := e.compensate(ctx, ids, req.TagID); err != nil {
			return nil, err
		}
	}

	available, err := e.instances.CountAvailable(ctx, req.SKU)
	if err != nil {
		available = 0
	}
	return nil, stockerr.InsufficientStock(req.SKU, req.Quantity, available)
}

// compensate releases the subset of ids this tag did manage to claim.
func (e *Engine) compensate(ctx context.Context, ids []uint, tagID string) error {
	acquired, err := e.instances.OwnedAmong(ctx, ids, tagID)
	if err != nil {
		return fmt.Errorf("find acquired rows: %w", err)
	}
	if _, err := e.instances.ReleaseOwned(ctx, acquired, tagID); err != nil {
		return fmt.Errorf("release acquired rows: %w", err)
	}
	return nil
}

// Release returns the given instances to the available pool. Symmetric with
// Allocate and never deletes. Every id must currently be owned by tagID; a
// mismatch means tag membership and the owner column disagree, which is fatal
// and never auto-corrected.
func (e *Engine) Release(ctx context.Context, tagID string, tagType tagEntity.Type, sku, actor string, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	insts, err := e.instances.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch for release: %w", err)
	}
	owned := make(map[uint]bool, len(insts))
	for i := range insts {
		inst := &insts[i]
		if !inst.OwnedBy(tagID) {
			owner := "nobody"
			if inst.OwnerTagID != nil {
				owner = *inst.OwnerTagID
			}
			verr := stockerr.ConsistencyViolation(sku,
				fmt.Sprintf("instance %d in tag %s allocation set but owner is %s", inst.InstanceID, tagID, owner))
			e.log.Error().Err(verr).Uint("instance_id", inst.InstanceID).Str("tag_id", tagID).
				Msg("ownership mismatch detected during release")
			return verr
		}
		owned[inst.InstanceID] = true
	}
	for _, id := range ids {
		if !owned[id] {
			verr := stockerr.ConsistencyViolation(sku,
				fmt.Sprintf("instance %d in tag %s allocation set no longer exists", id, tagID))
			e.log.Error().Err(verr).Uint("instance_id", id).Str("tag_id", tagID).
				Msg("ownership mismatch detected during release")
			return verr
		}
	}

	released, err := e.instances.ReleaseOwned(ctx, ids, tagID)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if released != int64(len(ids)) {
		verr := stockerr.ConsistencyViolation(sku,
			fmt.Sprintf("released %d of %d instances for tag %s", released, len(ids), tagID))
		e.log.Error().Err(verr).Str("tag_id", tagID).Msg("ownership mismatch detected during release")
		return verr
	}

	e.emit(events.ActionRelease, Request{TagID: tagID, TagType: tagType, SKU: sku, Actor: actor}, ids)
	return nil
}

func (e *Engine) emit(action events.Action, req Request, ids []uint) {
	e.events.Emit(events.Event{
		Action:      action,
		TagID:       req.TagID,
		TagType:     string(req.TagType),
		SKU:         req.SKU,
		InstanceIDs: ids,
		Quantity:    len(ids),
		Method:      string(req.Method),
		Actor:       req.Actor,
	})
}
