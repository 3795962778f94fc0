// Package invariant validates the ownership relation between instances and
// tags as a standalone routine: an instance's owner column is null iff its id
// appears in no tag's allocation set, otherwise it appears in exactly one set
// of exactly one tag. Usable directly from tests and the check CLI command.
package invariant

import (
	"context"
	"fmt"

	instanceRepo "stocktag.GO/model/repository/instance"
	tagRepo "stocktag.GO/model/repository/tag"
)

// Violation is one detected mismatch.
type Violation struct {
	InstanceID uint
	TagID      string
	Detail     string
}

func (v Violation) String() string {
	return fmt.Sprintf("instance=%d tag=%s: %s", v.InstanceID, v.TagID, v.Detail)
}

type Checker struct {
	instances *instanceRepo.InstanceRepository
	tags      *tagRepo.TagRepository
}

func NewChecker(instances *instanceRepo.InstanceRepository, tags *tagRepo.TagRepository) *Checker {
	return &Checker{instances: instances, tags: tags}
}

// membership locates one id inside one tag's one line.
type membership struct {
	tagID string
	sku   string
}

// Check scans the whole store and returns every ownership violation found.
// An empty result means the ownership invariant holds.
func (c *Checker) Check(ctx context.Context) ([]Violation, error) {
	insts, err := c.instances.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	tags, err := c.tags.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	var violations []Violation
	members := map[uint][]membership{}
	for ti := range tags {
		t := &tags[ti]
		for ii := range t.Items {
			it := &t.Items[ii]
			seen := map[uint]struct{}{}
			for _, id := range it.InstanceIDs {
				if _, dup := seen[id]; dup {
					violations = append(violations, Violation{
						InstanceID: id, TagID: t.TagID,
						Detail: fmt.Sprintf("id repeated within the %s line", it.SKU),
					})
					continue
				}
				seen[id] = struct{}{}
				members[id] = append(members[id], membership{tagID: t.TagID, sku: it.SKU})
			}
		}
	}

	known := map[uint]struct{}{}
	for i := range insts {
		inst := &insts[i]
		known[inst.InstanceID] = struct{}{}
		ms := members[inst.InstanceID]
		switch {
		case inst.OwnerTagID == nil:
			if len(ms) > 0 {
				violations = append(violations, Violation{
					InstanceID: inst.InstanceID, TagID: ms[0].tagID,
					Detail: "unowned instance appears in an allocation set",
				})
			}
		case len(ms) == 0:
			violations = append(violations, Violation{
				InstanceID: inst.InstanceID, TagID: *inst.OwnerTagID,
				Detail: "owned instance appears in no allocation set",
			})
		case len(ms) > 1:
			violations = append(violations, Violation{
				InstanceID: inst.InstanceID, TagID: *inst.OwnerTagID,
				Detail: fmt.Sprintf("instance appears in %d allocation sets", len(ms)),
			})
		case ms[0].tagID != *inst.OwnerTagID:
			violations = append(violations, Violation{
				InstanceID: inst.InstanceID, TagID: *inst.OwnerTagID,
				Detail: fmt.Sprintf("owner column says %s but membership says %s", *inst.OwnerTagID, ms[0].tagID),
			})
		}
	}

	// Set members pointing at deleted instances.
	for id, ms := range members {
		if _, ok := known[id]; !ok {
			violations = append(violations, Violation{
				InstanceID: id, TagID: ms[0].tagID,
				Detail: "allocation set references a deleted instance",
			})
		}
	}
	return violations, nil
}
