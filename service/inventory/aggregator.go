// Package inventory derives per-SKU stock breakdowns on demand. A snapshot is
// a pure function of the Instance Store and the owning tags' types; it is
// recomputed on every call and never served from a cache.
package inventory

import (
	"context"

	tagEntity "stocktag.GO/model/entity/tag"
	instanceRepo "stocktag.GO/model/repository/instance"

	"stocktag.GO/core/stockerr"
)

// Snapshot is the derived stock breakdown for one SKU. Total always equals
// the sum of the buckets and the count of surviving instances.
type Snapshot struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Broken    int    `json:"broken"`
	Imperfect int    `json:"imperfect"`
	Loaned    int    `json:"loaned"`
	Stock     int    `json:"stock"`
	Total     int    `json:"total"`
}

type Aggregator struct {
	instances *instanceRepo.InstanceRepository
}

func NewAggregator(instances *instanceRepo.InstanceRepository) *Aggregator {
	return &Aggregator{instances: instances}
}

// GetSnapshot computes the breakdown for one SKU.
func (a *Aggregator) GetSnapshot(ctx context.Context, sku string) (Snapshot, error) {
	m, err := a.GetBulkSnapshot(ctx, []string{sku})
	if err != nil {
		return Snapshot{}, err
	}
	return m[sku], nil
}

// GetBulkSnapshot computes breakdowns for many SKUs against a single read of
// the Instance Store. SKUs with no surviving instances come back all-zero.
func (a *Aggregator) GetBulkSnapshot(ctx context.Context, skus []string) (map[string]Snapshot, error) {
	out := make(map[string]Snapshot, len(skus))
	for _, sku := range skus {
		out[sku] = Snapshot{SKU: sku}
	}
	counts, err := a.instances.BucketCounts(ctx, skus)
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		snap := out[c.SKU]
		switch c.Bucket {
		case "":
			snap.Available += c.Count
		case string(tagEntity.TypeReserved):
			snap.Reserved += c.Count
		case string(tagEntity.TypeBroken):
			snap.Broken += c.Count
		case string(tagEntity.TypeImperfect):
			snap.Imperfect += c.Count
		case string(tagEntity.TypeLoaned):
			snap.Loaned += c.Count
		case string(tagEntity.TypeStock):
			snap.Stock += c.Count
		default:
			// An owner id pointing at no tag row (or an unknown type) means
			// the store and the tags disagree. Surfaced, never patched over.
			return nil, stockerr.ConsistencyViolation(c.SKU,
				"instances owned by a tag the store cannot resolve")
		}
		snap.Total += c.Count
		out[c.SKU] = snap
	}
	return out, nil
}
