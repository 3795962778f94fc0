package catalog

import (
	"context"
	"fmt"

	"stocktag.GO/core/cache"
	"stocktag.GO/core/stockerr"
	catalogEntity "stocktag.GO/model/entity/catalog"
	tagEntity "stocktag.GO/model/entity/tag"
	catalogRepo "stocktag.GO/model/repository/catalog"
)

// Entry is the slice of a catalog entry the allocation core consumes: unit
// cost for acquisition defaults and bundle composition for line resolution.
type Entry struct {
	SKU        string
	UnitCost   float64
	IsBundle   bool
	Components []catalogEntity.Component
}

// EntryProvider is the catalog collaborator. The catalog itself is an
// external system; anything satisfying this interface will do.
type EntryProvider interface {
	GetEntry(ctx context.Context, sku string) (*Entry, error)
}

// Catalog entries are reference data and may be cached briefly. Stock
// snapshots never go through this cache.
const entryTTLSeconds = 60

// Service is the gorm-backed EntryProvider with a TTL cache in front.
type Service struct {
	repo  *catalogRepo.CatalogRepository
	cache *cache.Cache
}

func NewService(repo *catalogRepo.CatalogRepository) *Service {
	return &Service{repo: repo, cache: cache.NewCache()}
}

func (s *Service) GetEntry(ctx context.Context, sku string) (*Entry, error) {
	key := "catalog:" + sku
	if v, ok := s.cache.Get(key); ok {
		return v.(*Entry), nil
	}
	row, err := s.repo.FindBySKU(ctx, sku)
	if err != nil {
		return nil, fmt.Errorf("catalog entry %q: %w", sku, err)
	}
	e := &Entry{
		SKU:        row.SKU,
		UnitCost:   row.UnitCost,
		IsBundle:   row.IsBundle,
		Components: row.BundleComponents,
	}
	s.cache.Set(key, e, entryTTLSeconds)
	return e, nil
}

// Line is one requested line of a tag operation, before bundle resolution.
type Line struct {
	SKU       string
	Quantity  int
	Method    tagEntity.Method
	ManualIDs []uint
}

// ResolveLines expands bundle SKUs into component lines (quantities
// multiplied) and merges duplicate non-manual lines per SKU and method.
// A nil provider passes lines through untouched. Manual selection cannot
// target a bundle: the caller picked concrete instance ids, which cannot
// span component SKUs.
func ResolveLines(ctx context.Context, p EntryProvider, lines []Line) ([]Line, error) {
	if p == nil {
		return lines, nil
	}
	var flat []Line
	for _, ln := range lines {
		entry, err := p.GetEntry(ctx, ln.SKU)
		if err != nil {
			return nil, err
		}
		if !entry.IsBundle {
			flat = append(flat, ln)
			continue
		}
		if ln.Method == tagEntity.MethodManual {
			return nil, stockerr.InvalidSelection(ln.SKU, "manual selection cannot target a bundle")
		}
		for _, comp := range entry.Components {
			flat = append(flat, Line{
				SKU:      comp.SKU,
				Quantity: comp.Quantity * ln.Quantity,
				Method:   ln.Method,
			})
		}
	}

	// Merge duplicate automatic lines so one SKU ends up on one line item.
	type lineKey struct {
		sku    string
		method tagEntity.Method
	}
	index := make(map[lineKey]int)
	var out []Line
	for _, ln := range flat {
		if ln.Method == tagEntity.MethodManual {
			out = append(out, ln)
			continue
		}
		k := lineKey{ln.SKU, ln.Method}
		if i, ok := index[k]; ok {
			out[i].Quantity += ln.Quantity
			continue
		}
		index[k] = len(out)
		out = append(out, ln)
	}
	return out, nil
}
