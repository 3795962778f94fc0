package catalog

import (
	"context"

	"gorm.io/gorm"

	catalogEntity "stocktag.GO/model/entity/catalog"
)

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindBySKU returns the catalog entry for a SKU.
func (r *CatalogRepository) FindBySKU(ctx context.Context, sku string) (*catalogEntity.Entry, error) {
	var e catalogEntity.Entry
	err := r.db.WithContext(ctx).First(&e, "sku = ?", sku).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Upsert writes a catalog entry. Test/dev convenience; the real catalog is
// maintained by an external system.
func (r *CatalogRepository) Upsert(ctx context.Context, e *catalogEntity.Entry) error {
	return r.db.WithContext(ctx).Save(e).Error
}
