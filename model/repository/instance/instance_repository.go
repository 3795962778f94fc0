package instance

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	instanceEntity "stocktag.GO/model/entity/instance"
	tagEntity "stocktag.GO/model/entity/tag"
)

// InstanceRepository is the Instance Store: plain CRUD and ordered queries
// over stock_instance, plus the conditional owner write that makes concurrent
// allocation safe. No business logic lives here.
type InstanceRepository struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

func NewInstanceRepository(db *gorm.DB) (*InstanceRepository, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	return &InstanceRepository{db: db, sqlDB: sqlDB}, nil
}

// CreateInput describes one unit entering stock.
type CreateInput struct {
	SKU        string
	Category   instanceEntity.Category
	Cost       float64
	AcquiredAt time.Time
	Location   string
	Meta       map[string]interface{}
}

// Create inserts a new instance with a null owner. The acquisition cost is
// frozen here and never follows later catalog price changes. Meta is
// validated against the category's variant record before insert.
func (r *InstanceRepository) Create(ctx context.Context, in CreateInput) (*instanceEntity.Instance, error) {
	if in.Category == "" {
		in.Category = instanceEntity.CategoryGeneral
	}
	if _, err := instanceEntity.DecodeMeta(in.Category, in.Meta); err != nil {
		return nil, err
	}
	acquired := in.AcquiredAt
	if acquired.IsZero() {
		acquired = time.Now()
	}
	inst := &instanceEntity.Instance{
		SKU:             in.SKU,
		Category:        in.Category,
		AcquiredAt:      acquired,
		AcquisitionCost: in.Cost,
		Location:        in.Location,
		Meta:            datatypes.JSONMap(in.Meta),
	}
	if err := r.db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, err
	}
	return inst, nil
}

// FindAvailable returns up to limit unowned instances of a SKU, ordered per
// selection method: fifo = acquisition date ascending, cost_based =
// acquisition cost ascending then date ascending. Instance id breaks all
// remaining ties so selection is deterministic.
func (r *InstanceRepository) FindAvailable(ctx context.Context, sku string, method tagEntity.Method, limit int) ([]instanceEntity.Instance, error) {
	order := "acquired_at ASC, instance_id ASC"
	if method == tagEntity.MethodCostBased {
		order = "acquisition_cost ASC, acquired_at ASC, instance_id ASC"
	}
	q := r.db.WithContext(ctx).
		Where("sku = ? AND owner_tag_id IS NULL", sku).
		Order(order)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []instanceEntity.Instance
	err := q.Find(&out).Error
	return out, err
}

// CountAvailable returns the number of unowned instances for a SKU.
// Uses raw SQL for minimal overhead
func (r *InstanceRepository) CountAvailable(ctx context.Context, sku string) (int, error) {
	const query = `SELECT COUNT(*) FROM stock_instance WHERE sku = ? AND owner_tag_id IS NULL`
	var n int
	err := r.sqlDB.QueryRowContext(ctx, query, sku).Scan(&n)
	return n, err
}

// FindByIDs returns the instances with the given ids, in no particular order.
func (r *InstanceRepository) FindByIDs(ctx context.Context, ids []uint) ([]instanceEntity.Instance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []instanceEntity.Instance
	err := r.db.WithContext(ctx).Where("instance_id IN ?", ids).Find(&out).Error
	return out, err
}

// ListBySKU returns every surviving instance of a SKU.
func (r *InstanceRepository) ListBySKU(ctx context.Context, sku string) ([]instanceEntity.Instance, error) {
	var out []instanceEntity.Instance
	err := r.db.WithContext(ctx).Where("sku = ?", sku).Order("instance_id ASC").Find(&out).Error
	return out, err
}

// ListAll returns every surviving instance. Used by the invariant checker.
func (r *InstanceRepository) ListAll(ctx context.Context) ([]instanceEntity.Instance, error) {
	var out []instanceEntity.Instance
	err := r.db.WithContext(ctx).Order("instance_id ASC").Find(&out).Error
	return out, err
}

// ClaimIfFree sets owner_tag_id on exactly the rows that are currently
// unowned, and reports how many rows it actually claimed. A result smaller
// than len(ids) means a concurrent allocation won some of them; the caller
// compensates and retries. This single conditional write is what substitutes
// for a global lock.
func (r *InstanceRepository) ClaimIfFree(ctx context.Context, ids []uint, tagID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&instanceEntity.Instance{}).
		Where("instance_id IN ? AND owner_tag_id IS NULL", ids).
		Update("owner_tag_id", tagID)
	return res.RowsAffected, res.Error
}

// ReleaseOwned clears owner_tag_id on the given rows, but only where the row
// is still held by tagID. Returns how many rows were released.
func (r *InstanceRepository) ReleaseOwned(ctx context.Context, ids []uint, tagID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&instanceEntity.Instance{}).
		Where("instance_id IN ? AND owner_tag_id = ?", ids, tagID).
		Update("owner_tag_id", nil)
	return res.RowsAffected, res.Error
}

// OwnedAmong returns which of the given ids are currently owned by tagID.
func (r *InstanceRepository) OwnedAmong(ctx context.Context, ids []uint, tagID string) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var owned []uint
	err := r.db.WithContext(ctx).
		Model(&instanceEntity.Instance{}).
		Where("instance_id IN ? AND owner_tag_id = ?", ids, tagID).
		Order("instance_id ASC").
		Pluck("instance_id", &owned).Error
	return owned, err
}

// SortByAcquisition returns the given ids reordered by acquisition date
// ascending (ties broken by id). Partial fulfillment consumes in this order.
func (r *InstanceRepository) SortByAcquisition(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var sorted []uint
	err := r.db.WithContext(ctx).
		Model(&instanceEntity.Instance{}).
		Where("instance_id IN ?", ids).
		Order("acquired_at ASC, instance_id ASC").
		Pluck("instance_id", &sorted).Error
	return sorted, err
}

// Delete removes instances permanently. Irreversible; used only by
// fulfillment/consumption, never by cancellation.
func (r *InstanceRepository) Delete(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("instance_id IN ?", ids).
		Delete(&instanceEntity.Instance{}).Error
}

// BucketCount is one (sku, bucket) group from BucketCounts. Bucket is ""
// for unowned instances, otherwise the owning tag's type; "?" marks an owner
// id with no matching tag row.
type BucketCount struct {
	SKU    string
	Bucket string
	Count  int
}

// BucketCounts groups surviving instances of the given SKUs by owning tag
// type in a single read. Fuels the inventory aggregator.
func (r *InstanceRepository) BucketCounts(ctx context.Context, skus []string) ([]BucketCount, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	const query = `
		SELECT i.sku AS sku,
		       CASE WHEN i.owner_tag_id IS NULL THEN '' ELSE COALESCE(t.tag_type, ?) END AS bucket,
		       COUNT(*) AS cnt
		FROM stock_instance i
		LEFT JOIN stock_tag t ON t.tag_id = i.owner_tag_id
		WHERE i.sku IN ?
		GROUP BY sku, bucket`
	rows, err := r.db.WithContext(ctx).Raw(query, "?", skus).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BucketCount
	for rows.Next() {
		var bc BucketCount
		if err := rows.Scan(&bc.SKU, &bc.Bucket, &bc.Count); err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}
