package tag

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	tagEntity "stocktag.GO/model/entity/tag"
)

type TagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) *TagRepository {
	return &TagRepository{db: db}
}

// Create inserts a tag together with its line items. Assigns a uuid and the
// active status when missing.
func (r *TagRepository) Create(ctx context.Context, t *tagEntity.Tag) error {
	if t.TagID == "" {
		t.TagID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = tagEntity.StatusActive
	}
	for i := range t.Items {
		t.Items[i].TagID = t.TagID
	}
	return r.db.WithContext(ctx).Create(t).Error
}

// FindByID loads a tag with its items.
func (r *TagRepository) FindByID(ctx context.Context, tagID string) (*tagEntity.Tag, error) {
	var t tagEntity.Tag
	err := r.db.WithContext(ctx).Preload("Items").First(&t, "tag_id = ?", tagID).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListAll returns every tag with items. Used by the invariant checker.
func (r *TagRepository) ListAll(ctx context.Context) ([]tagEntity.Tag, error) {
	var out []tagEntity.Tag
	err := r.db.WithContext(ctx).Preload("Items").Order("created_at ASC").Find(&out).Error
	return out, err
}

// UpdateStatus applies status/audit field changes to a tag row.
func (r *TagRepository) UpdateStatus(ctx context.Context, tagID string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&tagEntity.Tag{}).
		Where("tag_id = ?", tagID).
		Updates(fields).Error
}

// UpdateItemSet rewrites a line item's allocated-id set.
func (r *TagRepository) UpdateItemSet(ctx context.Context, itemID uint, ids []uint) error {
	if ids == nil {
		ids = []uint{}
	}
	return r.db.WithContext(ctx).
		Model(&tagEntity.Item{}).
		Where("item_id = ?", itemID).
		Update("instance_ids", datatypes.NewJSONSlice(ids)).Error
}

// AddItem appends a new line item to an existing tag.
func (r *TagRepository) AddItem(ctx context.Context, item *tagEntity.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// DeleteItem removes a line item row. Used only to undo a partially
// persisted add when a later step fails.
func (r *TagRepository) DeleteItem(ctx context.Context, itemID uint) error {
	return r.db.WithContext(ctx).Delete(&tagEntity.Item{}, itemID).Error
}
