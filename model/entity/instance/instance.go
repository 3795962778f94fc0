package instance

import (
	"time"

	"gorm.io/datatypes"
)

// Instance represents one physical, individually tracked unit of a catalog SKU.
// OwnerTagID is null while the unit sits in the available pool; the Allocation
// Engine is the only writer of that column.
type Instance struct {
	InstanceID      uint              `gorm:"column:instance_id;primaryKey;autoIncrement" json:"instance_id,omitempty"`
	SKU             string            `gorm:"column:sku;type:varchar(64);not null;index" json:"sku"`
	Category        Category          `gorm:"column:category;type:varchar(32);not null;default:'general'" json:"category"`
	AcquiredAt      time.Time         `gorm:"column:acquired_at;not null;index" json:"acquired_at"`
	AcquisitionCost float64           `gorm:"column:acquisition_cost;type:decimal(12,4);not null;default:0" json:"acquisition_cost"`
	OwnerTagID      *string           `gorm:"column:owner_tag_id;type:varchar(36);index" json:"owner_tag_id,omitempty"`
	Location        string            `gorm:"column:location;type:varchar(255)" json:"location"`
	Meta            datatypes.JSONMap `gorm:"column:meta" json:"meta,omitempty"`
}

func (Instance) TableName() string {
	return "stock_instance"
}

// Available reports whether the unit belongs to no tag.
func (i *Instance) Available() bool {
	return i.OwnerTagID == nil
}

// OwnedBy reports whether the unit is currently held by the given tag.
func (i *Instance) OwnedBy(tagID string) bool {
	return i.OwnerTagID != nil && *i.OwnerTagID == tagID
}
