package catalog

import (
	"gorm.io/datatypes"
)

// Component is one member of a bundle: a simple SKU and how many units of it
// one bundle contains.
type Component struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Entry represents catalog_entry table. The catalog itself is an external
// system; this table mirrors only the fields the allocation core consumes.
type Entry struct {
	SKU              string                         `gorm:"column:sku;type:varchar(64);primaryKey" json:"sku"`
	Name             string                         `gorm:"column:name;type:varchar(255)" json:"name"`
	UnitCost         float64                        `gorm:"column:unit_cost;type:decimal(12,4);not null;default:0" json:"unit_cost"`
	IsBundle         bool                           `gorm:"column:is_bundle;not null;default:false" json:"is_bundle"`
	BundleComponents datatypes.JSONSlice[Component] `gorm:"column:bundle_components" json:"bundle_components,omitempty"`
}

func (Entry) TableName() string {
	return "catalog_entry"
}
