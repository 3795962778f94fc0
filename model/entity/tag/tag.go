package tag

import (
	"time"

	"gorm.io/datatypes"
)

// Type is the kind of claim a tag records against specific instances.
type Type string

const (
	TypeReserved  Type = "reserved"
	TypeBroken    Type = "broken"
	TypeImperfect Type = "imperfect"
	TypeLoaned    Type = "loaned"
	TypeStock     Type = "stock"
)

// Status of a tag. Fulfilled and cancelled are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

// Method selects how instances are picked for a line item.
type Method string

const (
	MethodFIFO      Method = "fifo"
	MethodCostBased Method = "cost_based"
	MethodManual    Method = "manual"
)

func ValidType(t Type) bool {
	switch t {
	case TypeReserved, TypeBroken, TypeImperfect, TypeLoaned, TypeStock:
		return true
	}
	return false
}

func ValidMethod(m Method) bool {
	switch m {
	case MethodFIFO, MethodCostBased, MethodManual:
		return true
	}
	return false
}

// Tag represents stock_tag table
type Tag struct {
	TagID        string     `gorm:"column:tag_id;type:varchar(36);primaryKey" json:"tag_id"`
	TagType      Type       `gorm:"column:tag_type;type:varchar(16);not null;index" json:"tag_type"`
	Status       Status     `gorm:"column:status;type:varchar(16);not null;default:'active';index" json:"status"`
	CreatedBy    string     `gorm:"column:created_by;type:varchar(64)" json:"created_by"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
	FulfilledAt  *time.Time `gorm:"column:fulfilled_at" json:"fulfilled_at,omitempty"`
	FulfilledBy  string     `gorm:"column:fulfilled_by;type:varchar(64)" json:"fulfilled_by,omitempty"`
	CancelReason string     `gorm:"column:cancel_reason;type:varchar(255)" json:"cancel_reason,omitempty"`
	Items        []Item     `gorm:"foreignKey:TagID;references:TagID" json:"items"`
}

func (Tag) TableName() string {
	return "stock_tag"
}

// Terminal reports whether the tag reached a final state. Terminal tags
// reject every mutating operation.
func (t *Tag) Terminal() bool {
	return t.Status == StatusFulfilled || t.Status == StatusCancelled
}

// ItemFor returns the line item for the given SKU, or nil.
func (t *Tag) ItemFor(sku string) *Item {
	for i := range t.Items {
		if t.Items[i].SKU == sku {
			return &t.Items[i]
		}
	}
	return nil
}

// AllInstanceIDs returns every allocated instance id across all lines.
func (t *Tag) AllInstanceIDs() []uint {
	var ids []uint
	for i := range t.Items {
		ids = append(ids, t.Items[i].InstanceIDs...)
	}
	return ids
}

// Item is one line of a tag: a SKU plus the ordered set of instance ids
// allocated to it. Quantity is always derived from the set — there is no
// stored counter.
type Item struct {
	ItemID      uint                      `gorm:"column:item_id;primaryKey;autoIncrement" json:"item_id,omitempty"`
	TagID       string                    `gorm:"column:tag_id;type:varchar(36);not null;index" json:"tag_id"`
	SKU         string                    `gorm:"column:sku;type:varchar(64);not null" json:"sku"`
	Method      Method                    `gorm:"column:method;type:varchar(16);not null" json:"method"`
	InstanceIDs datatypes.JSONSlice[uint] `gorm:"column:instance_ids" json:"instance_ids"`
}

func (Item) TableName() string {
	return "stock_tag_item"
}

// Quantity is the size of the allocated set.
func (it *Item) Quantity() int {
	return len(it.InstanceIDs)
}

// Contains reports whether id belongs to the allocated set.
func (it *Item) Contains(id uint) bool {
	for _, v := range it.InstanceIDs {
		if v == id {
			return true
		}
	}
	return false
}

// Remove drops the given ids from the allocated set, preserving order of the
// survivors.
func (it *Item) Remove(ids []uint) {
	drop := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make(datatypes.JSONSlice[uint], 0, len(it.InstanceIDs))
	for _, v := range it.InstanceIDs {
		if _, gone := drop[v]; !gone {
			kept = append(kept, v)
		}
	}
	it.InstanceIDs = kept
}

// Append adds ids to the end of the allocated set.
func (it *Item) Append(ids []uint) {
	it.InstanceIDs = append(it.InstanceIDs, ids...)
}
