package instance

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Category classifies an instance and selects the variant record its meta
// column must satisfy. The set is closed: unknown categories are rejected at
// creation time.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryWall      Category = "wall"
	CategoryTool      Category = "tool"
	CategoryFurniture Category = "furniture"
)

// WallMeta holds wall-piece specifics (set walls, panels).
type WallMeta struct {
	WidthCM  int    `mapstructure:"width_cm" json:"width_cm"`
	HeightCM int    `mapstructure:"height_cm" json:"height_cm"`
	Finish   string `mapstructure:"finish" json:"finish,omitempty"`
}

// ToolMeta holds tool specifics.
type ToolMeta struct {
	SerialNumber string `mapstructure:"serial_number" json:"serial_number"`
	Manufacturer string `mapstructure:"manufacturer" json:"manufacturer,omitempty"`
	PowerSource  string `mapstructure:"power_source" json:"power_source,omitempty"`
}

// FurnitureMeta holds furniture specifics.
type FurnitureMeta struct {
	Material string `mapstructure:"material" json:"material"`
	Seats    int    `mapstructure:"seats" json:"seats,omitempty"`
}

// requiredMetaFields lists the keys that must be present in the raw meta map
// for each category before it is accepted.
var requiredMetaFields = map[Category][]string{
	CategoryGeneral:   nil,
	CategoryWall:      {"width_cm", "height_cm"},
	CategoryTool:      {"serial_number"},
	CategoryFurniture: {"material"},
}

// ValidCategory reports whether c belongs to the closed category set.
func ValidCategory(c Category) bool {
	_, ok := requiredMetaFields[c]
	return ok
}

// DecodeMeta validates raw against the category's required-field list and
// decodes it into the matching variant record. General instances carry no
// typed meta and decode to nil.
func DecodeMeta(c Category, raw map[string]interface{}) (interface{}, error) {
	required, ok := requiredMetaFields[c]
	if !ok {
		return nil, fmt.Errorf("unknown instance category %q", c)
	}
	for _, field := range required {
		if _, present := raw[field]; !present {
			return nil, fmt.Errorf("category %q requires meta field %q", c, field)
		}
	}

	var out interface{}
	switch c {
	case CategoryWall:
		out = &WallMeta{}
	case CategoryTool:
		out = &ToolMeta{}
	case CategoryFurniture:
		out = &FurnitureMeta{}
	default:
		return nil, nil
	}
	if err := mapstructure.Decode(raw, out); err != nil {
		return nil, fmt.Errorf("decode %q meta: %w", c, err)
	}
	return out, nil
}
