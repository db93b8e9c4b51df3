package enums

import "slices"

// MaterialType identifies which stock table a material reference points at.
type MaterialType string

const (
	MaterialTypeRaw      MaterialType = "raw"
	MaterialTypeSemi     MaterialType = "semi"
	MaterialTypeFinished MaterialType = "finished"
)

var validMaterialTypes = []MaterialType{
	MaterialTypeRaw,
	MaterialTypeSemi,
	MaterialTypeFinished,
}

// String implements fmt.Stringer.
func (m MaterialType) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MaterialType.
func (m MaterialType) IsValid() bool {
	return slices.Contains(validMaterialTypes, m)
}

// IsConsumable reports whether the type may appear on a bill of materials.
func (m MaterialType) IsConsumable() bool {
	return m == MaterialTypeRaw || m == MaterialTypeSemi
}

// ParseMaterialType converts raw input into a MaterialType.
func ParseMaterialType(value string) (MaterialType, error) {
	return parse("material type", validMaterialTypes, value)
}
