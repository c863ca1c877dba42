package edm

// EnumValue is an enum member reference. Type is the qualified enum type
// name and may be empty when the declared property type supplies it.
type EnumValue struct {
	Type   string
	Member string
}

func (e EnumValue) String() string { return e.Member }
