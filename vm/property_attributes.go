package vm

// PropertyAttributes is the packed description of one property: its flags,
// where its value lives and, in dictionary mode, its enumeration order.
//
//	bit 0       writable
//	bit 1       enumerable
//	bit 2       configurable
//	bit 3       accessor (value slot holds an accessor object)
//	bit 4       inlined (stored inside the object, not the properties array)
//	bits 5-14   offset: inline slot index or out-of-line array index
//	bits 16-39  dictionary order
type PropertyAttributes uint64

const (
	attrWritable     PropertyAttributes = 1 << 0
	attrEnumerable   PropertyAttributes = 1 << 1
	attrConfigurable PropertyAttributes = 1 << 2
	attrAccessor     PropertyAttributes = 1 << 3
	attrInlined      PropertyAttributes = 1 << 4

	attrOffsetShift = 5
	attrOffsetBits  = 10
	attrOffsetMask  = PropertyAttributes(1<<attrOffsetBits-1) << attrOffsetShift

	attrOrderShift = 16
	attrOrderBits  = 24
	attrOrderMask  = PropertyAttributes(1<<attrOrderBits-1) << attrOrderShift

	attrMetadataMask = attrWritable | attrEnumerable | attrConfigurable | attrAccessor
)

// MaxFastPropertiesCapacity is the number of properties addressable by the
// offset field. Objects needing more are converted to dictionary mode.
const MaxFastPropertiesCapacity = 1 << attrOffsetBits

// DefaultAttributes are the attributes of a property created by assignment.
func DefaultAttributes() PropertyAttributes {
	return attrWritable | attrEnumerable | attrConfigurable
}

// NewAttributes builds data property attributes.
func NewAttributes(writable, enumerable, configurable bool) PropertyAttributes {
	var a PropertyAttributes
	a = a.SetWritable(writable).SetEnumerable(enumerable).SetConfigurable(configurable)
	return a
}

// AccessorAttributes builds accessor property attributes.
func AccessorAttributes(enumerable, configurable bool) PropertyAttributes {
	return NewAttributes(false, enumerable, configurable) | attrAccessor
}

func (a PropertyAttributes) set(bit PropertyAttributes, on bool) PropertyAttributes {
	if on {
		return a | bit
	}
	return a &^ bit
}

func (a PropertyAttributes) IsWritable() bool     { return a&attrWritable != 0 }
func (a PropertyAttributes) IsEnumerable() bool   { return a&attrEnumerable != 0 }
func (a PropertyAttributes) IsConfigurable() bool { return a&attrConfigurable != 0 }
func (a PropertyAttributes) IsAccessor() bool     { return a&attrAccessor != 0 }
func (a PropertyAttributes) IsInlinedProps() bool { return a&attrInlined != 0 }

func (a PropertyAttributes) SetWritable(on bool) PropertyAttributes { return a.set(attrWritable, on) }
func (a PropertyAttributes) SetEnumerable(on bool) PropertyAttributes {
	return a.set(attrEnumerable, on)
}
func (a PropertyAttributes) SetConfigurable(on bool) PropertyAttributes {
	return a.set(attrConfigurable, on)
}
func (a PropertyAttributes) SetIsAccessor(on bool) PropertyAttributes { return a.set(attrAccessor, on) }
func (a PropertyAttributes) SetIsInlinedProps(on bool) PropertyAttributes {
	return a.set(attrInlined, on)
}

// Offset is the inline slot index or the out-of-line array index.
func (a PropertyAttributes) Offset() int {
	return int((a & attrOffsetMask) >> attrOffsetShift)
}

func (a PropertyAttributes) SetOffset(off int) PropertyAttributes {
	return a&^attrOffsetMask | PropertyAttributes(off)<<attrOffsetShift&attrOffsetMask
}

// DictionaryOrder is the enumeration index of a dictionary-mode property.
func (a PropertyAttributes) DictionaryOrder() int {
	return int((a & attrOrderMask) >> attrOrderShift)
}

func (a PropertyAttributes) SetDictionaryOrder(order int) PropertyAttributes {
	return a&^attrOrderMask | PropertyAttributes(order)<<attrOrderShift&attrOrderMask
}

// Metadata is the part of the attributes that distinguishes transitions:
// the three flags plus the accessor bit.
func (a PropertyAttributes) Metadata() uint32 { return uint32(a & attrMetadataMask) }

// Value encodes the attributes as a small integer for dictionary storage.
func (a PropertyAttributes) Value() Value { return FromSmallInt(int64(a)) }

// AttributesFromValue decodes attributes stored by Value.
func AttributesFromValue(v Value) PropertyAttributes { return PropertyAttributes(v.SmallInt()) }
