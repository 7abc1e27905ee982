package probe

import (
	"fmt"
	"math"
)

// DataType how a run of holding registers is interpreted.
type DataType int

// data types, multi register values are big-endian word order.
const (
	Int16 DataType = iota
	UInt16
	Int32
	UInt32
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{
	Int16:   "int16",
	UInt16:  "uint16",
	Int32:   "int32",
	UInt32:  "uint32",
	Float32: "float32",
	Float64: "float64",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// RegisterCount registers occupied by one value of this type.
func (d DataType) RegisterCount() uint16 {
	switch d {
	case Int32, UInt32, Float32:
		return 2
	case Float64:
		return 4
	default:
		return 1
	}
}

// Tag a named value at a holding register address.
// Value = raw*Scale + Offset, a zero Scale is treated as 1.
type Tag struct {
	ID       string
	Address  uint16
	DataType DataType
	Scale    float64
	Offset   float64
}

// Decode convert registers read at tag.Address into the tag's engineering value.
func Decode(tag Tag, regs []uint16) (float64, error) {
	if n := int(tag.DataType.RegisterCount()); len(regs) < n {
		return 0, fmt.Errorf("probe: tag '%s' needs '%v' registers, got '%v'", tag.ID, n, len(regs))
	}

	var raw float64
	switch tag.DataType {
	case Int16:
		raw = float64(int16(regs[0]))
	case UInt16:
		raw = float64(regs[0])
	case Int32:
		raw = float64(int32(uint32(regs[0])<<16 | uint32(regs[1])))
	case UInt32:
		raw = float64(uint32(regs[0])<<16 | uint32(regs[1]))
	case Float32:
		raw = float64(math.Float32frombits(uint32(regs[0])<<16 | uint32(regs[1])))
	case Float64:
		raw = math.Float64frombits(uint64(regs[0])<<48 | uint64(regs[1])<<32 | uint64(regs[2])<<16 | uint64(regs[3]))
	default:
		return 0, fmt.Errorf("probe: tag '%s' has unsupported data type %v", tag.ID, tag.DataType)
	}

	scale := tag.Scale
	if scale == 0 {
		scale = 1
	}
	return raw*scale + tag.Offset, nil
}

// DefaultTags the simulator register map, temperature is tenths of a degree.
func DefaultTags() []Tag {
	return []Tag{
		{ID: "reg0", Address: 0, DataType: UInt16},
		{ID: "reg1", Address: 1, DataType: UInt16},
		{ID: "reg2", Address: 2, DataType: UInt16},
		{ID: "reg3", Address: 3, DataType: UInt16},
		{ID: "reg4", Address: 4, DataType: UInt16},
		{ID: "temperature", Address: 10, DataType: UInt16, Scale: 0.1},
	}
}
