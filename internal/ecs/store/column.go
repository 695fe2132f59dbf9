package store

import "ecsframe/internal/ecs/ecscore"

// column is one struct-of-arrays field buffer. Every concrete column grows
// lazily to accommodate new dense row slots and zeroes a row on clear (at
// Finalize) so a reused slot doesn't leak the previous occupant's value.
type column interface {
	kind() ecscore.FieldKind
	ensure(row int)
	clear(row int)
}

type boolColumn struct{ data []bool }

func (c *boolColumn) kind() ecscore.FieldKind { return ecscore.FieldBool }
func (c *boolColumn) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, false)
	}
}
func (c *boolColumn) clear(row int) { c.data[row] = false }

type u8Column struct{ data []uint8 }

func (c *u8Column) kind() ecscore.FieldKind { return ecscore.FieldU8 }
func (c *u8Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *u8Column) clear(row int) { c.data[row] = 0 }

type u16Column struct{ data []uint16 }

func (c *u16Column) kind() ecscore.FieldKind { return ecscore.FieldU16 }
func (c *u16Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *u16Column) clear(row int) { c.data[row] = 0 }

type u32Column struct{ data []uint32 }

func (c *u32Column) kind() ecscore.FieldKind { return ecscore.FieldU32 }
func (c *u32Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *u32Column) clear(row int) { c.data[row] = 0 }

type i8Column struct{ data []int8 }

func (c *i8Column) kind() ecscore.FieldKind { return ecscore.FieldI8 }
func (c *i8Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *i8Column) clear(row int) { c.data[row] = 0 }

type i16Column struct{ data []int16 }

func (c *i16Column) kind() ecscore.FieldKind { return ecscore.FieldI16 }
func (c *i16Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *i16Column) clear(row int) { c.data[row] = 0 }

type i32Column struct{ data []int32 }

func (c *i32Column) kind() ecscore.FieldKind { return ecscore.FieldI32 }
func (c *i32Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *i32Column) clear(row int) { c.data[row] = 0 }

type f32Column struct{ data []float32 }

func (c *f32Column) kind() ecscore.FieldKind { return ecscore.FieldF32 }
func (c *f32Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *f32Column) clear(row int) { c.data[row] = 0 }

type f64Column struct{ data []float64 }

func (c *f64Column) kind() ecscore.FieldKind { return ecscore.FieldF64 }
func (c *f64Column) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *f64Column) clear(row int) { c.data[row] = 0 }

// staticStringColumn stores an index into the field's declared enum.
type staticStringColumn struct {
	data []uint16
	enum []string
}

func (c *staticStringColumn) kind() ecscore.FieldKind { return ecscore.FieldStaticString }
func (c *staticStringColumn) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, 0)
	}
}
func (c *staticStringColumn) clear(row int) { c.data[row] = 0 }

// dynamicStringColumn stores (offset, length) into a per-column byte heap,
// capped at maxBytes per spec.md §3.
type dynamicStringColumn struct {
	offsets  []uint32
	lengths  []uint32
	heap     []byte
	maxBytes int
}

func (c *dynamicStringColumn) kind() ecscore.FieldKind { return ecscore.FieldDynamicString }
func (c *dynamicStringColumn) ensure(row int) {
	for len(c.offsets) <= row {
		c.offsets = append(c.offsets, 0)
		c.lengths = append(c.lengths, 0)
	}
}
func (c *dynamicStringColumn) clear(row int) {
	c.offsets[row] = 0
	c.lengths[row] = 0
}
func (c *dynamicStringColumn) get(row int) string {
	return string(c.heap[c.offsets[row] : c.offsets[row]+c.lengths[row]])
}
func (c *dynamicStringColumn) set(row int, v string) error {
	if len(v) > c.maxBytes {
		return ecscore.NewAccessError(ecscore.CodeFieldKindMismatch, "dynamic string exceeds declared maxBytes")
	}
	c.offsets[row] = uint32(len(c.heap))
	c.lengths[row] = uint32(len(v))
	c.heap = append(c.heap, v...)
	return nil
}

// refColumn stores a forward (index, generation) pair per row, plus a
// pendingClear flag per row: set when the referenced entity has been
// deleted but its limbo window hasn't elapsed yet, so the stored target
// is left intact for a stale-enabled read and only actually zeroed once
// the deferred clear is finalized.
type refColumn struct {
	data         []ecscore.Entity
	pendingClear []bool
}

func (c *refColumn) kind() ecscore.FieldKind { return ecscore.FieldRef }
func (c *refColumn) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, ecscore.Nil)
		c.pendingClear = append(c.pendingClear, false)
	}
}
func (c *refColumn) clear(row int) {
	c.data[row] = ecscore.Nil
	c.pendingClear[row] = false
}
func (c *refColumn) isPendingClear(row int) bool {
	return row < len(c.pendingClear) && c.pendingClear[row]
}

// objectColumn and weakObjectColumn store host-language references outside
// the typed buffers, per spec.md §3.
type objectColumn struct{ data []interface{} }

func (c *objectColumn) kind() ecscore.FieldKind { return ecscore.FieldObject }
func (c *objectColumn) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, nil)
	}
}
func (c *objectColumn) clear(row int) { c.data[row] = nil }

type weakObjectColumn struct{ data []interface{} }

func (c *weakObjectColumn) kind() ecscore.FieldKind { return ecscore.FieldWeakObject }
func (c *weakObjectColumn) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, nil)
	}
}
func (c *weakObjectColumn) clear(row int) { c.data[row] = nil }

// vectorColumn stores a fixed-shape vector of float64s per row (the scalar
// kind is recorded but not checked; all values are stored as float64).
type vectorColumn struct {
	data  [][]float64
	shape int
	scal  ecscore.FieldKind
}

func (c *vectorColumn) kind() ecscore.FieldKind { return ecscore.FieldVector }
func (c *vectorColumn) ensure(row int) {
	for len(c.data) <= row {
		c.data = append(c.data, make([]float64, c.shape))
	}
}
func (c *vectorColumn) clear(row int) {
	for i := range c.data[row] {
		c.data[row][i] = 0
	}
}

// backrefColumn reserves field presence only; the actual inverted index is
// maintained by package refindex. Declared here so ComponentType.Fields
// stays the single source of truth for a type's schema.
type backrefColumn struct{}

func (c *backrefColumn) kind() ecscore.FieldKind { return ecscore.FieldBackrefs }
func (c *backrefColumn) ensure(row int)          {}
func (c *backrefColumn) clear(row int)           {}

func newColumn(f ecscore.FieldDef) column {
	switch f.Kind {
	case ecscore.FieldBool:
		return &boolColumn{}
	case ecscore.FieldU8:
		return &u8Column{}
	case ecscore.FieldU16:
		return &u16Column{}
	case ecscore.FieldU32:
		return &u32Column{}
	case ecscore.FieldI8:
		return &i8Column{}
	case ecscore.FieldI16:
		return &i16Column{}
	case ecscore.FieldI32:
		return &i32Column{}
	case ecscore.FieldF32:
		return &f32Column{}
	case ecscore.FieldF64:
		return &f64Column{}
	case ecscore.FieldStaticString:
		return &staticStringColumn{enum: f.Enum}
	case ecscore.FieldDynamicString:
		return &dynamicStringColumn{maxBytes: f.MaxBytes}
	case ecscore.FieldRef:
		return &refColumn{}
	case ecscore.FieldObject:
		return &objectColumn{}
	case ecscore.FieldWeakObject:
		return &weakObjectColumn{}
	case ecscore.FieldVector:
		shape := f.VectorShape
		if shape <= 0 {
			shape = 1
		}
		return &vectorColumn{shape: shape, scal: f.VectorScalar}
	case ecscore.FieldBackrefs:
		return &backrefColumn{}
	default:
		return &backrefColumn{}
	}
}
