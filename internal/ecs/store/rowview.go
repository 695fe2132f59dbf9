package store

import "ecsframe/internal/ecs/ecscore"

// RowView is a handle onto one entity's row in one Store, stamped with the
// store's per-entity epoch at the moment it was issued. Every accessor
// method re-checks that stamp against the store's live epoch for that
// entity first: a system that holds onto a RowView past the call that
// issued it (e.g. across a yield point, or after calling Read/Write again
// for the same entity) gets a StaleAccessor error instead of silently
// reading through a dangling handle. This is the single-borrow-rule from
// spec.md §4.2, modeled on the teacher's per-frame timing guards in
// base_system.go but applied per accessor instead of per frame.
type RowView struct {
	store     *Store
	entityIdx uint32
	row       int
	epoch     uint64
	writable  bool
}

func (v *RowView) checkValid() error {
	if v.store.epoch[v.entityIdx] != v.epoch {
		return ecscore.NewAccessError(ecscore.CodeStaleAccessor, "accessor used after a newer Read/Write was issued for this entity").WithComponent(v.store.typ.ID)
	}
	return nil
}

func (v *RowView) checkWritable() error {
	if !v.writable {
		return ecscore.NewAccessError(ecscore.CodeUndeclaredAccess, "write attempted through a read-only accessor").WithComponent(v.store.typ.ID)
	}
	return nil
}

func (v *RowView) field(name string, want ecscore.FieldKind) (column, error) {
	if err := v.checkValid(); err != nil {
		return nil, err
	}
	fd, ok := v.store.typ.FieldByName(name)
	if !ok {
		return nil, ecscore.NewAccessError(ecscore.CodeUnknownField, "unknown field "+name).WithComponent(v.store.typ.ID)
	}
	if fd.Kind != want {
		return nil, ecscore.NewAccessError(ecscore.CodeFieldKindMismatch, "field "+name+" is not a "+want.String()).WithComponent(v.store.typ.ID)
	}
	return v.store.columns[name], nil
}

// Bool reads a bool field.
func (v *RowView) Bool(name string) (bool, error) {
	c, err := v.field(name, ecscore.FieldBool)
	if err != nil {
		return false, err
	}
	return c.(*boolColumn).data[v.row], nil
}

// SetBool writes a bool field.
func (v *RowView) SetBool(name string, val bool) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldBool)
	if err != nil {
		return err
	}
	c.(*boolColumn).data[v.row] = val
	return nil
}

// U8 reads a u8 field.
func (v *RowView) U8(name string) (uint8, error) {
	c, err := v.field(name, ecscore.FieldU8)
	if err != nil {
		return 0, err
	}
	return c.(*u8Column).data[v.row], nil
}

// SetU8 writes a u8 field.
func (v *RowView) SetU8(name string, val uint8) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldU8)
	if err != nil {
		return err
	}
	c.(*u8Column).data[v.row] = val
	return nil
}

// U16 reads a u16 field.
func (v *RowView) U16(name string) (uint16, error) {
	c, err := v.field(name, ecscore.FieldU16)
	if err != nil {
		return 0, err
	}
	return c.(*u16Column).data[v.row], nil
}

// SetU16 writes a u16 field.
func (v *RowView) SetU16(name string, val uint16) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldU16)
	if err != nil {
		return err
	}
	c.(*u16Column).data[v.row] = val
	return nil
}

// U32 reads a u32 field.
func (v *RowView) U32(name string) (uint32, error) {
	c, err := v.field(name, ecscore.FieldU32)
	if err != nil {
		return 0, err
	}
	return c.(*u32Column).data[v.row], nil
}

// SetU32 writes a u32 field.
func (v *RowView) SetU32(name string, val uint32) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldU32)
	if err != nil {
		return err
	}
	c.(*u32Column).data[v.row] = val
	return nil
}

// I8 reads an i8 field.
func (v *RowView) I8(name string) (int8, error) {
	c, err := v.field(name, ecscore.FieldI8)
	if err != nil {
		return 0, err
	}
	return c.(*i8Column).data[v.row], nil
}

// SetI8 writes an i8 field.
func (v *RowView) SetI8(name string, val int8) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldI8)
	if err != nil {
		return err
	}
	c.(*i8Column).data[v.row] = val
	return nil
}

// I16 reads an i16 field.
func (v *RowView) I16(name string) (int16, error) {
	c, err := v.field(name, ecscore.FieldI16)
	if err != nil {
		return 0, err
	}
	return c.(*i16Column).data[v.row], nil
}

// SetI16 writes an i16 field.
func (v *RowView) SetI16(name string, val int16) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldI16)
	if err != nil {
		return err
	}
	c.(*i16Column).data[v.row] = val
	return nil
}

// I32 reads an i32 field.
func (v *RowView) I32(name string) (int32, error) {
	c, err := v.field(name, ecscore.FieldI32)
	if err != nil {
		return 0, err
	}
	return c.(*i32Column).data[v.row], nil
}

// SetI32 writes an i32 field.
func (v *RowView) SetI32(name string, val int32) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldI32)
	if err != nil {
		return err
	}
	c.(*i32Column).data[v.row] = val
	return nil
}

// F32 reads an f32 field.
func (v *RowView) F32(name string) (float32, error) {
	c, err := v.field(name, ecscore.FieldF32)
	if err != nil {
		return 0, err
	}
	return c.(*f32Column).data[v.row], nil
}

// SetF32 writes an f32 field.
func (v *RowView) SetF32(name string, val float32) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldF32)
	if err != nil {
		return err
	}
	c.(*f32Column).data[v.row] = val
	return nil
}

// F64 reads an f64 field.
func (v *RowView) F64(name string) (float64, error) {
	c, err := v.field(name, ecscore.FieldF64)
	if err != nil {
		return 0, err
	}
	return c.(*f64Column).data[v.row], nil
}

// SetF64 writes an f64 field.
func (v *RowView) SetF64(name string, val float64) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldF64)
	if err != nil {
		return err
	}
	c.(*f64Column).data[v.row] = val
	return nil
}

// String reads a static or dynamic string field.
func (v *RowView) String(name string) (string, error) {
	if err := v.checkValid(); err != nil {
		return "", err
	}
	fd, ok := v.store.typ.FieldByName(name)
	if !ok {
		return "", ecscore.NewAccessError(ecscore.CodeUnknownField, "unknown field "+name).WithComponent(v.store.typ.ID)
	}
	switch fd.Kind {
	case ecscore.FieldStaticString:
		c := v.store.columns[name].(*staticStringColumn)
		idx := c.data[v.row]
		if int(idx) >= len(c.enum) {
			return "", nil
		}
		return c.enum[idx], nil
	case ecscore.FieldDynamicString:
		c := v.store.columns[name].(*dynamicStringColumn)
		return c.get(v.row), nil
	default:
		return "", ecscore.NewAccessError(ecscore.CodeFieldKindMismatch, "field "+name+" is not a string").WithComponent(v.store.typ.ID)
	}
}

// SetString writes a static or dynamic string field. For a static string
// the value must be one of the field's declared enum members.
func (v *RowView) SetString(name, val string) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := v.checkValid(); err != nil {
		return err
	}
	fd, ok := v.store.typ.FieldByName(name)
	if !ok {
		return ecscore.NewAccessError(ecscore.CodeUnknownField, "unknown field "+name).WithComponent(v.store.typ.ID)
	}
	switch fd.Kind {
	case ecscore.FieldStaticString:
		c := v.store.columns[name].(*staticStringColumn)
		for i, s := range c.enum {
			if s == val {
				c.data[v.row] = uint16(i)
				return nil
			}
		}
		return ecscore.NewAccessError(ecscore.CodeFieldKindMismatch, "value is not in the declared enum for "+name).WithComponent(v.store.typ.ID)
	case ecscore.FieldDynamicString:
		c := v.store.columns[name].(*dynamicStringColumn)
		return c.set(v.row, val)
	default:
		return ecscore.NewAccessError(ecscore.CodeFieldKindMismatch, "field "+name+" is not a string").WithComponent(v.store.typ.ID)
	}
}

// Ref reads a forward-reference field. allowStale permits observing a
// target whose deletion cleared this field is still pending (deferred
// until the target's own limbo window elapses); a non-stale read of such
// a field reads as ecscore.Nil instead, matching the RecentlyDeleted
// staleness contract other accessors already enforce at the row level.
func (v *RowView) Ref(name string, allowStale bool) (ecscore.Entity, error) {
	c, err := v.field(name, ecscore.FieldRef)
	if err != nil {
		return ecscore.Nil, err
	}
	rc := c.(*refColumn)
	if rc.isPendingClear(v.row) && !allowStale {
		return ecscore.Nil, nil
	}
	return rc.data[v.row], nil
}

// SetRef writes a forward-reference field. Callers (Registry.SetRef) are
// responsible for updating the back-reference index in package refindex
// alongside this call; Store itself only stores the forward pointer.
func (v *RowView) SetRef(name string, target ecscore.Entity) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldRef)
	if err != nil {
		return err
	}
	rc := c.(*refColumn)
	rc.data[v.row] = target
	rc.pendingClear[v.row] = false // a fresh write supersedes any deferred clear
	return nil
}

// Object reads an object field.
func (v *RowView) Object(name string) (interface{}, error) {
	c, err := v.field(name, ecscore.FieldObject)
	if err != nil {
		return nil, err
	}
	return c.(*objectColumn).data[v.row], nil
}

// SetObject writes an object field.
func (v *RowView) SetObject(name string, val interface{}) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldObject)
	if err != nil {
		return err
	}
	c.(*objectColumn).data[v.row] = val
	return nil
}

// WeakObject reads a weak object field.
func (v *RowView) WeakObject(name string) (interface{}, error) {
	c, err := v.field(name, ecscore.FieldWeakObject)
	if err != nil {
		return nil, err
	}
	return c.(*weakObjectColumn).data[v.row], nil
}

// SetWeakObject writes a weak object field.
func (v *RowView) SetWeakObject(name string, val interface{}) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldWeakObject)
	if err != nil {
		return err
	}
	c.(*weakObjectColumn).data[v.row] = val
	return nil
}

// Vector reads a vector field, returning a copy of its backing slice.
func (v *RowView) Vector(name string) ([]float64, error) {
	c, err := v.field(name, ecscore.FieldVector)
	if err != nil {
		return nil, err
	}
	src := c.(*vectorColumn).data[v.row]
	out := make([]float64, len(src))
	copy(out, src)
	return out, nil
}

// SetVector writes a vector field. val must match the field's declared
// shape.
func (v *RowView) SetVector(name string, val []float64) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	c, err := v.field(name, ecscore.FieldVector)
	if err != nil {
		return err
	}
	vc := c.(*vectorColumn)
	if len(val) != vc.shape {
		return ecscore.NewAccessError(ecscore.CodeFieldKindMismatch, "vector value does not match declared shape").WithComponent(v.store.typ.ID)
	}
	copy(vc.data[v.row], val)
	return nil
}

// Entity returns the entity index this view was issued for.
func (v *RowView) Entity() uint32 { return v.entityIdx }
