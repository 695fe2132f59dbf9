package ecscore

import (
	"fmt"
	"sync"

	"ecsframe/internal/ecs/bitset"
)

// TypeID is a dense, registration-order identifier for a component type.
// 0 is reserved as invalid.
type TypeID uint16

// InvalidTypeID marks an absent or not-yet-resolved component type.
const InvalidTypeID TypeID = 0

// StorageFlavor selects how a ComponentStore lays out rows for a type.
type StorageFlavor int

const (
	// Packed stores a dense array indexed by entity index directly;
	// best when most entities carry the component.
	Packed StorageFlavor = iota
	// Sparse stores a sparse entity-index -> dense-slot map plus a
	// compacted dense array; best when few entities carry the component
	// out of a large entity pool.
	Sparse
)

func (s StorageFlavor) String() string {
	if s == Sparse {
		return "sparse"
	}
	return "packed"
}

// FieldKind is the closed set of scalar/aggregate field kinds a component
// field may declare.
type FieldKind int

const (
	FieldBool FieldKind = iota
	FieldU8
	FieldU16
	FieldU32
	FieldI8
	FieldI16
	FieldI32
	FieldF32
	FieldF64
	FieldStaticString  // enum of known strings, stored as an index
	FieldDynamicString // byte-heap backed, capped at MaxBytes
	FieldRef           // forward reference to another entity
	FieldObject        // host-language reference, strongly held
	FieldWeakObject    // host-language reference, weakly held
	FieldVector        // fixed-shape vector of a scalar kind
	FieldBackrefs      // inverted index over ref fields targeting this entity
)

func (k FieldKind) String() string {
	switch k {
	case FieldBool:
		return "bool"
	case FieldU8:
		return "u8"
	case FieldU16:
		return "u16"
	case FieldU32:
		return "u32"
	case FieldI8:
		return "i8"
	case FieldI16:
		return "i16"
	case FieldI32:
		return "i32"
	case FieldF32:
		return "f32"
	case FieldF64:
		return "f64"
	case FieldStaticString:
		return "staticString"
	case FieldDynamicString:
		return "dynamicString"
	case FieldRef:
		return "ref"
	case FieldObject:
		return "object"
	case FieldWeakObject:
		return "weakObject"
	case FieldVector:
		return "vector"
	case FieldBackrefs:
		return "backrefs"
	default:
		return "unknown"
	}
}

// BackrefVariant selects how a `backrefs` field resolves its inverted index.
type BackrefVariant int

const (
	// BackrefPrecise follows one named ref field on one source type.
	BackrefPrecise BackrefVariant = iota
	// BackrefByType unions over all ref fields of one source type.
	BackrefByType
	// BackrefGlobal unions over all ref fields world-wide.
	BackrefGlobal
)

// FieldDef describes one component field.
type FieldDef struct {
	Name string
	Kind FieldKind

	// FieldDynamicString
	MaxBytes int

	// FieldStaticString
	Enum []string

	// FieldVector
	VectorScalar FieldKind
	VectorShape  int

	// FieldBackrefs
	BackrefVariant      BackrefVariant
	BackrefSourceType   string // type name; empty for BackrefGlobal
	BackrefFieldName    string // field name on the source type; empty for BackrefByType/Global
	BackrefIncludeStale bool
}

// Invariant is a named predicate over an entity's presence bitset,
// evaluated after every Registry.Add or Registry.Remove on an entity that
// carries the declaring type's component at that point (so not after that
// component's own removal). A failing Invariant raises InvalidShape at the
// mutation site; the mutation itself still stands.
type Invariant struct {
	Name  string
	Check func(presence *bitset.Set) bool
}

// InvariantFactory builds an Invariant once every component type in a
// world is registered, so it can resolve a sibling type's TypeID by
// name — a factory can't be handed a TypeID directly, since that ID
// isn't assigned until its own type registers, which may happen after
// the type declaring the invariant.
type InvariantFactory func(types *TypeRegistry) Invariant

// RequiresComponent builds the common "this component depends on that
// one" invariant factory — e.g. a Velocity component requiring
// Position — that fails unless presence also carries the named
// component.
func RequiresComponent(otherName string) InvariantFactory {
	return func(types *TypeRegistry) Invariant {
		return Invariant{
			Name: "requires " + otherName,
			Check: func(presence *bitset.Set) bool {
				other, ok := types.Lookup(otherName)
				return ok && presence.Has(uint(other.ID))
			},
		}
	}
}

// ComponentType is the static description of a registered component: a
// name, a storage flavor, an ordered field list, and any declared
// shape invariants. The ID is assigned at registration and is dense
// (1, 2, 3, ...).
type ComponentType struct {
	ID         TypeID
	Name       string
	Storage    StorageFlavor
	Fields     []FieldDef
	Invariants []Invariant
}

// FieldByName returns the field definition with the given name, if any.
func (c *ComponentType) FieldByName(name string) (FieldDef, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// TypeRegistry assigns dense TypeIDs to ComponentType descriptors at world
// construction time. Types cannot be registered once Seal is called, per
// spec.md's non-goal of dynamic component-type registration after world
// construction.
type TypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]*ComponentType
	byID   []*ComponentType // index 0 unused
	sealed bool
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byName: make(map[string]*ComponentType),
		byID:   []*ComponentType{nil}, // reserve slot 0
	}
}

// Register assigns the next dense TypeID to a new component type. Returns
// an error if sealed, or if the name is already registered.
func (r *TypeRegistry) Register(name string, storage StorageFlavor, fields []FieldDef) (*ComponentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, &ECSError{Kind: KindConfiguration, Code: CodeWorldSealed,
			Message: fmt.Sprintf("cannot register component type %q after world construction", name)}
	}
	if _, exists := r.byName[name]; exists {
		return nil, &ECSError{Kind: KindConfiguration, Code: CodeDuplicateRegistration,
			Message: fmt.Sprintf("component type %q already registered", name)}
	}

	ct := &ComponentType{
		ID:      TypeID(len(r.byID)),
		Name:    name,
		Storage: storage,
		Fields:  fields,
	}
	r.byID = append(r.byID, ct)
	r.byName[name] = ct
	return ct, nil
}

// Seal forbids further registration. Called once at World.Create.
func (r *TypeRegistry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get returns the descriptor for id, or nil if out of range.
func (r *TypeRegistry) Get(id TypeID) *ComponentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) <= 0 || int(id) >= len(r.byID) {
		return nil
	}
	return r.byID[id]
}

// Lookup resolves a type by name.
func (r *TypeRegistry) Lookup(name string) (*ComponentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.byName[name]
	return ct, ok
}

// Count returns the number of registered types.
func (r *TypeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID) - 1
}

// All returns every registered type in registration order.
func (r *TypeRegistry) All() []*ComponentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ComponentType, 0, len(r.byID)-1)
	for _, ct := range r.byID[1:] {
		out = append(out, ct)
	}
	return out
}
