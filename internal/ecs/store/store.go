// Package store implements the columnar ComponentStore: one Store per
// registered component type, holding a struct-of-arrays column set over
// either a packed (row == entity index) or sparse (free-list backed dense
// array) backend, plus the single-borrow-epoch accessor rule from spec.md
// §4.2. Grounded on the teacher's storage/sparse_set.go (swap-with-last
// removal, generalized here to a free-list so a limbo-held row never has
// to move) and storage/component_store.go (per-type registration).
package store

import (
	"ecsframe/internal/ecs/ecscore"
)

// Store holds every row of one component type across every entity that
// currently or recently carries it.
type Store struct {
	typ     *ecscore.ComponentType
	columns map[string]column
	backend backend
	epoch   map[uint32]uint64
}

// New creates a Store for typ, choosing backend by typ.Storage.
func New(typ *ecscore.ComponentType) *Store {
	s := &Store{
		typ:     typ,
		columns: make(map[string]column, len(typ.Fields)),
		epoch:   make(map[uint32]uint64),
	}
	if typ.Storage == ecscore.Sparse {
		s.backend = newSparseBackend()
	} else {
		s.backend = newPackedBackend()
	}
	for _, f := range typ.Fields {
		s.columns[f.Name] = newColumn(f)
	}
	return s
}

// Type returns the component type this store holds rows for.
func (s *Store) Type() *ecscore.ComponentType { return s.typ }

func (s *Store) bump(e uint32) uint64 {
	s.epoch[e]++
	return s.epoch[e]
}

// Has reports whether entityIdx currently carries the component (i.e. is
// not pending removal through limbo).
func (s *Store) Has(entityIdx uint32) bool {
	_, ok := s.backend.rowFor(entityIdx)
	return ok && !s.backend.isPendingRemoval(entityIdx)
}

// HasIncludingLimbo reports whether entityIdx has an allocated row at all,
// including one pending removal through limbo.
func (s *Store) HasIncludingLimbo(entityIdx uint32) bool {
	_, ok := s.backend.rowFor(entityIdx)
	return ok
}

// IsLimbo reports whether entityIdx's row is allocated but pending removal.
func (s *Store) IsLimbo(entityIdx uint32) bool {
	_, ok := s.backend.rowFor(entityIdx)
	return ok && s.backend.isPendingRemoval(entityIdx)
}

// Count returns the number of entities currently carrying the component
// (excludes rows pending removal).
func (s *Store) Count() int {
	n := 0
	for _, e := range s.backend.liveEntities() {
		if !s.backend.isPendingRemoval(e) {
			n++
		}
	}
	return n
}

// Add allocates (or resurrects) a row for entityIdx. If patch is non-nil it
// is invoked with a writable RowView to initialize fields; a resurrected
// row keeps its previous values when patch is nil, a freshly allocated row
// is already zeroed by the column's ensure(). Returns whether the row was
// resurrected from a pending-removal state rather than freshly allocated.
func (s *Store) Add(entityIdx uint32, patch func(*RowView) error) (resurrected bool, err error) {
	row, wasPending := s.backend.alloc(entityIdx)
	for _, col := range s.columns {
		col.ensure(row)
	}
	if patch != nil {
		v := &RowView{store: s, entityIdx: entityIdx, row: row, epoch: s.bump(entityIdx), writable: true}
		if perr := patch(v); perr != nil {
			return wasPending, perr
		}
	}
	return wasPending, nil
}

// Remove marks entityIdx's row pending removal. The row and its data
// remain addressable (e.g. for staleness-enabled reads) until Finalize is
// called once the owning entity's limbo window elapses.
func (s *Store) Remove(entityIdx uint32) error {
	if _, ok := s.backend.rowFor(entityIdx); !ok {
		return ecscore.NewAccessError(ecscore.CodeComponentNotPresent, "component not present on entity").WithComponent(s.typ.ID)
	}
	s.backend.markRemove(entityIdx)
	return nil
}

// Finalize actually frees entityIdx's row once its limbo window has
// elapsed. A no-op if the row isn't pending removal (e.g. it was
// resurrected by a later Add in the same window).
func (s *Store) Finalize(entityIdx uint32) {
	row, ok := s.backend.rowFor(entityIdx)
	if !ok || !s.backend.isPendingRemoval(entityIdx) {
		return
	}
	for _, col := range s.columns {
		col.clear(row)
	}
	s.backend.free(entityIdx)
	delete(s.epoch, entityIdx)
}

// MarkRefPendingClear flags fieldName on entityIdx's row as due to be
// cleared once the deleted entity it targets finishes its own limbo
// window. The stored target is left untouched, so a stale-enabled Ref
// read still observes it until FinalizeRefClear runs.
func (s *Store) MarkRefPendingClear(entityIdx uint32, fieldName string) error {
	row, ok := s.backend.rowFor(entityIdx)
	if !ok {
		return ecscore.NewAccessError(ecscore.CodeComponentNotPresent, "component not present on entity").WithComponent(s.typ.ID)
	}
	rc, ok := s.columns[fieldName].(*refColumn)
	if !ok {
		return ecscore.NewAccessError(ecscore.CodeFieldKindMismatch, "field "+fieldName+" is not a ref").WithComponent(s.typ.ID)
	}
	rc.pendingClear[row] = true
	return nil
}

// FinalizeRefClear zeroes fieldName on entityIdx's row if it still carries
// a pending clear, returning the target it held just before clearing (Nil
// if there was nothing pending, e.g. the field was overwritten in the
// meantime). Called once the deleted target's own limbo window elapses.
func (s *Store) FinalizeRefClear(entityIdx uint32, fieldName string) ecscore.Entity {
	row, ok := s.backend.rowFor(entityIdx)
	if !ok {
		return ecscore.Nil
	}
	rc, ok := s.columns[fieldName].(*refColumn)
	if !ok || !rc.isPendingClear(row) {
		return ecscore.Nil
	}
	old := rc.data[row]
	rc.data[row] = ecscore.Nil
	rc.pendingClear[row] = false
	return old
}

// Read returns a read-only RowView for entityIdx. allowStale permits
// reading a row pending removal (the staleness-enabled accessor path);
// otherwise a pending-removal row raises a RecentlyDeleted access error.
func (s *Store) Read(entityIdx uint32, allowStale bool) (*RowView, error) {
	row, ok := s.backend.rowFor(entityIdx)
	if !ok {
		return nil, ecscore.NewAccessError(ecscore.CodeComponentNotPresent, "component not present on entity").WithComponent(s.typ.ID)
	}
	if s.backend.isPendingRemoval(entityIdx) && !allowStale {
		return nil, ecscore.NewAccessError(ecscore.CodeRecentlyDeleted, "component removed earlier this frame").WithComponent(s.typ.ID)
	}
	return &RowView{store: s, entityIdx: entityIdx, row: row, epoch: s.bump(entityIdx), writable: false}, nil
}

// Write returns a writable RowView for entityIdx. A row pending removal
// cannot be written; the caller must Add it again first.
func (s *Store) Write(entityIdx uint32) (*RowView, error) {
	row, ok := s.backend.rowFor(entityIdx)
	if !ok {
		return nil, ecscore.NewAccessError(ecscore.CodeComponentNotPresent, "component not present on entity").WithComponent(s.typ.ID)
	}
	if s.backend.isPendingRemoval(entityIdx) {
		return nil, ecscore.NewAccessError(ecscore.CodeRecentlyDeleted, "cannot write a component removed earlier this frame").WithComponent(s.typ.ID)
	}
	return &RowView{store: s, entityIdx: entityIdx, row: row, epoch: s.bump(entityIdx), writable: true}, nil
}
