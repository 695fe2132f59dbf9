// Package ecscore holds the primitive types shared by every ECS subsystem:
// entity identity, component type descriptors, field kinds, shape events,
// and the error taxonomy. It has no dependency on store/query/planner/etc.
// so those packages can depend on it without creating import cycles.
package ecscore

import "fmt"

// Entity is the stable external identity of a row in the component store:
// a dense index (the row address) plus a generation counter. Index 0 is
// reserved and never handed out by a Registry, so the zero Entity reads as
// invalid everywhere.
//
// Generation is odd while the entity is alive and even while it sits in
// limbo after delete(). Whether a particular accessor may still observe
// recently-deleted data (accessRecentlyDeletedData) is a caller-supplied
// allowStale flag threaded through Registry.Read/Store.Read/RowView.Ref,
// not a bit carried on Entity itself — Entity is a pure identity value.
type Entity struct {
	Index      uint32
	Generation uint32
}

// Nil is the invalid entity handle.
var Nil = Entity{}

// IsNil reports whether e is the invalid/zero handle.
func (e Entity) IsNil() bool {
	return e.Index == 0 && e.Generation == 0
}

// IsAlive reports whether e's generation marks it as currently alive
// (odd generation), independent of whether the Registry still recognizes
// the (index, generation) pair.
func (e Entity) IsAlive() bool {
	return e.Generation%2 == 1
}

// Same reports whether e and other refer to the same (index, generation).
func (e Entity) Same(other Entity) bool {
	return e.Index == other.Index && e.Generation == other.Generation
}

func (e Entity) String() string {
	return fmt.Sprintf("Entity(%d#%d)", e.Index, e.Generation)
}
