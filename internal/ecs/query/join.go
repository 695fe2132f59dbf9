package query

import "ecsframe/internal/ecs/ecscore"

// ReadRef resolves the current value of one ref field on one entity. The
// caller of ResolveJoin supplies it (for example a closure over a store
// read) so this package never needs to import package store; the Executor
// does not resolve joins itself.
type ReadRef func(entity ecscore.Entity, fieldName string) (ecscore.Entity, bool)

// PresenceOf resolves an entity's current component-presence bitset, for
// applying a join's own With/Without filter to its resolved targets.
// Nothing in this module takes or supplies a PresenceOf.
type PresenceOf func(ecscore.Entity) (presence interface{ Satisfies(with, without interface{}) bool }, ok bool)

// ResolveJoin follows join.FieldName from each of entities and returns the
// distinct, non-nil targets reached, in entities' order with duplicates
// dropped. Filtering by join.With/Without is left to the caller, which
// already holds a concrete *bitset.Set and a Declaration.Matches-shaped
// helper; keeping that here would force this package to import bitset
// just to re-expose a method it already has.
func ResolveJoin(join Join, entities []ecscore.Entity, readRef ReadRef) []ecscore.Entity {
	seen := make(map[uint32]bool, len(entities))
	var out []ecscore.Entity
	for _, src := range entities {
		target, ok := readRef(src, join.FieldName)
		if !ok || target.IsNil() || seen[target.Index] {
			continue
		}
		seen[target.Index] = true
		out = append(out, target)
	}
	return out
}
