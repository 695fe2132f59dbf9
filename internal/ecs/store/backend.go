package store

// backend maps an entity index to a dense row slot. packedBackend uses the
// entity index as the row directly; sparseBackend keeps a free-list backed
// sparse map, trading the teacher's swap-with-last removal for a
// free-list so a logically-removed-but-limbo-held row never has to move
// (its row index stays valid until Finalize actually frees it).
type backend interface {
	rowFor(e uint32) (row int, ok bool)
	alloc(e uint32) (row int, resurrected bool)
	markRemove(e uint32)
	isPendingRemoval(e uint32) bool
	free(e uint32)
	liveCount() int
	liveEntities() []uint32
}

type packedBackend struct {
	present        []bool
	pendingRemoval []bool
	count          int
}

func newPackedBackend() *packedBackend {
	return &packedBackend{}
}

func (b *packedBackend) ensure(e uint32) {
	for uint32(len(b.present)) <= e {
		b.present = append(b.present, false)
		b.pendingRemoval = append(b.pendingRemoval, false)
	}
}

func (b *packedBackend) rowFor(e uint32) (int, bool) {
	if int(e) < len(b.present) && b.present[e] {
		return int(e), true
	}
	return 0, false
}

func (b *packedBackend) alloc(e uint32) (int, bool) {
	b.ensure(e)
	resurrected := b.pendingRemoval[e]
	if !b.present[e] {
		b.count++
	}
	b.present[e] = true
	b.pendingRemoval[e] = false
	return int(e), resurrected
}

func (b *packedBackend) markRemove(e uint32) {
	if int(e) < len(b.pendingRemoval) {
		b.pendingRemoval[e] = true
	}
}

func (b *packedBackend) isPendingRemoval(e uint32) bool {
	return int(e) < len(b.pendingRemoval) && b.pendingRemoval[e]
}

func (b *packedBackend) free(e uint32) {
	if int(e) < len(b.present) && b.present[e] {
		b.present[e] = false
		b.pendingRemoval[e] = false
		b.count--
	}
}

func (b *packedBackend) liveCount() int { return b.count }

func (b *packedBackend) liveEntities() []uint32 {
	out := make([]uint32, 0, b.count)
	for i, p := range b.present {
		if p {
			out = append(out, uint32(i))
		}
	}
	return out
}

type sparseBackend struct {
	sparse         map[uint32]int
	denseEntity    []uint32
	pendingRemoval map[uint32]bool
	freeSlots      []int
}

func newSparseBackend() *sparseBackend {
	return &sparseBackend{
		sparse:         make(map[uint32]int),
		pendingRemoval: make(map[uint32]bool),
	}
}

func (b *sparseBackend) rowFor(e uint32) (int, bool) {
	row, ok := b.sparse[e]
	return row, ok
}

func (b *sparseBackend) alloc(e uint32) (int, bool) {
	if row, ok := b.sparse[e]; ok {
		resurrected := b.pendingRemoval[e]
		delete(b.pendingRemoval, e)
		return row, resurrected
	}
	var row int
	if n := len(b.freeSlots); n > 0 {
		row = b.freeSlots[n-1]
		b.freeSlots = b.freeSlots[:n-1]
	} else {
		row = len(b.denseEntity)
		b.denseEntity = append(b.denseEntity, 0)
	}
	b.denseEntity[row] = e
	b.sparse[e] = row
	return row, false
}

func (b *sparseBackend) markRemove(e uint32) {
	b.pendingRemoval[e] = true
}

func (b *sparseBackend) isPendingRemoval(e uint32) bool {
	return b.pendingRemoval[e]
}

func (b *sparseBackend) free(e uint32) {
	row, ok := b.sparse[e]
	if !ok {
		return
	}
	delete(b.sparse, e)
	delete(b.pendingRemoval, e)
	b.freeSlots = append(b.freeSlots, row)
}

func (b *sparseBackend) liveCount() int { return len(b.sparse) }

func (b *sparseBackend) liveEntities() []uint32 {
	out := make([]uint32, 0, len(b.sparse))
	for e := range b.sparse {
		out = append(out, e)
	}
	return out
}
