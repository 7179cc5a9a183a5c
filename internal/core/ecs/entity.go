package ecs

import "sync"

// Generation counts how many times an EntityID slot has been
// recycled. A Handle is only valid if its Generation matches the
// table's current generation for that id — this is the stale-handle
// detection the original entity manager this package is grounded on
// never provided.
type Generation uint32

// Handle is a stable reference to an entity: the slot id plus the
// generation it was created at.
type Handle struct {
	ID         EntityID
	Generation Generation
}

type entitySlot struct {
	alive      bool
	generation Generation
}

// EntityTable manages entity id allocation, recycling, and liveness for
// one Store. It hands out ids in [1, maxEntities], reusing the most
// recently freed id (LIFO) the way the teacher's DefaultEntityManager reused
// recycled ids, but additionally bumps a generation counter on reuse.
type EntityTable struct {
	mu           sync.RWMutex
	maxEntities  int
	slots        map[EntityID]*entitySlot
	freeList     []EntityID
	nextUnissued EntityID
	liveCount    int
}

// NewEntityTable creates an entity table bounded to maxEntities live
// entities at once.
func NewEntityTable(maxEntities int) *EntityTable {
	return &EntityTable{
		maxEntities:  maxEntities,
		slots:        make(map[EntityID]*entitySlot),
		nextUnissued: 1,
	}
}

// Create allocates a new entity handle, recycling a freed id when one is
// available. Returns ErrCapacityExceeded if the table is at capacity.
func (t *EntityTable) Create() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.liveCount >= t.maxEntities {
		return Handle{}, CapacityExceededErr(t.maxEntities)
	}

	var id EntityID
	if n := len(t.freeList); n > 0 {
		id = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		id = t.nextUnissued
		t.nextUnissued++
		t.slots[id] = &entitySlot{}
	}

	slot := t.slots[id]
	slot.alive = true
	t.liveCount++

	return Handle{ID: id, Generation: slot.generation}, nil
}

// Destroy removes an entity, freeing its id for reuse and bumping the
// slot's generation so any outstanding Handle referencing the old
// generation is now stale. An id that was never issued reports
// EntityNotFound; an id that was issued but is no longer live at this
// handle's generation (already destroyed, possibly recycled since)
// reports the distinct StaleHandle kind.
func (t *EntityTable) Destroy(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.slots[h.ID]
	if !ok {
		return EntityNotFoundErr(h.ID)
	}
	if !slot.alive || slot.generation != h.Generation {
		return StaleHandleErr(h.ID)
	}

	slot.alive = false
	slot.generation++
	t.liveCount--
	t.freeList = append(t.freeList, h.ID)

	return nil
}

// IsValid reports whether a handle still refers to a live entity at the
// generation it was created with.
func (t *EntityTable) IsValid(h Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	slot, ok := t.slots[h.ID]
	return ok && slot.alive && slot.generation == h.Generation
}

// Count returns the number of currently live entities.
func (t *EntityTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.liveCount
}

// MaxEntities returns the table's configured capacity.
func (t *EntityTable) MaxEntities() int {
	return t.maxEntities
}

// GenerationOf returns the current generation for an entity id,
// regardless of liveness, or false if the id was never issued.
func (t *EntityTable) GenerationOf(id EntityID) (Generation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot, ok := t.slots[id]
	if !ok {
		return 0, false
	}
	return slot.generation, true
}

// HandleFor reconstructs the current live Handle for an entity id, used
// when a collaborator (the snapshot engine, draining the dirty-set) only
// has the bare id and needs a Handle to call back into the store.
func (t *EntityTable) HandleFor(id EntityID) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	slot, ok := t.slots[id]
	if !ok || !slot.alive {
		return Handle{}, false
	}
	return Handle{ID: id, Generation: slot.generation}, true
}
