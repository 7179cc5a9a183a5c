package ecs

import (
	"sort"
	"sync"

	"forgeloop/internal/core/ecs/query"
)

// DirtySet accumulates the entity/component changes that happened since
// the last time it was drained. The snapshot engine drains this every
// tick to build an incremental delta instead of diffing a full
// component dump.
type DirtySet struct {
	Added   []EntityID
	Removed []EntityID
	Changed map[EntityID]map[ComponentType]bool
}

func newDirtySet() *DirtySet {
	return &DirtySet{Changed: make(map[EntityID]map[ComponentType]bool)}
}

func (d *DirtySet) markChanged(e EntityID, t ComponentType) {
	m, ok := d.Changed[e]
	if !ok {
		m = make(map[ComponentType]bool)
		d.Changed[e] = m
	}
	m[t] = true
}

func (d *DirtySet) reset() {
	d.Added = nil
	d.Removed = nil
	d.Changed = make(map[EntityID]map[ComponentType]bool)
}

// Store is the per-container archetype-indexed component store: entities
// grouped by exact component-type-set, columns migrated on add/remove,
// and a dirty-set of changes since the last drain. It is the
// replacement for the teacher's flat map[ComponentType]map[EntityID]Component
// (storage/component_store.go), which cannot support query(required,
// excluded) over a large entity population without a full scan.
type Store struct {
	mu sync.RWMutex

	config StoreConfig
	table  *EntityTable
	schema map[ComponentType]ComponentSchema

	archetypes map[archetypeKey]*Archetype
	location   map[EntityID]archetypeKey // which archetype currently owns this entity

	matchOf map[EntityID]string // entity's owning match id
	ownerOf map[EntityID]string // entity's owning player id, "" = unowned

	registry *query.Registry
	dirty    *DirtySet
}

// NewStore creates an empty store for one container, sized per cfg.
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		config:     cfg,
		table:      NewEntityTable(cfg.MaxEntities),
		schema:     make(map[ComponentType]ComponentSchema),
		archetypes: make(map[archetypeKey]*Archetype),
		location:   make(map[EntityID]archetypeKey),
		matchOf:    make(map[EntityID]string),
		ownerOf:    make(map[EntityID]string),
		registry:   query.NewRegistry(),
		dirty:      newDirtySet(),
	}
}

// DeclareComponent registers a component schema. Declaring the same type
// twice with an identical schema is a no-op; declaring it twice with a
// different schema is an error, since every entity carrying that type
// must agree on its field layout.
func (s *Store) DeclareComponent(schema ComponentSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.schema) >= s.config.MaxComponents {
		if _, exists := s.schema[schema.Type]; !exists {
			return NewECSError(ErrInvalidConfig, "component type limit reached").
				WithComponent(schema.Type)
		}
	}

	if existing, ok := s.schema[schema.Type]; ok {
		if !sameSchema(existing, schema) {
			return NewComponentError(ErrSchemaConflict,
				"component type already declared with a different schema", InvalidEntityID, schema.Type)
		}
		return nil
	}

	s.schema[schema.Type] = schema
	s.registry.Register(schema.Type)
	return nil
}

// validateHandle distinguishes a handle whose id was never issued
// (EntityNotFound) from one whose id exists but no longer refers to a
// live entity at this generation — already destroyed, and possibly
// recycled since (StaleHandle). Caller must hold s.mu.
func (s *Store) validateHandle(h Handle) error {
	if _, everIssued := s.table.GenerationOf(h.ID); !everIssued {
		return EntityNotFoundErr(h.ID)
	}
	if !s.table.IsValid(h) {
		return StaleHandleErr(h.ID)
	}
	return nil
}

func sameSchema(a, b ComponentSchema) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		if a.Fields[i] != b.Fields[i] {
			return false
		}
	}
	return true
}

// CreateEntity allocates a new entity with no components, placing it in
// the empty archetype.
func (s *Store) CreateEntity() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.table.Create()
	if err != nil {
		return Handle{}, err
	}

	empty := s.archetypeFor(nil)
	empty.insert(h.ID, nil)
	s.location[h.ID] = empty.key

	s.dirty.Added = append(s.dirty.Added, h.ID)
	return h, nil
}

// DestroyEntity removes an entity and all of its components.
func (s *Store) DestroyEntity(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateHandle(h); err != nil {
		return err
	}

	key := s.location[h.ID]
	if a, ok := s.archetypes[key]; ok {
		a.remove(h.ID)
	}
	delete(s.location, h.ID)
	delete(s.matchOf, h.ID)
	delete(s.ownerOf, h.ID)

	if err := s.table.Destroy(h); err != nil {
		return err
	}

	s.dirty.Removed = append(s.dirty.Removed, h.ID)
	delete(s.dirty.Changed, h.ID)
	return nil
}

// SetMatch tags an entity with the match it belongs to. Called by a
// spawn command handler right after CreateEntity; entities with no
// match tag are excluded from any match-scoped snapshot or query.
func (s *Store) SetMatch(h Handle, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateHandle(h); err != nil {
		return err
	}
	s.matchOf[h.ID] = matchID
	return nil
}

// SetOwner tags an entity with its owning player id ("" = unowned).
func (s *Store) SetOwner(h Handle, playerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validateHandle(h); err != nil {
		return err
	}
	s.ownerOf[h.ID] = playerID
	return nil
}

// MatchOf returns the match id an entity was tagged with, if any.
func (s *Store) MatchOf(id EntityID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matchOf[id]
	return m, ok
}

// OwnerOf returns the player id an entity was tagged with.
func (s *Store) OwnerOf(id EntityID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.ownerOf[id]
	return o, ok
}

// EntitiesInMatch returns every live entity currently tagged with matchID.
func (s *Store) EntitiesInMatch(matchID string) []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []EntityID
	for id, m := range s.matchOf {
		if m == matchID {
			out = append(out, id)
		}
	}
	return out
}

// HandleFor reconstructs a live Handle from a bare EntityID, for
// collaborators (the snapshot engine) that only have ids from the
// dirty-set and need a Handle to call GetComponent.
func (s *Store) HandleFor(id EntityID) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.HandleFor(id)
}

// GetComponentByID is GetComponent without requiring the caller to hold
// a Handle, reconstructing one from the table's current generation.
func (s *Store) GetComponentByID(id EntityID, t ComponentType) (Component, bool) {
	h, ok := s.HandleFor(id)
	if !ok {
		return Component{}, false
	}
	return s.GetComponent(h, t)
}

// ComponentTypes returns every component type an entity currently
// carries, per its archetype.
func (s *Store) ComponentTypes(id EntityID) []ComponentType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archetypes[s.location[id]]
	if !ok {
		return nil
	}
	return append([]ComponentType(nil), a.types...)
}

// AddComponent attaches a component to an entity, migrating it from its
// current archetype to the archetype for (current types + this type).
// If the entity already carries this component type, its value is
// overwritten in place without a migration.
func (s *Store) AddComponent(h Handle, c Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateHandle(h); err != nil {
		return err
	}
	schema, ok := s.schema[c.Type]
	if !ok {
		return NewComponentError(ErrUnknownComponentType, "component type not declared", h.ID, c.Type)
	}
	if err := c.Validate(schema); err != nil {
		return err
	}

	curKey := s.location[h.ID]
	cur := s.archetypes[curKey]

	if cur != nil && cur.HasType(c.Type) {
		cur.set(h.ID, c)
		s.dirty.markChanged(h.ID, c.Type)
		return nil
	}

	values := map[ComponentType]Component{c.Type: c}
	newTypes := []ComponentType{c.Type}
	if cur != nil {
		for _, t := range cur.types {
			v, _ := cur.get(h.ID, t)
			values[t] = v
			newTypes = append(newTypes, t)
		}
		cur.remove(h.ID)
	}

	dest := s.archetypeFor(newTypes)
	dest.insert(h.ID, values)
	s.location[h.ID] = dest.key

	s.dirty.markChanged(h.ID, c.Type)
	return nil
}

// RemoveComponent detaches a component from an entity, migrating it to
// the archetype for (current types - this type).
func (s *Store) RemoveComponent(h Handle, t ComponentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateHandle(h); err != nil {
		return err
	}

	curKey := s.location[h.ID]
	cur := s.archetypes[curKey]
	if cur == nil || !cur.HasType(t) {
		return ComponentNotFoundErr(h.ID, t)
	}

	values := cur.remove(h.ID)
	delete(values, t)

	var newTypes []ComponentType
	for ct := range values {
		newTypes = append(newTypes, ct)
	}

	dest := s.archetypeFor(newTypes)
	dest.insert(h.ID, values)
	s.location[h.ID] = dest.key

	s.dirty.markChanged(h.ID, t)
	return nil
}

// GetComponent returns an entity's current value for a component type.
func (s *Store) GetComponent(h Handle, t ComponentType) (Component, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.table.IsValid(h) {
		return Component{}, false
	}
	a, ok := s.archetypes[s.location[h.ID]]
	if !ok {
		return Component{}, false
	}
	return a.get(h.ID, t)
}

// archetypeFor returns the archetype for the given type set, creating it
// if it does not yet exist. Caller must hold s.mu.
func (s *Store) archetypeFor(types []ComponentType) *Archetype {
	k := keyFor(types)
	a, ok := s.archetypes[k]
	if !ok {
		a = newArchetype(types)
		s.archetypes[k] = a
	}
	return a
}

// Query returns every live entity whose archetype carries all of
// required and none of excluded, up to the builder's limit/offset.
func (s *Store) Query(b *query.Builder) []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	required := b.RequiredTypes()
	excluded := b.ExcludedTypes()

	var matches []EntityID
	keys := make([]archetypeKey, 0, len(s.archetypes))
	for k := range s.archetypes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		a := s.archetypes[k]
		if !archetypeMatches(a, required, excluded) {
			continue
		}
		a.forEach(func(e EntityID) { matches = append(matches, e) })
	}

	if off := b.OffsetValue(); off > 0 {
		if off >= len(matches) {
			return nil
		}
		matches = matches[off:]
	}
	if lim := b.LimitValue(); lim >= 0 && lim < len(matches) {
		matches = matches[:lim]
	}
	return matches
}

func archetypeMatches(a *Archetype, required, excluded []ComponentType) bool {
	for _, t := range required {
		if !a.HasType(t) {
			return false
		}
	}
	for _, t := range excluded {
		if a.HasType(t) {
			return false
		}
	}
	return true
}

// EntityCount returns the total number of live entities across all
// archetypes.
func (s *Store) EntityCount() int {
	return s.table.Count()
}

// Stats reports per-component-type storage statistics.
func (s *Store) Stats() []StorageStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[ComponentType]int)
	archCounts := make(map[ComponentType]int)
	for _, a := range s.archetypes {
		for _, t := range a.types {
			counts[t] += a.Len()
			archCounts[t]++
		}
	}

	out := make([]StorageStats, 0, len(s.schema))
	for t := range s.schema {
		out = append(out, StorageStats{
			ComponentType:  t,
			EntityCount:    counts[t],
			ArchetypeCount: archCounts[t],
		})
	}
	return out
}

// DrainDirty returns the accumulated dirty set and resets it for the
// next tick. This is the one primitive the snapshot engine's incremental
// update is built on.
func (s *Store) DrainDirty() *DirtySet {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dirty
	s.dirty = newDirtySet()
	return d
}

// IsValid reports whether a handle refers to a currently live entity.
func (s *Store) IsValid(h Handle) bool {
	return s.table.IsValid(h)
}
