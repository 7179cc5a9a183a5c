package snapshot

import (
	"sort"
	"sync"
	"time"

	"forgeloop/internal/core/ecs"
	"forgeloop/internal/core/ecs/storage"
)

// DefaultRebuildThresholdRatio is spec.md's default
// snapshot.rebuild-threshold-ratio.
const DefaultRebuildThresholdRatio = 0.25

type matchCache struct {
	entities *storage.SparseSet
	snapshot *Snapshot
}

// Engine maintains the per-match snapshot cache and history ring
// buffers for one container's store.
type Engine struct {
	mu                    sync.RWMutex
	store                 *ecs.Store
	caches                map[string]*matchCache
	history               map[string]*history
	rebuildThresholdRatio float64
	historyMaxSnapshots   int
	metrics               Metrics
}

// NewEngine creates a snapshot engine bound to a store.
func NewEngine(store *ecs.Store, rebuildThresholdRatio float64, historyMaxSnapshots int) *Engine {
	if rebuildThresholdRatio <= 0 {
		rebuildThresholdRatio = DefaultRebuildThresholdRatio
	}
	if historyMaxSnapshots <= 0 {
		historyMaxSnapshots = 256
	}
	return &Engine{
		store:                 store,
		caches:                make(map[string]*matchCache),
		history:               make(map[string]*history),
		rebuildThresholdRatio: rebuildThresholdRatio,
		historyMaxSnapshots:   historyMaxSnapshots,
	}
}

// EnsureMatch registers a match for caching, a no-op if already tracked.
func (e *Engine) EnsureMatch(matchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.caches[matchID]; ok {
		return
	}
	e.caches[matchID] = &matchCache{entities: storage.NewSparseSet()}
	e.history[matchID] = newHistory(e.historyMaxSnapshots)
}

// DropMatch discards a match's cache and history, called on match delete.
func (e *Engine) DropMatch(matchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.caches, matchID)
	delete(e.history, matchID)
}

// Update consumes the tick's dirty-set, incrementally refreshing every
// cached match's snapshot (or doing a full rebuild when the dirty
// fraction exceeds the configured threshold), and records each result
// into that match's history.
func (e *Engine) Update(dirty *ecs.DirtySet, tick uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for matchID, cache := range e.caches {
		start := time.Now()

		dirtyForMatch := e.dirtyCountForMatch(dirty, matchID)
		entityCount := e.store.EntitiesInMatch(matchID)
		full := cache.snapshot == nil
		if !full && len(entityCount) > 0 {
			ratio := float64(dirtyForMatch) / float64(len(entityCount))
			full = ratio > e.rebuildThresholdRatio
		}

		var snap *Snapshot
		if full {
			snap = e.rebuild(matchID, tick)
			e.metrics.FullRebuilds++
		} else {
			snap = e.applyIncremental(cache, dirty, matchID, tick)
			e.metrics.IncrementalUpdates++
		}

		cache.snapshot = snap
		e.history[matchID].record(tick, snap)

		elapsed := float64(time.Since(start).Microseconds()) / 1000.0
		e.metrics.TotalGenerations++
		e.metrics.LastGenerationMs = elapsed
		if elapsed > e.metrics.MaxGenerationMs {
			e.metrics.MaxGenerationMs = elapsed
		}
		n := float64(e.metrics.TotalGenerations)
		e.metrics.AvgGenerationMs = e.metrics.AvgGenerationMs + (elapsed-e.metrics.AvgGenerationMs)/n
	}
}

func (e *Engine) dirtyCountForMatch(dirty *ecs.DirtySet, matchID string) int {
	count := 0
	for _, id := range dirty.Added {
		if m, ok := e.store.MatchOf(id); ok && m == matchID {
			count++
		}
	}
	for id := range dirty.Changed {
		if m, ok := e.store.MatchOf(id); ok && m == matchID {
			count++
		}
	}
	return count
}

// rebuild materializes a fresh snapshot from scratch by scanning every
// entity currently tagged with matchID.
func (e *Engine) rebuild(matchID string, tick uint64) *Snapshot {
	ids := e.store.EntitiesInMatch(matchID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snap := &Snapshot{MatchID: matchID, Tick: tick, EntityIDs: ids, Components: make(map[ecs.ComponentType][]ecs.Component)}
	for i, id := range ids {
		for _, t := range e.store.ComponentTypes(id) {
			c, ok := e.store.GetComponentByID(id, t)
			if !ok {
				continue
			}
			e.setAt(snap, t, i, c)
		}
	}
	return snap
}

// applyIncremental patches the cached snapshot using only the dirty-set
// entries scoped to this match, per spec.md §4.4's splice/insert/update
// algorithm.
func (e *Engine) applyIncremental(cache *matchCache, dirty *ecs.DirtySet, matchID string, tick uint64) *Snapshot {
	snap := cache.snapshot.clone()
	snap.Tick = tick

	for _, id := range dirty.Removed {
		idx := snap.indexOf(id)
		if idx < 0 {
			continue
		}
		snap.EntityIDs = append(snap.EntityIDs[:idx], snap.EntityIDs[idx+1:]...)
		for t, vals := range snap.Components {
			if idx < len(vals) {
				snap.Components[t] = append(vals[:idx], vals[idx+1:]...)
			}
		}
	}

	for _, id := range dirty.Added {
		m, ok := e.store.MatchOf(id)
		if !ok || m != matchID {
			continue
		}
		pos := sort.Search(len(snap.EntityIDs), func(i int) bool { return snap.EntityIDs[i] >= id })
		snap.EntityIDs = append(snap.EntityIDs, 0)
		copy(snap.EntityIDs[pos+1:], snap.EntityIDs[pos:])
		snap.EntityIDs[pos] = id
		for t := range snap.Components {
			vals := snap.Components[t]
			var zero ecs.Component
			vals = append(vals, zero)
			copy(vals[pos+1:], vals[pos:])
			vals[pos] = zero
			snap.Components[t] = vals
		}
		for _, t := range e.store.ComponentTypes(id) {
			if c, ok := e.store.GetComponentByID(id, t); ok {
				e.setAt(snap, t, pos, c)
			}
		}
	}

	for id, changedTypes := range dirty.Changed {
		m, ok := e.store.MatchOf(id)
		if !ok || m != matchID {
			continue
		}
		idx := snap.indexOf(id)
		if idx < 0 {
			continue
		}
		for t := range changedTypes {
			if c, ok := e.store.GetComponentByID(id, t); ok {
				e.setAt(snap, t, idx, c)
			}
		}
	}

	return snap
}

func (e *Engine) setAt(snap *Snapshot, t ecs.ComponentType, idx int, c ecs.Component) {
	vals, ok := snap.Components[t]
	if !ok {
		vals = make([]ecs.Component, len(snap.EntityIDs))
		snap.Components[t] = vals
	}
	for len(vals) <= idx {
		vals = append(vals, ecs.Component{})
	}
	vals[idx] = c
	snap.Components[t] = vals
}

// GetForMatch returns the cached snapshot for a match, if one exists.
func (e *Engine) GetForMatch(matchID string) (*Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cache, ok := e.caches[matchID]
	if !ok || cache.snapshot == nil {
		e.metrics.CacheMisses++
		return nil, false
	}
	e.metrics.CacheHits++
	return cache.snapshot, true
}

// GetForMatchAndPlayer returns a fresh, non-cached projection scoped to
// entities the player owns or that carry the module-declared public
// flag component.
func (e *Engine) GetForMatchAndPlayer(matchID, playerID string, publicFlag ecs.ComponentType) *Snapshot {
	e.mu.RLock()
	cache, ok := e.caches[matchID]
	e.mu.RUnlock()
	if !ok || cache.snapshot == nil {
		return nil
	}

	full := cache.snapshot
	out := &Snapshot{MatchID: matchID, Tick: full.Tick, Components: make(map[ecs.ComponentType][]ecs.Component)}

	for i, id := range full.EntityIDs {
		owner, _ := e.store.OwnerOf(id)
		visible := owner == playerID
		if !visible && publicFlag != "" {
			if _, hasFlag := e.store.GetComponentByID(id, publicFlag); hasFlag {
				visible = true
			}
		}
		if !visible {
			continue
		}
		out.EntityIDs = append(out.EntityIDs, id)
		for t, vals := range full.Components {
			if i < len(vals) {
				out.Components[t] = append(out.Components[t], vals[i])
			}
		}
	}
	return out
}

// MetricsSnapshot returns a copy of the engine's running metrics.
func (e *Engine) MetricsSnapshot() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

// GetHistory returns a retained snapshot for (matchID, tick), if still
// within the history ring buffer.
func (e *Engine) GetHistory(matchID string, tick uint64) (*Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.history[matchID]
	if !ok {
		return nil, false
	}
	return h.get(tick)
}

// ClearHistory discards retained snapshots for a match, called on stop.
func (e *Engine) ClearHistory(matchID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.history[matchID]; ok {
		h.clear()
	}
}
