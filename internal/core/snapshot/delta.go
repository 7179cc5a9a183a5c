package snapshot

import "forgeloop/internal/core/ecs"

// ComputeDelta diffs two snapshots of the same match, from an earlier
// tick F to a later tick T, per spec.md §4.4.
func ComputeDelta(from, to *Snapshot) Delta {
	d := Delta{
		MatchID:           to.MatchID,
		FromTick:          from.Tick,
		ToTick:            to.Tick,
		ChangedComponents: make(map[ecs.ComponentType]int),
	}

	fromSet := make(map[ecs.EntityID]int, len(from.EntityIDs))
	for i, id := range from.EntityIDs {
		fromSet[id] = i
	}
	toSet := make(map[ecs.EntityID]int, len(to.EntityIDs))
	for i, id := range to.EntityIDs {
		toSet[id] = i
	}

	for id := range toSet {
		if _, ok := fromSet[id]; !ok {
			d.AddedEntities = append(d.AddedEntities, id)
		}
	}
	for id := range fromSet {
		if _, ok := toSet[id]; !ok {
			d.RemovedEntities = append(d.RemovedEntities, id)
		}
	}

	allTypes := make(map[ecs.ComponentType]bool)
	for t := range from.Components {
		allTypes[t] = true
	}
	for t := range to.Components {
		allTypes[t] = true
	}

	for t := range allTypes {
		fromVals := from.Components[t]
		toVals := to.Components[t]
		for id, toIdx := range toSet {
			fromIdx, inFrom := fromSet[id]
			if !inFrom {
				continue
			}
			if toIdx >= len(toVals) || fromIdx >= len(fromVals) {
				continue
			}
			if !sameValues(fromVals[fromIdx], toVals[toIdx]) {
				d.ChangedComponents[t]++
				d.ChangeCount++
			}
		}
	}

	fullSize := len(to.EntityIDs) * (len(to.Components) + 1)
	if fullSize > 0 {
		deltaSize := len(d.AddedEntities) + len(d.RemovedEntities) + d.ChangeCount
		d.CompressionRatio = float64(deltaSize) / float64(fullSize)
	}

	return d
}

func sameValues(a, b ecs.Component) bool {
	if a.Type != b.Type || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			return false
		}
	}
	return true
}
