package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"forgeloop/internal/core/ecs"
)

// Builder expresses an archetype query: required and excluded component
// types, plus result-shaping options. Spatial, hierarchical, and
// temporal query dimensions from the teacher's QueryBuilderImpl are
// dropped here — entities at this layer carry no 2D position or
// parent/child concept, those are opaque plugin-declared components,
// and the archetype store has no time-travel semantics to query
// against.
type Builder struct {
	required ComponentBitSet
	excluded ComponentBitSet

	requiredTypes []ecs.ComponentType
	excludedTypes []ecs.ComponentType

	limit  int
	offset int

	cacheKey string
}

// NewBuilder creates an empty query builder. limit defaults to -1 (no
// limit), matching the teacher's convention.
func NewBuilder() *Builder {
	return &Builder{limit: -1}
}

// With requires the given component type to be present.
func (b *Builder) With(ct ecs.ComponentType) *Builder {
	b.requiredTypes = append(b.requiredTypes, ct)
	return b
}

// Without excludes entities carrying the given component type.
func (b *Builder) Without(ct ecs.ComponentType) *Builder {
	b.excludedTypes = append(b.excludedTypes, ct)
	return b
}

// Limit caps the number of entities returned.
func (b *Builder) Limit(n int) *Builder {
	if n >= 0 {
		b.limit = n
	}
	return b
}

// Offset skips the first n matching entities.
func (b *Builder) Offset(n int) *Builder {
	if n >= 0 {
		b.offset = n
	}
	return b
}

// Cache assigns an explicit cache key, overriding the automatic
// signature-derived one.
func (b *Builder) Cache(key string) *Builder {
	b.cacheKey = key
	return b
}

// Resolve finalizes the bitset representation against a Registry,
// registering any component type seen for the first time. Call once
// the builder's With/Without chain is complete.
func (b *Builder) Resolve(reg *Registry) {
	b.required = reg.BitSetOf(b.requiredTypes...)
	b.excluded = reg.BitSetOf(b.excludedTypes...)
}

// RequiredTypes returns the required component type set.
func (b *Builder) RequiredTypes() []ecs.ComponentType { return b.requiredTypes }

// ExcludedTypes returns the excluded component type set.
func (b *Builder) ExcludedTypes() []ecs.ComponentType { return b.excludedTypes }

// RequiredBits returns the resolved required bitset (valid after Resolve).
func (b *Builder) RequiredBits() ComponentBitSet { return b.required }

// ExcludedBits returns the resolved excluded bitset (valid after Resolve).
func (b *Builder) ExcludedBits() ComponentBitSet { return b.excluded }

// LimitValue returns the configured limit, or -1 if unset.
func (b *Builder) LimitValue() int { return b.limit }

// OffsetValue returns the configured offset.
func (b *Builder) OffsetValue() int { return b.offset }

// IsValid reports whether the query's constraints are self-consistent:
// a component type cannot be both required and excluded.
func (b *Builder) IsValid() bool {
	required := make(map[ecs.ComponentType]bool, len(b.requiredTypes))
	for _, ct := range b.requiredTypes {
		required[ct] = true
	}
	for _, ct := range b.excludedTypes {
		if required[ct] {
			return false
		}
	}
	return true
}

// ToHash derives a deterministic cache key from the query's sorted
// required/excluded type names, so the snapshot engine's per-match query
// cache can reuse results across ticks for a structurally identical
// query object.
func (b *Builder) ToHash() string {
	req := sortedStrings(b.requiredTypes)
	exc := sortedStrings(b.excludedTypes)

	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("req:%s|exc:%s|lim:%d|off:%d",
		strings.Join(req, ","), strings.Join(exc, ","), b.limit, b.offset)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// GetSignature returns a human-identifiable signature for logging.
func (b *Builder) GetSignature() string {
	return "Q_" + b.ToHash()
}

// GetCacheKey returns the explicit cache key if set, else the derived
// signature.
func (b *Builder) GetCacheKey() string {
	if b.cacheKey != "" {
		return b.cacheKey
	}
	return b.GetSignature()
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	clone := &Builder{
		required: b.required,
		excluded: b.excluded,
		limit:    b.limit,
		offset:   b.offset,
		cacheKey: b.cacheKey,
	}
	clone.requiredTypes = append(clone.requiredTypes, b.requiredTypes...)
	clone.excludedTypes = append(clone.excludedTypes, b.excludedTypes...)
	return clone
}

func sortedStrings(types []ecs.ComponentType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	sort.Strings(out)
	return out
}
