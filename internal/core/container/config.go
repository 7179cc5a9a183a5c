package container

import "strconv"

// Config bounds one container's resources and tells it where to find its
// plugin packages. Per spec.md §6 the system takes "no user-facing
// configuration format beyond a flat key/value map" — config arrives as
// map[string]string and is parsed into this typed shape with the small
// accessor helpers below, not a config framework.
type Config struct {
	Name               string
	MaxEntities        int
	MaxComponents      int
	MaxCommandsPerTick int
	MaxMemoryMb        int64
	ModuleJarPaths     []string
	ModuleScanDirectory string
	AutoRestore        bool

	TickBudgetMs             int
	AutoHalt                 bool
	MetricsWindow            int
	BroadcastIntervalMs      int
	HistoryMaxSnapshots      int
	RebuildThresholdRatio    float64
	ReconnectWindowSeconds   int
	SweepIntervalSeconds     int
	PersistenceEnabled       bool
	StrictPlugins            bool
}

// DefaultConfig returns a Config matching spec.md §6's enumerated
// defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		MaxEntities:            1_000_000,
		MaxComponents:          100,
		MaxCommandsPerTick:     10_000,
		MaxMemoryMb:            0,
		TickBudgetMs:           100,
		AutoHalt:               true,
		MetricsWindow:          256,
		BroadcastIntervalMs:    100,
		HistoryMaxSnapshots:    256,
		RebuildThresholdRatio:  0.25,
		ReconnectWindowSeconds: 300,
		SweepIntervalSeconds:   300,
		PersistenceEnabled:     false,
	}
}

// FromConfigMap overlays a flat key/value map (spec.md §6's config keys)
// onto a base Config, leaving any key not present untouched, except
// that an absent session.sweep-interval-seconds takes the (possibly
// overlaid) reconnect window rather than the base value.
func FromConfigMap(base Config, kv map[string]string) Config {
	cfg := base
	cfg.MaxEntities = intOr(kv, "ecs.max-entities", cfg.MaxEntities)
	cfg.MaxComponents = intOr(kv, "ecs.max-components", cfg.MaxComponents)
	cfg.MaxCommandsPerTick = intOr(kv, "gameloop.max-commands-per-tick", cfg.MaxCommandsPerTick)
	cfg.TickBudgetMs = intOr(kv, "gameloop.tick-budget-ms", cfg.TickBudgetMs)
	cfg.BroadcastIntervalMs = intOr(kv, "snapshot.broadcast-interval-ms", cfg.BroadcastIntervalMs)
	cfg.HistoryMaxSnapshots = intOr(kv, "snapshot.history-max-snapshots", cfg.HistoryMaxSnapshots)
	cfg.RebuildThresholdRatio = floatOr(kv, "snapshot.rebuild-threshold-ratio", cfg.RebuildThresholdRatio)
	cfg.ReconnectWindowSeconds = intOr(kv, "session.reconnect-window-seconds", cfg.ReconnectWindowSeconds)
	cfg.SweepIntervalSeconds = intOr(kv, "session.sweep-interval-seconds", cfg.ReconnectWindowSeconds)
	cfg.PersistenceEnabled = boolOr(kv, "snapshot.persistence.enabled", cfg.PersistenceEnabled)
	if v, ok := kv["storage.modules-path"]; ok {
		cfg.ModuleScanDirectory = v
	}
	if v, ok := kv["name"]; ok {
		cfg.Name = v
	}
	cfg.MaxMemoryMb = int64Or(kv, "container.max-memory-mb", cfg.MaxMemoryMb)
	cfg.StrictPlugins = boolOr(kv, "container.strict-plugins", cfg.StrictPlugins)
	cfg.AutoHalt = boolOr(kv, "container.auto-halt", cfg.AutoHalt)
	return cfg
}

func intOr(kv map[string]string, key string, fallback int) int {
	v, ok := kv[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func int64Or(kv map[string]string, key string, fallback int64) int64 {
	v, ok := kv[key]
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func floatOr(kv map[string]string, key string, fallback float64) float64 {
	v, ok := kv[key]
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func boolOr(kv map[string]string, key string, fallback bool) bool {
	v, ok := kv[key]
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// estimatedBytes coarsely reserves memory for a container's store and
// caches: a fixed per-entity estimate plus a small fixed overhead for the
// snapshot/history caches. This is intentionally coarse — spec.md §4.6
// only asks for a reservation check, not byte-exact accounting.
func (c Config) estimatedBytes() int64 {
	const bytesPerEntity = 256
	const fixedOverhead = 1 << 20 // 1MiB baseline for caches/registries
	return int64(c.MaxEntities)*bytesPerEntity + fixedOverhead
}
