package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"forgeloop/internal/adapter"
	"forgeloop/internal/core/command"
	"forgeloop/internal/core/ecs"
	"forgeloop/internal/core/match"
	"forgeloop/internal/core/session"
	"forgeloop/internal/core/snapshot"
	"forgeloop/internal/core/tick"
	"forgeloop/pkg/logger"
)

// ErrMatchGone is the command-execution outcome for a queued command
// whose match was deleted between enqueue and drain (Open Question:
// a deleted match's remaining queued commands are skipped rather than
// executed, and counted as failed metrics rather than silently
// vanishing).
var ErrMatchGone = errors.New("command targets a deleted match")

// ErrSessionNotAuthorized gates client command enqueue per spec.md
// §6: the issuing player must hold an Active session for the match.
var ErrSessionNotAuthorized = errors.New("player has no active session for match")

type installedModule struct {
	module       Module
	commandNames []string
}

// Container is one isolated, multi-tenant simulation instance: its own
// store, command pipeline, tick loop, snapshot cache, and session/match
// registries, plus the plugin sandbox (modules, AIs, security
// validators) installed into it. Two containers never share state —
// this struct is the unit of isolation the teacher's mod package
// described as a per-mod context, scaled up to own an entire
// simulation rather than one Lua VM.
type Container struct {
	mu sync.RWMutex

	ID  string
	cfg Config

	Store     *ecs.Store
	Commands  *command.Registry
	Queue     *command.Queue
	Loop      *tick.Loop
	Snapshots *snapshot.Engine
	Sessions  *session.Service
	Matches   *match.Registry

	Errors        *adapter.ErrorBroadcaster
	Persistence   adapter.PersistenceListener
	Subscriptions *adapter.SubscriptionHub

	Audit AuditLogger

	modules     map[string]*installedModule
	moduleOrder []string
	publicFlag  ecs.ComponentType

	ais map[string]AI

	validators map[string]*SecurityValidator

	resources map[string]*Resource

	log *logger.Logger

	lastCommandMetrics []command.ExecutionMetric
}

// New creates a container in the Created (tick.Idle) state. It wires
// every collaborator package but installs no modules or AIs — callers
// populate those with Install/InstallAI before calling Start.
func New(cfg Config, log *logger.Logger) *Container {
	id := cfg.Name
	if id == "" {
		id = uuid.NewString()
	}
	if log == nil {
		log = logger.NewDefault()
	}

	store := ecs.NewStore(ecs.StoreConfig{
		MaxEntities:   cfg.MaxEntities,
		MaxComponents: cfg.MaxComponents,
		MemoryLimit:   cfg.MaxMemoryMb * 1024 * 1024,
	})

	c := &Container{
		ID:       id,
		cfg:      cfg,
		Store:    store,
		Commands: command.NewRegistry(),
		Queue:    command.NewQueue(cfg.MaxCommandsPerTick * command.QueueFactor),
		Loop: tick.NewLoop(tick.Config{
			MaxCommandsPerTick: cfg.MaxCommandsPerTick,
			TickBudget:         time.Duration(cfg.TickBudgetMs) * time.Millisecond,
			AutoHalt:           cfg.AutoHalt,
			MetricsWindow:      cfg.MetricsWindow,
		}),
		Snapshots:     snapshot.NewEngine(store, cfg.RebuildThresholdRatio, cfg.HistoryMaxSnapshots),
		Sessions:      session.NewService(time.Duration(cfg.ReconnectWindowSeconds) * time.Second),
		Matches:       match.NewRegistry(),
		Errors:        adapter.NewErrorBroadcaster(0),
		Subscriptions: adapter.NewSubscriptionHub(),
		Audit:         NewAuditLogger(),
		modules:       make(map[string]*installedModule),
		ais:           make(map[string]AI),
		validators:    make(map[string]*SecurityValidator),
		resources:     make(map[string]*Resource),
		log:           log,
	}
	if cfg.PersistenceEnabled {
		c.Persistence = adapter.NewInMemoryPersistenceListener()
	} else {
		c.Persistence = adapter.NoopPersistenceListener{}
	}

	c.Loop.SetCommandDrain(c.drainCommands)
	c.Loop.SetSnapshotUpdate(c.updateSnapshots)
	c.Loop.AddListener(&tickListener{c: c})

	return c
}

// State reports the container's lifecycle position.
func (c *Container) State() State { return fromTickState(c.Loop.State()) }

// Start, Advance, Play, StopAuto, Pause, Resume, and Stop delegate to
// the tick loop; this layer only translates tick.InvalidTransitionError
// into a ContainerError so callers never need to import the tick
// package to handle a rejected lifecycle call.
func (c *Container) Start() error { return c.wrap("start", c.Loop.Start()) }

func (c *Container) Advance() (tick.TickMetric, error) {
	m, err := c.Loop.Advance()
	return m, c.wrap("advance", err)
}

func (c *Container) Play(interval time.Duration) error { return c.wrap("play", c.Loop.Play(interval)) }
func (c *Container) StopAuto() error                   { return c.wrap("stop_auto", c.Loop.StopAuto()) }
func (c *Container) Pause() error                      { return c.wrap("pause", c.Loop.Pause()) }
func (c *Container) Resume() error                     { return c.wrap("resume", c.Loop.Resume()) }
func (c *Container) Stop() error                       { return c.wrap("stop", c.Loop.Stop()) }

func (c *Container) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var inv *tick.InvalidTransitionError
	if errors.As(err, &inv) {
		return newContainerError(KindInvalidLifecycleTransition, c.ID, op, err.Error())
	}
	return err
}

// Install adds a plugin module to the container: validates its
// declared component and command names against the security
// validator, declares its component schemas, registers its commands,
// and rebuilds the tick loop's system bindings.
func (c *Container) Install(m Module) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := m.Name()
	if _, exists := c.modules[name]; exists {
		return newContainerError(KindPluginLoadFailure, name, "install", "module already installed")
	}

	validator := NewSecurityValidator(name, c.Audit)
	for _, schema := range m.Components() {
		if err := validator.ValidateName("declare_component", string(schema.Type)); err != nil {
			return newContainerError(KindPluginIsolationFailure, name, "install", err.Error())
		}
	}
	descriptors := m.Commands()
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		if err := validator.ValidateName("declare_command", d.Name); err != nil {
			return newContainerError(KindPluginIsolationFailure, name, "install", err.Error())
		}
		names = append(names, d.Name)
	}

	for _, schema := range m.Components() {
		if err := c.Store.DeclareComponent(schema); err != nil {
			return newContainerError(KindPluginLoadFailure, name, "install", err.Error())
		}
	}
	if err := c.Commands.Register(descriptors); err != nil {
		return newContainerError(KindPluginLoadFailure, name, "install", err.Error())
	}

	if flag, ok := m.FlagComponent(); ok && c.publicFlag == "" {
		c.publicFlag = flag.Type
	}

	c.validators[name] = validator
	c.modules[name] = &installedModule{module: m, commandNames: names}
	c.moduleOrder = append(c.moduleOrder, name)
	c.refreshSystemBindingsLocked()
	return nil
}

// Uninstall removes a previously installed module's commands and
// drops it from the system-binding set. Component schemas and any
// entities already carrying that module's component types are left
// in place — spec.md asks the module to stop running, not for a
// retroactive data migration.
func (c *Container) Uninstall(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	im, ok := c.modules[name]
	if !ok {
		return newContainerError(KindPluginLoadFailure, name, "uninstall", "module not installed")
	}
	c.Commands.Unregister(im.commandNames)
	delete(c.modules, name)
	delete(c.validators, name)
	for i, n := range c.moduleOrder {
		if n == name {
			c.moduleOrder = append(c.moduleOrder[:i], c.moduleOrder[i+1:]...)
			break
		}
	}
	c.refreshSystemBindingsLocked()
	return nil
}

// Reload uninstalls and reinstalls a module under the same name with
// fresh plugin code, per spec.md §6's hot-reload operation.
func (c *Container) Reload(m Module) error {
	name := m.Name()
	c.mu.Lock()
	_, exists := c.modules[name]
	c.mu.Unlock()
	if exists {
		if err := c.Uninstall(name); err != nil {
			return err
		}
	}
	return c.Install(m)
}

func (c *Container) refreshSystemBindingsLocked() {
	var systems []tick.System
	for _, name := range c.moduleOrder {
		systems = append(systems, c.modules[name].module.Systems()...)
	}
	c.Loop.SetSystems(systems)
}

// ListModules returns installed module names in installation order.
func (c *Container) ListModules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.moduleOrder...)
}

// InstallAI registers an autonomous-actor plugin. It only runs for
// matches whose EnabledAIs names it (see CreateMatch).
func (c *Container) InstallAI(a AI) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := a.Name()
	if _, exists := c.ais[name]; exists {
		return newContainerError(KindPluginLoadFailure, name, "install_ai", "ai already installed")
	}
	c.ais[name] = a
	c.refreshAIBindingsLocked()
	return nil
}

// UninstallAI removes a previously installed AI plugin.
func (c *Container) UninstallAI(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.ais[name]; !ok {
		return newContainerError(KindPluginLoadFailure, name, "uninstall_ai", "ai not installed")
	}
	delete(c.ais, name)
	c.refreshAIBindingsLocked()
	return nil
}

// ListAIs returns every installed AI's name.
func (c *Container) ListAIs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.ais))
	for n := range c.ais {
		names = append(names, n)
	}
	return names
}

// refreshAIBindingsLocked rebuilds the tick loop's AI set: one bound
// tick.AI per (installed AI, match) pair where the match's
// EnabledAIs lists that AI's name, since a single installed AI may
// run concurrently across several matches within one container.
func (c *Container) refreshAIBindingsLocked() {
	var bound []tick.AI
	for _, m := range c.Matches.ListMatches() {
		matchID := m.ID
		for _, aiName := range m.EnabledAIs {
			ai, ok := c.ais[aiName]
			if !ok {
				continue
			}
			bound = append(bound, tick.AI{
				Name: aiName + "@" + matchID,
				Tick: func() error {
					return ai.Tick(&AIContext{
						Store:   c.Store,
						MatchID: matchID,
						EnqueueCommand: func(name, playerID string, params map[string]command.Scalar) error {
							return c.enqueueInternal(matchID, playerID, name, params)
						},
					})
				},
			})
		}
	}
	c.Loop.SetAIs(bound)
}

// AddResource catalogs a plugin-supplied resource blob, returning its
// generated id.
func (c *Container) AddResource(name, resourceType string, data []byte) *Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &Resource{ID: uuid.NewString(), Name: name, Type: resourceType, Bytes: data}
	c.resources[r.ID] = r
	return r
}

// GetResource returns a cataloged resource by id.
func (c *Container) GetResource(id string) (*Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[id]
	if !ok {
		return nil, newContainerError(KindResourceNotFound, id, "get_resource", "resource not found")
	}
	return r, nil
}

// DeleteResource removes a cataloged resource by id.
func (c *Container) DeleteResource(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resources[id]; !ok {
		return newContainerError(KindResourceNotFound, id, "delete_resource", "resource not found")
	}
	delete(c.resources, id)
	return nil
}

// ListResources returns every resource cataloged in this container.
func (c *Container) ListResources() []*Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Resource, 0, len(c.resources))
	for _, r := range c.resources {
		out = append(out, r)
	}
	return out
}

// CreateMatch registers a new match scoped to the given set of already
// installed modules and AIs, and registers it with the snapshot
// engine so its first tick has a cache to populate.
func (c *Container) CreateMatch(id string, enabledModules, enabledAIs []string) (*match.Match, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := c.Matches.GetMatch(id); exists {
		return nil, newContainerError(KindMatchNotFound, id, "create_match", "match id already in use")
	}
	m := &match.Match{ID: id, ContainerID: c.ID, EnabledModules: enabledModules, EnabledAIs: enabledAIs}
	c.Matches.CreateMatch(m)
	c.Snapshots.EnsureMatch(id)

	c.mu.Lock()
	c.refreshAIBindingsLocked()
	c.mu.Unlock()
	return m, nil
}

// DeleteMatch tears a match down: its snapshot cache/history is
// discarded and every Active session in it is abandoned; Disconnected
// sessions for the match are not abandoned here. Entities tagged
// with the match are left for the owning module's own cleanup
// command — deleting a match is a registry operation here, not an
// entity sweep.
func (c *Container) DeleteMatch(id string) error {
	if _, ok := c.Matches.GetMatch(id); !ok {
		return newContainerError(KindMatchNotFound, id, "delete_match", "match not found")
	}
	for _, playerID := range c.Sessions.ActiveForMatch(id) {
		c.Sessions.Abandon(playerID, id)
	}
	c.Matches.DeleteMatch(id)
	c.Snapshots.DropMatch(id)

	c.mu.Lock()
	c.refreshAIBindingsLocked()
	c.mu.Unlock()
	return nil
}

// GetMatch returns a registered match by id.
func (c *Container) GetMatch(id string) (*match.Match, error) {
	m, ok := c.Matches.GetMatch(id)
	if !ok {
		return nil, newContainerError(KindMatchNotFound, id, "get_match", "match not found")
	}
	return m, nil
}

// ListMatches returns every match registered in this container.
func (c *Container) ListMatches() []*match.Match { return c.Matches.ListMatches() }

// CreatePlayer registers a new player identity scoped to this
// container.
func (c *Container) CreatePlayer(id string) *match.Player {
	if id == "" {
		id = uuid.NewString()
	}
	p := &match.Player{ID: id}
	c.Matches.CreatePlayer(p)
	return p
}

// DeletePlayer removes a player identity.
func (c *Container) DeletePlayer(id string) { c.Matches.DeletePlayer(id) }

// ListPlayers returns every player registered in this container.
func (c *Container) ListPlayers() []*match.Player { return c.Matches.ListPlayers() }

// Connect, Disconnect, and Reconnect delegate to the session service,
// the single source of truth for command authority and snapshot
// subscription gating.
func (c *Container) Connect(playerID, matchID string) *session.Session {
	return c.Sessions.Connect(playerID, matchID)
}
func (c *Container) Disconnect(playerID, matchID string) error {
	return c.Sessions.Disconnect(playerID, matchID)
}
func (c *Container) Reconnect(playerID, matchID string) error {
	return c.Sessions.Reconnect(playerID, matchID)
}

// SweepAbandonedSessions transitions every session disconnected past
// the reconnect window to Abandoned, returning how many were swept.
// Meant to be invoked periodically by the manager's cron schedule
// (Open Question: resolved in favor of a periodic sweep rather than
// sweeping lazily on access).
func (c *Container) SweepAbandonedSessions() int {
	return c.Sessions.SweepAbandoned(time.Duration(c.cfg.ReconnectWindowSeconds) * time.Second)
}

// EnqueueCommand validates and admits a client-issued command: the
// player must hold an Active session for the match (spec.md §6's
// command-authority gate), and the command must pass the registry's
// declared-schema validation before it's accepted into the bounded
// queue.
func (c *Container) EnqueueCommand(matchID, playerID, name string, params map[string]command.Scalar) error {
	if !c.Sessions.IsAuthorized(playerID, matchID) {
		return ErrSessionNotAuthorized
	}
	return c.enqueueInternal(matchID, playerID, name, params)
}

// enqueueInternal is EnqueueCommand without the session-authority
// check, used for AI-originated commands (Open Question: AI and
// client commands share one per-tick budget — both funnel through
// this same bounded Queue and the same per-tick drain cap).
func (c *Container) enqueueInternal(matchID, playerID, name string, params map[string]command.Scalar) error {
	if _, err := c.Commands.Validate(name, params); err != nil {
		return err
	}
	return c.Queue.Enqueue(command.Pending{Name: name, MatchID: matchID, PlayerID: playerID, Params: params})
}

// LastCommandMetrics returns the most recently drained tick's
// per-command execution metrics.
func (c *Container) LastCommandMetrics() []command.ExecutionMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]command.ExecutionMetric(nil), c.lastCommandMetrics...)
}

// drainCommands is the tick loop's CommandDrainFunc: it pops up to
// MaxCommandsPerTick queued commands, skipping (with a failure metric)
// any whose match was deleted since enqueue, and dispatches the rest
// through the command registry.
func (c *Container) drainCommands() (int, error) {
	metrics := c.Queue.DrainWith(c.cfg.MaxCommandsPerTick, func(p command.Pending) command.ExecutionMetric {
		if _, ok := c.Matches.GetMatch(p.MatchID); !ok {
			return command.ExecutionMetric{Name: p.Name, Success: false, Err: ErrMatchGone}
		}
		d, ok := c.Commands.Lookup(p.Name)
		start := time.Now()
		var err error
		if !ok {
			err = command.ErrNotFound
		} else if d.Handler != nil {
			err = d.Handler(p.MatchID, p.PlayerID, p.Params)
		}
		return command.ExecutionMetric{
			Name:    p.Name,
			Nanos:   time.Since(start).Nanoseconds(),
			Success: err == nil,
			Err:     err,
		}
	})

	c.mu.Lock()
	c.lastCommandMetrics = metrics
	c.mu.Unlock()
	return len(metrics), nil
}

// updateSnapshots is the tick loop's SnapshotUpdateFunc. It runs
// before the loop's own tick counter increments, so the tick number
// handed to the snapshot engine is one ahead of TickCount() here —
// the number the completing tick will carry once runTick finishes.
func (c *Container) updateSnapshots() {
	dirty := c.Store.DrainDirty()
	c.Snapshots.Update(dirty, c.Loop.TickCount()+1)
}

// SnapshotFor returns the cached, full snapshot for a match.
func (c *Container) SnapshotFor(matchID string) (*snapshot.Snapshot, bool) {
	return c.Snapshots.GetForMatch(matchID)
}

// SnapshotForPlayer returns a player-scoped projection: entities the
// player owns plus any carrying the first installed module's
// public-flag component. A container hosting more than one
// flag-declaring module shares this single flag slot — a documented
// simplification (see DESIGN.md) since spec.md describes one
// visibility flag per container, not per module.
func (c *Container) SnapshotForPlayer(matchID, playerID string) *snapshot.Snapshot {
	return c.Snapshots.GetForMatchAndPlayer(matchID, playerID, c.publicFlag)
}

// Delta computes the difference between two retained ticks of a
// match's snapshot history. A requested tick that has aged out of the
// history ring buffer reports the distinct SnapshotNotInHistory kind
// rather than MatchNotFound — the match itself is still live.
func (c *Container) Delta(matchID string, fromTick, toTick uint64) (snapshot.Delta, error) {
	from, ok := c.Snapshots.GetHistory(matchID, fromTick)
	if !ok {
		return snapshot.Delta{}, newContainerError(KindSnapshotNotInHistory, matchID, "delta", fmt.Sprintf("tick %d not retained", fromTick))
	}
	to, ok := c.Snapshots.GetHistory(matchID, toTick)
	if !ok {
		return snapshot.Delta{}, newContainerError(KindSnapshotNotInHistory, matchID, "delta", fmt.Sprintf("tick %d not retained", toTick))
	}
	return snapshot.ComputeDelta(from, to), nil
}

// Subscribe opens a streaming subscription for a match's snapshots,
// torn down automatically when ctx is cancelled. A scoped subscription
// (playerID non-empty) requires the same Active-session authority as
// EnqueueCommand, per spec.md §4.5.
func (c *Container) Subscribe(ctx context.Context, matchID, playerID string, bufferSize int) (*adapter.Subscription, error) {
	if playerID != "" && !c.Sessions.IsAuthorized(playerID, matchID) {
		return nil, ErrSessionNotAuthorized
	}
	return c.Subscriptions.Subscribe(ctx, c.ID, matchID, playerID, bufferSize), nil
}

// Stats bundles this container's running metrics for the external
// interface surface.
type Stats struct {
	State           State
	Tick            uint64
	EntityCount     int
	QueueLength     int
	RollingMetrics  *tick.RollingMetrics
	SnapshotMetrics snapshot.Metrics
}

// Stats snapshots this container's current operational metrics.
func (c *Container) Stats() Stats {
	return Stats{
		State:           c.State(),
		Tick:            c.Loop.TickCount(),
		EntityCount:     c.Store.EntityCount(),
		QueueLength:     c.Queue.Len(),
		RollingMetrics:  c.Loop.Rolling(),
		SnapshotMetrics: c.Snapshots.MetricsSnapshot(),
	}
}

// tickListener bridges the tick loop's completion hook to this
// container's broadcaster/persistence/subscription collaborators,
// matching spec.md §5's "snapshot streaming and persistence run off
// the critical tick path" requirement: this hook only hands work to
// already-buffered, non-blocking sinks before returning.
type tickListener struct{ c *Container }

func (l *tickListener) OnTickCompleted(tickNum uint64, metric tick.TickMetric, err error) {
	c := l.c
	if err != nil {
		c.Errors.Publish(&adapter.BroadcastError{
			ContainerID: c.ID,
			Tick:        tickNum,
			Kind:        "TickFailure",
			Message:     err.Error(),
			Timestamp:   time.Now(),
		})
		return
	}
	for _, m := range c.Matches.ListMatches() {
		matchID := m.ID
		if snap, ok := c.Snapshots.GetForMatch(matchID); ok {
			c.Subscriptions.Publish(matchID, snap)
		}
		c.Persistence.OnTickCompleted(c.ID, matchID, tickNum, func() (*snapshot.Snapshot, bool) {
			return c.Snapshots.GetForMatch(matchID)
		})
	}
}
