package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgeloop/internal/core/command"
	"forgeloop/internal/core/ecs"
	"forgeloop/internal/core/tick"
)

const healthType ecs.ComponentType = "health"

// fakeModule is a minimal Module for tests: one component, one system
// that decrements "health" by 1 on every entity in match "m1", and two
// commands: "heal", which sets health on every entity in the match to a
// requested value, and "spawn", which creates an entity in the match.
type fakeModule struct {
	name  string
	store **ecs.Store // filled in by the test so the system closure can reach the live store
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Components() []ecs.ComponentSchema {
	return []ecs.ComponentSchema{{Type: healthType, Fields: []ecs.FieldSchema{{Name: "value", Kind: ecs.FieldInt64}}}}
}

func (m *fakeModule) FlagComponent() (ecs.ComponentSchema, bool) { return ecs.ComponentSchema{}, false }

func (m *fakeModule) Systems() []tick.System {
	return []tick.System{{
		Module: m.name,
		Name:   "decay",
		Run: func(time.Duration) error {
			s := *m.store
			ids := s.EntitiesInMatch("m1")
			for _, id := range ids {
				h, ok := s.HandleFor(id)
				if !ok {
					continue
				}
				c, ok := s.GetComponent(h, healthType)
				if !ok {
					continue
				}
				c.Values[0].I--
				_ = s.AddComponent(h, c)
			}
			return nil
		},
	}}
}

func (m *fakeModule) Commands() []command.Descriptor {
	return []command.Descriptor{
		{
			Name:       "heal",
			Parameters: []command.Parameter{{Name: "amount", Kind: command.ScalarInt64, Required: true}},
			Handler: func(matchID, playerID string, params map[string]command.Scalar) error {
				s := *m.store
				for _, id := range s.EntitiesInMatch(matchID) {
					h, ok := s.HandleFor(id)
					if !ok {
						continue
					}
					_ = s.AddComponent(h, ecs.Component{Type: healthType, Values: []ecs.FieldValue{ecs.Int64Value(params["amount"].I)}})
				}
				return nil
			},
		},
		{
			Name: "spawn",
			Handler: func(matchID, playerID string, params map[string]command.Scalar) error {
				s := *m.store
				h, err := s.CreateEntity()
				if err != nil {
					return err
				}
				return s.SetMatch(h, matchID)
			},
		},
	}
}

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	cfg := DefaultConfig("c1")
	cfg.MaxEntities = 64
	cfg.MaxCommandsPerTick = 8
	return New(cfg, nil)
}

func Test_Container_InstallWiresComponentsAndCommands(t *testing.T) {
	// Arrange
	c := newTestContainer(t)
	m := &fakeModule{name: "vitals", store: &c.Store}

	// Act
	err := c.Install(m)

	// Assert
	require.NoError(t, err)
	assert.Contains(t, c.ListModules(), "vitals")
	assert.Contains(t, c.Commands.Names(), "heal")
}

func Test_Container_EnqueueCommandRequiresActiveSession(t *testing.T) {
	// Arrange
	c := newTestContainer(t)
	m := &fakeModule{name: "vitals", store: &c.Store}
	require.NoError(t, c.Install(m))
	_, err := c.CreateMatch("m1", []string{"vitals"}, nil)
	require.NoError(t, err)

	// Act
	err = c.EnqueueCommand("m1", "p1", "heal", map[string]command.Scalar{"amount": command.Int64Value(10)})

	// Assert
	assert.ErrorIs(t, err, ErrSessionNotAuthorized)
}

func Test_Container_SubscribeRequiresActiveSessionWhenPlayerScoped(t *testing.T) {
	// Arrange
	c := newTestContainer(t)
	_, err := c.CreateMatch("m1", nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Act
	sub, err := c.Subscribe(ctx, "m1", "p1", 4)

	// Assert
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, ErrSessionNotAuthorized)
}

func Test_Container_AdvanceDrainsCommandsAndUpdatesSnapshot(t *testing.T) {
	// Arrange
	c := newTestContainer(t)
	m := &fakeModule{name: "vitals", store: &c.Store}
	require.NoError(t, c.Install(m))
	_, err := c.CreateMatch("m1", []string{"vitals"}, nil)
	require.NoError(t, err)
	c.Connect("p1", "m1")

	h, err := c.Store.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, c.Store.SetMatch(h, "m1"))
	require.NoError(t, c.Store.SetOwner(h, "p1"))
	require.NoError(t, c.Store.AddComponent(h, ecs.Component{Type: healthType, Values: []ecs.FieldValue{ecs.Int64Value(5)}}))

	require.NoError(t, c.EnqueueCommand("m1", "p1", "heal", map[string]command.Scalar{"amount": command.Int64Value(99)}))
	require.NoError(t, c.Start())

	// Act
	metric, err := c.Advance()

	// Assert
	require.NoError(t, err)
	assert.False(t, metric.Overrun)
	metrics := c.LastCommandMetrics()
	require.Len(t, metrics, 1)
	assert.True(t, metrics[0].Success)

	comp, ok := c.Store.GetComponent(h, healthType)
	require.True(t, ok)
	assert.Equal(t, int64(98), comp.Values[0].I) // healed to 99, then decayed by the system

	snap, ok := c.SnapshotFor("m1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Tick)
}

func Test_Container_DrainSkipsCommandsForDeletedMatch(t *testing.T) {
	// Arrange
	c := newTestContainer(t)
	m := &fakeModule{name: "vitals", store: &c.Store}
	require.NoError(t, c.Install(m))
	_, err := c.CreateMatch("m1", []string{"vitals"}, nil)
	require.NoError(t, err)
	c.Connect("p1", "m1")
	require.NoError(t, c.EnqueueCommand("m1", "p1", "heal", map[string]command.Scalar{"amount": command.Int64Value(1)}))

	require.NoError(t, c.DeleteMatch("m1"))
	require.NoError(t, c.Start())

	// Act
	_, err = c.Advance()

	// Assert
	require.NoError(t, err)
	metrics := c.LastCommandMetrics()
	require.Len(t, metrics, 1)
	assert.False(t, metrics[0].Success)
	assert.ErrorIs(t, metrics[0].Err, ErrMatchGone)
}

func Test_Container_DeltaComputesBetweenHistoryTicks(t *testing.T) {
	// Arrange
	c := newTestContainer(t)
	m := &fakeModule{name: "vitals", store: &c.Store}
	require.NoError(t, c.Install(m))
	_, err := c.CreateMatch("m1", []string{"vitals"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	_, err = c.Advance()
	require.NoError(t, err)

	h, err := c.Store.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, c.Store.SetMatch(h, "m1"))
	require.NoError(t, c.Store.AddComponent(h, ecs.Component{Type: healthType, Values: []ecs.FieldValue{ecs.Int64Value(3)}}))

	_, err = c.Advance()
	require.NoError(t, err)

	// Act
	delta, err := c.Delta("m1", 1, 2)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []ecs.EntityID{h.ID}, delta.AddedEntities)
}

func Test_Container_SubscriptionReceivesPublishedSnapshot(t *testing.T) {
	// Arrange
	c := newTestContainer(t)
	_, err := c.CreateMatch("m1", nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := c.Subscribe(ctx, "m1", "", 4)
	require.NoError(t, err)

	// Act
	_, err = c.Advance()
	require.NoError(t, err)

	// Assert
	select {
	case snap := <-sub.Stream():
		assert.Equal(t, "m1", snap.MatchID)
	case <-time.After(time.Second):
		t.Fatal("expected a published snapshot")
	}
}

func Test_Container_InvalidLifecycleTransitionIsWrapped(t *testing.T) {
	// Arrange
	c := newTestContainer(t)

	// Act
	_, err := c.Advance() // not started yet

	// Assert
	var cerr *ContainerError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindInvalidLifecycleTransition, cerr.Kind)
}

func Test_Container_SpawningPastMaxEntities_ReportsCapacityExceeded(t *testing.T) {
	// Arrange
	cfg := DefaultConfig("c1")
	cfg.MaxEntities = 2
	cfg.MaxCommandsPerTick = 8
	c := New(cfg, nil)
	m := &fakeModule{name: "vitals", store: &c.Store}
	require.NoError(t, c.Install(m))
	_, err := c.CreateMatch("m1", []string{"vitals"}, nil)
	require.NoError(t, err)
	c.Connect("p1", "m1")

	for i := 0; i < 3; i++ {
		require.NoError(t, c.EnqueueCommand("m1", "p1", "spawn", nil))
	}
	require.NoError(t, c.Start())

	// Act
	_, err = c.Advance()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, c.Store.EntityCount())
	metrics := c.LastCommandMetrics()
	require.Len(t, metrics, 3)
	failures := 0
	for _, metric := range metrics {
		if !metric.Success {
			failures++
			var ecsErr *ecs.ECSError
			require.ErrorAs(t, metric.Err, &ecsErr)
			assert.Equal(t, ecs.ErrCapacityExceeded, ecsErr.Code)
		}
	}
	assert.Equal(t, 1, failures)
}

func Test_Container_TwoContainersAreIsolated(t *testing.T) {
	// Arrange
	x := newTestContainer(t)
	y := newTestContainer(t)

	mx := &fakeModule{name: "vitals", store: &x.Store}
	my := &fakeModule{name: "vitals", store: &y.Store}
	require.NoError(t, x.Install(mx))
	require.NoError(t, y.Install(my))

	_, err := x.CreateMatch("m1", []string{"vitals"}, nil)
	require.NoError(t, err)
	_, err = y.CreateMatch("m1", []string{"vitals"}, nil)
	require.NoError(t, err)

	h, err := x.Store.CreateEntity()
	require.NoError(t, err)
	require.NoError(t, x.Store.SetMatch(h, "m1"))

	require.NoError(t, x.Start())
	require.NoError(t, y.Start())

	// Act
	_, err = x.Advance()
	require.NoError(t, err)
	_, err = y.Advance()
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, x.Store.EntityCount())
	assert.Equal(t, 0, y.Store.EntityCount())

	xSnap, ok := x.SnapshotFor("m1")
	require.True(t, ok)
	assert.Len(t, xSnap.EntityIDs, 1)

	ySnap, ok := y.SnapshotFor("m1")
	require.True(t, ok)
	assert.Empty(t, ySnap.EntityIDs)
}
