package tick

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	ticks []uint64
	errs  []error
}

func (r *recordingListener) OnTickCompleted(tick uint64, metric TickMetric, err error) {
	r.ticks = append(r.ticks, tick)
	r.errs = append(r.errs, err)
}

func Test_Loop_Advance_FailsBeforeStart(t *testing.T) {
	// Arrange
	l := NewLoop(Config{AutoHalt: true})

	// Act
	_, err := l.Advance()

	// Assert
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func Test_Loop_Advance_RunsPhasesInOrderAndIncrementsTick(t *testing.T) {
	// Arrange
	var order []string
	l := NewLoop(Config{AutoHalt: true})
	require.NoError(t, l.Start())
	l.SetCommandDrain(func() (int, error) {
		order = append(order, "drain")
		return 0, nil
	})
	l.SetSystems([]System{{Name: "move", Run: func(time.Duration) error {
		order = append(order, "system")
		return nil
	}}})
	l.SetAIs([]AI{{Name: "bot", Tick: func() error {
		order = append(order, "ai")
		return nil
	}}})
	l.SetSnapshotUpdate(func() { order = append(order, "snapshot") })

	// Act
	metric, err := l.Advance()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"drain", "system", "ai", "snapshot"}, order)
	assert.Equal(t, uint64(1), l.TickCount())
	assert.Greater(t, metric.NanosTotal, int64(0))
}

func Test_Loop_Advance_SystemFailureHaltsAndPausesWhenAutoHalt(t *testing.T) {
	// Arrange
	l := NewLoop(Config{AutoHalt: true})
	require.NoError(t, l.Start())
	l.SetSystems([]System{{Name: "poison", Run: func(time.Duration) error {
		return errors.New("boom")
	}}})

	// Act
	_, err := l.Advance()

	// Assert
	require.Error(t, err)
	assert.Equal(t, Paused, l.State())
	assert.Equal(t, uint64(0), l.TickCount())
}

func Test_Loop_Advance_SystemFailureNonFatalWhenAutoHaltDisabled(t *testing.T) {
	// Arrange
	l := NewLoop(Config{AutoHalt: false})
	require.NoError(t, l.Start())
	l.SetSystems([]System{{Name: "poison", Run: func(time.Duration) error {
		return errors.New("boom")
	}}})

	// Act
	_, err := l.Advance()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, Running, l.State())
	assert.Equal(t, uint64(1), l.TickCount())
}

func Test_Loop_Advance_NotifiesListenersOnSuccess(t *testing.T) {
	// Arrange
	l := NewLoop(Config{AutoHalt: true})
	require.NoError(t, l.Start())
	rec := &recordingListener{}
	l.AddListener(rec)

	// Act
	_, err := l.Advance()

	// Assert
	require.NoError(t, err)
	require.Len(t, rec.ticks, 1)
	assert.Equal(t, uint64(1), rec.ticks[0])
	assert.Nil(t, rec.errs[0])
}

func Test_Loop_PauseResume_PreservesTickCount(t *testing.T) {
	// Arrange
	l := NewLoop(Config{AutoHalt: true})
	require.NoError(t, l.Start())
	_, err := l.Advance()
	require.NoError(t, err)

	// Act
	require.NoError(t, l.Pause())
	require.NoError(t, l.Resume())
	_, err = l.Advance()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint64(2), l.TickCount())
}

func Test_Loop_Stop_FromRunningSucceedsAndTransitionsTerminal(t *testing.T) {
	// Arrange
	l := NewLoop(Config{})
	require.NoError(t, l.Start())

	// Act
	err := l.Stop()

	// Assert
	require.NoError(t, err)
	assert.Equal(t, Stopped, l.State())
}

func Test_Loop_Stop_Twice_FailsSecondTime(t *testing.T) {
	// Arrange
	l := NewLoop(Config{})
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())

	// Act
	err := l.Stop()

	// Assert
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func Test_Loop_Play_AutoAdvancesUntilStopAuto(t *testing.T) {
	// Arrange
	l := NewLoop(Config{AutoHalt: true})
	require.NoError(t, l.Start())

	// Act
	require.NoError(t, l.Play(10 * time.Millisecond))
	time.Sleep(55 * time.Millisecond)
	require.NoError(t, l.StopAuto())

	// Assert
	assert.GreaterOrEqual(t, l.TickCount(), uint64(3))
	assert.Equal(t, Running, l.State())
}
