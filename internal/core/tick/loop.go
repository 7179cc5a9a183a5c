package tick

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTransition is returned for any lifecycle operation illegal
// in the loop's current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// InvalidTransitionError names the attempted operation and current state.
type InvalidTransitionError struct {
	Op    string
	State State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid from state %s", e.Op, e.State)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Listener is notified after every tick that completes (successfully
// or not), mirroring the persistence/broadcast listener contract.
type Listener interface {
	OnTickCompleted(tick uint64, metric TickMetric, err error)
}

// Config bounds one loop's execution.
type Config struct {
	MaxCommandsPerTick int
	TickBudget         time.Duration
	AutoHalt           bool
	MetricsWindow      int
}

// Loop drives CommandDrain -> SystemsRun -> AIRun -> SnapshotUpdate ->
// TickFinalize for one container, single-threaded-cooperative per
// spec.md §5.
type Loop struct {
	mu    sync.Mutex
	state State
	tick  uint64

	cfg            Config
	systems        []System
	ais            []AI
	commandDrain   CommandDrainFunc
	snapshotUpdate SnapshotUpdateFunc
	listeners      []Listener
	rolling        *RollingMetrics

	autoTimer  *time.Ticker
	autoStopCh chan struct{}
	autoWG     sync.WaitGroup
}

// NewLoop creates a tick loop in the Idle state.
func NewLoop(cfg Config) *Loop {
	return &Loop{
		state:   Idle,
		cfg:     cfg,
		rolling: NewRollingMetrics(cfg.MetricsWindow),
	}
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) TickCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// AddListener registers a tick-completion listener (persistence,
// broadcaster). Must return quickly — it runs on the tick worker.
func (l *Loop) AddListener(ls Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, ls)
}

// SetSystems installs the module-declared systems in
// installation-then-declaration order.
func (l *Loop) SetSystems(systems []System) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.systems = systems
}

// SetAIs installs the AI producers.
func (l *Loop) SetAIs(ais []AI) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ais = ais
}

// SetCommandDrain wires the command-pipeline drain callback.
func (l *Loop) SetCommandDrain(fn CommandDrainFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commandDrain = fn
}

// SetSnapshotUpdate wires the snapshot-engine update callback.
func (l *Loop) SetSnapshotUpdate(fn SnapshotUpdateFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshotUpdate = fn
}

// Start transitions Idle -> Running, allocating nothing itself (the
// container allocates the store/plugins before calling Start).
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Idle {
		return &InvalidTransitionError{Op: "start", State: l.state}
	}
	l.state = Running
	return nil
}

// Advance performs exactly one tick. Legal from Running, Playing, or
// Paused (manual single-step while paused).
func (l *Loop) Advance() (TickMetric, error) {
	l.mu.Lock()
	if l.state != Running && l.state != Playing && l.state != Paused {
		state := l.state
		l.mu.Unlock()
		return TickMetric{}, &InvalidTransitionError{Op: "advance", State: state}
	}
	l.mu.Unlock()

	return l.runTick()
}

func (l *Loop) runTick() (TickMetric, error) {
	start := time.Now()
	metric := TickMetric{NanosPerSystem: make(map[string]int64), NanosPerAI: make(map[string]int64)}

	if l.commandDrain != nil {
		if _, err := l.commandDrain(); err != nil {
			return l.finalizeFailure(metric, err)
		}
	}

	l.mu.Lock()
	systems := append([]System(nil), l.systems...)
	ais := append([]AI(nil), l.ais...)
	l.mu.Unlock()

	for _, sys := range systems {
		sysStart := time.Now()
		err := sys.Run(l.cfg.TickBudget)
		metric.NanosPerSystem[sys.Name] = time.Since(sysStart).Nanoseconds()
		if err != nil {
			failure := &SystemFailure{System: sys.Name, Cause: err}
			if l.cfg.AutoHalt {
				return l.finalizeFailure(metric, failure)
			}
		}
	}

	for _, ai := range ais {
		aiStart := time.Now()
		err := ai.Tick()
		metric.NanosPerAI[ai.Name] = time.Since(aiStart).Nanoseconds()
		if err != nil {
			failure := &AIFailure{AI: ai.Name, Cause: err}
			if l.cfg.AutoHalt {
				return l.finalizeFailure(metric, failure)
			}
		}
	}

	if l.snapshotUpdate != nil {
		l.snapshotUpdate()
	}

	l.mu.Lock()
	l.tick++
	tickNow := l.tick
	l.mu.Unlock()

	metric.NanosTotal = time.Since(start).Nanoseconds()
	if l.cfg.TickBudget > 0 && time.Duration(metric.NanosTotal) > l.cfg.TickBudget {
		metric.Overrun = true
	}
	l.rolling.record(metric.NanosTotal)

	l.notifyListeners(tickNow, metric, nil)
	return metric, nil
}

// finalizeFailure implements spec.md §4.3's failure semantics: the
// tick aborts at the failing phase, the counter does not advance, and
// the loop transitions to Paused awaiting operator intervention.
func (l *Loop) finalizeFailure(metric TickMetric, err error) (TickMetric, error) {
	metric.NanosTotal = 0
	l.mu.Lock()
	l.state = Paused
	tickNow := l.tick
	l.mu.Unlock()

	l.notifyListeners(tickNow, metric, err)
	return metric, err
}

func (l *Loop) notifyListeners(tick uint64, metric TickMetric, err error) {
	l.mu.Lock()
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()
	for _, ls := range listeners {
		ls.OnTickCompleted(tick, metric, err)
	}
}

// Play installs a wall-clock timer that calls Advance every interval,
// transitioning to Playing. Legal from Running or Paused.
func (l *Loop) Play(interval time.Duration) error {
	l.mu.Lock()
	if l.state != Running && l.state != Paused {
		state := l.state
		l.mu.Unlock()
		return &InvalidTransitionError{Op: "play", State: state}
	}
	l.state = Playing
	l.autoTimer = time.NewTicker(interval)
	l.autoStopCh = make(chan struct{})
	timer := l.autoTimer
	stopCh := l.autoStopCh
	l.mu.Unlock()

	l.autoWG.Add(1)
	go func() {
		defer l.autoWG.Done()
		owed := 0
		for {
			select {
			case <-timer.C:
				owed++
				if owed > 1 {
					owed = 1 // deeper overruns drop ticks past the one owed
				}
				for owed > 0 {
					l.mu.Lock()
					playing := l.state == Playing
					l.mu.Unlock()
					if !playing {
						owed = 0
						break
					}
					if _, err := l.runTick(); err != nil {
						owed = 0
						break
					}
					owed--
				}
			case <-stopCh:
				return
			}
		}
	}()
	return nil
}

// StopAuto cancels the auto-advance timer, transitioning Playing -> Running.
func (l *Loop) StopAuto() error {
	l.mu.Lock()
	if l.state != Playing {
		state := l.state
		l.mu.Unlock()
		return &InvalidTransitionError{Op: "stop_auto", State: state}
	}
	timer := l.autoTimer
	stopCh := l.autoStopCh
	l.state = Running
	l.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if stopCh != nil {
		close(stopCh)
	}
	l.autoWG.Wait()
	return nil
}

// Pause suspends the auto-advance timer (if any) while preserving tick
// count, transitioning Running or Playing -> Paused.
func (l *Loop) Pause() error {
	l.mu.Lock()
	wasPlaying := l.state == Playing
	if l.state != Running && l.state != Playing {
		state := l.state
		l.mu.Unlock()
		return &InvalidTransitionError{Op: "pause", State: state}
	}
	timer := l.autoTimer
	stopCh := l.autoStopCh
	l.state = Paused
	l.mu.Unlock()

	if wasPlaying {
		if timer != nil {
			timer.Stop()
		}
		if stopCh != nil {
			close(stopCh)
		}
		l.autoWG.Wait()
	}
	return nil
}

// Resume returns a Paused loop to Running.
func (l *Loop) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Paused {
		return &InvalidTransitionError{Op: "resume", State: l.state}
	}
	l.state = Running
	return nil
}

// Stop tears the loop down from any non-terminal state, cancelling any
// running timer; terminal, preceding container deletion.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if l.state == Stopped {
		l.mu.Unlock()
		return &InvalidTransitionError{Op: "stop", State: l.state}
	}
	wasPlaying := l.state == Playing
	timer := l.autoTimer
	stopCh := l.autoStopCh
	l.state = Stopped
	l.mu.Unlock()

	if wasPlaying {
		if timer != nil {
			timer.Stop()
		}
		if stopCh != nil {
			close(stopCh)
		}
		l.autoWG.Wait()
	}
	return nil
}

// Rolling returns the loop's rolling tick-timing metrics.
func (l *Loop) Rolling() *RollingMetrics {
	return l.rolling
}

// ResetTickMetrics clears the rolling metrics window.
func (l *Loop) ResetTickMetrics() {
	l.rolling.Reset()
}
