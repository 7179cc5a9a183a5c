package container

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"forgeloop/pkg/logger"
)

// defaultConcurrentLifecycleOps bounds how many containers may be
// concurrently starting or stopping at once under one Manager, so a
// fleet-wide StartAll/StopAll can't stampede the host with thousands
// of simultaneous goroutines each allocating a store.
const defaultConcurrentLifecycleOps = 8

// Manager multiplexes many Containers, one per tenant, under a single
// id-keyed registry. It owns no simulation state itself — every piece
// of per-tenant isolation lives on the Container it hands out.
type Manager struct {
	mu         sync.RWMutex
	containers map[string]*Container
	log        *logger.Logger
	sem        *semaphore.Weighted
}

// NewManager creates an empty manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Manager{
		containers: make(map[string]*Container),
		log:        log,
		sem:        semaphore.NewWeighted(defaultConcurrentLifecycleOps),
	}
}

// Create allocates a new container under cfg and registers it.
func (mgr *Manager) Create(cfg Config) (*Container, error) {
	c := New(cfg, mgr.log)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if _, exists := mgr.containers[c.ID]; exists {
		return nil, newContainerError(KindPluginLoadFailure, c.ID, "create", "container id already in use")
	}
	mgr.containers[c.ID] = c
	return c, nil
}

// Get returns a registered container by id.
func (mgr *Manager) Get(id string) (*Container, error) {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	c, ok := mgr.containers[id]
	if !ok {
		return nil, newContainerError(KindContainerNotFound, id, "get", "container not found")
	}
	return c, nil
}

// List returns every registered container.
func (mgr *Manager) List() []*Container {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]*Container, 0, len(mgr.containers))
	for _, c := range mgr.containers {
		out = append(out, c)
	}
	return out
}

// Delete stops a container (if not already stopped) and removes it
// from the registry. The stop is bounded by the manager's lifecycle
// semaphore alongside every other concurrent start/stop.
func (mgr *Manager) Delete(ctx context.Context, id string) error {
	c, err := mgr.Get(id)
	if err != nil {
		return err
	}
	if err := mgr.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer mgr.sem.Release(1)

	if c.State() != Stopped {
		if err := c.Stop(); err != nil {
			return err
		}
	}

	mgr.mu.Lock()
	delete(mgr.containers, id)
	mgr.mu.Unlock()
	return nil
}

// StartAll starts every Created container concurrently, bounded by
// the manager's semaphore, and aborts on the first failure via
// errgroup — a host restoring many containers at once wants to know
// immediately if one of them can't come up.
func (mgr *Manager) StartAll(ctx context.Context) error {
	containers := mgr.List()
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range containers {
		c := c
		g.Go(func() error {
			if err := mgr.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer mgr.sem.Release(1)
			if c.State() != Created {
				return nil
			}
			return c.Start()
		})
	}
	return g.Wait()
}

// StopAll tears down every non-stopped container concurrently, bounded
// the same way. Unlike StartAll it keeps going on a per-container
// failure — a best-effort shutdown — and returns every error collected.
func (mgr *Manager) StopAll(ctx context.Context) []error {
	containers := mgr.List()
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup

	for _, c := range containers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgr.sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			defer mgr.sem.Release(1)

			if c.State() == Stopped {
				return
			}
			if err := c.Stop(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// SweepAbandoned runs every container's abandoned-session sweep once.
// Intended to be invoked periodically by a robfig/cron schedule (see
// cmd/enginectl), resolving the spec's open question in favor of a
// host-driven periodic sweep rather than lazy sweep-on-access.
func (mgr *Manager) SweepAbandoned() int {
	total := 0
	for _, c := range mgr.List() {
		total += c.SweepAbandonedSessions()
	}
	return total
}
