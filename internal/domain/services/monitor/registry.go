package monitor

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/etrid/flarebridge/internal/domain/entities"
	apperrors "github.com/etrid/flarebridge/internal/domain/errors"
)

// Registry supervises the monitor fleet. Monitors are registered once at
// startup and addressed by chain name afterwards.
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
	order    []string
	fatalCh  chan FatalEvent
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. FatalErrors drains the shared
// escalation channel every registered monitor reports on.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		monitors: make(map[string]*Monitor),
		fatalCh:  make(chan FatalEvent, 16),
		logger:   logger,
	}
}

// FatalChannel is handed to monitors at construction time
func (r *Registry) FatalChannel() chan<- FatalEvent {
	return r.fatalCh
}

// FatalErrors exposes terminal monitor failures to the supervisor
func (r *Registry) FatalErrors() <-chan FatalEvent {
	return r.fatalCh
}

// Add registers a monitor under its chain name
func (r *Registry) Add(m *Monitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := m.Chain()
	if _, exists := r.monitors[name]; exists {
		return apperrors.ConflictError("monitor", name)
	}
	r.monitors[name] = m
	r.order = append(r.order, name)
	return nil
}

// Start launches every registered monitor. A chain that fails to start stops
// the ones already running and aborts, so the process never comes up half
// wired.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	var started []*Monitor
	for _, name := range order {
		m := r.get(name)
		if err := m.Start(ctx); err != nil {
			r.logger.Error("monitor failed to start",
				zap.String("chain", name),
				zap.Error(err))
			for _, s := range started {
				s.Stop()
			}
			return err
		}
		started = append(started, m)
	}

	r.logger.Info("monitor fleet started", zap.Int("chains", len(order)))
	return nil
}

// Stop shuts every monitor down in parallel and waits for all of them
func (r *Registry) Stop() {
	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *Monitor) {
			defer wg.Done()
			m.Stop()
		}(m)
	}
	wg.Wait()
	r.logger.Info("monitor fleet stopped")
}

// Get returns the monitor for a chain
func (r *Registry) Get(chainName string) (*Monitor, error) {
	m := r.get(chainName)
	if m == nil {
		return nil, apperrors.NotFoundError("monitor")
	}
	return m, nil
}

// Pause suspends processing for one chain
func (r *Registry) Pause(chainName string) error {
	m, err := r.Get(chainName)
	if err != nil {
		return err
	}
	return m.Pause()
}

// Resume restarts processing for one chain
func (r *Registry) Resume(chainName string) error {
	m, err := r.Get(chainName)
	if err != nil {
		return err
	}
	return m.Resume()
}

// Health snapshots every monitor, ordered by chain name
func (r *Registry) Health() []entities.MonitorHealth {
	r.mu.RLock()
	monitors := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.RUnlock()

	health := make([]entities.MonitorHealth, 0, len(monitors))
	for _, m := range monitors {
		health = append(health, m.GetStatus())
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Chain < health[j].Chain })
	return health
}

func (r *Registry) get(chainName string) *Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.monitors[chainName]
}
