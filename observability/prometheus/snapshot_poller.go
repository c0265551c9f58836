package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-mainthread/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DispatcherSnapshotProvider provides current dispatcher stats snapshots.
type DispatcherSnapshotProvider interface {
	Stats() core.DispatcherStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports dispatcher/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	dispatchersMu sync.RWMutex
	dispatchers   map[string]DispatcherSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	dispatcherPending  *prom.GaugeVec
	dispatcherDrains   *prom.GaugeVec
	dispatcherPanics   *prom.GaugeVec
	dispatcherRejected *prom.GaugeVec
	dispatcherRoutines *prom.GaugeVec
	dispatcherQuitting *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors
// under DefaultNamespace.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	return NewSnapshotPollerWithNamespace(DefaultNamespace, reg, interval)
}

// NewSnapshotPollerWithNamespace is NewSnapshotPoller with an explicit namespace.
func NewSnapshotPollerWithNamespace(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval:    interval,
		dispatchers: make(map[string]DispatcherSnapshotProvider),
		pools:       make(map[string]PoolSnapshotProvider),

		dispatcherPending:  gauge("dispatcher_pending", "Pending items per dispatcher and queue category.", "dispatcher", "category"),
		dispatcherDrains:   gauge("dispatcher_drains", "Dispatcher drain count snapshot.", "dispatcher"),
		dispatcherPanics:   gauge("dispatcher_panics", "Dispatcher recovered panic count snapshot.", "dispatcher"),
		dispatcherRejected: gauge("dispatcher_rejected", "Dispatcher rejected post count snapshot.", "dispatcher"),
		dispatcherRoutines: gauge("dispatcher_active_routines", "Routines being stepped by the dispatcher's driver.", "dispatcher"),
		dispatcherQuitting: gauge("dispatcher_quitting", "Dispatcher quit state (1=quitting, 0=running).", "dispatcher"),

		poolQueued:  gauge("pool_queued", "Queued actions per pool.", "pool"),
		poolActive:  gauge("pool_active", "Active actions per pool.", "pool"),
		poolWorkers: gauge("pool_workers", "Worker count per pool.", "pool"),
		poolRunning: gauge("pool_running", "Pool running state (1=running, 0=stopped).", "pool"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.dispatcherPending, &p.dispatcherDrains, &p.dispatcherPanics,
		&p.dispatcherRejected, &p.dispatcherRoutines, &p.dispatcherQuitting,
		&p.poolQueued, &p.poolActive, &p.poolWorkers, &p.poolRunning,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}

	return p, nil
}

// AddDispatcher adds or replaces a dispatcher snapshot provider by name.
func (p *SnapshotPoller) AddDispatcher(name string, provider DispatcherSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "dispatcher")
	p.dispatchersMu.Lock()
	p.dispatchers[name] = provider
	p.dispatchersMu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

// CollectOnce takes one snapshot of every provider immediately.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) collectOnce() {
	p.dispatchersMu.RLock()
	for name, provider := range p.dispatchers {
		stats := provider.Stats()
		p.dispatcherPending.WithLabelValues(name, core.CategoryLogs).Set(float64(stats.Pending.Logs))
		p.dispatcherPending.WithLabelValues(name, core.CategoryStarts).Set(float64(stats.Pending.Starts))
		p.dispatcherPending.WithLabelValues(name, core.CategoryStops).Set(float64(stats.Pending.Stops))
		p.dispatcherPending.WithLabelValues(name, core.CategoryRoutineTasks).Set(float64(stats.Pending.RoutineTasks))
		p.dispatcherPending.WithLabelValues(name, core.CategoryActions).Set(float64(stats.Pending.Actions))
		p.dispatcherDrains.WithLabelValues(name).Set(float64(stats.Drains))
		p.dispatcherPanics.WithLabelValues(name).Set(float64(stats.Panics))
		p.dispatcherRejected.WithLabelValues(name).Set(float64(stats.Rejected))
		p.dispatcherRoutines.WithLabelValues(name).Set(float64(stats.ActiveRoutines))
		p.dispatcherQuitting.WithLabelValues(name).Set(boolGauge(stats.Quitting))
	}
	p.dispatchersMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.poolsMu.RUnlock()
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
