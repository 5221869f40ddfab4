package lattice

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ashgrove/latticerun/internal/gradient"
	"github.com/ashgrove/latticerun/internal/logging"
	"github.com/ashgrove/latticerun/internal/model"
	"github.com/ashgrove/latticerun/internal/msgbus"
	"github.com/ashgrove/latticerun/internal/region"
	"github.com/ashgrove/latticerun/internal/worker"
)

// Lattice is the L x W thread pool: a grid of worker threads with per-layer
// and whole-pool barriers, a shared message fabric, and a gradient
// accumulator. Create builds the grid; Start spawns OS threads; Stop joins
// them; the pool cannot be restarted once stopped.
type Lattice struct {
	cfg Config

	workers   [][]*worker.Worker // [layer][position]
	layerBars []*barrier
	globalBar *barrier

	global    *region.Region
	fabric    *msgbus.System
	accum     []*gradient.Accumulator // one per layer, since layers can run backward concurrently
	metrics   *Metrics
	logger    *logging.Logger
	callbacks *model.CallbackTable

	group  *errgroup.Group
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// Create allocates the L x W grid of workers, the layer and global
// barriers, and the shared message and gradient infrastructure. It does
// not start any OS thread; call Start for that.
func Create(cfg Config, callbacks *model.CallbackTable) (*Lattice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !model.Validate(callbacks) {
		return nil, NewError("lattice.create", KindInvalidArgument, "callback table missing required functions")
	}

	metrics := NewMetrics()
	logger := logging.Default()

	global := region.Create(cfg.ActivationBytes*cfg.PositionsPerLayer, region.CopyOnWrite, "global")
	fabric := msgbus.NewSystem(cfg.MaxChannels, cfg.MessagePoolSize, true, NewMetricsObserver(metrics))

	sliceLen := cfg.GradientSliceBytes / 8
	accum := make([]*gradient.Accumulator, cfg.Layers)
	for layer := range accum {
		accum[layer] = gradient.NewAccumulator(cfg.PositionsPerLayer, sliceLen, cfg.ReductionPolicy, cfg.MaxNorm)
	}

	l := &Lattice{
		cfg:       cfg,
		workers:   make([][]*worker.Worker, cfg.Layers),
		layerBars: make([]*barrier, cfg.Layers),
		globalBar: newBarrier(cfg.Layers * cfg.PositionsPerLayer),
		global:    global,
		fabric:    fabric,
		accum:     accum,
		metrics:   metrics,
		logger:    logger,
		callbacks: callbacks,
	}

	var cpus []int
	if cfg.NUMAHint {
		cpus = make([]int, runtime.NumCPU())
		for i := range cpus {
			cpus[i] = i
		}
	}

	for layer := 0; layer < cfg.Layers; layer++ {
		l.layerBars[layer] = newBarrier(cfg.PositionsPerLayer)
		row := make([]*worker.Worker, cfg.PositionsPerLayer)
		for pos := 0; pos < cfg.PositionsPerLayer; pos++ {
			id := ThreadID{Layer: layer, Position: pos}
			w := worker.New(id, cfg.ActivationBytes, accum[layer], pos, callbacks, logger, metrics)
			if len(cpus) > 0 {
				w.SetCPUAffinity(cpus)
			}
			layerBar := l.layerBars[layer]
			w.SetLayerSync(layerBar.Wait)
			w.SetGlobalSync(l.globalBar.Wait)
			row[pos] = w
		}
		l.workers[layer] = row
	}

	// Wire a shared copy-on-write boundary region between each worker and
	// its same-position counterpart in the next layer, so a forward pass
	// can hand its output to the next layer without a message-fabric
	// round trip. Both sides get the same *region.Region instance.
	for layer := 0; layer < cfg.Layers-1; layer++ {
		for pos := 0; pos < cfg.PositionsPerLayer; pos++ {
			upper := ThreadID{Layer: layer, Position: pos}
			lower := ThreadID{Layer: layer + 1, Position: pos}
			boundary := region.Create(cfg.ActivationBytes, region.CopyOnWrite, upper.String()+"->"+lower.String())
			l.workers[layer][pos].SetNeighbor(lower, boundary)
			l.workers[layer+1][pos].SetNeighbor(upper, boundary)
		}
	}

	return l, nil
}

// GetThread returns the worker at (l, p), a constant-time array lookup.
// It returns nil if the coordinate is out of range.
func (l *Lattice) GetThread(layer, position int) *worker.Worker {
	if layer < 0 || layer >= len(l.workers) {
		return nil
	}
	row := l.workers[layer]
	if position < 0 || position >= len(row) {
		return nil
	}
	return row[position]
}

// Fabric returns the pool's message-passing system.
func (l *Lattice) Fabric() *msgbus.System { return l.fabric }

// GlobalRegion returns the shared memory region spanning the whole pool.
func (l *Lattice) GlobalRegion() *region.Region { return l.global }

// Accumulator returns the gradient accumulator for layer.
func (l *Lattice) Accumulator(layer int) *gradient.Accumulator { return l.accum[layer] }

// BeginStep zeros every worker's gradient slice in layer. Callers should
// call this before enqueuing a step's work items whenever the step might
// not dispatch backward to every position in the layer: a worker's own
// zero-before-write in runBackward only protects the positions that
// actually run, not the ones sitting the step out.
func (l *Lattice) BeginStep(layer int) {
	l.accum[layer].ZeroAll()
}

// Metrics returns the pool's metrics.
func (l *Lattice) Metrics() *Metrics { return l.metrics }

// SyncLayer blocks until every worker in layer has called SyncLayer for
// the current round, then releases all of them.
func (l *Lattice) SyncLayer(layer int) {
	l.layerBars[layer].Wait()
}

// SyncAll blocks until every worker in the pool has called SyncAll for
// the current round, then releases all of them.
func (l *Lattice) SyncAll() {
	l.globalBar.Wait()
}

// Start spawns one goroutine (pinned to its own OS thread, see
// worker.Worker.Run) per worker and is idempotent: a second call is a
// no-op while the pool is already running.
func (l *Lattice) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	l.group = g
	l.mu.Unlock()

	for _, row := range l.workers {
		for _, w := range row {
			w := w
			g.Go(func() error {
				return w.Run(gctx)
			})
		}
	}
	return nil
}

// Stop signals every worker to finish its current item and exit, then
// joins all of them. It is idempotent. After Stop returns, the pool
// cannot be restarted; create a new one instead.
func (l *Lattice) Stop() error {
	l.mu.Lock()
	if l.stopped || !l.started {
		l.stopped = true
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	group := l.group
	cancel := l.cancel
	l.mu.Unlock()

	for _, row := range l.workers {
		for _, w := range row {
			w.Stop()
		}
	}
	if cancel != nil {
		cancel()
	}
	if group != nil {
		return group.Wait()
	}
	return nil
}

// Free releases the pool's shared resources. If the pool was started and
// not yet stopped, Free stops it first. If the bound callback table
// supplies Cleanup, it runs last, after every worker has exited.
func (l *Lattice) Free() error {
	if err := l.Stop(); err != nil {
		return err
	}
	l.global.Free()
	l.metrics.Stop()
	if l.callbacks.Cleanup != nil {
		l.callbacks.Cleanup(nil)
	}
	return nil
}
