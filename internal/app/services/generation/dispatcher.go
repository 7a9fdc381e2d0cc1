package generation

import (
	"context"
	"sync"
	"time"

	"github.com/storyloft/studio_layer/internal/app/system"
	"github.com/storyloft/studio_layer/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// Dispatcher periodically claims PENDING jobs and runs them through their
// provider. One dispatcher per process; claiming is ordered by creation time.
type Dispatcher struct {
	service  *Service
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDispatcher constructs a lifecycle-managed job dispatcher.
func NewDispatcher(service *Service, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("generation-dispatcher")
	}
	return &Dispatcher{
		service:  service,
		log:      log,
		interval: 2 * time.Second,
	}
}

// WithInterval overrides the polling interval. Call before Start.
func (d *Dispatcher) WithInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

func (d *Dispatcher) Name() string { return "generation-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()
	return nil
}

func (d *Dispatcher) Stop(_ context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// tick claims and processes every pending job once. Exported to tests via
// Tick.
func (d *Dispatcher) tick(ctx context.Context) {
	pending, err := d.service.store.ListPendingJobs(ctx)
	if err != nil {
		d.log.WithError(err).Warn("list pending jobs")
		return
	}
	for _, j := range pending {
		if ctx.Err() != nil {
			return
		}
		d.service.process(ctx, j)
	}
}

// Tick runs one dispatch pass synchronously. Intended for tests.
func (d *Dispatcher) Tick(ctx context.Context) { d.tick(ctx) }
