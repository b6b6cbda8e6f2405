package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

var (
	// ErrReclaimerAlreadyRunning is returned when trying to start an already running reclaimer
	ErrReclaimerAlreadyRunning = errors.New("reclaimer already running")
)

// DefaultReclaimInterval is the default interval between reclaim sweeps
const DefaultReclaimInterval = 5 * time.Minute

// Reclaimer periodically expires processing locks whose holders died without
// releasing them, so stuck products become analyzable again.
type Reclaimer struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewReclaimer creates a new lock reclaimer
func NewReclaimer(coordinator *Coordinator, interval time.Duration, logger ectologger.Logger) *Reclaimer {
	if interval <= 0 {
		interval = DefaultReclaimInterval
	}

	return &Reclaimer{
		coordinator: coordinator,
		interval:    interval,
		logger:      logger,
		stopCh:      make(chan struct{}),
		stoppedC:    make(chan struct{}),
	}
}

// Start starts the reclaimer
func (r *Reclaimer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrReclaimerAlreadyRunning
	}
	r.running = true
	r.mu.Unlock()

	r.logger.WithContext(ctx).Infof("Starting lock reclaimer: interval=%s", r.interval)

	go r.pollLoop(ctx)

	return nil
}

// Stop stops the reclaimer gracefully
func (r *Reclaimer) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.logger.WithContext(ctx).Info("Stopping lock reclaimer...")

	close(r.stopCh)

	select {
	case <-r.stoppedC:
		r.logger.WithContext(ctx).Info("Lock reclaimer stopped gracefully")
	case <-ctx.Done():
		r.logger.WithContext(ctx).Warn("Lock reclaimer shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the reclaimer is running
func (r *Reclaimer) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// pollLoop continuously runs reclaim sweeps
func (r *Reclaimer) pollLoop(ctx context.Context) {
	defer close(r.stoppedC)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on start
	r.runSweep(ctx)

	for {
		select {
		case <-r.stopCh:
			r.logger.WithContext(ctx).Debug("Lock reclaimer poll loop stopping")
			return
		case <-ticker.C:
			r.runSweep(ctx)
		}
	}
}

// runSweep runs a single reclaim sweep
func (r *Reclaimer) runSweep(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Reclaimer.runSweep")
	defer span.End()

	reclaimed, err := r.coordinator.ReclaimExpired(ctx)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reclaim expired locks")
		return
	}

	if reclaimed > 0 {
		r.logger.WithContext(ctx).Infof("Reclaimed %d expired analysis locks", reclaimed)
	}
}
