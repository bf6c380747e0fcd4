package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/robfig/cron/v3"

	"github.com/ManuelReschke/billingsync/internal/pkg/metrics"
)

const (
	// DefaultSweepSchedule runs the checkout sweep every five minutes.
	DefaultSweepSchedule = "@every 5m"

	depthSchedule = "@every 30s"
)

// CheckoutSweeper closes checkout sessions that can no longer complete.
type CheckoutSweeper interface {
	ExpireStaleCheckouts(ctx context.Context) (expired, abandoned int64, err error)
}

// Manager owns the job queue and the cron-driven background tasks
type Manager struct {
	queue    *Queue
	sweeper  CheckoutSweeper
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

// NewManager wires the queue with the checkout sweep. An empty schedule
// falls back to DefaultSweepSchedule.
func NewManager(queue *Queue, sweeper CheckoutSweeper, schedule string) *Manager {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Manager{
		queue:    queue,
		sweeper:  sweeper,
		schedule: schedule,
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and the scheduler
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	c := cron.New()
	if m.sweeper != nil {
		if _, err := c.AddFunc(m.schedule, m.sweepCheckouts); err != nil {
			return fmt.Errorf("schedule checkout sweep %q: %w", m.schedule, err)
		}
	}
	if _, err := c.AddFunc(depthSchedule, m.reportDepth); err != nil {
		return fmt.Errorf("schedule queue depth: %w", err)
	}

	log.Info("[JobQueue Manager] Starting job queue and background tasks")
	m.queue.Start()
	c.Start()
	m.cron = c
	m.running = true
	log.Infof("[JobQueue Manager] Started (checkout sweep: %s)", m.schedule)
	return nil
}

// Stop waits for a running sweep, then drains the queue workers
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.cron = nil
	m.queue.Stop()
	m.running = false
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunCheckoutSweepOnce runs a single sweep outside the schedule.
func (m *Manager) RunCheckoutSweepOnce(ctx context.Context) (expired, abandoned int64, err error) {
	if m.sweeper == nil {
		return 0, 0, nil
	}
	expired, abandoned, err = m.sweeper.ExpireStaleCheckouts(ctx)
	if err != nil {
		return expired, abandoned, err
	}
	metrics.CheckoutSweeps.WithLabelValues("expired").Add(float64(expired))
	metrics.CheckoutSweeps.WithLabelValues("abandoned").Add(float64(abandoned))
	return expired, abandoned, nil
}

func (m *Manager) sweepCheckouts() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, _, err := m.RunCheckoutSweepOnce(ctx); err != nil {
		log.Errorf("[JobQueue Manager] Checkout sweep error: %v", err)
	}
}

// ReportQueueDepth copies the current queue sizes into the depth gauge.
func (m *Manager) ReportQueueDepth(ctx context.Context) (Depth, error) {
	depth, err := m.queue.Depth(ctx)
	if err != nil {
		return depth, err
	}
	metrics.JobQueueDepth.WithLabelValues("pending").Set(float64(depth.Pending))
	metrics.JobQueueDepth.WithLabelValues("processing").Set(float64(depth.Processing))
	metrics.JobQueueDepth.WithLabelValues("delayed").Set(float64(depth.Delayed))
	return depth, nil
}

func (m *Manager) reportDepth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.ReportQueueDepth(ctx); err != nil {
		log.Errorf("[JobQueue Manager] Queue depth error: %v", err)
	}
}
