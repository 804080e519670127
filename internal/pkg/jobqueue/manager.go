package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/inmodash/inmodash-backend/app/models"
	"github.com/inmodash/inmodash-backend/internal/pkg/env"
)

const (
	redriveLockKey     = "lock:jobqueue:webhook_redrive"
	orphanSweepLockKey = "lock:jobqueue:orphan_sweep"
	redriveMarkerKey   = "jobqueue:redrive:webhook:"
)

// BillingMaintenance is the billing surface the periodic tasks drive
type BillingMaintenance interface {
	RedrivableWebhookEvents(ctx context.Context, olderThan time.Time, limit int) ([]models.BillingWebhookEvent, error)
	SweepOrphanedAgreements(ctx context.Context, since time.Time) (int, error)
}

// ManagerConfig holds intervals for the periodic billing tasks
type ManagerConfig struct {
	RedriveInterval     time.Duration
	RedriveMinAge       time.Duration
	RedriveBatch        int
	OrphanSweepInterval time.Duration
	OrphanLookback      time.Duration
	LockExpiry          time.Duration
}

// DefaultManagerConfig returns the production defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RedriveInterval:     time.Minute,
		RedriveMinAge:       5 * time.Minute,
		RedriveBatch:        100,
		OrphanSweepInterval: 15 * time.Minute,
		OrphanLookback:      24 * time.Hour,
		LockExpiry:          2 * time.Minute,
	}
}

// ManagerConfigFromEnv overrides the defaults with JOBQUEUE_* variables
func ManagerConfigFromEnv() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.RedriveInterval = envDuration("JOBQUEUE_REDRIVE_INTERVAL", cfg.RedriveInterval)
	cfg.RedriveMinAge = envDuration("JOBQUEUE_REDRIVE_MIN_AGE", cfg.RedriveMinAge)
	cfg.OrphanSweepInterval = envDuration("JOBQUEUE_ORPHAN_SWEEP_INTERVAL", cfg.OrphanSweepInterval)
	cfg.OrphanLookback = envDuration("JOBQUEUE_ORPHAN_LOOKBACK", cfg.OrphanLookback)
	return cfg
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warnf("[JobQueue Manager] Ignoring invalid %s=%q", key, raw)
		return def
	}
	return d
}

// Manager runs the job queue together with the periodic billing tasks.
// Each task runs under a Redis lock so only one instance executes it.
type Manager struct {
	queue             *Queue
	client            *redis.Client
	billing           BillingMaintenance
	rs                *redsync.Redsync
	cfg               ManagerConfig
	now               func() time.Time
	redriveTicker     *time.Ticker
	orphanSweepTicker *time.Ticker
	stopCh            chan struct{}
	wg                sync.WaitGroup
	mu                sync.Mutex
	running           bool
}

// NewManager creates a manager for queue, locking through client
func NewManager(queue *Queue, client *redis.Client, billing BillingMaintenance, cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.RedriveInterval <= 0 {
		cfg.RedriveInterval = def.RedriveInterval
	}
	if cfg.RedriveMinAge <= 0 {
		cfg.RedriveMinAge = def.RedriveMinAge
	}
	if cfg.RedriveBatch <= 0 {
		cfg.RedriveBatch = def.RedriveBatch
	}
	if cfg.OrphanSweepInterval <= 0 {
		cfg.OrphanSweepInterval = def.OrphanSweepInterval
	}
	if cfg.OrphanLookback <= 0 {
		cfg.OrphanLookback = def.OrphanLookback
	}
	if cfg.LockExpiry <= 0 {
		cfg.LockExpiry = def.LockExpiry
	}

	return &Manager{
		queue:   queue,
		client:  client,
		billing: billing,
		rs:      redsync.New(goredis.NewPool(client)),
		cfg:     cfg,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	m.redriveTicker = time.NewTicker(m.cfg.RedriveInterval)
	m.wg.Add(1)
	go m.tickerWorker("webhook redrive", m.redriveTicker, m.stopCh, func(ctx context.Context) error {
		_, err := m.RunRedriveOnce(ctx)
		return err
	})

	m.orphanSweepTicker = time.NewTicker(m.cfg.OrphanSweepInterval)
	m.wg.Add(1)
	go m.tickerWorker("orphan sweep", m.orphanSweepTicker, m.stopCh, func(ctx context.Context) error {
		_, err := m.RunOrphanSweepOnce(ctx)
		return err
	})

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.redriveTicker != nil {
		m.redriveTicker.Stop()
	}
	if m.orphanSweepTicker != nil {
		m.orphanSweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) tickerWorker(name string, ticker *time.Ticker, stopCh <-chan struct{}, run func(ctx context.Context) error) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker", name)

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", name)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LockExpiry)
			if err := run(ctx); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", name, err)
			}
			cancel()
		}
	}
}

// RunRedriveOnce re-enqueues inbox rows that never completed or failed with a
// retryable error. It returns how many jobs were enqueued.
//
// A row is re-enqueued at most once per RedriveMinAge, so a backlogged queue
// does not collect a duplicate job for the same row on every tick.
func (m *Manager) RunRedriveOnce(ctx context.Context) (int, error) {
	enqueued, skipped := 0, 0
	err := m.withLock(ctx, redriveLockKey, func(ctx context.Context) error {
		events, err := m.billing.RedrivableWebhookEvents(ctx, m.now().Add(-m.cfg.RedriveMinAge), m.cfg.RedriveBatch)
		if err != nil {
			return err
		}
		for _, ev := range events {
			marker := redriveMarkerKey + strconv.FormatUint(uint64(ev.ID), 10)
			fresh, err := m.client.SetNX(ctx, marker, m.now().Unix(), m.cfg.RedriveMinAge).Result()
			if err != nil {
				return err
			}
			if !fresh {
				skipped++
				continue
			}

			payload := WebhookJobPayload{WebhookEventID: ev.ID}.ToMap()
			if _, err := m.queue.EnqueueJob(ctx, JobTypeBillingWebhook, payload); err != nil {
				m.client.Del(context.Background(), marker)
				return err
			}
			enqueued++
		}
		return nil
	})
	if enqueued > 0 {
		log.Infof("[JobQueue Manager] Re-enqueued %d webhook event(s)", enqueued)
	}
	if skipped > 0 {
		log.Debugf("[JobQueue Manager] Skipped %d webhook event(s) re-enqueued within %s", skipped, m.cfg.RedriveMinAge)
	}
	return enqueued, err
}

// RunOrphanSweepOnce records provider agreements created within the lookback
// window that have no local subscription.
func (m *Manager) RunOrphanSweepOnce(ctx context.Context) (int, error) {
	recorded := 0
	err := m.withLock(ctx, orphanSweepLockKey, func(ctx context.Context) error {
		n, err := m.billing.SweepOrphanedAgreements(ctx, m.now().Add(-m.cfg.OrphanLookback))
		recorded = n
		return err
	})
	return recorded, err
}

// withLock runs fn while holding the named lock. A lock held elsewhere skips fn.
func (m *Manager) withLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	mutex := m.rs.NewMutex(name,
		redsync.WithExpiry(m.cfg.LockExpiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		log.Debugf("[JobQueue Manager] Skipping %s: lock busy (%v)", name, err)
		return nil
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			log.Warnf("[JobQueue Manager] Failed to release %s: %v", name, err)
		}
	}()
	return fn(ctx)
}
