// Package monitor runs the periodic background checks of the server.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/loiht2/payload-forge/metrics"
	"github.com/loiht2/payload-forge/models"
)

// TemplateStore is the part of the repository the monitor checks
type TemplateStore interface {
	Backend() string
	Ping(ctx context.Context) error
	List(ctx context.Context) ([]models.StoredTemplate, error)
}

// SessionReaper closes sessions that have been idle for too long
type SessionReaper interface {
	CloseIdle(maxIdle time.Duration) int
}

// Options configure a Monitor
type Options struct {
	Interval     time.Duration
	CheckTimeout time.Duration
	// Sessions idle for longer than SessionIdleTimeout are closed; zero disables reaping
	SessionIdleTimeout time.Duration
	Clock              clock.Clock
}

// Monitor reports template store health and reaps idle sessions
type Monitor struct {
	store    TemplateStore
	sessions SessionReaper
	opts     Options
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	healthy  atomic.Bool
}

// NewMonitor creates a monitor; sessions may be nil
func NewMonitor(store TemplateStore, sessions SessionReaper, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	m := &Monitor{
		store:    store,
		sessions: sessions,
		opts:     opts,
		stopChan: make(chan struct{}),
	}
	m.healthy.Store(true)
	return m
}

// Start runs one check immediately and then one per interval
func (m *Monitor) Start() {
	m.Check()
	ticker := m.opts.Clock.NewTicker(m.opts.Interval)
	m.wg.Add(1)
	go m.monitorLoop(ticker)
	log.WithField("interval", m.opts.Interval).Info("Monitor started")
}

// Stop stops the monitor and waits for a running check to finish
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
	log.Info("Monitor stopped")
}

func (m *Monitor) monitorLoop(ticker clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C():
			m.Check()
		}
	}
}

// Check runs a single round of checks
func (m *Monitor) Check() {
	m.checkStore()
	if m.sessions != nil && m.opts.SessionIdleTimeout > 0 {
		if closed := m.sessions.CloseIdle(m.opts.SessionIdleTimeout); closed > 0 {
			log.WithField("closed", closed).Info("Closed idle sessions")
		}
	}
}

func (m *Monitor) checkStore() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.CheckTimeout)
	defer cancel()

	logger := log.WithField("backend", m.store.Backend())
	err := m.store.Ping(ctx)
	var templates []models.StoredTemplate
	if err == nil {
		templates, err = m.store.List(ctx)
	}
	if err != nil {
		metrics.RecordStoreHealth(false, 0)
		// only log transitions so a long outage doesn't flood the log
		if m.healthy.Swap(false) {
			logger.WithError(err).Error("Template store is unhealthy")
		}
		return
	}

	metrics.RecordStoreHealth(true, len(templates))
	if !m.healthy.Swap(true) {
		logger.Info("Template store recovered")
	}
}

// Healthy reports the result of the last store check
func (m *Monitor) Healthy() bool {
	return m.healthy.Load()
}
