package websocket

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/streamvoice/internal/session"
)

// SessionReaper finalizes sessions that stay open longer than maxAge, as
// if the client had sent the end-of-audio sentinel.
type SessionReaper struct {
	bridge   *Bridge
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionReaper creates a new session reaper
func NewSessionReaper(bridge *Bridge, maxAge, interval time.Duration, logger *zap.Logger) *SessionReaper {
	return &SessionReaper{
		bridge:   bridge,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background reaping loop
func (r *SessionReaper) Start() {
	r.wg.Add(1)
	go r.cleanupLoop()
	r.logger.Info("Session reaper started",
		zap.Duration("maxAge", r.maxAge),
		zap.Duration("interval", r.interval))
}

// Stop stops the loop and waits for an in-flight pass to finish
func (r *SessionReaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
	r.logger.Info("Session reaper stopped")
}

func (r *SessionReaper) cleanupLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case now := <-ticker.C:
			r.runCleanup(now)
		}
	}
}

// runCleanup finalizes every streaming session older than maxAge at now and
// returns how many it finalized.
func (r *SessionReaper) runCleanup(now time.Time) int {
	var expired []*session.Session
	for _, s := range r.bridge.Registry().Snapshot() {
		if s.State() == session.StateStreaming && s.Age(now) > r.maxAge {
			expired = append(expired, s)
		}
	}
	if len(expired) == 0 {
		return 0
	}

	r.logger.Info("Finalizing over-age sessions", zap.Int("count", len(expired)))

	var wg sync.WaitGroup
	for _, s := range expired {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			r.bridge.Finalize(s, ReasonMaxAge)
		}(s)
	}
	wg.Wait()

	return len(expired)
}
