package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/skipperhq/skipper/internal/control"
	"github.com/skipperhq/skipper/internal/observability"
)

// activityLog tracks when each browser session was last used so the sweeper
// can release abandoned ones instead of letting them accumulate upstream.
type activityLog struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newActivityLog() *activityLog {
	return &activityLog{seen: make(map[string]time.Time)}
}

func (a *activityLog) touch(sessionID string) {
	if sessionID == "" {
		return
	}
	a.mu.Lock()
	a.seen[sessionID] = time.Now()
	a.mu.Unlock()
}

func (a *activityLog) forget(sessionID string) {
	a.mu.Lock()
	delete(a.seen, sessionID)
	a.mu.Unlock()
}

// idleBefore returns the sessions whose last activity predates the cutoff.
func (a *activityLog) idleBefore(cutoff time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idle []string
	for id, last := range a.seen {
		if last.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	return idle
}

type sweeperConfig struct {
	schedule string
	ttl      time.Duration
	activity *activityLog
	registry *control.Registry
	sessions SessionProvider
	logger   *observability.Logger
}

// sweeper releases remote browser sessions idle longer than the TTL. It
// never touches a session with a live agent loop.
type sweeper struct {
	cfg  sweeperConfig
	cron *cron.Cron
}

func newSweeper(cfg sweeperConfig) (*sweeper, error) {
	if cfg.schedule == "" {
		cfg.schedule = "@every 5m"
	}
	s := &sweeper{cfg: cfg, cron: cron.New()}
	if _, err := s.cron.AddFunc(cfg.schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("gateway: sweeper schedule %q: %w", cfg.schedule, err)
	}
	return s, nil
}

func (s *sweeper) start() { s.cron.Start() }

func (s *sweeper) stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *sweeper) sweep() {
	cutoff := time.Now().Add(-s.cfg.ttl)
	for _, sessionID := range s.cfg.activity.idleBefore(cutoff) {
		if s.cfg.registry.Active(sessionID) {
			s.cfg.activity.touch(sessionID)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.cfg.sessions.ReleaseSession(ctx, sessionID)
		cancel()
		if err != nil {
			s.cfg.logger.Warn("idle session release failed",
				"session_id", sessionID, "error", err)
			continue
		}
		s.cfg.activity.forget(sessionID)
		s.cfg.logger.Info("released idle browser session", "session_id", sessionID)
	}
}
