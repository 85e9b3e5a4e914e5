package service

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// SessionCleanup periodically expires idle page sessions.
type SessionCleanup struct {
	sessions *SessionService
	interval time.Duration
	logger   hclog.Logger
}

func NewSessionCleanup(sessions *SessionService, interval time.Duration, logger hclog.Logger) *SessionCleanup {
	return &SessionCleanup{
		sessions: sessions,
		interval: interval,
		logger:   logger.Named("cleanup"),
	}
}

// Start blocks until ctx is done.
func (sc *SessionCleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	sc.logger.Info("started session cleanup", "interval", sc.interval, "ttl", sc.sessions.config.SessionTTL)

	for {
		select {
		case <-ctx.Done():
			sc.logger.Info("session cleanup stopped")
			return
		case now := <-ticker.C:
			if n := sc.sessions.ExpireIdle(now); n > 0 {
				sc.logger.Info("expired idle sessions", "count", n, "remaining", sc.sessions.Count())
			}
		}
	}
}
