package history

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultRetentionDays is used when no retention is configured.
const DefaultRetentionDays = 30

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration // defaults to hourly
}

// RetentionCleaner periodically deletes detections older than the
// retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner runs one cleanup immediately to catch up after
// downtime, then repeats on the interval. It returns nil when retention is
// disabled (0 days).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	days := DefaultRetentionDays
	interval := time.Hour
	if len(conf) > 0 {
		days = conf[0].RetentionDays
		if conf[0].Interval > 0 {
			interval = conf[0].Interval
		}
	}
	if days <= 0 {
		return nil
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: days,
		interval:      interval,
		done:          make(chan struct{}),
	}
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()
	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		slog.Warn("history: retention cleanup failed", "error", err)
		return
	}
	if rows > 0 {
		slog.Info("history: expired detections deleted", "rows", rows, "retention_days", rc.retentionDays)
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
