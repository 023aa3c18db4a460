package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/toucan/internal/model"
	"github.com/tinytelemetry/toucan/internal/protocol"
)

// MaxRecentLimit caps Recent so a client cannot pull the whole ledger.
const MaxRecentLimit = 1000

// Record appends one detection. Missing ID and time are filled in.
func (s *Store) Record(d model.Detection) error {
	if d.Protocol == "" {
		return errors.New("history: detection without protocol")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now()
	}

	ctx, cancel := s.queryContext()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (id, detected_at, protocol, dst_port, source) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.DetectedAt.UTC(), d.Protocol, d.DstPort, d.Source,
	)
	if err != nil {
		return fmt.Errorf("history: insert detection: %w", err)
	}
	return nil
}

// Counts returns the number of detections per protocol. Every known
// protocol is present, with zero when it was never seen.
func (s *Store) Counts() (map[string]int64, error) {
	counts := make(map[string]int64, protocol.Count)
	for _, l := range protocol.All() {
		counts[l.String()] = 0
	}

	ctx, cancel := s.queryContext()
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT protocol, COUNT(*) FROM detections GROUP BY protocol`)
	if err != nil {
		return nil, fmt.Errorf("history: count detections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("history: scan count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// Recent returns up to limit detections, newest first.
func (s *Store) Recent(limit int) ([]model.Detection, error) {
	if limit <= 0 {
		limit = model.DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	ctx, cancel := s.queryContext()
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, detected_at, protocol, dst_port, source FROM detections ORDER BY detected_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: recent detections: %w", err)
	}
	defer rows.Close()

	out := make([]model.Detection, 0, limit)
	for rows.Next() {
		var d model.Detection
		if err := rows.Scan(&d.ID, &d.DetectedAt, &d.Protocol, &d.DstPort, &d.Source); err != nil {
			return nil, fmt.Errorf("history: scan detection: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteBefore removes detections older than cutoff and returns how many
// were deleted.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	ctx, cancel := s.queryContext()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM detections WHERE detected_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("history: delete expired: %w", err)
	}
	return res.RowsAffected()
}
