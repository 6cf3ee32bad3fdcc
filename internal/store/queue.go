// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const queueColumns = `id, episode_id, priority, status, attempts, max_attempts,
	last_error, next_retry_at, created_at, updated_at`

// CreateQueueItem schedules download work for an episode. The partial unique
// index on open items enforces at most one non-terminal queue item per
// episode; a second insert fails with ErrConflict.
func (s *Store) CreateQueueItem(ctx context.Context, qi *QueueItem) error {
	now := s.Now()
	qi.CreatedAt = now
	qi.UpdatedAt = now
	if qi.Status == "" {
		qi.Status = QueuePending
	}
	if qi.Priority == 0 {
		qi.Priority = 5
	}

	query := `
	INSERT INTO queue_items (` + queueColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		qi.ID, qi.EpisodeID, qi.Priority, string(qi.Status),
		qi.Attempts, qi.MaxAttempts, qi.LastError,
		nullUsec(qi.NextRetryAt), usec(qi.CreatedAt), usec(qi.UpdatedAt),
	)
	return classify(err)
}

// GetQueueItem retrieves a queue item by id.
func (s *Store) GetQueueItem(ctx context.Context, id string) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	return scanQueueItem(row)
}

// OpenQueueItemByEpisode returns the episode's non-terminal queue item, or
// ErrNotFound when there is none.
func (s *Store) OpenQueueItemByEpisode(ctx context.Context, episodeID string) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_items
		 WHERE episode_id = ? AND status IN ('pending', 'in_progress', 'retrying')`,
		episodeID)
	return scanQueueItem(row)
}

// NextDue selects the next claimable queue item under one transaction:
// first any retrying item whose next_retry_at has passed (by priority, then
// next_retry_at), otherwise the first pending item (by priority, then
// created_at). Ties at the last key break by id for determinism. Returns
// (nil, nil) when nothing is due.
func (s *Store) NextDue(ctx context.Context, now time.Time) (*QueueItem, error) {
	var out *QueueItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+queueColumns+` FROM queue_items
			 WHERE status = 'retrying' AND next_retry_at <= ?
			 ORDER BY priority, next_retry_at, id LIMIT 1`, usec(now))
		qi, err := scanQueueItem(row)
		if err == nil {
			out = qi
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		row = tx.QueryRowContext(ctx,
			`SELECT `+queueColumns+` FROM queue_items
			 WHERE status = 'pending'
			 ORDER BY priority, created_at, id LIMIT 1`)
		qi, err = scanQueueItem(row)
		if err == nil {
			out = qi
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	return out, err
}

// DueRetrying lists every retrying item whose next_retry_at has passed,
// ordered by priority then next_retry_at.
func (s *Store) DueRetrying(ctx context.Context, now time.Time) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_items
		 WHERE status = 'retrying' AND next_retry_at <= ?
		 ORDER BY priority, next_retry_at, id`, usec(now))
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()
	return collectQueueItems(rows)
}

// ClaimQueueItem is the atomic compare-and-set pending|retrying ->
// in_progress. Exactly one caller wins; losers get ErrConflict. The retry
// schedule is cleared on claim.
func (s *Store) ClaimQueueItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items
		 SET status = 'in_progress', next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'retrying')`,
		usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireCAS(ctx, s, res, id)
}

// CompleteQueueItem moves an in_progress item to its terminal completed
// state.
func (s *Store) CompleteQueueItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'completed', updated_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireCAS(ctx, s, res, id)
}

// FailQueueItem records a failed attempt on an in_progress item. Retryable
// failures go back to retrying with the given schedule; terminal failures
// reach the final failed state. Attempts increments either way.
func (s *Store) FailQueueItem(ctx context.Context, id string, retryable bool, nextRetryAt *time.Time, lastError string) error {
	status := QueueFailed
	if retryable {
		status = QueueRetrying
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items
		 SET status = ?, attempts = attempts + 1, next_retry_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		string(status), nullUsec(nextRetryAt), lastError, usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireCAS(ctx, s, res, id)
}

// ReleaseQueueItem returns a claimed item to pending without counting an
// attempt. This is the cancellation path: the item stays claimable and its
// attempt budget is untouched.
func (s *Store) ReleaseQueueItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'pending', next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireCAS(ctx, s, res, id)
}

// CancelQueueItem moves a non-terminal item to cancelled. Cancelling an
// already terminal item is a no-op.
func (s *Store) CancelQueueItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = 'cancelled', next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'in_progress', 'retrying')`,
		usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Idempotent on terminal items; only a missing row is an error.
		if _, err := s.GetQueueItem(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// CountQueueByStatus returns queue totals grouped by status.
func (s *Store) CountQueueByStatus(ctx context.Context) (map[QueueStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[QueueStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[QueueStatus(status)] = n
	}
	return out, rows.Err()
}

const queueViewColumns = `q.id, q.episode_id, q.priority, q.status, q.attempts,
	q.max_attempts, q.last_error, q.next_retry_at, q.created_at, q.updated_at,
	e.title, c.id, c.title`

// InProgressQueueView lists currently claimed items with episode and channel
// titles for the admin queue endpoint.
func (s *Store) InProgressQueueView(ctx context.Context) ([]QueueView, error) {
	query := `
	SELECT ` + queueViewColumns + `
	FROM queue_items q
	JOIN episodes e ON e.id = q.episode_id
	JOIN channels c ON c.id = e.channel_id
	WHERE q.status = 'in_progress'
	ORDER BY q.updated_at, q.id
	`
	return s.queryQueueView(ctx, query)
}

// RecentFailedQueueView lists the most recently failed items with their
// error messages.
func (s *Store) RecentFailedQueueView(ctx context.Context, limit int) ([]QueueView, error) {
	query := `
	SELECT ` + queueViewColumns + `
	FROM queue_items q
	JOIN episodes e ON e.id = q.episode_id
	JOIN channels c ON c.id = e.channel_id
	WHERE q.status = 'failed'
	ORDER BY q.updated_at DESC, q.id
	LIMIT ?
	`
	return s.queryQueueView(ctx, query, limit)
}

func (s *Store) queryQueueView(ctx context.Context, query string, args ...any) ([]QueueView, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueueView
	for rows.Next() {
		var (
			v           QueueView
			status      string
			nextRetryAt sql.NullInt64
			createdAt   int64
			updatedAt   int64
		)
		err := rows.Scan(
			&v.ID, &v.EpisodeID, &v.Priority, &status, &v.Attempts,
			&v.MaxAttempts, &v.LastError, &nextRetryAt, &createdAt, &updatedAt,
			&v.EpisodeTitle, &v.ChannelID, &v.ChannelTitle,
		)
		if err != nil {
			return nil, err
		}
		v.Status = QueueStatus(status)
		v.NextRetryAt = timePtr(nextRetryAt)
		v.CreatedAt = fromUsec(createdAt)
		v.UpdatedAt = fromUsec(updatedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// requireCAS distinguishes a lost compare-and-set race from a missing row.
func requireCAS(ctx context.Context, s *Store, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetQueueItem(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var (
		qi          QueueItem
		status      string
		nextRetryAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(
		&qi.ID, &qi.EpisodeID, &qi.Priority, &status, &qi.Attempts,
		&qi.MaxAttempts, &qi.LastError, &nextRetryAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	qi.Status = QueueStatus(status)
	qi.NextRetryAt = timePtr(nextRetryAt)
	qi.CreatedAt = fromUsec(createdAt)
	qi.UpdatedAt = fromUsec(updatedAt)
	return &qi, nil
}

func collectQueueItems(rows *sql.Rows) ([]QueueItem, error) {
	var out []QueueItem
	for rows.Next() {
		qi, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *qi)
	}
	return out, rows.Err()
}
