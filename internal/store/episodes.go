// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const episodeColumns = `id, channel_id, external_id, title, description,
	thumbnail_url, duration_seconds, published_at, status, downloaded_at,
	audio_path, video_path, audio_size, video_size, retry_count, last_error,
	created_at, updated_at`

// CreateEpisode inserts a newly discovered episode. Fails with ErrConflict
// when the external id is already known.
func (s *Store) CreateEpisode(ctx context.Context, ep *Episode) error {
	now := s.Now()
	ep.CreatedAt = now
	ep.UpdatedAt = now
	if ep.Status == "" {
		ep.Status = EpisodePending
	}

	query := `
	INSERT INTO episodes (` + episodeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		ep.ID, ep.ChannelID, ep.ExternalID, ep.Title, ep.Description,
		ep.ThumbnailURL, nullInt(ep.DurationSeconds), nullUsec(ep.PublishedAt),
		string(ep.Status), nullUsec(ep.DownloadedAt),
		ep.AudioPath, ep.VideoPath, nullInt64(ep.AudioSize), nullInt64(ep.VideoSize),
		ep.RetryCount, ep.LastError, usec(ep.CreatedAt), usec(ep.UpdatedAt),
	)
	return classify(err)
}

// GetEpisode retrieves an episode by id.
func (s *Store) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

// GetEpisodeByExternalID retrieves an episode by the fetcher's item id.
// The external id is globally unique, which is what de-duplicates items
// across renamed or duplicate channels.
func (s *Store) GetEpisodeByExternalID(ctx context.Context, externalID string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE external_id = ?`, externalID)
	return scanEpisode(row)
}

// EpisodeFilter narrows ListEpisodes results.
type EpisodeFilter struct {
	Status EpisodeStatus // optional
	Limit  int           // 0 means no limit
	Offset int
}

// ListEpisodes returns a channel's episodes ordered by published_at
// descending (rows without a publish date sort last, then by created_at).
func (s *Store) ListEpisodes(ctx context.Context, channelID string, f EpisodeFilter) ([]Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE channel_id = ?`
	args := []any{channelID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY published_at IS NULL, published_at DESC, created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// CompletedEpisodesBeyond returns the completed episodes of a channel past
// the retention position keep, ordered newest-first. These are the rows the
// retention pass deletes.
func (s *Store) CompletedEpisodesBeyond(ctx context.Context, channelID string, keep int) ([]Episode, error) {
	query := `
	SELECT ` + episodeColumns + ` FROM episodes
	WHERE channel_id = ? AND status = 'completed'
	ORDER BY published_at IS NULL, published_at DESC, created_at DESC, id
	LIMIT -1 OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, channelID, keep)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// TransitionEpisode performs the atomic compare-and-set status transition
// from -> to. Fails with ErrConflict when the episode is not in the expected
// state, ErrNotFound when the row is missing.
func (s *Store) TransitionEpisode(ctx context.Context, id string, from, to EpisodeStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), usec(s.Now()), id, string(from))
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing row from a lost CAS race.
		if _, err := s.GetEpisode(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// Artifact captures the finalized output of a pipeline run.
type Artifact struct {
	AudioPath string
	VideoPath string
	AudioSize *int64
	VideoSize *int64
}

// FinalizeEpisode records a successful download in one transaction: artifact
// paths and sizes, downloaded_at, status completed, and a cleared last_error.
func (s *Store) FinalizeEpisode(ctx context.Context, id string, art Artifact, downloadedAt time.Time) error {
	query := `
	UPDATE episodes
	SET status = ?, audio_path = ?, video_path = ?, audio_size = ?, video_size = ?,
		downloaded_at = ?, last_error = '', updated_at = ?
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(EpisodeCompleted), art.AudioPath, art.VideoPath,
		nullInt64(art.AudioSize), nullInt64(art.VideoSize),
		usec(downloadedAt), usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// MarkEpisodeFailed sets status failed, stores the error message and bumps
// retry_count, all in one statement.
func (s *Store) MarkEpisodeFailed(ctx context.Context, id, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes
		 SET status = ?, last_error = ?, retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ?`,
		string(EpisodeFailed), lastError, usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// RecordEpisodeRetry puts an episode back to pending after a failed attempt
// that still has retries left, keeping the failure on the row: last_error is
// stored and retry_count bumped. Terminal episodes conflict.
func (s *Store) RecordEpisodeRetry(ctx context.Context, id, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes
		 SET status = ?, last_error = ?, retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'downloading', 'processing')`,
		string(EpisodePending), lastError, usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetEpisode(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// ReturnEpisodePending puts an episode back to pending after a cancelled
// run, regardless of which in-flight state it was in.
func (s *Store) ReturnEpisodePending(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ('downloading', 'processing')`,
		string(EpisodePending), usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ResetEpisodeForRetry clears failure bookkeeping ahead of an admin retry.
// Only valid when the episode is currently failed.
func (s *Store) ResetEpisodeForRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes
		 SET status = ?, retry_count = 0, last_error = '', updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(EpisodePending), usec(s.Now()), id, string(EpisodeFailed))
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetEpisode(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// SetEpisodeDuration fills in a duration learned late (probed from the
// downloaded media when the source metadata had none).
func (s *Store) SetEpisodeDuration(ctx context.Context, id string, seconds int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET duration_seconds = ?, updated_at = ? WHERE id = ?`,
		seconds, usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// MarkEpisodeDeleted clears artifact bookkeeping for a retention-deleted
// episode. The row itself is kept so the external id stays de-duplicated.
func (s *Store) MarkEpisodeDeleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes
		 SET status = ?, audio_path = '', video_path = '',
			audio_size = NULL, video_size = NULL, updated_at = ?
		 WHERE id = ?`,
		string(EpisodeDeleted), usec(s.Now()), id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// DeleteEpisode removes the episode row (admin delete). The open queue item,
// if any, cascades.
func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// CountEpisodesByStatus returns episode totals grouped by status.
func (s *Store) CountEpisodesByStatus(ctx context.Context) (map[EpisodeStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[EpisodeStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[EpisodeStatus(status)] = n
	}
	return out, rows.Err()
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var (
		ep           Episode
		status       string
		duration     sql.NullInt64
		publishedAt  sql.NullInt64
		downloadedAt sql.NullInt64
		audioSize    sql.NullInt64
		videoSize    sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(
		&ep.ID, &ep.ChannelID, &ep.ExternalID, &ep.Title, &ep.Description,
		&ep.ThumbnailURL, &duration, &publishedAt, &status, &downloadedAt,
		&ep.AudioPath, &ep.VideoPath, &audioSize, &videoSize,
		&ep.RetryCount, &ep.LastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	ep.Status = EpisodeStatus(status)
	ep.DurationSeconds = intPtr(duration)
	ep.PublishedAt = timePtr(publishedAt)
	ep.DownloadedAt = timePtr(downloadedAt)
	ep.AudioSize = int64Ptr(audioSize)
	ep.VideoSize = int64Ptr(videoSize)
	ep.CreatedAt = fromUsec(createdAt)
	ep.UpdatedAt = fromUsec(updatedAt)
	return &ep, nil
}
