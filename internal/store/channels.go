// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const channelColumns = `id, source_url, title, description, thumbnail_url,
	keep_count, format, enabled, last_refresh_at, created_at, updated_at`

// CreateChannel inserts a new channel. Fails with ErrConflict when the
// source URL or id is already taken.
func (s *Store) CreateChannel(ctx context.Context, ch *Channel) error {
	now := s.Now()
	ch.CreatedAt = now
	ch.UpdatedAt = now

	query := `
	INSERT INTO channels (` + channelColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		ch.ID, ch.SourceURL, ch.Title, ch.Description, ch.ThumbnailURL,
		ch.KeepCount, string(ch.Format), ch.Enabled,
		nullUsec(ch.LastRefreshAt), usec(ch.CreatedAt), usec(ch.UpdatedAt),
	)
	return classify(err)
}

// GetChannel retrieves a channel by id.
func (s *Store) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// GetChannelBySourceURL retrieves a channel by its unique source URL.
func (s *Store) GetChannelBySourceURL(ctx context.Context, sourceURL string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE source_url = ?`, sourceURL)
	return scanChannel(row)
}

// ListChannels returns all channels ordered by title. When enabledOnly is
// set, disabled channels are filtered out.
func (s *Store) ListChannels(ctx context.Context, enabledOnly bool) ([]Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY title, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// UpdateChannel persists mutable channel fields. The id and created_at are
// immutable.
func (s *Store) UpdateChannel(ctx context.Context, ch *Channel) error {
	ch.UpdatedAt = s.Now()
	query := `
	UPDATE channels
	SET source_url = ?, title = ?, description = ?, thumbnail_url = ?,
		keep_count = ?, format = ?, enabled = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		ch.SourceURL, ch.Title, ch.Description, ch.ThumbnailURL,
		ch.KeepCount, string(ch.Format), ch.Enabled, usec(ch.UpdatedAt), ch.ID,
	)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// TouchChannelRefreshed records a completed refresh cycle for the channel.
func (s *Store) TouchChannelRefreshed(ctx context.Context, id string) error {
	now := s.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET last_refresh_at = ?, updated_at = ? WHERE id = ?`,
		usec(now), usec(now), id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

// DeleteChannel removes a channel. Episodes and queue items cascade via
// foreign keys; artifact files are the caller's concern.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var (
		ch            Channel
		format        string
		lastRefreshAt sql.NullInt64
		createdAt     int64
		updatedAt     int64
	)
	err := row.Scan(
		&ch.ID, &ch.SourceURL, &ch.Title, &ch.Description, &ch.ThumbnailURL,
		&ch.KeepCount, &format, &ch.Enabled, &lastRefreshAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, classify(err)
	}
	ch.Format = MediaFormat(format)
	ch.LastRefreshAt = timePtr(lastRefreshAt)
	ch.CreatedAt = fromUsec(createdAt)
	ch.UpdatedAt = fromUsec(updatedAt)
	return &ch, nil
}
