// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the admin HTTP surface: channel management, queue
// inspection, manual refresh/retry triggers, plus the public feed and media
// file servers.
package api

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ManuGH/podmirror/internal/gate"
	"github.com/ManuGH/podmirror/internal/metrics"
	"github.com/ManuGH/podmirror/internal/queue"
	"github.com/ManuGH/podmirror/internal/refresh"
	"github.com/ManuGH/podmirror/internal/store"
)

// Config carries the server's external knobs.
type Config struct {
	// AuthUser/AuthPass guard /api. Both empty disables auth, for
	// single-host deployments behind a firewall.
	AuthUser string
	AuthPass string

	// FeedDir and DownloadDir are the roots served under /feeds and /media.
	FeedDir     string
	DownloadDir string

	Version string
}

// RefreshTrigger starts an out-of-schedule full refresh. Satisfied by
// *worker.RefreshWorker.
type RefreshTrigger interface {
	TriggerNow(ctx context.Context) bool
}

// FeedPublisher re-renders a channel's feed documents. Satisfied by
// *feed.Publisher.
type FeedPublisher interface {
	PublishChannel(ctx context.Context, channelID string) error
}

// Server holds the handler dependencies. Construct with New, serve via
// Router.
type Server struct {
	cfg       Config
	st        *store.Store
	queue     *queue.Service
	refresher *refresh.Service
	trigger   RefreshTrigger
	publisher FeedPublisher
	gate      *gate.Gate
	session   *metrics.Session
	log       zerolog.Logger
}

// New creates the API server. trigger and publisher may be nil (tests).
func New(cfg Config, st *store.Store, q *queue.Service, r *refresh.Service, trigger RefreshTrigger, publisher FeedPublisher, g *gate.Gate, session *metrics.Session, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		st:        st,
		queue:     q,
		refresher: r,
		trigger:   trigger,
		publisher: publisher,
		gate:      g,
		session:   session,
		log:       logger,
	}
}
