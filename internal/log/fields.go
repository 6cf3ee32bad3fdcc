// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID   = "request_id"
	FieldChannelID   = "channel_id"
	FieldEpisodeID   = "episode_id"
	FieldQueueItemID = "queue_item_id"
	FieldExternalID  = "external_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempts  = "attempts"
	FieldErrorKind = "error_kind"

	// Media fields
	FieldFormat  = "format"
	FieldCodec   = "codec"
	FieldBitrate = "bitrate"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath      = "path"
	FieldSourceURL = "source_url"
	FieldTempPath  = "temp_path"
	FieldFinalPath = "final_path"

	// Size fields
	FieldBytes      = "bytes"
	FieldBytesFreed = "bytes_freed"
)
