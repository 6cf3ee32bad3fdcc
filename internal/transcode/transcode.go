// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode converts downloaded source media into the podcast
// artifacts (audio and/or video) via ffmpeg. Arguments are built without any
// shell so source titles can never inject into the command line.
package transcode

import "context"

// Options are the encoding settings, validated upstream by the config layer.
type Options struct {
	AudioFormat     string // mp3, aac, ogg, m4a
	AudioBitrate    string // e.g. "128k"
	AudioSampleRate int
	AudioChannels   int

	VideoFormat  string // mp4, mkv, webm
	VideoCodec   string // h264, h265, vp9, av1
	VideoQuality int    // CRF

	Threads int
}

// Result describes a produced artifact.
type Result struct {
	OutputPath string
	OutputSize int64
}

// ProbeInfo is the subset of ffprobe output the pipeline consumes.
type ProbeInfo struct {
	DurationSeconds int
	FormatName      string
}

// Transcoder produces podcast artifacts from a source file.
type Transcoder interface {
	// TranscodeAudio extracts and encodes the audio track to destPath.
	TranscodeAudio(ctx context.Context, srcPath, destPath string) (Result, error)

	// TranscodeVideo re-encodes the source to the configured video format.
	TranscodeVideo(ctx context.Context, srcPath, destPath string) (Result, error)

	// Probe inspects a media file.
	Probe(ctx context.Context, path string) (ProbeInfo, error)
}
