// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"fmt"
	"strconv"
)

var (
	audioCodecs = map[string]string{
		"mp3": "libmp3lame",
		"aac": "aac",
		"ogg": "libvorbis",
		"m4a": "aac",
	}
	// Explicit muxers keep the output deterministic regardless of the
	// destination path extension.
	audioMuxers = map[string]string{
		"mp3": "mp3",
		"aac": "adts",
		"ogg": "ogg",
		"m4a": "ipod",
	}
	videoCodecs = map[string]string{
		"h264": "libx264",
		"h265": "libx265",
		"vp9":  "libvpx-vp9",
		"av1":  "libaom-av1",
	}
	videoMuxers = map[string]string{
		"mp4":  "mp4",
		"mkv":  "matroska",
		"webm": "webm",
	}
)

// baseArgs are shared by every invocation: never read stdin, keep stderr
// limited to real errors (we capture it), report progress on stdout.
func baseArgs(srcPath string) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-y",
		"-i", srcPath,
		"-progress", "pipe:1",
	}
}

// buildAudioArgs constructs the ffmpeg arguments for the audio artifact.
func buildAudioArgs(opts Options, srcPath, destPath string) ([]string, error) {
	codec, ok := audioCodecs[opts.AudioFormat]
	if !ok {
		return nil, fmt.Errorf("unsupported audio format %q", opts.AudioFormat)
	}

	args := baseArgs(srcPath)
	args = append(args,
		"-vn",
		"-map", "0:a:0",
		"-c:a", codec,
		"-b:a", opts.AudioBitrate,
		"-ar", strconv.Itoa(opts.AudioSampleRate),
		"-ac", strconv.Itoa(opts.AudioChannels),
		"-threads", strconv.Itoa(opts.Threads),
		"-f", audioMuxers[opts.AudioFormat],
		destPath,
	)
	return args, nil
}

// buildVideoArgs constructs the ffmpeg arguments for the video artifact.
func buildVideoArgs(opts Options, srcPath, destPath string) ([]string, error) {
	codec, ok := videoCodecs[opts.VideoCodec]
	if !ok {
		return nil, fmt.Errorf("unsupported video codec %q", opts.VideoCodec)
	}
	muxer, ok := videoMuxers[opts.VideoFormat]
	if !ok {
		return nil, fmt.Errorf("unsupported video format %q", opts.VideoFormat)
	}

	args := baseArgs(srcPath)
	args = append(args,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", codec,
		"-crf", strconv.Itoa(opts.VideoQuality),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", opts.AudioBitrate,
	)
	if codec == "libx264" || codec == "libx265" {
		args = append(args, "-preset", "faster")
	}
	if muxer == "mp4" {
		// Move the moov atom to the front so players can stream the file.
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args,
		"-threads", strconv.Itoa(opts.Threads),
		"-f", muxer,
		destPath,
	)
	return args, nil
}
