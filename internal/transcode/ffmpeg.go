// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/podmirror/internal/errkind"
	"github.com/ManuGH/podmirror/internal/fsutil"
	"github.com/ManuGH/podmirror/internal/procgroup"
	"github.com/ManuGH/podmirror/internal/tailbuf"
)

const (
	stderrTailLines = 40
	killGrace       = 5 * time.Second
)

// FFmpeg implements Transcoder via the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegBin  string
	ffprobeBin string
	opts       Options
	log        zerolog.Logger
}

// NewFFmpeg creates the CLI-backed transcoder.
func NewFFmpeg(ffmpegBin, ffprobeBin string, opts Options, logger zerolog.Logger) *FFmpeg {
	return &FFmpeg{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		opts:       opts,
		log:        logger,
	}
}

func (f *FFmpeg) TranscodeAudio(ctx context.Context, srcPath, destPath string) (Result, error) {
	args, err := buildAudioArgs(f.opts, srcPath, destPath)
	if err != nil {
		return Result{}, errkind.New(errkind.Format, "transcode.audio", err)
	}
	return f.transcode(ctx, "transcode.audio", args, destPath)
}

func (f *FFmpeg) TranscodeVideo(ctx context.Context, srcPath, destPath string) (Result, error) {
	args, err := buildVideoArgs(f.opts, srcPath, destPath)
	if err != nil {
		return Result{}, errkind.New(errkind.Format, "transcode.video", err)
	}
	return f.transcode(ctx, "transcode.video", args, destPath)
}

func (f *FFmpeg) transcode(ctx context.Context, op string, args []string, destPath string) (Result, error) {
	if err := f.run(ctx, op, f.ffmpegBin, args, io.Discard); err != nil {
		return Result{}, err
	}
	size, err := fsutil.FileSize(destPath)
	if err != nil {
		return Result{}, errkind.New(errkind.Fatal, op, fmt.Errorf("stat output: %w", err))
	}
	return Result{OutputPath: destPath, OutputSize: size}, nil
}

// ffprobe JSON output, format section only.
type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe reads container-level metadata.
func (f *FFmpeg) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		path,
	}

	var out bytes.Buffer
	if err := f.run(ctx, "transcode.probe", f.ffprobeBin, args, &out); err != nil {
		return ProbeInfo{}, err
	}

	var po probeOutput
	if err := json.Unmarshal(out.Bytes(), &po); err != nil {
		return ProbeInfo{}, errkind.New(errkind.Format, "transcode.probe", err)
	}

	info := ProbeInfo{FormatName: po.Format.FormatName}
	if po.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil {
			info.DurationSeconds = int(secs)
		}
	}
	return info, nil
}

// run starts bin in its own process group and waits, terminating the group on
// context cancellation.
func (f *FFmpeg) run(ctx context.Context, op, bin string, args []string, stdout io.Writer) error {
	ring := tailbuf.NewLineRing(stderrTailLines)

	cmd := exec.Command(bin, args...)
	cmd.Stdout = stdout
	cmd.Stderr = ring
	procgroup.Set(cmd)

	f.log.Debug().
		Str("event", "transcode.exec").
		Str("bin", bin).
		Strs("args", args).
		Msg("starting transcode process")

	if err := cmd.Start(); err != nil {
		return errkind.New(errkind.Fatal, op, fmt.Errorf("start %s: %w", bin, err))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, killGrace)
		return errkind.New(errkind.Cancelled, op, ctx.Err())
	case err := <-waitCh:
		if err != nil {
			kerr := classify(op, err, ring.LastN(stderrTailLines))
			f.log.Warn().
				Str("event", "transcode.failed").
				Str("error_kind", string(errkind.KindOf(kerr))).
				Str("stderr_tail", ring.Tail(5)).
				Msg("transcode process failed")
			return kerr
		}
		return nil
	}
}

// classify maps a non-zero ffmpeg/ffprobe exit into the error taxonomy.
func classify(op string, err error, tail []string) error {
	out := strings.ToLower(strings.Join(tail, "\n"))
	kind := errkind.Unknown
	switch {
	case strings.Contains(out, "no space left"):
		kind = errkind.Fatal
	case strings.Contains(out, "invalid data found"),
		strings.Contains(out, "unknown encoder"),
		strings.Contains(out, "could not find codec"),
		strings.Contains(out, "does not contain any stream"),
		strings.Contains(out, "invalid argument"),
		strings.Contains(out, "stream map") && strings.Contains(out, "matches no streams"),
		strings.Contains(out, "moov atom not found"):
		kind = errkind.Format
	}
	if len(tail) > 0 {
		err = fmt.Errorf("%w: %s", err, tail[len(tail)-1])
	}
	return errkind.New(kind, op, err)
}
