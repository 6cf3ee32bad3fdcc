// SPDX-License-Identifier: MIT
package transcode

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/podmirror/internal/errkind"
)

func writeStub(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require unix")
	}
	path := filepath.Join(t.TempDir(), "stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o700))
	return path
}

func TestTranscodeAudioStub(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.mp3")
	// The stub writes the destination file (last argument) like ffmpeg would.
	bin := writeStub(t, `for a in "$@"; do last="$a"; done; printf 'audio' > "$last"`)

	f := NewFFmpeg(bin, bin, defaultOpts(), zerolog.Nop())
	res, err := f.TranscodeAudio(context.Background(), "/tmp/in.src", dest)
	require.NoError(t, err)
	assert.Equal(t, dest, res.OutputPath)
	assert.Equal(t, int64(5), res.OutputSize)
}

func TestTranscodeClassifiesFormatError(t *testing.T) {
	bin := writeStub(t, `echo "in.src: Invalid data found when processing input" >&2; exit 1`)

	f := NewFFmpeg(bin, bin, defaultOpts(), zerolog.Nop())
	_, err := f.TranscodeVideo(context.Background(), "/tmp/in.src", "/tmp/out.mp4")
	require.Error(t, err)
	assert.Equal(t, errkind.Format, errkind.KindOf(err))
}

func TestTranscodeDiskFullIsFatal(t *testing.T) {
	bin := writeStub(t, `echo "av_interleaved_write_frame(): No space left on device" >&2; exit 1`)

	f := NewFFmpeg(bin, bin, defaultOpts(), zerolog.Nop())
	_, err := f.TranscodeAudio(context.Background(), "/tmp/in.src", "/tmp/out.mp3")
	require.Error(t, err)
	assert.Equal(t, errkind.Fatal, errkind.KindOf(err))
}

func TestProbe(t *testing.T) {
	bin := writeStub(t, `printf '{"format":{"format_name":"mov,mp4,m4a","duration":"123.456"}}'`)

	f := NewFFmpeg(bin, bin, defaultOpts(), zerolog.Nop())
	info, err := f.Probe(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 123, info.DurationSeconds)
	assert.Equal(t, "mov,mp4,m4a", info.FormatName)
}

func TestProbeRejectsGarbage(t *testing.T) {
	bin := writeStub(t, `printf 'not json'`)

	f := NewFFmpeg(bin, bin, defaultOpts(), zerolog.Nop())
	_, err := f.Probe(context.Background(), "/tmp/in.mp4")
	require.Error(t, err)
	assert.Equal(t, errkind.Format, errkind.KindOf(err))
}

func TestClassifyKeepsLastStderrLine(t *testing.T) {
	err := classify("transcode.audio", errors.New("exit status 1"),
		[]string{"first line", "out.mp3: Invalid argument"})
	assert.Equal(t, errkind.Format, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "Invalid argument")
}
