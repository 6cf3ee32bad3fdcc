// SPDX-License-Identifier: MIT
package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOpts() Options {
	return Options{
		AudioFormat:     "mp3",
		AudioBitrate:    "128k",
		AudioSampleRate: 44100,
		AudioChannels:   2,
		VideoFormat:     "mp4",
		VideoCodec:      "h264",
		VideoQuality:    23,
		Threads:         4,
	}
}

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestBuildAudioArgs(t *testing.T) {
	args, err := buildAudioArgs(defaultOpts(), "/tmp/in.src", "/data/out.mp3")
	require.NoError(t, err)

	assert.Equal(t, "libmp3lame", argValue(t, args, "-c:a"))
	assert.Equal(t, "128k", argValue(t, args, "-b:a"))
	assert.Equal(t, "44100", argValue(t, args, "-ar"))
	assert.Equal(t, "2", argValue(t, args, "-ac"))
	assert.Equal(t, "mp3", argValue(t, args, "-f"))
	assert.Contains(t, args, "-vn")
	assert.Contains(t, args, "-nostdin")
	assert.Equal(t, "/data/out.mp3", args[len(args)-1])
}

func TestBuildAudioArgsCodecSelection(t *testing.T) {
	tests := []struct {
		format, codec, muxer string
	}{
		{"aac", "aac", "adts"},
		{"ogg", "libvorbis", "ogg"},
		{"m4a", "aac", "ipod"},
	}
	for _, tt := range tests {
		opts := defaultOpts()
		opts.AudioFormat = tt.format
		args, err := buildAudioArgs(opts, "in", "out")
		require.NoError(t, err, tt.format)
		assert.Equal(t, tt.codec, argValue(t, args, "-c:a"), tt.format)
		assert.Equal(t, tt.muxer, argValue(t, args, "-f"), tt.format)
	}

	opts := defaultOpts()
	opts.AudioFormat = "flac"
	_, err := buildAudioArgs(opts, "in", "out")
	assert.Error(t, err)
}

func TestBuildVideoArgs(t *testing.T) {
	args, err := buildVideoArgs(defaultOpts(), "/tmp/in.src", "/data/out.mp4")
	require.NoError(t, err)

	assert.Equal(t, "libx264", argValue(t, args, "-c:v"))
	assert.Equal(t, "23", argValue(t, args, "-crf"))
	assert.Equal(t, "yuv420p", argValue(t, args, "-pix_fmt"))
	assert.Equal(t, "faster", argValue(t, args, "-preset"))
	assert.Equal(t, "+faststart", argValue(t, args, "-movflags"))
	assert.Equal(t, "mp4", argValue(t, args, "-f"))
}

func TestBuildVideoArgsWebm(t *testing.T) {
	opts := defaultOpts()
	opts.VideoFormat = "webm"
	opts.VideoCodec = "vp9"

	args, err := buildVideoArgs(opts, "in", "out")
	require.NoError(t, err)
	assert.Equal(t, "libvpx-vp9", argValue(t, args, "-c:v"))
	assert.Equal(t, "webm", argValue(t, args, "-f"))
	assert.NotContains(t, args, "-preset")
	assert.NotContains(t, args, "-movflags")
}

func TestBuildVideoArgsRejectsUnknown(t *testing.T) {
	opts := defaultOpts()
	opts.VideoCodec = "mpeg2"
	_, err := buildVideoArgs(opts, "in", "out")
	assert.Error(t, err)

	opts = defaultOpts()
	opts.VideoFormat = "avi"
	_, err = buildVideoArgs(opts, "in", "out")
	assert.Error(t, err)
}
