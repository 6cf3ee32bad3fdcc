// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads and validates daemon configuration with the
// precedence ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/podmirror/internal/store"
)

// AppConfig is the validated runtime configuration.
type AppConfig struct {
	// Paths
	DataDir     string `yaml:"dataDir"`
	DownloadDir string `yaml:"downloadDir"`
	TempDir     string `yaml:"tempDir"`

	// Server
	ListenAddr    string `yaml:"listenAddr"`
	MetricsAddr   string `yaml:"metricsAddr"`
	PublicBaseURL string `yaml:"publicBaseURL"`
	AuthUser      string `yaml:"authUser"`
	AuthPass      string `yaml:"authPass"`
	LogLevel      string `yaml:"logLevel"`

	// Workers
	RefreshInterval        time.Duration `yaml:"refreshInterval"`
	PollInterval           time.Duration `yaml:"pollInterval"`
	MaxConcurrentDownloads int           `yaml:"maxConcurrentDownloads"`
	MaxAttempts            int           `yaml:"maxAttempts"`
	ShutdownGrace          time.Duration `yaml:"shutdownGrace"`

	// External binaries
	FetcherBin string `yaml:"fetcherBin"`
	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`

	// Transcode settings
	AudioFormat     string `yaml:"audioFormat"`
	AudioBitrate    string `yaml:"audioBitrate"`
	AudioSampleRate int    `yaml:"audioSampleRate"`
	AudioChannels   int    `yaml:"audioChannels"`
	VideoFormat     string `yaml:"videoFormat"`
	VideoCodec      string `yaml:"videoCodec"`
	VideoQuality    int    `yaml:"videoQuality"`
	Threads         int    `yaml:"threads"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:     "/data",
		DownloadDir: "", // derived from DataDir when empty
		TempDir:     os.TempDir(),

		ListenAddr:  ":8080",
		MetricsAddr: "", // disabled when empty
		LogLevel:    "info",

		RefreshInterval:        time.Hour,
		PollInterval:           5 * time.Second,
		MaxConcurrentDownloads: 3,
		MaxAttempts:            3,
		ShutdownGrace:          30 * time.Second,

		FetcherBin: "yt-dlp",
		FFmpegBin:  "ffmpeg",
		FFprobeBin: "ffprobe",

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

// Loader resolves configuration with the precedence ENV > file > defaults.
type Loader struct {
	path string
}

// NewLoader creates a loader. path may be empty (env + defaults only).
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load resolves and validates the configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.path != "" {
		raw, err := os.ReadFile(l.path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(cfg.DataDir, "downloads")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString("PODMIRROR_DATA", cfg.DataDir)
	cfg.DownloadDir = ParseString("PODMIRROR_DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.TempDir = ParseString("PODMIRROR_TEMP_DIR", cfg.TempDir)

	cfg.ListenAddr = ParseString("PODMIRROR_LISTEN", cfg.ListenAddr)
	cfg.MetricsAddr = ParseString("PODMIRROR_METRICS_LISTEN", cfg.MetricsAddr)
	cfg.PublicBaseURL = ParseString("PODMIRROR_BASE_URL", cfg.PublicBaseURL)
	cfg.AuthUser = ParseString("PODMIRROR_AUTH_USER", cfg.AuthUser)
	cfg.AuthPass = ParseString("PODMIRROR_AUTH_PASS", cfg.AuthPass)
	cfg.LogLevel = ParseString("PODMIRROR_LOG_LEVEL", cfg.LogLevel)

	cfg.RefreshInterval = ParseDuration("PODMIRROR_REFRESH_INTERVAL", cfg.RefreshInterval)
	cfg.PollInterval = ParseDuration("PODMIRROR_POLL_INTERVAL", cfg.PollInterval)
	cfg.MaxConcurrentDownloads = ParseInt("PODMIRROR_MAX_CONCURRENT_DOWNLOADS", cfg.MaxConcurrentDownloads)
	cfg.MaxAttempts = ParseInt("PODMIRROR_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.ShutdownGrace = ParseDuration("PODMIRROR_SHUTDOWN_GRACE", cfg.ShutdownGrace)

	cfg.FetcherBin = ParseString("PODMIRROR_FETCHER_BIN", cfg.FetcherBin)
	cfg.FFmpegBin = ParseString("PODMIRROR_FFMPEG_BIN", cfg.FFmpegBin)
	cfg.FFprobeBin = ParseString("PODMIRROR_FFPROBE_BIN", cfg.FFprobeBin)

	cfg.AudioFormat = ParseString("PODMIRROR_AUDIO_FORMAT", cfg.AudioFormat)
	cfg.AudioBitrate = ParseString("PODMIRROR_AUDIO_BITRATE", cfg.AudioBitrate)
	cfg.AudioSampleRate = ParseInt("PODMIRROR_AUDIO_SAMPLE_RATE", cfg.AudioSampleRate)
	cfg.AudioChannels = ParseInt("PODMIRROR_AUDIO_CHANNELS", cfg.AudioChannels)
	cfg.VideoFormat = ParseString("PODMIRROR_VIDEO_FORMAT", cfg.VideoFormat)
	cfg.VideoCodec = ParseString("PODMIRROR_VIDEO_CODEC", cfg.VideoCodec)
	cfg.VideoQuality = ParseInt("PODMIRROR_VIDEO_QUALITY", cfg.VideoQuality)
	cfg.Threads = ParseInt("PODMIRROR_THREADS", cfg.Threads)
}

var bitratePattern = regexp.MustCompile(`^\d+[kKmM]$`)

var (
	audioFormats = map[string]bool{"mp3": true, "aac": true, "ogg": true, "m4a": true}
	videoFormats = map[string]bool{"mp4": true, "mkv": true, "webm": true}
	videoCodecs  = map[string]bool{"h264": true, "h265": true, "vp9": true, "av1": true}
)

// Validate enforces the documented ranges. The first violation is returned.
func (c AppConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must be set")
	}
	if c.RefreshInterval < 5*time.Minute {
		return fmt.Errorf("refreshInterval must be >= 5m, got %s", c.RefreshInterval)
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("pollInterval must be >= 1s, got %s", c.PollInterval)
	}
	if c.MaxConcurrentDownloads < 1 || c.MaxConcurrentDownloads > 10 {
		return fmt.Errorf("maxConcurrentDownloads must be in 1..10, got %d", c.MaxConcurrentDownloads)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	if !audioFormats[c.AudioFormat] {
		return fmt.Errorf("audioFormat must be one of mp3/aac/ogg/m4a, got %q", c.AudioFormat)
	}
	if !bitratePattern.MatchString(c.AudioBitrate) {
		return fmt.Errorf("audioBitrate must match ^\\d+[kKmM]$, got %q", c.AudioBitrate)
	}
	if c.AudioSampleRate < 8000 || c.AudioSampleRate > 192000 {
		return fmt.Errorf("audioSampleRate must be in 8000..192000, got %d", c.AudioSampleRate)
	}
	if c.AudioChannels < 1 || c.AudioChannels > 8 {
		return fmt.Errorf("audioChannels must be in 1..8, got %d", c.AudioChannels)
	}
	if !videoFormats[c.VideoFormat] {
		return fmt.Errorf("videoFormat must be one of mp4/mkv/webm, got %q", c.VideoFormat)
	}
	if !videoCodecs[c.VideoCodec] {
		return fmt.Errorf("videoCodec must be one of h264/h265/vp9/av1, got %q", c.VideoCodec)
	}
	if c.VideoQuality < 18 || c.VideoQuality > 51 {
		return fmt.Errorf("videoQuality (CRF) must be in 18..51, got %d", c.VideoQuality)
	}
	if c.Threads < 1 || c.Threads > 64 {
		return fmt.Errorf("threads must be in 1..64, got %d", c.Threads)
	}
	return nil
}

// ValidateChannelInput checks per-channel settings supplied by the admin API.
func ValidateChannelInput(keepCount int, format store.MediaFormat) error {
	if keepCount < 1 || keepCount > 1000 {
		return fmt.Errorf("keepCount must be in 1..1000, got %d", keepCount)
	}
	if !format.Valid() {
		return fmt.Errorf("format must be one of audio/video/both, got %q", format)
	}
	return nil
}
