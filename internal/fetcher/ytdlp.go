// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fetcher

import (
	"bufio"
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
	"github.com/ManuGH/podmirror/internal/procgroup"
	"github.com/ManuGH/podmirror/internal/tailbuf"
)

const (
	stderrTailLines = 40
	killGrace       = 5 * time.Second

	// One sample per progress line: "download:<done> <total>".
	// total is "NA" when the extractor does not know it.
	progressTemplate = "download:%(progress.downloaded_bytes)s %(progress.total_bytes)s"
)

// YtDlp runs the yt-dlp binary. All invocations start in their own process
// group so cancellation reaps spawned helpers as well.
type YtDlp struct {
	bin string
	log zerolog.Logger
}

// NewYtDlp creates an adapter around the given binary path.
func NewYtDlp(bin string, logger zerolog.Logger) *YtDlp {
	return &YtDlp{bin: bin, log: logger}
}

// ListChannelItems lists the newest channel entries without resolving each
// item (flat playlist mode prints one JSON object per line).
func (y *YtDlp) ListChannelItems(ctx context.Context, sourceURL string, limit int) ([]Item, error) {
	args := []string{"--flat-playlist", "--dump-json", "--no-warnings"}
	if limit > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(limit))
	}
	args = append(args, "--", sourceURL)

	var out bytes.Buffer
	if err := y.run(ctx, "fetcher.list", args, &out); err != nil {
		return nil, err
	}

	items, err := parseFlatPlaylist(&out)
	if err != nil {
		return nil, errkind.New(errkind.Format, "fetcher.list", err)
	}
	return items, nil
}

// FetchItemMetadata resolves one item's full metadata.
func (y *YtDlp) FetchItemMetadata(ctx context.Context, externalID string) (Item, error) {
	args := []string{"-J", "--no-playlist", "--no-warnings", "--", externalID}

	var out bytes.Buffer
	if err := y.run(ctx, "fetcher.metadata", args, &out); err != nil {
		return Item{}, err
	}

	var e entry
	if err := json.Unmarshal(out.Bytes(), &e); err != nil {
		return Item{}, errkind.New(errkind.Format, "fetcher.metadata", err)
	}
	return e.toItem(), nil
}

// FetchItemMedia downloads the best single-file source media to destPath.
// Remuxing and transcoding happen downstream, so no merge formats are
// requested here.
func (y *YtDlp) FetchItemMedia(ctx context.Context, externalID, destPath string, onProgress ProgressFunc) error {
	args := []string{
		"-f", "b",
		"-o", destPath,
		"--no-part",
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--progress-template", progressTemplate,
		"--", externalID,
	}

	var stdout io.Writer = io.Discard
	if onProgress != nil {
		pw := &progressWriter{fn: onProgress}
		defer pw.flush()
		stdout = pw
	}
	return y.run(ctx, "fetcher.media", args, stdout)
}

// run starts the binary in its own process group and waits. On context
// cancellation the whole group is terminated and the error is Cancelled.
func (y *YtDlp) run(ctx context.Context, op string, args []string, stdout io.Writer) error {
	ring := tailbuf.NewLineRing(stderrTailLines)

	cmd := exec.Command(y.bin, args...)
	cmd.Stdout = stdout
	cmd.Stderr = ring
	procgroup.Set(cmd)

	y.log.Debug().
		Str("event", "fetcher.exec").
		Str("bin", y.bin).
		Strs("args", args).
		Msg("starting fetch process")

	if err := cmd.Start(); err != nil {
		return errkind.New(errkind.Fatal, op, fmt.Errorf("start %s: %w", y.bin, err))
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
			y.log.Warn().
				Str("event", "fetcher.failed").
				Str("error_kind", string(errkind.KindOf(kerr))).
				Str("stderr_tail", ring.Tail(5)).
				Msg("fetch process failed")
			return kerr
		}
		return nil
	}
}

// entry is the subset of yt-dlp's JSON output we consume. Flat playlist
// entries carry only a few of these fields.
type entry struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Thumbnail   string  `json:"thumbnail"`
	Duration    float64 `json:"duration"`
	Timestamp   int64   `json:"timestamp"`
	UploadDate  string  `json:"upload_date"` // YYYYMMDD
}

func (e entry) toItem() Item {
	item := Item{
		ExternalID:   e.ID,
		Title:        e.Title,
		Description:  e.Description,
		ThumbnailURL: e.Thumbnail,
	}
	if e.Duration > 0 {
		d := int(e.Duration)
		item.DurationSeconds = &d
	}
	if e.Timestamp > 0 {
		t := time.Unix(e.Timestamp, 0).UTC()
		item.PublishedAt = &t
	} else if e.UploadDate != "" {
		if t, err := time.Parse("20060102", e.UploadDate); err == nil {
			item.PublishedAt = &t
		}
	}
	return item
}

func parseFlatPlaylist(r io.Reader) ([]Item, error) {
	var items []Item
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parse playlist entry: %w", err)
		}
		if e.ID == "" {
			continue
		}
		items = append(items, e.toItem())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read playlist output: %w", err)
	}
	return items, nil
}

// progressWriter parses "download:<done> <total>" lines, tolerating partial
// writes across Write calls.
type progressWriter struct {
	fn  ProgressFunc
	buf bytes.Buffer
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line, keep it for the next write.
			w.buf.WriteString(line)
			break
		}
		w.parseLine(strings.TrimSpace(line))
	}
	return len(p), nil
}

// flush handles a final progress line without a trailing newline.
func (w *progressWriter) flush() {
	if w.buf.Len() > 0 {
		w.parseLine(strings.TrimSpace(w.buf.String()))
		w.buf.Reset()
	}
}

func (w *progressWriter) parseLine(line string) {
	rest, ok := strings.CutPrefix(line, "download:")
	if !ok {
		return
	}
	fields := strings.Fields(rest)
	if len(fields) < 1 {
		return
	}
	done, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return
	}
	var total int64
	if len(fields) > 1 {
		// "NA" when the extractor cannot estimate the size.
		total, _ = strconv.ParseInt(fields[1], 10, 64)
	}
	w.fn(Progress{BytesDone: done, BytesTotal: total})
}
