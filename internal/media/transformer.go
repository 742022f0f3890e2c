// Package media wraps ffmpeg and ffprobe for the upload pipeline: inspection,
// trimming, compression and thumbnail extraction.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
)

// Runner executes an external command and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args []string) (stdout []byte, stderr string, err error)

// Options configures a Transformer. Empty binary paths are resolved from PATH.
type Options struct {
	FFmpegPath     string
	FFprobePath    string
	ThumbnailWidth int
	MaxConcurrent  int
	Runner         Runner
}

// Transformer performs all media operations. At most MaxConcurrent external
// processes run at once across all callers.
type Transformer struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	thumbWidth  int
	run         Runner
}

// New creates a Transformer, locating ffmpeg and ffprobe when not given.
func New(logger zerolog.Logger, opts Options) (*Transformer, error) {
	var err error
	ffmpegPath := opts.FFmpegPath
	if ffmpegPath == "" {
		if ffmpegPath, err = exec.LookPath("ffmpeg"); err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}
	ffprobePath := opts.FFprobePath
	if ffprobePath == "" {
		if ffprobePath, err = exec.LookPath("ffprobe"); err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}

	width := opts.ThumbnailWidth
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	slots := opts.MaxConcurrent
	if slots <= 0 {
		slots = 1
	}
	runner := opts.Runner
	if runner == nil {
		runner = execRunner
	}

	return &Transformer{
		logger:      logger.With().Str("component", "media").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		thumbWidth:  width,
		run:         limited(runner, make(chan struct{}, slots)),
	}, nil
}

// limited wraps a runner so it never exceeds cap(slots) concurrent calls.
// Waiting for a slot honors ctx cancellation.
func limited(r Runner, slots chan struct{}) Runner {
	return func(ctx context.Context, name string, args []string) ([]byte, string, error) {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
		defer func() { <-slots }()
		return r(ctx, name, args)
	}
}

func execRunner(ctx context.Context, name string, args []string) ([]byte, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// ffmpeg runs one ffmpeg invocation. Failures become transcode errors
// carrying the tail of stderr; cancellation is returned as-is.
func (t *Transformer) ffmpeg(ctx context.Context, op string, args []string) error {
	full := append([]string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error"}, args...)

	t.logger.Debug().Str("op", op).Strs("args", full).Msg("executing ffmpeg")
	start := time.Now()

	_, stderr, err := t.run(ctx, t.ffmpegPath, full)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(apperr.KindTranscode, "ffmpeg "+op+" failed", withStderr(err, stderr))
	}

	t.logger.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("ffmpeg completed")
	return nil
}

// removePartial deletes a failed operation's output, if any.
func (t *Transformer) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn().Err(err).Str("path", path).Msg("failed to remove partial output")
	}
}

const stderrTail = 512

func withStderr(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return err
	}
	if len(stderr) > stderrTail {
		stderr = stderr[len(stderr)-stderrTail:]
	}
	return fmt.Errorf("%w: %s", err, stderr)
}

// seconds formats a timestamp for ffmpeg's -ss/-t options.
func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
