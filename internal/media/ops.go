package media

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

// Trim re-encodes [start, end) of in into out. Stream copy is avoided so the
// cut lands on the requested frame instead of the nearest keyframe.
func (t *Transformer) Trim(ctx context.Context, in, out string, start, end float64) error {
	if start < 0 || end <= start {
		return apperr.New(apperr.KindInvalidRange, fmt.Sprintf("invalid trim range %.3f-%.3f", start, end))
	}

	args := []string{
		"-ss", seconds(start),
		"-i", in,
		"-t", seconds(end - start),
		"-c:v", DefaultVideoCodec,
		"-preset", trimPreset,
		"-crf", strconv.Itoa(trimCRF),
		"-c:a", DefaultAudioCodec,
		"-avoid_negative_ts", "make_zero",
		out,
	}
	if err := t.ffmpeg(ctx, "trim", args); err != nil {
		t.removePartial(out)
		return err
	}
	return nil
}

// Compress encodes in to H.264/AAC MP4 at out. With q.TargetBytes set the
// video bitrate is derived from the input duration, otherwise CRF is used.
func (t *Transformer) Compress(ctx context.Context, in, out string, q Quality) error {
	preset := q.Preset
	if preset == "" {
		preset = DefaultPreset
	}

	args := []string{"-i", in, "-c:v", DefaultVideoCodec, "-preset", preset}
	if q.TargetBytes > 0 {
		info, err := t.Inspect(ctx, in)
		if err != nil {
			return err
		}
		bitrate, err := TargetBitrate(q.TargetBytes, info.Duration)
		if err != nil {
			return err
		}
		b := strconv.FormatInt(bitrate, 10)
		args = append(args, "-b:v", b, "-maxrate", b, "-bufsize", strconv.FormatInt(bitrate*2, 10))
	} else {
		crf := q.CRF
		if crf <= 0 {
			crf = DefaultCRF
		}
		args = append(args, "-crf", strconv.Itoa(crf))
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:a", DefaultAudioCodec,
		"-b:a", DefaultAudioBitrate,
		"-movflags", "+faststart",
		out,
	)

	if err := t.ffmpeg(ctx, "compress", args); err != nil {
		t.removePartial(out)
		return err
	}
	return nil
}

// TargetBitrate returns the video bitrate in bits/sec that fits targetBytes
// over duration seconds, reserving a share for audio.
func TargetBitrate(targetBytes int64, duration float64) (int64, error) {
	if duration <= 0 {
		return 0, apperr.New(apperr.KindDecode, "cannot size bitrate for zero-length video")
	}
	if targetBytes <= 0 {
		return 0, apperr.New(apperr.KindValidation, "target size must be positive")
	}
	return int64(float64(targetBytes) * 8 * videoShare / duration), nil
}

// Thumbnail writes a single JPEG frame of in to out, scaled to the configured
// width with the aspect ratio preserved. A nil offset takes the midpoint.
func (t *Transformer) Thumbnail(ctx context.Context, in, out string, offset *float64) error {
	var at float64
	if offset != nil {
		at = *offset
	} else {
		info, err := t.Inspect(ctx, in)
		if err != nil {
			return err
		}
		at = info.Duration / 2
	}
	if at < 0 {
		at = 0
	}

	args := []string{
		"-ss", seconds(at),
		"-i", in,
		"-vf", fmt.Sprintf("scale=%d:-1", t.thumbWidth),
		"-frames:v", "1",
		"-q:v", "3",
		out,
	}
	if err := t.ffmpeg(ctx, "thumbnail", args); err != nil {
		t.removePartial(out)
		return err
	}
	return nil
}

// Process runs an inspection, optional trim into a temporary file, compression and a
// final inspection of out. Any failure leaves neither the temporary file nor a
// partial out behind.
func (t *Transformer) Process(ctx context.Context, in, out string, trim *model.TrimRange, q Quality) (info *MediaInfo, err error) {
	if _, err = t.Inspect(ctx, in); err != nil {
		return nil, err
	}

	var tmp string
	defer func() {
		if tmp != "" {
			t.removePartial(tmp)
		}
		if err != nil {
			t.removePartial(out)
		}
	}()

	src := in
	if trim != nil {
		tmp = out + ".trimmed.mp4"
		if err = t.Trim(ctx, in, tmp, trim.Start, trim.End); err != nil {
			return nil, err
		}
		src = tmp
	}

	if err = t.Compress(ctx, src, out, q); err != nil {
		return nil, err
	}

	info, err = t.Inspect(ctx, out)
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("output", out).
		Float64("duration", info.Duration).
		Bool("trimmed", trim != nil).
		Msg("video processed")
	return info, nil
}
