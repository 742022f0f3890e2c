package media

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
)

// Inspect runs a single ffprobe JSON call against path. It fails with a decode
// error when the file has no decodable video stream.
func (t *Transformer) Inspect(ctx context.Context, path string) (*MediaInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	}

	out, stderr, err := t.run(ctx, t.ffprobePath, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.KindDecode, "unreadable media file", withStderr(err, stderr))
	}

	return ParseMediaInfoJSON(out)
}

// ParseMediaInfoJSON converts raw ffprobe JSON output into MediaInfo.
// Exported for testing without a real ffprobe binary.
func ParseMediaInfoJSON(data []byte) (*MediaInfo, error) {
	var raw rawMediaInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindDecode, "parse ffprobe output", err)
	}

	info := &MediaInfo{
		Duration: parseFloat(raw.Format.Duration),
		Bitrate:  parseInt64(raw.Format.BitRate),
	}

	var video *rawStream
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			// Cover art is exposed as a video stream; it is not playable video.
			if video == nil && s.Disposition["attached_pic"] != 1 {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return nil, apperr.New(apperr.KindDecode, "no decodable video stream")
	}

	info.Width = video.Width
	info.Height = video.Height
	info.Codec = video.CodecName
	if info.Duration <= 0 {
		info.Duration = parseFloat(video.Duration)
	}
	if info.Duration <= 0 {
		return nil, apperr.New(apperr.KindDecode, "video has no duration")
	}
	return info, nil
}

// --- ffprobe JSON wire types ---

type rawMediaInfo struct {
	Format  rawFormat   `json:"format"`
	Streams []rawStream `json:"streams"`
}

type rawFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type rawStream struct {
	CodecName   string         `json:"codec_name"`
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Duration    string         `json:"duration"`
	Disposition map[string]int `json:"disposition"`
}

// ffprobe returns numbers as strings

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
