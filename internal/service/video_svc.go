package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/media"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/storage"
)

// VideoStore persists ingested videos.
type VideoStore interface {
	Insert(ctx context.Context, v *model.Video) error
	FindForOwner(ctx context.Context, id, ownerID string) (*model.Video, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.Video, error)
}

// Transcoder is the subset of media.Transformer the ingestion pipeline uses.
type Transcoder interface {
	Inspect(ctx context.Context, path string) (*media.MediaInfo, error)
	Process(ctx context.Context, in, out string, trim *model.TrimRange, q media.Quality) (*media.MediaInfo, error)
	Thumbnail(ctx context.Context, in, out string, offset *float64) error
}

type IngestConfig struct {
	MaxUploadBytes    int64
	MaxClipSeconds    float64
	AllowedExtensions []string
	Quality           media.Quality
	PublicURLPrefix   string
}

// UploadRequest is one uploaded file plus the caller's optional trim window.
type UploadRequest struct {
	Body        io.Reader
	Filename    string
	ContentType string
	OwnerID     string
	TrimStart   *float64
	TrimEnd     *float64
}

// VideoService is the ingestion pipeline: it stores an upload, transcodes it
// into a proxy with a thumbnail and records the resulting Video.
type VideoService struct {
	store   VideoStore
	media   Transcoder
	layout  *storage.Layout
	cfg     IngestConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewVideoService(store VideoStore, tc Transcoder, layout *storage.Layout, cfg IngestConfig, m *metrics.Metrics, logger zerolog.Logger) *VideoService {
	return &VideoService{
		store:   store,
		media:   tc,
		layout:  layout,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Upload runs the full ingestion pipeline. On any error every file created
// for this upload has been removed by the time it returns.
func (s *VideoService) Upload(ctx context.Context, req UploadRequest) (video *model.Video, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.KindOf(err))
		}
		s.metrics.UploadsTotal.WithLabelValues(outcome).Inc()
		s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	ext, err := s.validateFile(req.Filename, req.ContentType)
	if err != nil {
		return nil, err
	}

	keys := s.layout.NewKeys(ext)
	log := s.logger.With().Str("video_id", keys.ID).Str("owner_id", req.OwnerID).Logger()

	// Files written so far; removed if the pipeline fails.
	var created []string
	defer func() {
		if err == nil {
			return
		}
		if rmErr := s.layout.Remove(created...); rmErr != nil {
			log.Warn().Err(rmErr).Msg("cleanup after failed upload")
		}
	}()

	created = append(created, keys.Original)
	if err := s.saveOriginal(req.Body, s.layout.Path(keys.Original)); err != nil {
		return nil, err
	}

	info, err := s.media.Inspect(ctx, s.layout.Path(keys.Original))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindDecode, "unreadable media file", err)
		}
		return nil, err
	}

	trim, err := ResolveTrim(req.TrimStart, req.TrimEnd, info.Duration, s.cfg.MaxClipSeconds)
	if err != nil {
		return nil, err
	}

	created = append(created, keys.Processed)
	processed, err := s.media.Process(ctx, s.layout.Path(keys.Original), s.layout.Path(keys.Processed), trim, s.cfg.Quality)
	if err != nil {
		return nil, err
	}

	var thumbKey *string
	if err := s.media.Thumbnail(ctx, s.layout.Path(keys.Processed), s.layout.Path(keys.Thumbnail), nil); err != nil {
		log.Warn().Err(err).Msg("thumbnail failed, storing video without one")
		// Thumbnail clears its own partial output; remove again in case it did not.
		_ = s.layout.Remove(keys.Thumbnail)
	} else {
		created = append(created, keys.Thumbnail)
		k := keys.Thumbnail
		thumbKey = &k
	}

	size, err := s.layout.Size(keys.Processed)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "stat processed file", err)
	}

	v := &model.Video{
		ID:           keys.ID,
		OwnerID:      req.OwnerID,
		OriginalName: filepath.Base(req.Filename),
		OriginalKey:  keys.Original,
		StoredKey:    keys.Processed,
		ThumbnailKey: thumbKey,
		Duration:     processed.Duration,
		Size:         size,
		Trim:         trim,
	}
	if err := s.store.Insert(ctx, v); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "save video", err)
	}

	log.Info().
		Float64("duration", v.Duration).
		Int64("size", v.Size).
		Bool("trimmed", trim != nil).
		Bool("thumbnail", thumbKey != nil).
		Dur("took", time.Since(start)).
		Msg("video ingested")
	return v, nil
}

// GetVideo returns the caller's video; videos owned by someone else are
// reported as not found.
func (s *VideoService) GetVideo(ctx context.Context, id, ownerID string) (*model.Video, error) {
	v, err := s.store.FindForOwner(ctx, id, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "video not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load video", err)
	}
	return v, nil
}

// ListVideos returns a page of the caller's videos, newest first.
func (s *VideoService) ListVideos(ctx context.Context, ownerID string, limit, offset int) ([]model.Video, error) {
	videos, err := s.store.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "list videos", err)
	}
	return videos, nil
}

// StoredPath returns the filesystem path of the video's processed proxy.
func (s *VideoService) StoredPath(v *model.Video) string {
	return s.layout.Path(v.StoredKey)
}

// Response builds the API view of v with public URLs.
func (s *VideoService) Response(v model.Video) model.VideoResponse {
	resp := model.VideoResponse{
		ID:           v.ID,
		OriginalName: v.OriginalName,
		Duration:     v.Duration,
		Size:         v.Size,
		VideoURL:     storage.PublicURL(s.cfg.PublicURLPrefix, v.StoredKey),
		Trim:         v.Trim,
		CreatedAt:    v.CreatedAt,
	}
	if v.ThumbnailKey != nil {
		u := storage.PublicURL(s.cfg.PublicURLPrefix, *v.ThumbnailKey)
		resp.ThumbnailURL = &u
	}
	return resp
}

// Responses builds API views for a page of videos.
func (s *VideoService) Responses(videos []model.Video) []model.VideoResponse {
	out := make([]model.VideoResponse, 0, len(videos))
	for _, v := range videos {
		out = append(out, s.Response(v))
	}
	return out
}

func (s *VideoService) validateFile(filename, contentType string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", apperr.New(apperr.KindValidation, "filename is required")
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	allowed := false
	for _, a := range s.cfg.AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", apperr.New(apperr.KindValidation,
			fmt.Sprintf("unsupported file type, allowed: %s", strings.Join(s.cfg.AllowedExtensions, ", ")))
	}
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "video/") {
		return "", apperr.New(apperr.KindValidation, "file must be a video")
	}
	return ext, nil
}

// saveOriginal streams body to path, failing as soon as the size cap is
// crossed. The caller removes path on error.
func (s *VideoService) saveOriginal(body io.Reader, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "create original file", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, s.cfg.MaxUploadBytes+1))
	closeErr := f.Close()
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "write original file", err)
	}
	if n > s.cfg.MaxUploadBytes {
		return apperr.New(apperr.KindSizeExceeded,
			fmt.Sprintf("video exceeds the %d MB limit", s.cfg.MaxUploadBytes/(1024*1024))).
			WithDetails(map[string]any{"maxBytes": s.cfg.MaxUploadBytes})
	}
	if n == 0 {
		return apperr.New(apperr.KindValidation, "uploaded file is empty")
	}
	if closeErr != nil {
		return apperr.Wrap(apperr.KindStorage, "write original file", closeErr)
	}
	return nil
}

// ResolveTrim validates a requested trim window against the inspected duration.
// With neither bound given there is no trim; a missing start defaults to 0
// and a missing end to the full duration.
func ResolveTrim(start, end *float64, duration, maxClip float64) (*model.TrimRange, error) {
	if start == nil && end == nil {
		return nil, nil
	}
	for _, v := range []*float64{start, end} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return nil, apperr.New(apperr.KindInvalidRange, "trim bounds must be finite numbers")
		}
	}
	r := model.TrimRange{Start: 0, End: duration}
	if start != nil {
		r.Start = *start
	}
	if end != nil {
		r.End = *end
	}

	if r.Start < 0 || r.Start >= duration {
		return nil, apperr.New(apperr.KindInvalidRange,
			fmt.Sprintf("trim start must be within 0 and %.2f seconds", duration))
	}
	if r.End <= r.Start || r.End > duration {
		return nil, apperr.New(apperr.KindInvalidRange,
			fmt.Sprintf("trim end must be after the start and at most %.2f seconds", duration))
	}
	if r.Duration() > maxClip {
		return nil, apperr.New(apperr.KindInvalidRange,
			fmt.Sprintf("trimmed clip must not exceed %g seconds", maxClip))
	}
	return &r, nil
}
