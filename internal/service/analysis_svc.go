package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/inference"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
)

// State is a step of a single analysis run.
type State string

const (
	StateFetching   State = "fetching"
	StateUploading  State = "uploading"
	StatePolling    State = "polling"
	StateInvoking   State = "invoking"
	StateValidating State = "validating"
	StateCharging   State = "charging"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

const (
	analysisMimeType   = "video/mp4"
	remoteDeleteBudget = 10 * time.Second
)

// AnalysisStore persists analysis results.
type AnalysisStore interface {
	Insert(ctx context.Context, a *model.AnalysisResult) error
	FindForOwner(ctx context.Context, id, ownerID string) (*model.AnalysisResult, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.AnalysisResult, error)
}

// VideoLookup resolves a caller's video and where its proxy lives on disk.
type VideoLookup interface {
	GetVideo(ctx context.Context, id, ownerID string) (*model.Video, error)
	StoredPath(v *model.Video) string
}

// Debiter applies ledger changes. EnsureAccount opens the caller's account,
// with its welcome grant, before the first charge.
type Debiter interface {
	EnsureAccount(ctx context.Context, userID string) error
	Adjust(ctx context.Context, userID string, delta int64, typ model.TransactionType, description string, related *string) (*model.LedgerTransaction, error)
}

type AnalysisConfig struct {
	Cost         int64
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// AnalysisService orchestrates one remote inference per request: upload the
// proxy, wait for the remote side to accept it, run the prompt, validate the
// answer, charge the caller and store the result.
type AnalysisService struct {
	store   AnalysisStore
	videos  VideoLookup
	remote  inference.Client
	ledger  Debiter
	cache   *CacheService
	cfg     AnalysisConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewAnalysisService(store AnalysisStore, videos VideoLookup, remote inference.Client, ledger Debiter, cache *CacheService, cfg AnalysisConfig, m *metrics.Metrics, logger zerolog.Logger) *AnalysisService {
	return &AnalysisService{
		store:   store,
		videos:  videos,
		remote:  remote,
		ledger:  ledger,
		cache:   cache,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "analysis").Logger(),
	}
}

type analysisRun struct {
	id     string
	state  State
	logger zerolog.Logger
}

func (r *analysisRun) enter(s State) {
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(s)).Msg("state transition")
	r.state = s
}

// Analyze runs the full state machine for videoID on behalf of ownerID.
// Remote errors are terminal; nothing is retried.
func (s *AnalysisService) Analyze(ctx context.Context, videoID, ownerID string) (result *model.AnalysisResult, err error) {
	start := time.Now()
	run := &analysisRun{id: uuid.NewString()}
	run.logger = s.logger.With().
		Str("analysis_id", run.id).
		Str("video_id", videoID).
		Str("owner_id", ownerID).
		Logger()

	defer func() {
		elapsed := time.Since(start)
		s.metrics.AnalysisDuration.Observe(elapsed.Seconds())
		if err != nil {
			failedIn := run.state
			run.enter(StateAborted)
			reason := string(apperr.KindOf(err))
			s.metrics.AnalysesTotal.WithLabelValues(string(StateAborted), reason).Inc()
			run.logger.Warn().Err(err).
				Str("failed_in", string(failedIn)).
				Str("reason", reason).
				Dur("took", elapsed).
				Msg("analysis aborted")
			return
		}
		s.metrics.AnalysesTotal.WithLabelValues(string(StateDone), "").Inc()
		run.logger.Info().Dur("took", elapsed).Msg("analysis done")
	}()

	run.enter(StateFetching)
	video, err := s.videos.GetVideo(ctx, videoID, ownerID)
	if err != nil {
		return nil, err
	}
	path := s.videos.StoredPath(video)
	if info, statErr := os.Stat(path); statErr != nil || info.IsDir() {
		return nil, apperr.New(apperr.KindFileMissing, "video file is missing from storage")
	}
	if err := s.ledger.EnsureAccount(ctx, ownerID); err != nil {
		return nil, err
	}

	run.enter(StateUploading)
	file, err := s.remote.Upload(ctx, path, analysisMimeType)
	if err != nil {
		return nil, err
	}
	defer s.deleteRemote(ctx, run, file.Name)

	run.enter(StatePolling)
	if err := s.waitActive(ctx, file); err != nil {
		return nil, err
	}

	run.enter(StateInvoking)
	text, err := s.remote.Infer(ctx, file, inference.SmashPrompt)
	if err != nil {
		return nil, err
	}

	run.enter(StateValidating)
	m, err := ParseResult(text)
	if err != nil {
		return nil, err
	}

	// A debit that succeeds must be followed by the insert, so the caller's
	// cancellation stops applying here.
	ctx = context.WithoutCancel(ctx)

	run.enter(StateCharging)
	if s.cfg.Cost > 0 {
		related := run.id
		if _, err := s.ledger.Adjust(ctx, ownerID, -s.cfg.Cost, model.TxSpend, "smash analysis", &related); err != nil {
			return nil, err
		}
	}

	run.enter(StatePersisting)
	result = &model.AnalysisResult{
		ID:              run.id,
		OwnerID:         ownerID,
		VideoID:         video.ID,
		Metrics:         *m,
		Cost:            s.cfg.Cost,
		DurationSeconds: math.Round(time.Since(start).Seconds()*1000) / 1000,
	}
	if err := s.store.Insert(ctx, result); err != nil {
		run.logger.Error().Err(err).
			Int64("charged", s.cfg.Cost).
			Msg("analysis charged but result not saved")
		return nil, apperr.Wrap(apperr.KindStorage, "save analysis result", err)
	}

	run.enter(StateDone)
	return result, nil
}

// waitActive polls the remote file until it is ready. The wait is bounded by
// PollTimeout and sleeps PollInterval between checks.
func (s *AnalysisService) waitActive(ctx context.Context, file *inference.File) error {
	if file.State == inference.StateActive {
		return nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	timeout := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.New(apperr.KindProcessingTimeout,
			fmt.Sprintf("remote processing did not finish within %s", s.cfg.PollTimeout))
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	state := file.State
	for {
		switch state {
		case inference.StateActive:
			return nil
		case inference.StateFailed:
			return apperr.New(apperr.KindRemoteUnknown, "remote processing of the video failed")
		}

		select {
		case <-pollCtx.Done():
			return timeout()
		case <-ticker.C:
		}

		var err error
		state, err = s.remote.Status(pollCtx, file.Name)
		if err != nil {
			if pollCtx.Err() != nil {
				return timeout()
			}
			return err
		}
	}
}

func (s *AnalysisService) deleteRemote(ctx context.Context, run *analysisRun, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteDeleteBudget)
	defer cancel()
	if err := s.remote.Delete(ctx, name); err != nil {
		run.logger.Warn().Err(err).Str("file", name).Msg("failed to delete remote file")
	}
}

// GetResult returns the caller's analysis, reading through the result cache.
func (s *AnalysisService) GetResult(ctx context.Context, id, ownerID string) (*model.AnalysisResult, error) {
	if cached, err := s.cache.GetAnalysis(ctx, ownerID, id); err == nil && cached != nil {
		var a model.AnalysisResult
		if json.Unmarshal(cached, &a) == nil {
			s.metrics.CacheHits.Inc()
			a.OwnerID = ownerID
			return &a, nil
		}
	}
	s.metrics.CacheMisses.Inc()

	a, err := s.store.FindForOwner(ctx, id, ownerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "analysis not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "load analysis", err)
	}

	if err := s.cache.SetAnalysis(ctx, ownerID, id, a); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache analysis")
	}
	return a, nil
}

// ListResults returns a page of the caller's analyses, newest first.
func (s *AnalysisService) ListResults(ctx context.Context, ownerID string, limit, offset int) ([]model.AnalysisResult, error) {
	results, err := s.store.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "list analyses", err)
	}
	return results, nil
}

type rawTechnique struct {
	Power        *json.Number `json:"power"`
	Angle        *json.Number `json:"angle"`
	Coordination *json.Number `json:"coordination"`
}

type rawResult struct {
	Speed        *json.Number        `json:"speed"`
	Level        *string             `json:"level"`
	Score        *json.Number        `json:"score"`
	Technique    *rawTechnique       `json:"technique"`
	Rank         json.RawMessage     `json:"rank"`
	RankPosition json.RawMessage     `json:"rank_position"`
	Suggestions  *[]model.Suggestion `json:"suggestions"`
}

var firstInt = regexp.MustCompile(`\d+`)

// ParseResult validates the model's JSON answer. Every required key must be
// present and every value within the range the prompt asks for; rank and
// rank_position are optional.
func ParseResult(text string) (*model.Metrics, error) {
	text = stripCodeFence(text)

	var raw rawResult
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResult, "analysis result is not valid JSON", err)
	}

	var missing []string
	if raw.Speed == nil {
		missing = append(missing, "speed")
	}
	if raw.Level == nil {
		missing = append(missing, "level")
	}
	if raw.Score == nil {
		missing = append(missing, "score")
	}
	if raw.Technique == nil {
		missing = append(missing, "technique")
	} else {
		if raw.Technique.Power == nil {
			missing = append(missing, "technique.power")
		}
		if raw.Technique.Angle == nil {
			missing = append(missing, "technique.angle")
		}
		if raw.Technique.Coordination == nil {
			missing = append(missing, "technique.coordination")
		}
	}
	if raw.Suggestions == nil {
		missing = append(missing, "suggestions")
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.KindMalformedResult,
			"analysis result is missing "+strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing": missing})
	}

	m := &model.Metrics{Level: *raw.Level, Suggestions: *raw.Suggestions}
	var err error
	if m.Speed, err = intValue("speed", *raw.Speed, 0, math.MaxInt32); err != nil {
		return nil, err
	}
	if m.Score, err = raw.Score.Float64(); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedResult, "score is not a number", err)
	}
	if m.Score < 0 || m.Score > maxScore {
		return nil, outOfRange("score", 0, maxScore)
	}
	if m.Technique.Power, err = intValue("technique.power", *raw.Technique.Power, 0, maxPercent); err != nil {
		return nil, err
	}
	if m.Technique.Angle, err = intValue("technique.angle", *raw.Technique.Angle, 0, maxPercent); err != nil {
		return nil, err
	}
	if m.Technique.Coordination, err = intValue("technique.coordination", *raw.Technique.Coordination, 0, maxPercent); err != nil {
		return nil, err
	}
	if m.Rank, err = optionalInt("rank", raw.Rank); err != nil {
		return nil, err
	}
	if m.RankPosition, err = optionalInt("rank_position", raw.RankPosition); err != nil {
		return nil, err
	}
	if m.Suggestions == nil {
		m.Suggestions = []model.Suggestion{}
	}
	return m, nil
}

// Bounds of the scores the prompt asks for. Every integer is also stored in
// an INTEGER column, so nothing above MaxInt32 may reach the store.
const (
	maxPercent = 100
	maxScore   = 10
)

func outOfRange(key string, lo, hi float64) error {
	return apperr.New(apperr.KindMalformedResult,
		fmt.Sprintf("%s must be between %g and %g", key, lo, hi)).
		WithDetails(map[string]any{"field": key, "min": lo, "max": hi})
}

// intValue accepts whole numbers only, including 300.0, within [lo, hi].
func intValue(key string, n json.Number, lo, hi int64) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindMalformedResult, key+" is not a number", err)
	}
	if f != math.Trunc(f) {
		return 0, apperr.New(apperr.KindMalformedResult, key+" must be a whole number").
			WithDetails(map[string]any{"field": key})
	}
	if f < float64(lo) || f > float64(hi) {
		return 0, outOfRange(key, float64(lo), float64(hi))
	}
	return int(f), nil
}

// optionalInt reads a percentage given as a number, or as the first integer
// inside free text such as "top 15%". Text without digits is treated as
// absent; a value outside 0..100 is malformed either way.
func optionalInt(key string, raw json.RawMessage) (*int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil && n != "" {
		v, err := intValue(key, n, 0, maxPercent)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	var text string
	if json.Unmarshal(raw, &text) != nil {
		return nil, nil
	}
	digits := firstInt.FindString(text)
	if digits == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(digits)
	if err != nil || v > maxPercent {
		return nil, outOfRange(key, 0, maxPercent)
	}
	return &v, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
