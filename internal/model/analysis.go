package model

import "time"

// Technique holds the 0-100 sub-scores of a stroke.
type Technique struct {
	Power        int `json:"power"`
	Angle        int `json:"angle"`
	Coordination int `json:"coordination"`
}

// Suggestion is one coaching tip returned by the inference service.
type Suggestion struct {
	Title     string `json:"title"`
	Desc      string `json:"desc"`
	Icon      string `json:"icon"`
	Highlight string `json:"highlight"`
}

// Metrics is the validated payload extracted from an inference response.
type Metrics struct {
	Speed        int          `json:"speed"`
	Level        string       `json:"level"`
	Score        float64      `json:"score"`
	Technique    Technique    `json:"technique"`
	Rank         *int         `json:"rank,omitempty"`
	RankPosition *int         `json:"rankPosition,omitempty"`
	Suggestions  []Suggestion `json:"suggestions"`
}

// AnalysisResult is an append-only record of one completed analysis.
type AnalysisResult struct {
	ID      string `json:"id"`
	OwnerID string `json:"-"`
	VideoID string `json:"videoId"`
	Metrics
	Cost            int64     `json:"cost"`
	DurationSeconds float64   `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AnalyzeRequest is the API request body for starting an analysis.
type AnalyzeRequest struct {
	VideoID string `json:"video_id"`
}
