package model

import "time"

// TrimRange is an accepted [Start, End) window in seconds of the original upload.
type TrimRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (r TrimRange) Duration() float64 {
	return r.End - r.Start
}

// Video is a processed upload. Created once by the ingestion pipeline and never
// mutated afterwards. Keys are canonical paths relative to the upload root.
type Video struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"-"`
	OriginalName string     `json:"originalName"`
	OriginalKey  string     `json:"-"`
	StoredKey    string     `json:"-"`
	ThumbnailKey *string    `json:"-"`
	Duration     float64    `json:"duration"`
	Size         int64      `json:"size"`
	Trim         *TrimRange `json:"trim,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// VideoResponse is the API response for a video, with URLs derived from keys.
type VideoResponse struct {
	ID           string     `json:"id"`
	OriginalName string     `json:"originalName"`
	Duration     float64    `json:"duration"`
	Size         int64      `json:"size"`
	VideoURL     string     `json:"videoUrl"`
	ThumbnailURL *string    `json:"thumbnailUrl"`
	Trim         *TrimRange `json:"trim,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
