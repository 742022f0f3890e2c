package media

// MediaInfo is the subset of ffprobe output the pipeline relies on.
type MediaInfo struct {
	Duration float64 // seconds
	Width    int
	Height   int
	Codec    string
	Bitrate  int64 // bits/sec, format level
	HasAudio bool
}

// Quality selects the compression mode. When TargetBytes is positive the
// encoder runs in target-size mode and CRF is ignored.
type Quality struct {
	CRF         int
	TargetBytes int64
	Preset      string
}

// Default encoding settings
const (
	DefaultCRF            = 28
	DefaultPreset         = "medium"
	DefaultVideoCodec     = "libx264"
	DefaultAudioCodec     = "aac"
	DefaultAudioBitrate   = "128k"
	DefaultThumbnailWidth = 320

	// Share of the target size given to video in target-size mode; the rest
	// is left for the audio track.
	videoShare = 0.9

	// Trim output is an intermediate that is compressed again, so it is
	// encoded near-lossless and fast.
	trimCRF    = 18
	trimPreset = "veryfast"
)
