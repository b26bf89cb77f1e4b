// Package media preprocesses uploaded videos: probing, mono audio
// extraction, frame sampling and per-segment audio cuts. All ffmpeg
// and ffprobe work goes through a run-scoped Workspace whose temp
// files are deleted on every exit path.
package media

import (
	"errors"
	"time"
)

// ErrUnsupportedMedia marks input that cannot be evaluated at all:
// unreadable containers or videos with no decodable audio stream.
// Unlike segment-level failures this aborts the run.
var ErrUnsupportedMedia = errors.New("unsupported media")

// VideoInfo describes a probed source video. Immutable once created.
type VideoInfo struct {
	Path      string
	Duration  time.Duration
	FrameRate float64
	HasAudio  bool
}

// AudioTrack is the extracted mono WAV derived once from the video.
type AudioTrack struct {
	Path       string
	SampleRate int
	Duration   time.Duration
}

// Frame is one sampled still, in timestamp order.
type Frame struct {
	Timestamp time.Duration
	Path      string
}
