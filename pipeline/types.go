package pipeline

import (
	"context"
	"time"

	"github.com/scorelab/mentor-pipeline/analyzers"
	"github.com/scorelab/mentor-pipeline/clients"
	"github.com/scorelab/mentor-pipeline/media"
	"github.com/scorelab/mentor-pipeline/scoring"
)

// Stage identifies where a run currently is.
type Stage string

const (
	StagePreprocessing Stage = "preprocessing"
	StagePosture       Stage = "posture"
	StageAudio         Stage = "audio"
	StageTranscription Stage = "transcription"
	StageAggregation   Stage = "aggregation"
	StageComplete      Stage = "complete"
	StageError         Stage = "error"
)

// Segment is one contiguous [Start, End) window of the audio track.
// Segments are produced in increasing index order; the final one may
// be shorter than the target duration.
type Segment struct {
	Index int
	Start time.Duration
	End   time.Duration
}

func (s Segment) Duration() time.Duration { return s.End - s.Start }

// Snapshot is an immutable view of the run state, safe to hand to a
// polling UI while the orchestrator keeps mutating the live state.
type Snapshot struct {
	RunID         string                   `json:"run_id"`
	Video         string                   `json:"video"`
	Stage         Stage                    `json:"stage"`
	Progress      int                      `json:"progress"`
	Message       string                   `json:"message"`
	Posture       *analyzers.PostureResult `json:"posture,omitempty"`
	AudioScore    *float64                 `json:"audio_score,omitempty"`
	Segments      []scoring.SegmentResult  `json:"segments"`
	SegmentsTotal int                      `json:"segments_total"`
	Partial       *scoring.FinalResult     `json:"partial,omitempty"`
	Final         *scoring.FinalResult     `json:"final,omitempty"`
	Err           string                   `json:"error,omitempty"`
	Done          bool                     `json:"done"`
}

// Preprocessor is the media capability the pipeline drives; satisfied
// by *media.Workspace.
type Preprocessor interface {
	Probe(ctx context.Context, path string) (media.VideoInfo, error)
	ExtractAudio(ctx context.Context, info media.VideoInfo) (media.AudioTrack, error)
	SampleFrames(ctx context.Context, info media.VideoInfo, interval time.Duration) ([]media.Frame, error)
	CutSegment(ctx context.Context, track media.AudioTrack, start, dur time.Duration) ([]byte, error)
	Close() error
}

// Transcriber converts one segment's audio bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Evaluator scores one transcript segment against the rubric.
type Evaluator interface {
	Evaluate(ctx context.Context, transcript string) (clients.Evaluation, error)
}

// PostureScorer rates body posture over the sampled frames.
type PostureScorer interface {
	ScoreFrames(ctx context.Context, frames []media.Frame) analyzers.PostureResult
}

// AudioScorer rates voice quality over the extracted track.
type AudioScorer interface {
	ScoreTrack(track media.AudioTrack) (float64, error)
}
