// Package analyzers turns preprocessed media into component scores:
// body posture from sampled frames and voice quality from the audio
// track. Both produce scalars in [0,100].
package analyzers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/clients"
	"github.com/scorelab/mentor-pipeline/media"
)

// NeutralScore is used when a component cannot produce a signal, for
// example when no person is ever detected. It is a flagged default,
// not an error: poor framing is common and must not abort a run.
const NeutralScore = 50.0

const minConfidence = 0.5

// PostureResult carries the posture score plus how it was obtained.
type PostureResult struct {
	Score          float64 `json:"score"`
	FramesDetected int     `json:"frames_detected"`
	NoDetection    bool    `json:"no_detection"`
}

// Detector is the pose-landmark capability the scorer consumes.
type Detector interface {
	Enabled() bool
	Detect(ctx context.Context, imagePath string) (clients.PoseResult, error)
}

// PostureScorer averages per-frame alignment scores over all frames
// where a body was detected with sufficient confidence.
type PostureScorer struct {
	pose Detector
	log  *logrus.Entry
}

func NewPostureScorer(pose Detector, log *logrus.Entry) *PostureScorer {
	return &PostureScorer{pose: pose, log: log}
}

// ScoreFrames runs pose detection over the sampled frames. Individual
// detection failures skip the frame; zero detections overall yield the
// neutral score with NoDetection set.
func (s *PostureScorer) ScoreFrames(ctx context.Context, frames []media.Frame) PostureResult {
	if !s.pose.Enabled() || len(frames) == 0 {
		return PostureResult{Score: NeutralScore, NoDetection: true}
	}

	var weighted, weightSum float64
	detected := 0
	for _, frame := range frames {
		if ctx.Err() != nil {
			break
		}
		res, err := s.pose.Detect(ctx, frame.Path)
		if err != nil {
			s.log.WithError(err).WithField("frame", frame.Path).Warn("pose detection failed, skipping frame")
			continue
		}
		if !res.Detected {
			continue
		}
		score, confidence, ok := alignmentScore(res.Landmarks)
		if !ok || confidence <= minConfidence {
			continue
		}
		weighted += score * confidence
		weightSum += confidence
		detected++
	}

	if detected == 0 {
		return PostureResult{Score: NeutralScore, NoDetection: true}
	}
	return PostureResult{Score: weighted / weightSum, FramesDetected: detected}
}

// alignmentScore rates shoulder-to-hip vertical alignment from the
// four torso landmarks. Lower deviation scores higher:
//   - 50% shoulder midpoint horizontally above hip midpoint
//   - 30% level shoulders
//   - 20% level hips
func alignmentScore(lm map[string]clients.Landmark) (score, confidence float64, ok bool) {
	ls, ok1 := lm["left_shoulder"]
	rs, ok2 := lm["right_shoulder"]
	lh, ok3 := lm["left_hip"]
	rh, ok4 := lm["right_hip"]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0, 0, false
	}

	shoulderMidX := (ls.X + rs.X) / 2
	hipMidX := (lh.X + rh.X) / 2

	horizontalOffset := abs(shoulderMidX - hipMidX)
	shoulderTilt := abs(ls.Y - rs.Y)
	hipTilt := abs(lh.Y - rh.Y)

	alignment := 100 * (1 - min1(horizontalOffset*2))
	shoulderLevel := 100 * (1 - min1(shoulderTilt*3))
	hipLevel := 100 * (1 - min1(hipTilt*3))

	score = 0.5*alignment + 0.3*shoulderLevel + 0.2*hipLevel
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	confidence = (ls.Visibility + rs.Visibility + lh.Visibility + rh.Visibility) / 4
	return score, confidence, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
