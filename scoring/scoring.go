// Package scoring folds component scores into the final weighted
// result. Everything here is pure: identical inputs always produce
// identical output, and the per-segment aggregation is independent of
// slice order.
package scoring

import (
	"math"
	"strings"

	"github.com/scorelab/mentor-pipeline/config"
)

// NeutralScore substitutes for sub-scores of failed segments. Counting
// failed segments at the neutral level is deliberate: excluding them
// would reward unreliable input.
const NeutralScore = 50.0

// ContentScores are the four rubric sub-scores for one segment.
type ContentScores struct {
	Clarity    float64 `json:"clarity"`
	Structure  float64 `json:"structure"`
	Technical  float64 `json:"technical"`
	Engagement float64 `json:"engagement"`
}

// Neutral returns the flagged default used for failed segments.
func Neutral() ContentScores {
	return ContentScores{
		Clarity:    NeutralScore,
		Structure:  NeutralScore,
		Technical:  NeutralScore,
		Engagement: NeutralScore,
	}
}

// SegmentResult is the immutable outcome of one processed segment.
// Failed segments still carry neutral scores so aggregation never
// skips an index.
type SegmentResult struct {
	Index      int           `json:"index"`
	Start      float64       `json:"start_seconds"`
	End        float64       `json:"end_seconds"`
	Transcript string        `json:"transcript"`
	Scores     ContentScores `json:"scores"`
	Summary    string        `json:"summary,omitempty"`
	Failed     bool          `json:"failed"`
	Reason     string        `json:"reason,omitempty"`
}

// Breakdown lists the component scores behind the overall number.
type Breakdown struct {
	Posture    float64 `json:"posture"`
	Audio      float64 `json:"audio"`
	Content    float64 `json:"content"`
	Clarity    float64 `json:"clarity"`
	Structure  float64 `json:"structure"`
	Technical  float64 `json:"technical"`
	Engagement float64 `json:"engagement"`
}

// FinalResult is the terminal output of a pipeline run.
type FinalResult struct {
	Overall        float64           `json:"overall"`
	Breakdown      Breakdown         `json:"breakdown"`
	Weights        config.Weights    `json:"weights"`
	Transcript     string            `json:"transcript"`
	Summary        string            `json:"summary"`
	Interpretation string            `json:"interpretation"`
	Feedback       map[string]string `json:"feedback"`
	SegmentCount   int               `json:"segment_count"`
	FailedSegments []int             `json:"failed_segments"`
}

// ComputeFinal aggregates posture, audio and the ordered per-segment
// content scores into the weighted final result.
//
// content = mean{clarity, structure, technical} across all segments;
// engagement = mean of per-segment engagement (the simpler, documented
// choice over a trend heuristic). Failed segments contribute their
// neutral defaults.
func ComputeFinal(posture, audio float64, segments []SegmentResult, weights config.Weights) FinalResult {
	avg := averageScores(segments)

	content := (avg.Clarity + avg.Structure + avg.Technical) / 3
	overall := weights.Posture*posture +
		weights.Audio*audio +
		weights.Content*content +
		weights.Engagement*avg.Engagement
	overall = clamp(overall)

	failed := make([]int, 0)
	transcripts := make([]string, 0, len(segments))
	summaries := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Failed {
			failed = append(failed, seg.Index)
		} else if seg.Summary != "" {
			summaries = append(summaries, seg.Summary)
		}
		transcripts = append(transcripts, seg.Transcript)
	}

	summary := strings.Join(summaries, " | ")
	if summary == "" {
		summary = "Content evaluation unavailable"
	}

	breakdown := Breakdown{
		Posture:    round1(posture),
		Audio:      round1(audio),
		Content:    round1(content),
		Clarity:    round1(avg.Clarity),
		Structure:  round1(avg.Structure),
		Technical:  round1(avg.Technical),
		Engagement: round1(avg.Engagement),
	}

	return FinalResult{
		Overall:        round1(overall),
		Breakdown:      breakdown,
		Weights:        weights,
		Transcript:     strings.Join(transcripts, "\n\n"),
		Summary:        summary,
		Interpretation: Interpretation(overall),
		Feedback:       Feedback(breakdown),
		SegmentCount:   len(segments),
		FailedSegments: failed,
	}
}

func averageScores(segments []SegmentResult) ContentScores {
	if len(segments) == 0 {
		return Neutral()
	}
	var sum ContentScores
	for _, seg := range segments {
		sum.Clarity += seg.Scores.Clarity
		sum.Structure += seg.Scores.Structure
		sum.Technical += seg.Scores.Technical
		sum.Engagement += seg.Scores.Engagement
	}
	n := float64(len(segments))
	return ContentScores{
		Clarity:    sum.Clarity / n,
		Structure:  sum.Structure / n,
		Technical:  sum.Technical / n,
		Engagement: sum.Engagement / n,
	}
}

// Interpretation maps a score to its human-readable band.
func Interpretation(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 80:
		return "Very Good"
	case score >= 70:
		return "Good"
	case score >= 60:
		return "Satisfactory"
	case score >= 50:
		return "Needs Improvement"
	default:
		return "Requires Attention"
	}
}

// Feedback produces a short remark per component of the breakdown.
func Feedback(b Breakdown) map[string]string {
	fb := make(map[string]string, 6)

	fb["posture"] = pick(b.Posture,
		"Great posture, maintains a professional stance.",
		"Good posture overall, minor improvements possible.",
		"Consider improving posture alignment and stance.")
	fb["audio"] = pick(b.Audio,
		"Excellent voice quality and pacing.",
		"Good audio quality, voice is clear and well-paced.",
		"Consider improving voice volume and speaking pace.")
	fb["clarity"] = pick(b.Clarity,
		"Explanations are very clear and easy to understand.",
		"Content is generally clear with room for improvement.",
		"Focus on making explanations clearer and simpler.")
	fb["structure"] = pick(b.Structure,
		"Well-structured content with logical flow.",
		"Content has decent structure, could be more organized.",
		"Improve content organization and logical flow.")
	fb["technical"] = pick(b.Technical,
		"Strong technical accuracy and depth.",
		"Technical content is adequate.",
		"Review technical accuracy and depth of explanations.")
	fb["engagement"] = pick(b.Engagement,
		"Highly engaging teaching style.",
		"Reasonably engaging, could use more interactive elements.",
		"Work on making content more engaging with examples and questions.")

	return fb
}

func pick(score float64, high, mid, low string) string {
	switch {
	case score >= 80:
		return high
	case score >= 60:
		return mid
	default:
		return low
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
