// Package pipeline orchestrates one video evaluation run: media
// preprocessing, posture and audio scoring, segment-wise transcription
// plus content evaluation, and the final weighted aggregation.
//
// The pipeline owns all run state. Callers observe progress only
// through value snapshots (Snapshot, Watch), never through the live
// structure, so a polling UI cannot see torn reads if segment
// processing is ever parallelized.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
	"github.com/scorelab/mentor-pipeline/media"
	"github.com/scorelab/mentor-pipeline/scoring"
)

// Deps bundles the capabilities a run drives. Each field matches one
// concrete implementation in media, analyzers or clients; tests swap
// in fakes.
type Deps struct {
	Media      Preprocessor
	Transcribe Transcriber
	Evaluate   Evaluator
	Posture    PostureScorer
	Audio      AudioScorer
}

// Pipeline processes exactly one video. State is mutated only by Run;
// concurrent readers go through Snapshot or Watch.
type Pipeline struct {
	cfg  *config.Root
	deps Deps
	log  *logrus.Entry

	runID string

	mu       sync.RWMutex
	snap     Snapshot
	watchers []chan Snapshot
}

// New builds a pipeline for one run. The configuration has already
// been validated at load time.
func New(cfg *config.Root, deps Deps, log *logrus.Entry) *Pipeline {
	runID := uuid.NewString()
	return &Pipeline{
		cfg:   cfg,
		deps:  deps,
		log:   log.WithField("run_id", runID),
		runID: runID,
		snap: Snapshot{
			RunID:    runID,
			Stage:    StagePreprocessing,
			Segments: []scoring.SegmentResult{},
		},
	}
}

// ID returns the run identifier.
func (p *Pipeline) ID() string { return p.runID }

// Snapshot returns an immutable copy of the current run state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copySnapshot(p.snap)
}

// Watch registers a progress subscription. One snapshot is delivered
// per state change; the channel closes when the run reaches a terminal
// state. Slow consumers miss intermediate snapshots rather than
// blocking the orchestrator.
func (p *Pipeline) Watch() <-chan Snapshot {
	ch := make(chan Snapshot, 64)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.Done {
		ch <- copySnapshot(p.snap)
		close(ch)
		return ch
	}
	p.watchers = append(p.watchers, ch)
	return ch
}

// Run executes the full pipeline. Per-segment failures are contained
// at the segment boundary; only preprocessing failures (and
// cancellation) abort the run. Temporary media files are removed on
// every exit path.
func (p *Pipeline) Run(ctx context.Context, videoPath string) (*scoring.FinalResult, error) {
	defer func() {
		if err := p.deps.Media.Close(); err != nil {
			p.log.WithError(err).Warn("workspace cleanup failed")
		}
	}()

	p.update(func(s *Snapshot) {
		s.Video = videoPath
		s.Stage = StagePreprocessing
		s.Progress = 0
		s.Message = "Extracting audio and sampling frames..."
	})

	info, err := p.deps.Media.Probe(ctx, videoPath)
	if err != nil {
		return nil, p.fail(err)
	}
	track, err := p.deps.Media.ExtractAudio(ctx, info)
	if err != nil {
		return nil, p.fail(err)
	}
	interval := p.cfg.FrameInterval(info.Duration)
	frames, err := p.deps.Media.SampleFrames(ctx, info, interval)
	if err != nil {
		return nil, p.fail(err)
	}

	p.update(func(s *Snapshot) {
		s.Progress = 10
		s.Message = fmt.Sprintf("Video preprocessed: %.1fs, %d frames sampled", info.Duration.Seconds(), len(frames))
	})

	p.update(func(s *Snapshot) {
		s.Stage = StagePosture
		s.Progress = 15
		s.Message = "Analyzing posture..."
	})
	posture := p.deps.Posture.ScoreFrames(ctx, frames)
	if posture.NoDetection {
		p.log.Info("no pose detections, using neutral posture score")
	}
	p.update(func(s *Snapshot) {
		s.Posture = &posture
		s.Progress = 25
		s.Message = fmt.Sprintf("Posture analysis complete: %.1f/100", posture.Score)
	})

	p.update(func(s *Snapshot) {
		s.Stage = StageAudio
		s.Progress = 30
		s.Message = "Analyzing audio features..."
	})
	audioScore, err := p.deps.Audio.ScoreTrack(track)
	if err != nil {
		return nil, p.fail(fmt.Errorf("audio analysis: %w", err))
	}
	p.update(func(s *Snapshot) {
		s.AudioScore = &audioScore
		s.Progress = 40
		s.Message = fmt.Sprintf("Audio analysis complete: %.1f/100", audioScore)
	})

	segments := SplitSegments(info.Duration, p.cfg.SegmentDuration())
	p.update(func(s *Snapshot) {
		s.Stage = StageTranscription
		s.SegmentsTotal = len(segments)
	})

	results := make([]scoring.SegmentResult, 0, len(segments))
	for _, seg := range segments {
		// cancellation is honored between segments; an in-flight
		// remote call finishes or times out on its own budget
		if err := ctx.Err(); err != nil {
			return nil, p.fail(err)
		}

		p.update(func(s *Snapshot) {
			s.Progress = 40 + 50*seg.Index/len(segments)
			s.Message = fmt.Sprintf("Processing segment %d/%d (%.0fs - %.0fs)...",
				seg.Index+1, len(segments), seg.Start.Seconds(), seg.End.Seconds())
		})

		result := p.processSegment(ctx, track, seg)
		results = append(results, result)

		partial := scoring.ComputeFinal(posture.Score, audioScore, results, p.cfg.Weights)
		p.update(func(s *Snapshot) {
			s.Segments = append(s.Segments, result)
			s.Partial = &partial
			s.Progress = 40 + 50*(seg.Index+1)/len(segments)
			s.Message = fmt.Sprintf("Segment %d/%d complete", seg.Index+1, len(segments))
		})
	}

	p.update(func(s *Snapshot) {
		s.Stage = StageAggregation
		s.Progress = 90
		s.Message = "Computing final scores..."
	})

	final := scoring.ComputeFinal(posture.Score, audioScore, results, p.cfg.Weights)
	p.update(func(s *Snapshot) {
		s.Stage = StageComplete
		s.Progress = 100
		s.Message = "Analysis complete"
		s.Final = &final
		s.Done = true
	})
	p.log.WithFields(logrus.Fields{
		"overall":         final.Overall,
		"segments":        final.SegmentCount,
		"failed_segments": len(final.FailedSegments),
	}).Info("run complete")

	return &final, nil
}

// processSegment runs transcription then content evaluation for one
// segment. Any failure yields a marked result with neutral sub-scores
// instead of a gap; the run always continues.
func (p *Pipeline) processSegment(ctx context.Context, track media.AudioTrack, seg Segment) scoring.SegmentResult {
	result := scoring.SegmentResult{
		Index: seg.Index,
		Start: seg.Start.Seconds(),
		End:   seg.End.Seconds(),
	}
	log := p.log.WithField("segment", seg.Index)

	audio, err := p.deps.Media.CutSegment(ctx, track, seg.Start, seg.Duration())
	if err != nil {
		log.WithError(err).Warn("segment audio cut failed")
		return markFailed(result, fmt.Sprintf("audio cut failed: %v", err))
	}

	transcript, err := p.deps.Transcribe.Transcribe(ctx, audio, p.cfg.Processing.Language)
	if err != nil {
		log.WithError(err).Warn("transcription failed")
		return markFailed(result, fmt.Sprintf("transcription failed: %v", err))
	}
	result.Transcript = transcript

	eval, err := p.deps.Evaluate.Evaluate(ctx, transcript)
	if err != nil {
		log.WithError(err).Warn("content evaluation failed")
		return markFailed(result, fmt.Sprintf("content evaluation failed: %v", err))
	}

	result.Scores = scoring.ContentScores{
		Clarity:    eval.Clarity,
		Structure:  eval.Structure,
		Technical:  eval.Technical,
		Engagement: eval.Engagement,
	}
	result.Summary = eval.Summary
	return result
}

// markFailed stamps the failure marker and neutral sub-scores so the
// results list stays index-contiguous. The transcript keeps whatever
// transcription produced before the failure.
func markFailed(result scoring.SegmentResult, reason string) scoring.SegmentResult {
	result.Failed = true
	result.Reason = reason
	result.Scores = scoring.Neutral()
	return result
}

func (p *Pipeline) fail(err error) error {
	p.update(func(s *Snapshot) {
		s.Stage = StageError
		s.Message = err.Error()
		s.Err = err.Error()
		s.Done = true
	})
	if !errors.Is(err, context.Canceled) {
		p.log.WithError(err).Error("run failed")
	}
	return err
}

// update applies a mutation under the lock and publishes the resulting
// snapshot to all watchers without blocking on slow ones.
func (p *Pipeline) update(fn func(*Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	snap := copySnapshot(p.snap)
	watchers := p.watchers
	if snap.Done {
		p.watchers = nil
	}
	p.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- snap:
		default:
		}
		if snap.Done {
			close(ch)
		}
	}
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	out.Segments = make([]scoring.SegmentResult, len(s.Segments))
	copy(out.Segments, s.Segments)
	if s.Posture != nil {
		v := *s.Posture
		out.Posture = &v
	}
	if s.AudioScore != nil {
		v := *s.AudioScore
		out.AudioScore = &v
	}
	if s.Partial != nil {
		v := *s.Partial
		out.Partial = &v
	}
	if s.Final != nil {
		v := *s.Final
		out.Final = &v
	}
	return out
}
