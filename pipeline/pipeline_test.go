package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/analyzers"
	"github.com/scorelab/mentor-pipeline/clients"
	"github.com/scorelab/mentor-pipeline/config"
	"github.com/scorelab/mentor-pipeline/media"
	"github.com/scorelab/mentor-pipeline/scoring"
)

type fakeMedia struct {
	duration  time.Duration
	probeErr  error
	closed    bool
	cutErr    map[int]error
	cutCalls  int
	frameList []media.Frame
}

func (f *fakeMedia) Probe(_ context.Context, path string) (media.VideoInfo, error) {
	if f.probeErr != nil {
		return media.VideoInfo{}, f.probeErr
	}
	return media.VideoInfo{Path: path, Duration: f.duration, FrameRate: 30, HasAudio: true}, nil
}

func (f *fakeMedia) ExtractAudio(_ context.Context, info media.VideoInfo) (media.AudioTrack, error) {
	return media.AudioTrack{Path: "audio.wav", SampleRate: 16000, Duration: info.Duration}, nil
}

func (f *fakeMedia) SampleFrames(_ context.Context, _ media.VideoInfo, _ time.Duration) ([]media.Frame, error) {
	return f.frameList, nil
}

func (f *fakeMedia) CutSegment(_ context.Context, _ media.AudioTrack, start, _ time.Duration) ([]byte, error) {
	idx := f.cutCalls
	f.cutCalls++
	if err := f.cutErr[idx]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("wav-%v", start)), nil
}

func (f *fakeMedia) Close() error {
	f.closed = true
	return nil
}

type fakeTranscriber struct {
	errs  map[int]error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ []byte, _ string) (string, error) {
	idx := f.calls
	f.calls++
	if err := f.errs[idx]; err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("transcript for segment %d", idx), nil
}

type fakeEvaluator struct {
	errs  map[int]error
	calls int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ string) (clients.Evaluation, error) {
	idx := f.calls
	f.calls++
	if err := f.errs[idx]; err != nil {
		return clients.Evaluation{}, err
	}
	return clients.Evaluation{Clarity: 80, Structure: 75, Technical: 85, Engagement: 70, Summary: fmt.Sprintf("summary %d", idx)}, nil
}

type fakePosture struct{ result analyzers.PostureResult }

func (f *fakePosture) ScoreFrames(context.Context, []media.Frame) analyzers.PostureResult {
	return f.result
}

type fakeAudio struct {
	score float64
	err   error
}

func (f *fakeAudio) ScoreTrack(media.AudioTrack) (float64, error) { return f.score, f.err }

func testConfig(t *testing.T) *config.Root {
	t.Helper()
	cfg := &config.Root{
		Processing: config.Processing{SegmentDurationSeconds: 30},
		Audio:      config.Audio{SampleRate: 16000, EnergyMin: 0.01, EnergyOptimal: 0.1, EnergyMax: 0.3},
		Services: config.Services{
			Transcription: config.Service{TimeoutSeconds: 5},
			Evaluator:     config.Service{TimeoutSeconds: 5},
			Pose:          config.Service{TimeoutSeconds: 5},
		},
		Weights: config.Weights{Posture: 0.25, Audio: 0.25, Content: 0.30, Engagement: 0.20},
		Rubric:  config.DefaultRubric(),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func newTestPipeline(t *testing.T, m *fakeMedia, tr *fakeTranscriber, ev *fakeEvaluator) *Pipeline {
	t.Helper()
	return New(testConfig(t), Deps{
		Media:      m,
		Transcribe: tr,
		Evaluate:   ev,
		Posture:    &fakePosture{result: analyzers.PostureResult{Score: 80, FramesDetected: 5}},
		Audio:      &fakeAudio{score: 75},
	}, testLog())
}

func TestRunHappyPath(t *testing.T) {
	m := &fakeMedia{duration: 90 * time.Second}
	p := newTestPipeline(t, m, &fakeTranscriber{}, &fakeEvaluator{})

	final, err := p.Run(context.Background(), "lecture.mp4")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.SegmentCount != 3 {
		t.Fatalf("segment count = %d, want 3", final.SegmentCount)
	}
	if len(final.FailedSegments) != 0 {
		t.Fatalf("failed segments = %v", final.FailedSegments)
	}
	if final.Overall <= 0 || final.Overall > 100 {
		t.Fatalf("overall = %v", final.Overall)
	}
	if !strings.Contains(final.Transcript, "transcript for segment 2") {
		t.Fatalf("transcript missing segment text: %q", final.Transcript)
	}
	if !m.closed {
		t.Fatal("workspace not closed after run")
	}

	snap := p.Snapshot()
	if !snap.Done || snap.Stage != StageComplete || snap.Progress != 100 {
		t.Fatalf("terminal snapshot = %+v", snap)
	}
	if snap.Final == nil {
		t.Fatal("terminal snapshot missing final result")
	}
}

// 90s video, 30s segments, segment 2's content
// evaluation fails permanently. The run must still complete, keep the
// transcript that transcription produced, and flag exactly one of
// three segments.
func TestRunEvaluationFailureIsContained(t *testing.T) {
	m := &fakeMedia{duration: 90 * time.Second}
	ev := &fakeEvaluator{errs: map[int]error{1: &clients.RemoteError{Service: "evaluator", Status: 500, Err: errors.New("boom")}}}
	p := newTestPipeline(t, m, &fakeTranscriber{}, ev)

	final, err := p.Run(context.Background(), "lecture.mp4")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(final.FailedSegments) != 1 || final.FailedSegments[0] != 1 {
		t.Fatalf("failed segments = %v, want [1]", final.FailedSegments)
	}
	if final.Overall < 0 || final.Overall > 100 {
		t.Fatalf("overall = %v", final.Overall)
	}

	snap := p.Snapshot()
	seg := snap.Segments[1]
	if !seg.Failed {
		t.Fatal("segment 1 not marked failed")
	}
	if seg.Transcript != "transcript for segment 1" {
		t.Fatalf("failed segment lost its transcript: %q", seg.Transcript)
	}
	if seg.Scores != scoring.Neutral() {
		t.Fatalf("failed segment scores = %+v, want neutral", seg.Scores)
	}
}

func TestRunTranscriptionFailureIsContained(t *testing.T) {
	m := &fakeMedia{duration: 60 * time.Second}
	tr := &fakeTranscriber{errs: map[int]error{0: errors.New("network down")}}
	p := newTestPipeline(t, m, tr, &fakeEvaluator{})

	final, err := p.Run(context.Background(), "lecture.mp4")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	snap := p.Snapshot()
	if !snap.Segments[0].Failed {
		t.Fatal("segment 0 not marked failed")
	}
	if snap.Segments[0].Transcript != "" {
		t.Fatalf("failed transcription should leave empty transcript, got %q", snap.Segments[0].Transcript)
	}
	if snap.Segments[1].Failed {
		t.Fatal("segment 1 should have succeeded")
	}
	if len(final.FailedSegments) != 1 {
		t.Fatalf("failed segments = %v", final.FailedSegments)
	}
}

func TestRunUnsupportedMediaIsFatal(t *testing.T) {
	m := &fakeMedia{probeErr: fmt.Errorf("%w: no audio", media.ErrUnsupportedMedia)}
	p := newTestPipeline(t, m, &fakeTranscriber{}, &fakeEvaluator{})

	_, err := p.Run(context.Background(), "broken.avi")
	if !errors.Is(err, media.ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	if !m.closed {
		t.Fatal("workspace must be cleaned up on fatal preprocessing failure")
	}
	snap := p.Snapshot()
	if snap.Stage != StageError || !snap.Done {
		t.Fatalf("snapshot after fatal error = %+v", snap)
	}
}

// Watch consumers must only ever observe index-contiguous completed
// prefixes, no matter where in the run the snapshot was taken.
func TestWatchSnapshotsAreContiguous(t *testing.T) {
	m := &fakeMedia{duration: 150 * time.Second}
	ev := &fakeEvaluator{errs: map[int]error{2: errors.New("flaky")}}
	p := newTestPipeline(t, m, &fakeTranscriber{}, ev)

	watch := p.Watch()
	if _, err := p.Run(context.Background(), "lecture.mp4"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var sawSegments bool
	for snap := range watch {
		for i, seg := range snap.Segments {
			if seg.Index != i {
				t.Fatalf("gap in snapshot: position %d holds index %d", i, seg.Index)
			}
		}
		if len(snap.Segments) > 0 {
			sawSegments = true
		}
		if snap.Partial != nil && (snap.Partial.Overall < 0 || snap.Partial.Overall > 100) {
			t.Fatalf("partial overall out of bounds: %v", snap.Partial.Overall)
		}
	}
	if !sawSegments {
		t.Fatal("watch never surfaced segment progress")
	}
}

func TestWatchAfterTerminalDeliversFinalSnapshot(t *testing.T) {
	m := &fakeMedia{duration: 30 * time.Second}
	p := newTestPipeline(t, m, &fakeTranscriber{}, &fakeEvaluator{})
	if _, err := p.Run(context.Background(), "lecture.mp4"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var last Snapshot
	for snap := range p.Watch() {
		last = snap
	}
	if !last.Done || last.Final == nil {
		t.Fatalf("late watcher got %+v", last)
	}
}

func TestRunCancellationStopsBetweenSegments(t *testing.T) {
	m := &fakeMedia{duration: 300 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	tr := &fakeTranscriber{}
	p := New(testConfig(t), Deps{
		Media:      m,
		Transcribe: transcriberFunc(func(c context.Context, audio []byte, lang string) (string, error) {
			cancel() // request cancellation while a segment is in flight
			return tr.Transcribe(c, audio, lang)
		}),
		Evaluate: &fakeEvaluator{},
		Posture:  &fakePosture{result: analyzers.PostureResult{Score: 80}},
		Audio:    &fakeAudio{score: 75},
	}, testLog())

	_, err := p.Run(ctx, "lecture.mp4")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !m.closed {
		t.Fatal("workspace must be cleaned up on cancellation")
	}
	if m.cutCalls > 1 {
		t.Fatalf("scheduled %d segments after cancellation", m.cutCalls-1)
	}
}

type transcriberFunc func(context.Context, []byte, string) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, audio []byte, lang string) (string, error) {
	return f(ctx, audio, lang)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := &fakeMedia{duration: 60 * time.Second}
	p := newTestPipeline(t, m, &fakeTranscriber{}, &fakeEvaluator{})
	if _, err := p.Run(context.Background(), "lecture.mp4"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap := p.Snapshot()
	snap.Segments[0].Transcript = "mutated"
	*snap.Final = scoring.FinalResult{}

	again := p.Snapshot()
	if again.Segments[0].Transcript == "mutated" {
		t.Fatal("snapshot shares segment storage with live state")
	}
	if again.Final.Overall == 0 {
		t.Fatal("snapshot shares final result storage with live state")
	}
}

func TestRunPostureNoDetectionStillCompletes(t *testing.T) {
	m := &fakeMedia{duration: 30 * time.Second}
	p := New(testConfig(t), Deps{
		Media:      m,
		Transcribe: &fakeTranscriber{},
		Evaluate:   &fakeEvaluator{},
		Posture:    &fakePosture{result: analyzers.PostureResult{Score: analyzers.NeutralScore, NoDetection: true}},
		Audio:      &fakeAudio{score: 75},
	}, testLog())

	final, err := p.Run(context.Background(), "lecture.mp4")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if final.Breakdown.Posture != analyzers.NeutralScore {
		t.Fatalf("posture breakdown = %v", final.Breakdown.Posture)
	}
	snap := p.Snapshot()
	if snap.Posture == nil || !snap.Posture.NoDetection {
		t.Fatal("snapshot missing no_detection flag")
	}
}
