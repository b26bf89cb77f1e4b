package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
	"github.com/scorelab/mentor-pipeline/pipeline"
	"github.com/scorelab/mentor-pipeline/store"
)

// Runner launches pipeline runs in the background and tracks the
// active ones so the API can serve live snapshots and cancellation.
// Finished runs drop out of the active set; their results live in the
// store.
type Runner struct {
	cfg   *config.Root
	log   *logrus.Entry
	store *store.Store

	// newDeps is swapped by tests to avoid ffmpeg and remote services
	newDeps func(*config.Root, *logrus.Entry) (pipeline.Deps, error)

	mu      sync.RWMutex
	active  map[string]*pipeline.Pipeline
	cancels map[string]context.CancelFunc
}

func NewRunner(cfg *config.Root, log *logrus.Entry, st *store.Store) *Runner {
	return &Runner{
		cfg:     cfg,
		log:     log,
		store:   st,
		newDeps: pipeline.NewDeps,
		active:  make(map[string]*pipeline.Pipeline),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start kicks off a run for an uploaded video and returns its id. The
// uploaded file is removed once the run ends.
func (r *Runner) Start(videoPath string) (string, error) {
	deps, err := r.newDeps(r.cfg, r.log)
	if err != nil {
		return "", err
	}
	p := pipeline.New(r.cfg, deps, r.log)

	if err := r.store.Create(context.Background(), p.ID(), filepath.Base(videoPath)); err != nil {
		_ = deps.Media.Close()
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.active[p.ID()] = p
	r.cancels[p.ID()] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.active, p.ID())
			delete(r.cancels, p.ID())
			r.mu.Unlock()
			if err := os.Remove(videoPath); err != nil && !os.IsNotExist(err) {
				r.log.WithError(err).Warn("could not remove uploaded video")
			}
		}()

		final, err := p.Run(ctx, videoPath)
		if err != nil {
			if serr := r.store.Fail(context.Background(), p.ID(), err.Error()); serr != nil {
				r.log.WithError(serr).Error("could not persist run failure")
			}
			return
		}
		if serr := r.store.Complete(context.Background(), p.ID(), final); serr != nil {
			r.log.WithError(serr).Error("could not persist run result")
		}
	}()

	return p.ID(), nil
}

// Lookup returns the live pipeline for an active run.
func (r *Runner) Lookup(id string) (*pipeline.Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.active[id]
	return p, ok
}

// Cancel requests cancellation of an active run. The orchestrator
// stops scheduling new segments; in-flight calls finish on their own
// timeouts.
func (r *Runner) Cancel(id string) bool {
	r.mu.RLock()
	cancel, ok := r.cancels[id]
	r.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}
