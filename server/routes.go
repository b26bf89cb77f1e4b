package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
	"github.com/scorelab/mentor-pipeline/pipeline"
	"github.com/scorelab/mentor-pipeline/store"
)

var allowedVideoExts = map[string]struct{}{
	".mp4": {},
	".avi": {},
	".mov": {},
}

type API struct {
	cfg     *config.Root
	log     *logrus.Entry
	store   *store.Store
	runner  *Runner
	uploads string
}

func registerRoutes(r *gin.Engine, api *API) {
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/health", api.handleHealth)
		apiGroup.POST("/evaluations", api.handleCreateEvaluation)
		apiGroup.GET("/evaluations", api.handleListEvaluations)
		apiGroup.GET("/evaluations/:id", api.handleGetEvaluation)
		apiGroup.DELETE("/evaluations/:id", api.handleCancelEvaluation)
	}
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleCreateEvaluation(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'video' required"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if _, ok := allowedVideoExts[ext]; !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("unsupported container %q, expected mp4/avi/mov", ext)})
		return
	}

	dst := filepath.Join(a.uploads, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		a.log.WithError(err).Error("upload save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}

	id, err := a.runner.Start(dst)
	if err != nil {
		a.log.WithError(err).Error("run start failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start evaluation"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// statusResponse unifies live and persisted runs: an active run
// carries its latest snapshot, a finished one its stored result.
type statusResponse struct {
	ID       string             `json:"id"`
	Status   string             `json:"status"`
	Run      *store.Run         `json:"run,omitempty"`
	Snapshot *pipeline.Snapshot `json:"snapshot,omitempty"`
}

func (a *API) handleGetEvaluation(c *gin.Context) {
	id := c.Param("id")

	if p, ok := a.runner.Lookup(id); ok {
		snap := p.Snapshot()
		c.JSON(http.StatusOK, statusResponse{ID: id, Status: store.StatusRunning, Snapshot: &snap})
		return
	}

	run, err := a.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "evaluation not found"})
			return
		}
		a.log.WithError(err).Error("run lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, statusResponse{ID: id, Status: run.Status, Run: run})
}

func (a *API) handleListEvaluations(c *gin.Context) {
	runs, err := a.store.List(c.Request.Context(), 100)
	if err != nil {
		a.log.WithError(err).Error("run list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (a *API) handleCancelEvaluation(c *gin.Context) {
	if !a.runner.Cancel(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active evaluation with that id"})
		return
	}
	c.Status(http.StatusNoContent)
}
