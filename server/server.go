// Package server exposes the evaluation pipeline over HTTP: video
// upload, progress polling via state snapshots, run history and
// cancellation. The web UI itself lives elsewhere; this is only the
// snapshot surface it renders from.
package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/scorelab/mentor-pipeline/config"
	"github.com/scorelab/mentor-pipeline/store"
)

type Server struct {
	engine *gin.Engine
	cfg    *config.Root
	log    *logrus.Entry
}

func New(cfg *config.Root, log *logrus.Entry, st *store.Store) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	uploads := filepath.Join(cfg.DataDir, "uploads")
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	api := &API{
		cfg:     cfg,
		log:     log,
		store:   st,
		runner:  NewRunner(cfg, log, st),
		uploads: uploads,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(log))
	engine.Use(MaxBodySize(cfg.Server.MaxUploadMB * 1024 * 1024))
	engine.Use(CORS())
	registerRoutes(engine, api)

	return &Server{engine: engine, cfg: cfg, log: log}, nil
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.log.WithField("addr", addr).Info("http server listening")
	return s.engine.Run(addr)
}
