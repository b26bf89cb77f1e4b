package main

import (
	"github.com/spf13/cobra"

	"github.com/scorelab/mentor-pipeline/server"
	"github.com/scorelab/mentor-pipeline/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for uploads, progress polling and run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return err
		}
		defer st.Close()

		srv, err := server.New(cfg, log, st)
		if err != nil {
			return err
		}
		return srv.Run()
	},
}
