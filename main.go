package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scorelab/mentor-pipeline/config"
)

var (
	configPath string

	cfg *config.Root
	log *logrus.Entry
)

var rootCmd = &cobra.Command{
	Use:           "mentor-pipeline",
	Short:         "Evaluates teaching videos: posture, voice quality and content",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real deployments set the keys directly
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		base := logrus.New()
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("config: unknown log_level %q", cfg.LogLevel)
		}
		base.SetLevel(level)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log = logrus.NewEntry(base)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml)")
	rootCmd.AddCommand(analyzeCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
