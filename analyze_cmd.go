package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/scorelab/mentor-pipeline/pipeline"
	"github.com/scorelab/mentor-pipeline/scoring"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video>",
	Short: "Run the full evaluation on a local video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps, err := pipeline.NewDeps(cfg, log)
		if err != nil {
			return err
		}
		p := pipeline.New(cfg, deps, log)

		done := make(chan struct{})
		go func() {
			defer close(done)
			renderProgress(p.Watch())
		}()

		final, err := p.Run(ctx, args[0])
		<-done
		if err != nil {
			return err
		}

		if analyzeJSON {
			return json.NewEncoder(os.Stdout).Encode(final)
		}
		printResult(final)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "emit the final result as JSON")
}

func renderProgress(updates <-chan pipeline.Snapshot) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	for snap := range updates {
		bar.Describe(snap.Message)
		_ = bar.Set(snap.Progress)
	}
	_ = bar.Finish()
}

func printResult(final *scoring.FinalResult) {
	fmt.Printf("\nOverall: %.1f / 100  (%s)\n\n", final.Overall, final.Interpretation)
	fmt.Printf("  Posture     %5.1f\n", final.Breakdown.Posture)
	fmt.Printf("  Audio       %5.1f\n", final.Breakdown.Audio)
	fmt.Printf("  Content     %5.1f\n", final.Breakdown.Content)
	fmt.Printf("  Engagement  %5.1f\n", final.Breakdown.Engagement)

	if len(final.FailedSegments) > 0 {
		fmt.Printf("\n%d of %d segments could not be evaluated: %v\n",
			len(final.FailedSegments), final.SegmentCount, final.FailedSegments)
	}
	if final.Summary != "" {
		fmt.Printf("\nSummary: %s\n", final.Summary)
	}
	for area, advice := range final.Feedback {
		fmt.Printf("\n[%s] %s\n", area, advice)
	}
}
