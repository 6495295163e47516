package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shouni/psychedelic-image-kit/pkg/config"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/generator"
	"github.com/shouni/psychedelic-image-kit/pkg/pipeline"
	"github.com/spf13/cobra"
)

var (
	runInput      string
	runOutput     string
	runIterations int
	runBackend    string
	runFramesDir  string
	runPrompt     string
	runSeed       int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Transform one image locally and write the grid",
	Long: `Run the pipeline once, synchronously, without the HTTP server.

Each iteration is logged as it completes. With --frames-dir every
intermediate frame is written as frame_01.png, frame_02.png, ...

Example:
  psygrid run --input me.jpg --output grid.png --backend local
  psygrid run --input me.jpg --output grid.png --iterations 4 --frames-dir frames`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Source image (any common format)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "grid.png", "Where to write the composite PNG")
	runCmd.Flags().IntVarP(&runIterations, "iterations", "n", 0, "Number of transformations, 1-9 (default from PSYGRID_PIPELINE_ITERATIONS)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "Generation backend: variation, inline, gemini or local")
	runCmd.Flags().StringVar(&runFramesDir, "frames-dir", "", "Also write each iteration's frame into this directory")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Prompt template; {intensity} is replaced with the current intensity")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Fixed seed for the inline and gemini backends (0 lets the backend choose)")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(func(c *config.Config) {
		if runBackend != "" {
			c.Gen.Backend = runBackend
		}
		if runPrompt != "" {
			c.Gen.Prompt = runPrompt
		}
		if runSeed != 0 {
			c.Gen.Seed = &runSeed
		}
		if runIterations != 0 {
			c.Pipeline.Iterations = pipeline.ClampIterations(runIterations)
		}
	})
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	src, err := os.ReadFile(runInput)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if runFramesDir != "" {
		if err := os.MkdirAll(runFramesDir, 0o755); err != nil {
			return fmt.Errorf("create frames dir: %w", err)
		}
	}

	backend, err := generator.New(ctx, cfg.Generator(), nil)
	if err != nil {
		return fmt.Errorf("init generator: %w", err)
	}
	// フレームを原寸で書き出すため、プレビューは縮小も JPEG 化もしない
	orch, err := pipeline.NewOrchestrator(backend, pipeline.Options{
		TargetSize: backend.ImageSize(),
		ColorMode:  cfg.ColorMode(),
	}, logger)
	if err != nil {
		return err
	}

	var frameErr error
	sink := pipeline.SinkFunc(func(ctx context.Context, ev domain.ProgressEvent) {
		if ev.Kind != domain.EventProgress {
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "iteration %d/%d done (intensity %.1f)\n", ev.Iteration, cfg.Pipeline.Iterations, pipeline.Intensity(ev.Iteration-1))
		if runFramesDir == "" || frameErr != nil {
			return
		}
		path := filepath.Join(runFramesDir, fmt.Sprintf("frame_%02d.png", ev.Iteration))
		frameErr = os.WriteFile(path, ev.ImageData, 0o644)
	})

	composite, err := orch.Run(pipeline.WithRunID(ctx, "cli"), src, cfg.Pipeline.Iterations, sink)
	if err != nil {
		return err
	}
	if frameErr != nil {
		return fmt.Errorf("write frame: %w", frameErr)
	}
	if err := os.WriteFile(runOutput, composite.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d, %d tiles)\n", runOutput, composite.Width, composite.Height, composite.Tiles)
	return nil
}
