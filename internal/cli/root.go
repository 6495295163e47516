package cli

import (
	"log/slog"
	"os"

	"github.com/shouni/psychedelic-image-kit/pkg/config"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "psygrid",
	Short: "Iterative psychedelic image transformer",
	Long: `psygrid feeds a photo through an image generation API several times with
rising intensity and tiles the results into a single grid image.

Configuration comes from PSYGRID_* environment variables (optionally from a
.env file); selected values can be overridden with flags.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("psygrid version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file to load before reading the environment")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig は設定を読み込み、override でフラグを反映してから検証し、既定のロガーを設定します。
func loadConfig(override func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
