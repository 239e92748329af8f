package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quranicquest/recitation/internal/config"
	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/logger"
	"github.com/quranicquest/recitation/pkg/recitation"
)

var (
	configPath string
	logLevel   string

	cfg config.Config
	log = logger.GetLogger()
)

var rootCmd = &cobra.Command{
	Use:   "recite",
	Short: "Preprocess recitation recordings and extract acoustic features",
	Long: `recite - noise gating, normalization, silence trimming, format
conversion and feature extraction for recorded recitations.

Settings come from an optional YAML file (--config) and RECITE_* environment
variables. Audio is stored locally under ./data unless the s3 backend is
configured.

Examples:
  recite process --verse 1:1 recording.m4a
  recite features recording.wav
  recite convert --to mp3 -o out.mp3 recording.wav
  recite sweep --older-than 24h`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		lvl, err := logger.ParseLevel(loaded.LogLevel)
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
		cfg = loaded
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("RECITE_CONFIG"), "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// openPipeline builds a pipeline from the loaded configuration. The
// returned closer releases the manifest database.
func openPipeline() (*recitation.Pipeline, func(), error) {
	buckets, err := cfg.OpenStorage()
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}
	manifest, err := storage.OpenManifest(cfg.ManifestPath)
	if err != nil {
		return nil, nil, err
	}

	p, err := recitation.New(
		recitation.WithStorage(buckets),
		recitation.WithManifest(manifest),
		recitation.WithLogger(log),
		recitation.WithTargetDBFS(cfg.TargetDBFS),
		recitation.WithTopDB(cfg.TopDB),
		recitation.WithMaxConcurrent(cfg.MaxConcurrent),
		recitation.WithTempDir(cfg.TempDir),
		recitation.WithFFmpeg(cfg.FFmpegBin, cfg.FFprobeBin),
	)
	if err != nil {
		manifest.Close()
		return nil, nil, err
	}
	return p, func() { manifest.Close() }, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
