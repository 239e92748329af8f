package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/quranicquest/recitation/internal/audio"
	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/recitation"
)

var featuresRef string

var featuresCmd = &cobra.Command{
	Use:   "features [FILE]",
	Short: "Print the feature vector of a recording",
	Long: `Decodes FILE (or the stored object named by --ref bucket:key) and prints
the 13 mean MFCCs, mean spectral centroid, mean zero-crossing rate, tempo
and duration as JSON. Nothing is written to storage.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (featuresRef == "") == (len(args) == 0) {
			return errors.New("give either FILE or --ref")
		}
		ctx := cmd.Context()

		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		var v recitation.FeatureVector
		if featuresRef != "" {
			ref, err := storage.ParseRef(featuresRef)
			if err != nil {
				return err
			}
			s := p.NewSession("", "")
			defer s.Release(ctx)
			v, err = s.Features(ctx, ref)
			if err != nil {
				return err
			}
		} else {
			sig, err := newLoader().LoadFile(ctx, args[0])
			if err != nil {
				return err
			}
			log.Debugf("Decoded %s: %d samples at %d Hz", args[0], sig.Len(), sig.SampleRate)
			v, err = p.Extract(ctx, sig)
			if err != nil {
				return err
			}
		}
		return printJSON(v)
	},
}

func newLoader() *audio.Loader {
	return audio.NewLoader(audio.NewFFmpeg(cfg.FFmpegBin, cfg.FFprobeBin), cfg.TempDir)
}

func init() {
	featuresCmd.Flags().StringVar(&featuresRef, "ref", "", "stored object as bucket:key")
	rootCmd.AddCommand(featuresCmd)
}
