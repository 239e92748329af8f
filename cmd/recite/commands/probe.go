package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/quranicquest/recitation/internal/audio"
	"github.com/quranicquest/recitation/internal/storage"
)

var probeRef string

var probeCmd = &cobra.Command{
	Use:   "probe [FILE]",
	Short: "Show ffprobe's view of a recording",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (probeRef == "") == (len(args) == 0) {
			return errors.New("give either FILE or --ref")
		}
		ctx := cmd.Context()

		var (
			meta *audio.Metadata
			err  error
		)
		if probeRef != "" {
			ref, perr := storage.ParseRef(probeRef)
			if perr != nil {
				return perr
			}
			p, closeFn, oerr := openPipeline()
			if oerr != nil {
				return oerr
			}
			defer closeFn()
			meta, err = p.Probe(ctx, ref)
		} else {
			ff := audio.NewFFmpeg(cfg.FFmpegBin, cfg.FFprobeBin)
			if !ff.Available() {
				return errors.New("ffprobe is not available")
			}
			meta, err = ff.Probe(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(meta)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeRef, "ref", "", "stored object as bucket:key")
	rootCmd.AddCommand(probeCmd)
}
