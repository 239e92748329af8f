package commands

import (
	"fmt"
	"image"
	"image/draw"
	"path/filepath"
	"strings"

	"github.com/eligwz/spectrogram"
	"github.com/spf13/cobra"
)

var (
	spectrogramOut    string
	spectrogramWidth  int
	spectrogramHeight int
	spectrogramLog    bool
)

var spectrogramCmd = &cobra.Command{
	Use:   "spectrogram FILE",
	Short: "Render a recording's spectrogram as PNG",
	Long: `Decodes FILE and draws a magnitude spectrogram, useful for checking what
the noise gate and trimmer did to a recording.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if spectrogramWidth < 1 || spectrogramHeight < 1 {
			return fmt.Errorf("invalid size %dx%d", spectrogramWidth, spectrogramHeight)
		}
		out := spectrogramOut
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".png"
		}

		sig, err := newLoader().LoadFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sig.Len() == 0 {
			return fmt.Errorf("%s has no samples", args[0])
		}
		log.Debugf("Read %d samples at %d Hz", sig.Len(), sig.SampleRate)

		img := spectrogram.NewImage128(image.Rect(0, 0, spectrogramWidth, spectrogramHeight))
		black := spectrogram.ParseColor("000000")
		draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

		// Hamming window, FFT, magnitude.
		spectrogram.Drawfft(img, sig.Samples,
			uint32(sig.SampleRate),
			uint32(spectrogramHeight),
			false, false, true, spectrogramLog,
		)

		if err := spectrogram.SavePng(img, out); err != nil {
			return fmt.Errorf("saving %s: %w", out, err)
		}
		log.Infof("Saved spectrogram to %s", out)
		return nil
	},
}

func init() {
	spectrogramCmd.Flags().StringVarP(&spectrogramOut, "output", "o", "", "PNG path (default: FILE with .png)")
	spectrogramCmd.Flags().IntVar(&spectrogramWidth, "width", 2048, "image width")
	spectrogramCmd.Flags().IntVar(&spectrogramHeight, "height", 512, "image height and frequency bins")
	spectrogramCmd.Flags().BoolVar(&spectrogramLog, "log", false, "log10 magnitude scale")
	rootCmd.AddCommand(spectrogramCmd)
}
