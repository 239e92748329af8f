package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quranicquest/recitation/internal/audio"
)

var (
	convertTo   string
	convertOut  string
	convertKeep bool
)

var convertCmd = &cobra.Command{
	Use:   "convert FILE",
	Short: "Re-encode a recording into another format",
	Long: fmt.Sprintf(`Stores FILE, converts it with the pipeline and copies the result to -o.
Supported formats: %s.

The stored copies are deleted afterwards unless --keep is given.`, strings.Join(audio.Formats, ", ")),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if convertTo == "" {
			return errors.New("--to is required")
		}
		if convertOut == "" {
			convertOut = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "." + convertTo
		}
		ctx := cmd.Context()

		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		in, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer in.Close()

		s := p.NewSession("", "")
		if !convertKeep {
			defer func() {
				if r := s.Release(ctx); !r.OK() {
					log.Warnf("Cleanup after convert: %s", r)
				}
			}()
		}

		upload, err := s.Ingest(ctx, in, filepath.Ext(args[0]))
		if err != nil {
			return err
		}
		ref, err := s.Convert(ctx, upload.Ref, convertTo)
		if err != nil {
			return err
		}

		rc, err := p.Buckets().Open(ctx, ref)
		if err != nil {
			return err
		}
		defer rc.Close()

		out, err := os.Create(convertOut)
		if err != nil {
			return err
		}
		n, err := io.Copy(out, rc)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(convertOut)
			return fmt.Errorf("writing %s: %w", convertOut, err)
		}

		log.Infof("Wrote %s (%d bytes)", convertOut, n)
		if convertKeep {
			log.Infof("Kept %s and %s in session %s", upload.Ref, ref, s.ID)
		}
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertTo, "to", "", "target format")
	convertCmd.Flags().StringVarP(&convertOut, "output", "o", "", "output file (default: FILE with the new extension)")
	convertCmd.Flags().BoolVar(&convertKeep, "keep", false, "keep the stored upload and converted file")
	rootCmd.AddCommand(convertCmd)
}
