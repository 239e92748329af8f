package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quranicquest/recitation/pkg/recitation"
)

var (
	processVerse    string
	processUser     string
	processFeatures bool
	processRelease  bool
)

type stageView struct {
	Stage   string `json:"stage"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

type processView struct {
	Session  string                       `json:"session"`
	Upload   recitation.RawUpload         `json:"upload"`
	Artifact recitation.ProcessedArtifact `json:"artifact"`
	Stages   []stageView                  `json:"stages"`
	Features *recitation.FeatureVector    `json:"features,omitempty"`
	Cleanup  *reportView                  `json:"cleanup,omitempty"`
}

var processCmd = &cobra.Command{
	Use:   "process FILE",
	Short: "Ingest a recording and store its cleaned-up version",
	Long: `Stores FILE in the uploads bucket, runs the noise gate, peak
normalization and silence trimming, and writes the result as WAV to the
processed bucket.

Artifacts stay in storage until released with 'recite cleanup --session ID'
or swept. Pass --release to delete them before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		s := p.NewSession(processVerse, processUser)
		upload, err := s.Ingest(ctx, f, filepath.Ext(args[0]))
		if err != nil {
			return err
		}
		artifact, err := s.Process(ctx, upload)
		if err != nil {
			return err
		}

		view := processView{Session: s.ID, Upload: upload, Artifact: artifact}
		for _, st := range artifact.Stages {
			sv := stageView{Stage: st.Stage, Applied: st.Applied}
			if st.Err != nil {
				sv.Error = st.Err.Error()
			}
			view.Stages = append(view.Stages, sv)
		}

		if processFeatures && !artifact.Fallback {
			v, err := s.Features(ctx, artifact.Ref)
			if err != nil {
				log.Warnf("Feature extraction failed: %v", err)
			} else {
				view.Features = &v
			}
		}

		if processRelease {
			rv := newReportView(s.Release(ctx))
			view.Cleanup = &rv
		}

		if err := printJSON(view); err != nil {
			return err
		}
		if artifact.Fallback {
			return fmt.Errorf("%s could not be processed; raw upload kept as %s", args[0], artifact.Ref)
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringVar(&processVerse, "verse", "", "verse the recording belongs to")
	processCmd.Flags().StringVar(&processUser, "user", "", "learner who recorded it")
	processCmd.Flags().BoolVar(&processFeatures, "features", false, "also extract features from the artifact")
	processCmd.Flags().BoolVar(&processRelease, "release", false, "delete every stored file before exiting")
	rootCmd.AddCommand(processCmd)
}
