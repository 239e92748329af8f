package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/recitation"
)

type entryView struct {
	Ref     string `json:"ref"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type reportView struct {
	Entries []entryView `json:"entries"`
	Summary string      `json:"summary"`
}

func newReportView(r recitation.CleanupReport) reportView {
	v := reportView{Entries: []entryView{}, Summary: r.String()}
	for _, e := range r.Entries {
		ev := entryView{Ref: e.Ref.String(), Outcome: string(e.Outcome)}
		if e.Err != nil {
			ev.Error = e.Err.Error()
		}
		v.Entries = append(v.Entries, ev)
	}
	return v
}

func finishReport(r recitation.CleanupReport) error {
	if err := printJSON(newReportView(r)); err != nil {
		return err
	}
	if !r.OK() {
		return fmt.Errorf("%d file(s) could not be deleted", len(r.Failed()))
	}
	return nil
}

var cleanupSession string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [bucket:key ...]",
	Short: "Delete stored artifacts",
	Long: `Deletes the given objects, or with --session everything that session
recorded in the manifest. Missing files are reported, not treated as errors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupSession == "" && len(args) == 0 {
			return errors.New("give object refs or --session")
		}

		refs := make([]recitation.Ref, 0, len(args))
		for _, a := range args {
			ref, err := storage.ParseRef(a)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}

		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		report := p.Cleanup(cmd.Context(), refs...)
		if cleanupSession != "" {
			more, err := p.Reclaim(cmd.Context(), cleanupSession)
			if err != nil {
				return err
			}
			report.Entries = append(report.Entries, more.Entries...)
		}
		return finishReport(report)
	},
}

var sweepOlderThan time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete artifacts of sessions that were never released",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closeFn, err := openPipeline()
		if err != nil {
			return err
		}
		defer closeFn()

		report, err := p.Sweep(cmd.Context(), sweepOlderThan)
		if err != nil {
			return err
		}
		log.Infof("Sweep finished: %s", report)
		return finishReport(report)
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupSession, "session", "", "reclaim every file of this session")
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 24*time.Hour, "minimum age of files to sweep")
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(sweepCmd)
}
