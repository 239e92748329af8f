package commands

import (
	"errors"
	"testing"

	"github.com/quranicquest/recitation/internal/lifecycle"
	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/recitation"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"process", "features", "convert", "cleanup", "sweep", "probe", "spectrogram"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (got %v, %v)", name, cmd, err)
		}
	}
}

func TestReportView(t *testing.T) {
	report := recitation.CleanupReport{Entries: []recitation.CleanupEntry{
		{Ref: storage.Ref{Bucket: storage.BucketUploads, Key: "a.wav"}, Outcome: lifecycle.OutcomeDeleted},
		{Ref: storage.Ref{Bucket: storage.BucketProcessed, Key: "b.wav"}, Outcome: lifecycle.OutcomeFailed, Err: errors.New("denied")},
	}}

	v := newReportView(report)
	if len(v.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(v.Entries))
	}
	if v.Entries[0].Ref != storage.BucketUploads+":a.wav" || v.Entries[0].Outcome != "deleted" || v.Entries[0].Error != "" {
		t.Errorf("entry 0 = %+v", v.Entries[0])
	}
	if v.Entries[1].Error != "denied" {
		t.Errorf("entry 1 error = %q", v.Entries[1].Error)
	}
	if v.Summary != report.String() {
		t.Errorf("summary = %q", v.Summary)
	}
}

func TestEmptyReportViewHasEntries(t *testing.T) {
	v := newReportView(recitation.CleanupReport{})
	if v.Entries == nil {
		t.Error("entries should encode as [] not null")
	}
}
