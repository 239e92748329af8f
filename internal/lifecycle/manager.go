// Package lifecycle tracks the files a pipeline session writes and deletes
// them once the caller is done with them.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quranicquest/recitation/internal/storage"
	"github.com/quranicquest/recitation/pkg/logger"
)

// Outcome is what happened to one file during cleanup.
type Outcome string

const (
	OutcomeDeleted Outcome = "deleted"
	OutcomeMissing Outcome = "missing"
	OutcomeFailed  Outcome = "failed"
)

// Logger is the subset of the leveled logger the manager writes to.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// CleanupEntry records the fate of one reference.
type CleanupEntry struct {
	Ref     storage.Ref
	Outcome Outcome
	Err     error
}

// CleanupReport lists one entry per reference handed to Cleanup, in order.
type CleanupReport struct {
	Entries []CleanupEntry
}

// Failed returns the entries whose deletion failed.
func (r CleanupReport) Failed() []CleanupEntry {
	var out []CleanupEntry
	for _, e := range r.Entries {
		if e.Outcome == OutcomeFailed {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many entries ended with outcome o.
func (r CleanupReport) Count(o Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// OK reports whether no deletion failed.
func (r CleanupReport) OK() bool { return r.Count(OutcomeFailed) == 0 }

func (r CleanupReport) String() string {
	return fmt.Sprintf("%d deleted, %d missing, %d failed",
		r.Count(OutcomeDeleted), r.Count(OutcomeMissing), r.Count(OutcomeFailed))
}

// Manager deletes pipeline artifacts. The manifest is optional; without it
// only explicit Cleanup calls work.
type Manager struct {
	buckets  *storage.Buckets
	manifest *storage.Manifest
	log      Logger
	now      func() time.Time
}

func NewManager(buckets *storage.Buckets, manifest *storage.Manifest, log Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{buckets: buckets, manifest: manifest, log: log, now: time.Now}
}

// Track records ref as owned by sessionID. It must be called before the
// file is written so a cancelled write still leaves a trace to reclaim.
func (m *Manager) Track(ctx context.Context, sessionID string, ref storage.Ref, kind, verseID, userID string) error {
	if m.manifest == nil {
		return nil
	}
	return m.manifest.Record(ctx, storage.ManifestEntry{
		SessionID: sessionID,
		Bucket:    ref.Bucket,
		ObjectKey: ref.Key,
		Kind:      kind,
		VerseID:   verseID,
		UserID:    userID,
	})
}

// Cleanup deletes every ref that exists. Per-file failures are reported,
// never returned; calling it again on the same refs is harmless.
func (m *Manager) Cleanup(ctx context.Context, refs ...storage.Ref) CleanupReport {
	report := CleanupReport{Entries: make([]CleanupEntry, 0, len(refs))}
	var reclaimed []storage.Ref

	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		entry := m.remove(ctx, ref)
		report.Entries = append(report.Entries, entry)
		switch entry.Outcome {
		case OutcomeFailed:
			m.log.Warnf("cleanup of %s failed: %v", ref, entry.Err)
		default:
			m.log.Debugf("cleanup of %s: %s", ref, entry.Outcome)
			reclaimed = append(reclaimed, ref)
		}
	}

	if m.manifest != nil && len(reclaimed) > 0 {
		if err := m.manifest.MarkReclaimed(ctx, reclaimed); err != nil {
			m.log.Warnf("marking %d refs reclaimed: %v", len(reclaimed), err)
		}
	}
	return report
}

func (m *Manager) remove(ctx context.Context, ref storage.Ref) CleanupEntry {
	ok, err := m.buckets.Exists(ctx, ref)
	if err != nil {
		return CleanupEntry{Ref: ref, Outcome: OutcomeFailed, Err: err}
	}
	if !ok {
		return CleanupEntry{Ref: ref, Outcome: OutcomeMissing}
	}
	if err := m.buckets.Delete(ctx, ref); err != nil {
		return CleanupEntry{Ref: ref, Outcome: OutcomeFailed, Err: err}
	}
	return CleanupEntry{Ref: ref, Outcome: OutcomeDeleted}
}

// ErrNoManifest is returned by operations that need the manifest.
var ErrNoManifest = errors.New("lifecycle: no manifest configured")

// Reclaim cleans up every file recorded for sessionID that has not been
// reclaimed yet.
func (m *Manager) Reclaim(ctx context.Context, sessionID string) (CleanupReport, error) {
	if m.manifest == nil {
		return CleanupReport{}, ErrNoManifest
	}
	pending, err := m.manifest.Pending(ctx, sessionID)
	if err != nil {
		return CleanupReport{}, fmt.Errorf("listing session %s: %w", sessionID, err)
	}
	return m.Cleanup(ctx, refsOf(pending)...), nil
}

// Sweep cleans up files of any session recorded more than olderThan ago
// and never reclaimed.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if m.manifest == nil {
		return CleanupReport{}, ErrNoManifest
	}
	pending, err := m.manifest.PendingBefore(ctx, m.now().Add(-olderThan))
	if err != nil {
		return CleanupReport{}, fmt.Errorf("listing stale artifacts: %w", err)
	}
	report := m.Cleanup(ctx, refsOf(pending)...)
	if len(report.Entries) > 0 {
		m.log.Debugf("sweep: %s", report)
	}
	return report, nil
}

func refsOf(entries []storage.ManifestEntry) []storage.Ref {
	refs := make([]storage.Ref, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref()
	}
	return refs
}
