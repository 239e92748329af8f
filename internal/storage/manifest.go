package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const DefaultManifestFile = "recite-manifest.sqlite3"
const errManifestNil = "manifest is nil"

// Kinds of objects recorded in the manifest.
const (
	KindRaw       = "raw"
	KindProcessed = "processed"
	KindConverted = "converted"
)

// ManifestEntry is one object written on behalf of a session. Entries are
// recorded before the object is written so that abandoned sessions can
// still be reclaimed.
type ManifestEntry struct {
	ID          uint       `gorm:"primaryKey;autoIncrement"`
	SessionID   string     `gorm:"type:varchar(36);index:idx_manifest_session"`
	Bucket      string     `gorm:"uniqueIndex:idx_manifest_ref,priority:1"`
	ObjectKey   string     `gorm:"uniqueIndex:idx_manifest_ref,priority:2"`
	Kind        string     `gorm:"type:varchar(16)"`
	VerseID     string     `gorm:"index:idx_manifest_verse"`
	UserID      string
	CreatedAt   time.Time  `gorm:"index:idx_manifest_created"`
	ReclaimedAt *time.Time `gorm:"index:idx_manifest_reclaimed"`
}

func (ManifestEntry) TableName() string { return "manifest_entries" }

// Ref returns the storage reference the entry describes.
func (e ManifestEntry) Ref() Ref {
	return Ref{Bucket: e.Bucket, Key: e.ObjectKey}
}

// Manifest is the SQLite-backed ledger of created objects.
type Manifest struct {
	DB *gorm.DB
	db *sql.DB
}

func OpenManifest(dbPath string) (*Manifest, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating manifest dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening manifest db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&ManifestEntry{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Manifest{DB: db, db: sqlDB}, nil
}

func (m *Manifest) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Record adds an entry. Recording the same ref twice is a no-op.
func (m *Manifest) Record(ctx context.Context, e ManifestEntry) error {
	if m == nil || m.DB == nil {
		return errors.New(errManifestNil)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	err := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&e).Error
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Ref(), err)
	}
	return nil
}

// Pending lists the session's entries that have not been reclaimed yet.
func (m *Manifest) Pending(ctx context.Context, sessionID string) ([]ManifestEntry, error) {
	if m == nil || m.DB == nil {
		return nil, errors.New(errManifestNil)
	}
	var rows []ManifestEntry
	err := m.DB.WithContext(ctx).
		Where("session_id = ? AND reclaimed_at IS NULL", sessionID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", sessionID, err)
	}
	return rows, nil
}

// PendingBefore lists unreclaimed entries created before cutoff.
func (m *Manifest) PendingBefore(ctx context.Context, cutoff time.Time) ([]ManifestEntry, error) {
	if m == nil || m.DB == nil {
		return nil, errors.New(errManifestNil)
	}
	var rows []ManifestEntry
	err := m.DB.WithContext(ctx).
		Where("created_at < ? AND reclaimed_at IS NULL", cutoff.UTC()).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return rows, nil
}

// MarkReclaimed stamps the given refs as reclaimed. Unknown refs are ignored.
func (m *Manifest) MarkReclaimed(ctx context.Context, refs []Ref) error {
	if m == nil || m.DB == nil {
		return errors.New(errManifestNil)
	}
	if len(refs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ref := range refs {
			err := tx.Model(&ManifestEntry{}).
				Where("bucket = ? AND object_key = ? AND reclaimed_at IS NULL", ref.Bucket, ref.Key).
				Update("reclaimed_at", now).Error
			if err != nil {
				return fmt.Errorf("marking %s reclaimed: %w", ref, err)
			}
		}
		return nil
	})
}

// Lookup returns the entry for ref, or gorm.ErrRecordNotFound.
func (m *Manifest) Lookup(ctx context.Context, ref Ref) (*ManifestEntry, error) {
	if m == nil || m.DB == nil {
		return nil, errors.New(errManifestNil)
	}
	var e ManifestEntry
	err := m.DB.WithContext(ctx).
		Where("bucket = ? AND object_key = ?", ref.Bucket, ref.Key).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}
