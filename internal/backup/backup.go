// Package backup creates timestamped SQLite snapshots and retires old
// ones, with an optional offsite copy to S3. Grounded on
// engine/backup.py's BackupManager.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/moneymoves/engine/internal/store"
)

const defaultKeepDays = 30

var backupNamePattern = regexp.MustCompile(`^moves_(\d{8}_\d{6})\.db$`)

// Manager creates and retires database backups.
type Manager struct {
	store     *store.Store
	backupDir string
	s3Bucket  string
	keepDays  int
	log       zerolog.Logger
}

func New(s *store.Store, backupDir, s3Bucket string, keepDays int, log zerolog.Logger) (*Manager, error) {
	if keepDays <= 0 {
		keepDays = defaultKeepDays
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &Manager{
		store:     s,
		backupDir: backupDir,
		s3Bucket:  s3Bucket,
		keepDays:  keepDays,
		log:       log.With().Str("component", "backup").Logger(),
	}, nil
}

// CreateBackup writes a consistent snapshot of the live database.
// modernc.org/sqlite has no binding for sqlite3_backup_init, so this uses
// VACUUM INTO, whose own read runs inside a single transaction and gives
// the same "consistent even while being written to" guarantee.
func (m *Manager) CreateBackup(ctx context.Context) (string, error) {
	timestamp := time.Now().UTC().Format("20060102_150405")
	backupPath := filepath.Join(m.backupDir, fmt.Sprintf("moves_%s.db", timestamp))

	if _, err := m.store.Exec(ctx, fmt.Sprintf(`VACUUM INTO '%s'`, backupPath)); err != nil {
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}
	m.log.Info().Str("path", backupPath).Msg("backup created")
	return backupPath, nil
}

// CleanupOld removes local backup files older than the retention period.
func (m *Manager) CleanupOld(keepDays int) (int, error) {
	if keepDays <= 0 {
		keepDays = m.keepDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)

	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		matches := backupNamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		fileTime, err := time.Parse("20060102_150405", matches[1])
		if err != nil {
			continue
		}
		if fileTime.Before(cutoff) {
			path := filepath.Join(m.backupDir, entry.Name())
			if err := os.Remove(path); err != nil {
				m.log.Warn().Err(err).Str("path", path).Msg("failed to delete old backup")
				continue
			}
			deleted++
			m.log.Info().Str("path", path).Msg("deleted old backup")
		}
	}
	return deleted, nil
}

// UploadOffsite pushes a backup file to S3 when a bucket is configured.
// Absent that configuration it is a no-op, logged at debug level.
func (m *Manager) UploadOffsite(ctx context.Context, path string) error {
	if m.s3Bucket == "" {
		m.log.Debug().Msg("no S3 bucket configured, skipping offsite upload")
		return nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	key := filepath.Base(path)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.s3Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	m.log.Info().Str("bucket", m.s3Bucket).Str("key", key).Msg("backup uploaded offsite")
	return nil
}

// DailyBackup runs the full nightly routine: snapshot, optional offsite
// copy, retention cleanup.
func (m *Manager) DailyBackup(ctx context.Context) error {
	path, err := m.CreateBackup(ctx)
	if err != nil {
		return err
	}
	if err := m.UploadOffsite(ctx, path); err != nil {
		m.log.Warn().Err(err).Msg("offsite upload failed, local backup retained")
	}
	deleted, err := m.CleanupOld(0)
	if err != nil {
		return err
	}
	if deleted > 0 {
		m.log.Info().Int("deleted", deleted).Msg("cleaned up old backups")
	}
	return nil
}
