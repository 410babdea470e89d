// Package services holds operational services that sit outside the vault's
// accounting core.
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/settings"
)

// uploaderAPI is the slice of manager.Uploader the backup service uses.
type uploaderAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// BackupService uploads consistent SQLite snapshots to S3. Snapshots are
// taken with VACUUM INTO so a backup never observes a half-written
// transaction, WAL or not.
type BackupService struct {
	uploader  uploaderAPI
	settings  *settings.Service
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewBackupService creates the backup service. The S3 client is initialized
// lazily on the first enabled run so a vault with backups disabled never
// needs AWS credentials.
func NewBackupService(settingsSvc *settings.Service, databases map[string]*database.DB, log zerolog.Logger) *BackupService {
	return &BackupService{
		settings:  settingsSvc,
		databases: databases,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (s *BackupService) Name() string { return "s3_backup" }

// Run snapshots every database and uploads the snapshots to S3.
func (s *BackupService) Run() error {
	params, err := s.settings.Backup()
	if err != nil {
		return fmt.Errorf("failed to load backup parameters: %w", err)
	}
	if !params.Enabled {
		s.log.Debug().Msg("Backups disabled, skipping")
		return nil
	}
	if params.Bucket == "" {
		return fmt.Errorf("backup enabled but no bucket configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if s.uploader == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		s.uploader = manager.NewUploader(s3.NewFromConfig(cfg))
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	for name, db := range s.databases {
		if db == nil {
			continue
		}
		if err := s.backupOne(ctx, db, name, params, stamp); err != nil {
			s.log.Error().Err(err).Str("database", name).Msg("Backup failed")
			return err
		}
	}

	s.log.Info().
		Int("databases", len(s.databases)).
		Str("bucket", params.Bucket).
		Msg("Backup completed")
	return nil
}

// backupOne snapshots a single database and uploads it.
func (s *BackupService) backupOne(ctx context.Context, db *database.DB, name string, params settings.BackupParams, stamp string) error {
	snapDir, err := os.MkdirTemp("", "steward-backup-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	defer os.RemoveAll(snapDir)

	snapPath := filepath.Join(snapDir, name+".db")

	// Flush the WAL first so the snapshot carries everything committed.
	if _, err := db.Conn().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint before backup failed")
	}
	if _, err := db.Conn().ExecContext(ctx, "VACUUM INTO ?", snapPath); err != nil {
		return fmt.Errorf("failed to snapshot database %s: %w", name, err)
	}

	f, err := os.Open(snapPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s/%s-%s.db", params.Prefix, name, name, stamp)
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}

	s.log.Debug().
		Str("database", name).
		Str("key", key).
		Msg("Snapshot uploaded")
	return nil
}
