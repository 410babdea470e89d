package services

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/settings"
	steward "github.com/aristath/steward/internal/testing"
)

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := io.ReadAll(input.Body); err != nil {
		return nil, err
	}
	f.keys = append(f.keys, *input.Key)
	return &manager.UploadOutput{}, nil
}

func newTestBackup(t *testing.T) (*BackupService, *fakeUploader, *settings.Service) {
	t.Helper()
	log := zerolog.Nop()
	configDB := steward.NewTestDB(t, "config")
	vaultDB := steward.NewTestDB(t, "vault")
	settingsSvc := settings.NewService(settings.NewRepository(configDB.Conn(), log), log)

	svc := NewBackupService(settingsSvc, map[string]*database.DB{
		"vault":  vaultDB,
		"config": configDB,
	}, log)
	uploader := &fakeUploader{}
	svc.uploader = uploader
	return svc, uploader, settingsSvc
}

func TestBackupSkipsWhenDisabled(t *testing.T) {
	svc, uploader, _ := newTestBackup(t)

	require.NoError(t, svc.Run())
	assert.Empty(t, uploader.keys)
}

func TestBackupRequiresBucket(t *testing.T) {
	svc, _, settingsSvc := newTestBackup(t)
	require.NoError(t, settingsSvc.Repository().SetBool("backup_enabled", true))

	assert.Error(t, svc.Run())
}

func TestBackupUploadsSnapshots(t *testing.T) {
	svc, uploader, settingsSvc := newTestBackup(t)
	require.NoError(t, settingsSvc.Repository().SetBool("backup_enabled", true))
	require.NoError(t, settingsSvc.Repository().Set("backup_bucket", "steward-backups", nil))

	require.NoError(t, svc.Run())
	require.Len(t, uploader.keys, 2)
	for _, key := range uploader.keys {
		assert.Contains(t, key, "steward/")
	}
}
