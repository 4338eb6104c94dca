package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moneymoves/engine/internal/store"
)

func testManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "live.db")
	st, err := store.Open(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	backupDir := filepath.Join(dir, "backups")
	mgr, err := New(st, backupDir, "", 30, zerolog.Nop())
	require.NoError(t, err)
	return mgr, backupDir
}

func TestCreateBackup_WritesTimestampedFile(t *testing.T) {
	mgr, backupDir := testManager(t)

	path, err := mgr.CreateBackup(context.Background())
	require.NoError(t, err)

	assert.True(t, backupNamePattern.MatchString(filepath.Base(path)))
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
	assert.Equal(t, backupDir, filepath.Dir(path))
}

func TestCleanupOld_RemovesExpiredBackupsOnly(t *testing.T) {
	mgr, backupDir := testManager(t)

	fresh := filepath.Join(backupDir, "moves_"+time.Now().UTC().Format("20060102_150405")+".db")
	stale := filepath.Join(backupDir, "moves_"+time.Now().UTC().AddDate(0, 0, -60).Format("20060102_150405")+".db")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	deleted, err := mgr.CleanupOld(30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadOffsite_NoopWithoutBucket(t *testing.T) {
	mgr, _ := testManager(t)
	err := mgr.UploadOffsite(context.Background(), "/does/not/matter")
	assert.NoError(t, err)
}

func TestDailyBackup_CreatesAndCleansUp(t *testing.T) {
	mgr, backupDir := testManager(t)

	old := filepath.Join(backupDir, "moves_"+time.Now().UTC().AddDate(0, 0, -90).Format("20060102_150405")+".db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))

	require.NoError(t, mgr.DailyBackup(context.Background()))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "stale backup should be cleaned up, only today's remains")
	assert.NotEqual(t, "moves_"+time.Now().UTC().AddDate(0, 0, -90).Format("20060102_150405")+".db", entries[0].Name())
}
