package reliability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	testhelpers "github.com/prasertk/setpulse/internal/testing"
)

func TestMaintenanceRunWithoutBackup(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	job := NewMaintenanceJob(db, nil, t.TempDir(), zerolog.Nop())
	require.NoError(t, job.Run(context.Background()))
}

func TestMaintenanceRunWithBackup(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t)
	defer cleanup()

	store := newFakeObjectStore()
	backup := NewBackupService(db, store, t.TempDir(), 7, zerolog.Nop())

	job := NewMaintenanceJob(db, backup, t.TempDir(), zerolog.Nop())
	require.NoError(t, job.Run(context.Background()))

	backups, err := backup.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 1)
}
