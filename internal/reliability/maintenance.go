package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/prasertk/setpulse/internal/database"
)

// Disk thresholds in GB. Below the critical level maintenance fails loudly
// so the operator notices before SQLite starts erroring mid-refresh.
const (
	diskCriticalGB = 0.5
	diskWarningGB  = 5.0
)

// MaintenanceJob performs nightly database upkeep: integrity check, WAL
// checkpoint, disk space check, then a backup snapshot and rotation when
// backups are configured.
type MaintenanceJob struct {
	db      *database.DB
	backup  *BackupService // nil when backups are disabled
	dataDir string
	log     zerolog.Logger
}

func NewMaintenanceJob(db *database.DB, backup *BackupService, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:      db,
		backup:  backup,
		dataDir: dataDir,
		log:     log.With().Str("job", "maintenance").Logger(),
	}
}

// Run executes one maintenance pass.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	j.log.Info().Msg("Starting nightly maintenance")
	startTime := time.Now()

	if err := j.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		// Not fatal: the checkpoint retries on the next pass.
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if j.backup != nil {
		if err := j.backup.CreateAndUploadBackup(ctx); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		if err := j.backup.RotateOldBackups(ctx); err != nil {
			j.log.Error().Err(err).Msg("Backup rotation failed")
		}
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Nightly maintenance completed")

	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	freeGB := float64(usage.Free) / 1e9

	if freeGB < diskCriticalGB {
		return fmt.Errorf("only %.2f GB free on data volume", freeGB)
	}
	if freeGB < diskWarningGB {
		j.log.Warn().Float64("free_gb", freeGB).Msg("Disk space running low")
	} else {
		j.log.Debug().Float64("free_gb", freeGB).Msg("Disk space check passed")
	}

	return nil
}
