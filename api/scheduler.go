/*
scheduler.go - Automatic backup scheduler

PURPOSE:
  Periodically writes a backup file of the whole ledger to a directory so
  a lost or corrupted database can be restored without a manual export.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Writes <AppName>_Backup_<date>.json; a second run on the same day
    overwrites that day's file
  - Skips the write when nothing changed since the last backup
  - Keeps the newest Keep files and removes older ones

CONFIGURATION:
  - Interval: How often to back up (default: 1 hour)
  - Keep:     How many daily files to retain (default: 14, 0 keeps all)
  - Enabled:  Whether scheduler is active (default: true)

USAGE:
  scheduler := NewBackupScheduler(engine, "./backups", logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ExportBackup endpoint (manual backup)
  - backup/backup.go: File format
*/
package api

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/warp/milk-ledger/backup"
	"github.com/warp/milk-ledger/ledger"
)

// BackupScheduler handles automated backups.
type BackupScheduler struct {
	Engine   *ledger.Engine
	Dir      string
	AppName  string
	Interval time.Duration
	Keep     int
	Enabled  bool
	Logger   *log.Entry

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu sync.Mutex
	last  []byte // contents of the last file written
}

// NewBackupScheduler creates a new scheduler writing into dir.
func NewBackupScheduler(engine *ledger.Engine, dir string, logger *log.Entry) *BackupScheduler {
	if logger == nil {
		logger = log.WithField("component", "backup-scheduler")
	}
	return &BackupScheduler{
		Engine:   engine,
		Dir:      dir,
		AppName:  backup.DefaultAppName,
		Interval: 1 * time.Hour,
		Keep:     14,
		Enabled:  true,
		Logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler.
func (bs *BackupScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.Enabled {
		bs.Logger.Info("backup scheduler disabled, not starting")
		return
	}

	bs.ticker = time.NewTicker(bs.Interval)
	bs.wg.Add(1)

	go bs.run()

	bs.Logger.WithFields(log.Fields{
		"interval": bs.Interval,
		"dir":      bs.Dir,
	}).Info("backup scheduler started")
}

// Stop stops the scheduler.
func (bs *BackupScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		bs.ticker = nil
		bs.Logger.Info("backup scheduler stopped")
	}
}

func (bs *BackupScheduler) run() {
	defer bs.wg.Done()

	// Run immediately on start
	bs.backupAndLog()

	for {
		select {
		case <-bs.ticker.C:
			bs.backupAndLog()
		case <-bs.stop:
			return
		}
	}
}

func (bs *BackupScheduler) backupAndLog() {
	path, err := bs.RunNow()
	if err != nil {
		bs.Logger.WithError(err).Error("automatic backup failed")
		return
	}
	if path != "" {
		bs.Logger.WithField("path", path).Info("automatic backup written")
	}
}

// RunNow writes a backup immediately. It returns the file written, or ""
// when the ledger has not changed since the last backup.
func (bs *BackupScheduler) RunNow() (string, error) {
	bs.runMu.Lock()
	defer bs.runMu.Unlock()

	data, err := backup.Marshal(bs.Engine.Snapshot())
	if err != nil {
		return "", err
	}
	if bs.last != nil && bytes.Equal(data, bs.last) {
		return "", nil
	}

	if err := os.MkdirAll(bs.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	path := filepath.Join(bs.Dir, backup.FileName(bs.AppName, bs.Engine.Today()))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move backup into place: %w", err)
	}
	bs.last = data

	if err := bs.prune(); err != nil {
		bs.Logger.WithError(err).Warn("failed to prune old backups")
	}
	return path, nil
}

// prune removes all but the newest Keep backup files. File names sort
// chronologically because the date is ISO formatted.
func (bs *BackupScheduler) prune() error {
	if bs.Keep <= 0 {
		return nil
	}

	pattern := filepath.Join(bs.Dir, bs.AppName+"_Backup_*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(files)

	for len(files) > bs.Keep {
		if err := os.Remove(files[0]); err != nil && !os.IsNotExist(err) {
			return err
		}
		bs.Logger.WithField("path", filepath.Base(files[0])).Debug("old backup removed")
		files = files[1:]
	}
	return nil
}
