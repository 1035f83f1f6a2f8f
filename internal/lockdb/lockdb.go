package lockdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/arcus-instruments/focuslock/internal/analysis"
	"github.com/arcus-instruments/focuslock/internal/lock"
	"github.com/arcus-instruments/focuslock/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sampleQueueSize bounds how many lock samples may wait for the background
// writer before new ones are dropped.
const sampleQueueSize = 256

type sampleRow struct {
	acquisitionID string
	at            time.Time
	isGood        bool
	offset        float64
	sum           float64
}

// DB persists acquisition records and per-batch lock samples. Sample
// writes go through a background writer so the acquisition path never
// blocks on sqlite.
type DB struct {
	*sql.DB
	path string

	samples chan sampleRow
	stopCh  chan struct{}
	doneCh  chan struct{}

	// SamplesDropped counts samples discarded because the write queue
	// was full.
	SamplesDropped monitoring.Counter
}

// Open opens (creating if needed) the database at path and applies all
// pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		DB:      sqlDB,
		path:    path,
		samples: make(chan sampleRow, sampleQueueSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	go db.writeLoop()
	return db, nil
}

func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// SaveAcquisition records a finished film. Called once per film, so it
// writes synchronously.
func (db *DB) SaveAcquisition(rec lock.AcquisitionRecord) error {
	_, err := db.Exec(`
		INSERT INTO acquisitions (id, started_at, stopped_at, final_coarse_z, z_scan_mode, z_offsets)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.StartedAt, rec.StoppedAt, rec.FinalCoarseZ, rec.ZScanMode, rec.ZOffsets)
	if err != nil {
		return fmt.Errorf("failed to record acquisition %s: %w", rec.ID, err)
	}
	return nil
}

// SaveSample enqueues one lock sample for the background writer. When the
// queue is full the sample is counted as dropped instead of blocking the
// caller.
func (db *DB) SaveSample(acquisitionID string, at time.Time, s analysis.Sample) error {
	row := sampleRow{
		acquisitionID: acquisitionID,
		at:            at,
		isGood:        s.IsGood,
		offset:        s.Offset,
		sum:           s.Sum,
	}
	select {
	case db.samples <- row:
	case <-db.stopCh:
		return errors.New("lockdb is closed")
	default:
		db.SamplesDropped.Inc()
	}
	return nil
}

func (db *DB) writeLoop() {
	defer close(db.doneCh)
	for {
		select {
		case row := <-db.samples:
			db.insertSample(row)
		case <-db.stopCh:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case row := <-db.samples:
					db.insertSample(row)
				default:
					return
				}
			}
		}
	}
}

func (db *DB) insertSample(row sampleRow) {
	_, err := db.Exec(`
		INSERT INTO lock_samples (acquisition_id, at, is_good, z_offset, signal_sum)
		VALUES (?, ?, ?, ?, ?)`,
		row.acquisitionID, row.at, row.isGood, row.offset, row.sum)
	if err != nil {
		monitoring.Logf("lockdb: sample insert failed: %v", err)
	}
}

// Close flushes queued samples and closes the database.
func (db *DB) Close() error {
	close(db.stopCh)
	<-db.doneCh
	return db.DB.Close()
}

// Sample is one persisted lock sample row.
type Sample struct {
	AcquisitionID string    `json:"acquisition_id"`
	At            time.Time `json:"at"`
	IsGood        bool      `json:"is_good"`
	Offset        float64   `json:"offset"`
	Sum           float64   `json:"sum"`
}

// RecentSamples returns up to limit samples, newest first.
func (db *DB) RecentSamples(limit int) ([]Sample, error) {
	rows, err := db.Query(`
		SELECT acquisition_id, at, is_good, z_offset, signal_sum
		FROM lock_samples ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.AcquisitionID, &s.At, &s.IsGood, &s.Offset, &s.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AcquisitionSamples returns every sample recorded during one acquisition,
// oldest first.
func (db *DB) AcquisitionSamples(acquisitionID string) ([]Sample, error) {
	rows, err := db.Query(`
		SELECT acquisition_id, at, is_good, z_offset, signal_sum
		FROM lock_samples WHERE acquisition_id = ? ORDER BY id ASC`, acquisitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.AcquisitionID, &s.At, &s.IsGood, &s.Offset, &s.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Acquisitions returns up to limit acquisition records, newest first.
func (db *DB) Acquisitions(limit int) ([]lock.AcquisitionRecord, error) {
	rows, err := db.Query(`
		SELECT id, started_at, stopped_at, final_coarse_z, z_scan_mode, z_offsets
		FROM acquisitions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query acquisitions: %w", err)
	}
	defer rows.Close()

	var out []lock.AcquisitionRecord
	for rows.Next() {
		var rec lock.AcquisitionRecord
		if err := rows.Scan(&rec.ID, &rec.StartedAt, &rec.StoppedAt, &rec.FinalCoarseZ, &rec.ZScanMode, &rec.ZOffsets); err != nil {
			return nil, fmt.Errorf("failed to scan acquisition: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
