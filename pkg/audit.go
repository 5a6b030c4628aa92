package pixie

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	sqlx "github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// AuditLog keeps every classified event of a run in a SQLite database, so
// the spectra can be rebuilt or cross-checked without decoding again.
type AuditLog struct {
	DB       *sqlx.DB
	Filename string
}

type auditRun struct {
	RunID       string  `db:"run_id"`
	Series      string  `db:"series"`
	RunStart    string  `db:"run_start"`
	TStart      float64 `db:"t_start"`
	Duration    float64 `db:"duration"`
	TotalTime   float64 `db:"total_time"`
	EnergyMax   int     `db:"energy_max"`
	ShortWindow float64 `db:"short_window"`
	ChunkWidth  float64 `db:"chunk_width"`
	NEvents     int     `db:"n_events"`
}

type auditEvent struct {
	RunID     string  `db:"run_id"`
	Rule      string  `db:"rule"`
	Channel   int     `db:"channel"`
	Energy    int     `db:"energy"`
	Timestamp float64 `db:"timestamp"`
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	logger.Info(fmt.Sprintf(format, v...), "migrate")
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func OpenAuditLog(filename string) (*AuditLog, error) {
	// Pragmas in the DSN apply to every pooled connection
	db, err := sqlx.Open("sqlite", filename+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, &ErrOpenFile{Filename: filename, Err: err}
	}
	audit := &AuditLog{DB: db, Filename: filename}
	if err := audit.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return audit, nil
}

func (a *AuditLog) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(a.DB.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateUp applies the pending migrations. The migrate instance is not
// closed since that would close the database as well.
func (a *AuditLog) migrateUp() error {
	m, err := a.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (a *AuditLog) SchemaVersion() (uint, bool, error) {
	m, err := a.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

const auditBatch = 4096

// Record stores the run, its classified streams and the per-spectrum
// totals in a single transaction.
func (a *AuditLog) Record(ctx RunContext, tracker DurationTracker, streams map[SpectrumKey][]ClassifiedEvent, spectra *Spectra) error {
	runID := ctx.RunID.String()
	tx, err := a.DB.Beginx()
	if err != nil {
		return fmt.Errorf("error starting audit transaction: %w", err)
	}
	defer tx.Rollback()

	run := auditRun{
		RunID:       runID,
		Series:      SeriesBasename(firstOrEmpty(ctx.Metadata.Files)),
		RunStart:    ctx.Metadata.RunStart.Format("2006-01-02 15:04:05"),
		TStart:      tracker.TStart,
		Duration:    tracker.Duration(),
		TotalTime:   ctx.Metadata.TotalTime,
		EnergyMax:   ctx.EnergyMax,
		ShortWindow: ctx.ShortWindow,
		ChunkWidth:  ctx.ChunkWidth,
		NEvents:     tracker.Count,
	}
	_, err = tx.NamedExec(`INSERT INTO runs (run_id, series, run_start, t_start, duration, total_time,
		energy_max, short_window, chunk_width, n_events)
		VALUES (:run_id, :series, :run_start, :t_start, :duration, :total_time,
		:energy_max, :short_window, :chunk_width, :n_events)`, run)
	if err != nil {
		return fmt.Errorf("error recording run %s: %w", runID, err)
	}

	stmt, err := tx.Preparex("INSERT INTO classified_events (run_id, rule, channel, energy, timestamp) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("error preparing audit insert: %w", err)
	}
	defer stmt.Close()

	recorded := 0
	for _, key := range SpectrumKeys() {
		for _, event := range streams[key] {
			row := auditEvent{
				RunID:     runID,
				Rule:      event.Rule.String(),
				Channel:   event.Channel,
				Energy:    int(event.Energy),
				Timestamp: event.Timestamp,
			}
			if _, err := stmt.Exec(row.RunID, row.Rule, row.Channel, row.Energy, row.Timestamp); err != nil {
				return fmt.Errorf("error recording %s event: %w", key, err)
			}
			recorded++
			if ctx.Verbosity > 1 && recorded%auditBatch == 0 {
				logger.Info(fmt.Sprintf("Audit: %d events recorded", recorded), "audit")
			}
		}

		if spectra == nil {
			continue
		}
		spectrum, ok := spectra.Get(key.Rule, key.Channel)
		if !ok {
			continue
		}
		_, err := tx.Exec("INSERT INTO spectrum_summary (run_id, rule, channel, n_rows, counts) VALUES (?, ?, ?, ?, ?)",
			runID, key.Rule.String(), key.Channel, len(spectrum.Rows), spectrum.Events)
		if err != nil {
			return fmt.Errorf("error recording %s summary: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing audit transaction: %w", err)
	}
	if ctx.Verbosity > 0 {
		message := fmt.Sprintf("Audit: run %s, %d classified events in %s", runID, recorded, a.Filename)
		logger.Info(message, "audit")
	}
	return nil
}

// CountEvents returns how many events of a (rule, channel) stream were
// recorded for a run.
func (a *AuditLog) CountEvents(runID uuid.UUID, rule Rule, channel int) (int, error) {
	var count int
	err := a.DB.Get(&count, "SELECT COUNT(*) FROM classified_events WHERE run_id = ? AND rule = ? AND channel = ?",
		runID.String(), rule.String(), channel)
	return count, err
}

// Histogram rebuilds the whole-run spectrum of a stream from the log.
func (a *AuditLog) Histogram(runID uuid.UUID, rule Rule, channel int, energyMax int) ([]int32, error) {
	type bin struct {
		Energy int `db:"energy"`
		Count  int `db:"n"`
	}
	bins := []bin{}
	err := a.DB.Select(&bins, `SELECT energy, COUNT(*) AS n FROM classified_events
		WHERE run_id = ? AND rule = ? AND channel = ? GROUP BY energy`,
		runID.String(), rule.String(), channel)
	if err != nil {
		return nil, err
	}
	hist := make([]int32, energyMax+1)
	for _, b := range bins {
		if b.Energy >= 0 && b.Energy <= energyMax {
			hist[b.Energy] = int32(b.Count)
		}
	}
	return hist, nil
}

func (a *AuditLog) Close() error {
	return a.DB.Close()
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
