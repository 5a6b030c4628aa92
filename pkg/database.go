package pixie

import (
	"fmt"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

// CalibrationEntry is one row of the Calibration table. A row applies to
// the runs started inside [ValidFrom, ValidTo].
type CalibrationEntry struct {
	Channel   int       `db:"Channel"`
	EnergyFit string    `db:"EnergyFit"`
	FwhmFit   string    `db:"FwhmFit"`
	McaCal    string    `db:"McaCal"`
	ValidFrom time.Time `db:"ValidFrom"`
	ValidTo   time.Time `db:"ValidTo"`
}

const calibrationQuery = "SELECT Channel, EnergyFit, FwhmFit, McaCal, ValidFrom, ValidTo FROM Calibration " +
	"WHERE ValidFrom <= ? AND ValidTo >= ? ORDER BY Channel, ValidFrom"

func getCalibrationFromDB(db *sqlx.DB, runStart time.Time, verbosity int) ([]CalibrationEntry, error) {
	if verbosity > 0 {
		message := fmt.Sprintf("Reading calibration valid at %s from database", runStart.Format(time.DateTime))
		logger.Info(message, "database")
	}
	if verbosity > 2 {
		message := fmt.Sprintf("Query: %s", calibrationQuery)
		logger.Info(message, "database")
	}

	rows, err := db.Queryx(calibrationQuery, runStart, runStart)
	if err != nil {
		errMessage := fmt.Errorf("error querying database: %w", err)
		return nil, errMessage
	}
	defer rows.Close()

	entries := make([]CalibrationEntry, 0)
	for rows.Next() {
		result := CalibrationEntry{}
		err := rows.StructScan(&result)
		if err != nil {
			errMessage := fmt.Errorf("error scanning DB row: %w", err)
			return nil, errMessage
		}
		entries = append(entries, result)
	}
	return entries, rows.Err()
}

// calibrationFromEntries keeps, for every channel, the entry with the most
// recent ValidFrom.
func calibrationFromEntries(entries []CalibrationEntry) map[string]ChannelCalibration {
	latest := make(map[int]CalibrationEntry)
	for _, entry := range entries {
		current, ok := latest[entry.Channel]
		if !ok || entry.ValidFrom.After(current.ValidFrom) {
			latest[entry.Channel] = entry
		}
	}
	config := make(map[string]ChannelCalibration, len(latest))
	for channel, entry := range latest {
		config[strconv.Itoa(channel)] = ChannelCalibration{
			EnergyFit: entry.EnergyFit,
			FwhmFit:   entry.FwhmFit,
			McaCal:    entry.McaCal,
		}
	}
	return config
}

func LoadCalibrationFromDB(db *sqlx.DB, runStart time.Time, verbosity int) (map[string]ChannelCalibration, error) {
	entries, err := getCalibrationFromDB(db, runStart, verbosity)
	if err != nil {
		errMessage := fmt.Errorf("error getting calibration from database: %w", err)
		logger.Error(errMessage.Error())
		return nil, errMessage
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no calibration in database for a run started at %s", runStart.Format(time.DateTime))
	}
	return calibrationFromEntries(entries), nil
}

// LoadCalibration builds the run calibration from the database when enabled
// or from the configuration file otherwise, and attaches the signature
// library if one is configured.
func LoadCalibration(config Configuration, meta CaptureRunMetadata) (Calibration, error) {
	source := config.Calibration
	if config.UseDB {
		dbConn, err := ConnectToDatabase(config.User, config.Passwd, config.Host, config.DBName)
		if err != nil {
			return Calibration{}, fmt.Errorf("error connecting to database: %w", err)
		}
		defer dbConn.Close()
		source, err = LoadCalibrationFromDB(dbConn, meta.RunStart, config.Verbosity)
		if err != nil {
			return Calibration{}, err
		}
	}

	calibration, err := NewCalibration(source)
	if err != nil {
		return calibration, err
	}
	if config.SigLibrary != "" {
		library, err := LoadSignatureLibrary(config.SigLibrary)
		if err != nil {
			return calibration, err
		}
		calibration.Library = library
	}
	return calibration, nil
}
