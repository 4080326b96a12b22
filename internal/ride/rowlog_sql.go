package ride

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	rowLogTableName        = "telemetry_rows"
	sqlOperationTimeout    = 5 * time.Second
	sqlPlaceholderPostgres = "postgres"
	sqlPlaceholderQuestion = "question"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlRowLog stores rows in a single table keyed by ride id. The same
// statements serve both drivers; only the placeholder style and the
// autoincrement column differ.
type sqlRowLog struct {
	dsn          string
	driverName   string
	placeholders string
	openDB       sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewSQLiteRowLog(dsn string) (RowLog, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &sqlRowLog{
		dsn:          dsn,
		driverName:   "sqlite3",
		placeholders: sqlPlaceholderQuestion,
		openDB:       sql.Open,
	}, nil
}

func NewPostgresRowLog(dsn string) (RowLog, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &sqlRowLog{
		dsn:          dsn,
		driverName:   "postgres",
		placeholders: sqlPlaceholderPostgres,
		openDB:       sql.Open,
	}, nil
}

func (l *sqlRowLog) placeholder(position int) string {
	if l.placeholders == sqlPlaceholderPostgres {
		return fmt.Sprintf("$%d", position)
	}
	return "?"
}

func (l *sqlRowLog) ensureReady() error {
	if l == nil {
		return ErrInvalidInput
	}
	l.initOnce.Do(func() {
		db, err := l.openDB(l.driverName, l.dsn)
		if err != nil {
			l.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
		if l.placeholders == sqlPlaceholderPostgres {
			idColumn = "id BIGSERIAL PRIMARY KEY"
		}
		createTableQuery := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				%s,
				ride_id INTEGER NOT NULL,
				payload TEXT NOT NULL
			)`, rowLogTableName, idColumn)
		if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		createIndexQuery := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s_ride_id_idx ON %s (ride_id, id)",
			rowLogTableName, rowLogTableName,
		)
		if _, err := db.ExecContext(ctx, createIndexQuery); err != nil {
			_ = db.Close()
			l.initErr = err
			return
		}
		l.db = db
	})
	return l.initErr
}

func (l *sqlRowLog) Begin(rideID int) error {
	if rideID < 0 {
		return ErrInvalidInput
	}
	return l.ensureReady()
}

func (l *sqlRowLog) Append(rideID int, row Row) error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"INSERT INTO %s (ride_id, payload) VALUES (%s, %s)",
		rowLogTableName, l.placeholder(1), l.placeholder(2),
	)
	_, err = l.db.ExecContext(ctx, query, rideID, string(payload))
	return err
}

func (l *sqlRowLog) Pending() (int, []Row, bool, error) {
	if err := l.ensureReady(); err != nil {
		return 0, nil, false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	var rideID int
	minQuery := fmt.Sprintf("SELECT MIN(ride_id) FROM %s", rowLogTableName)
	var minRideID sql.NullInt64
	if err := l.db.QueryRowContext(ctx, minQuery).Scan(&minRideID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	if !minRideID.Valid {
		return 0, nil, false, nil
	}
	rideID = int(minRideID.Int64)

	query := fmt.Sprintf(
		"SELECT payload FROM %s WHERE ride_id = %s ORDER BY id ASC",
		rowLogTableName, l.placeholder(1),
	)
	dbRows, err := l.db.QueryContext(ctx, query, rideID)
	if err != nil {
		return 0, nil, false, err
	}
	defer dbRows.Close()

	rows := make([]Row, 0, 64)
	for dbRows.Next() {
		var payload string
		if scanErr := dbRows.Scan(&payload); scanErr != nil {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(payload), &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		return 0, nil, false, err
	}
	return rideID, rows, true, nil
}

func (l *sqlRowLog) Commit(rideID int) error {
	if err := l.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE ride_id = %s", rowLogTableName, l.placeholder(1))
	_, err := l.db.ExecContext(ctx, query, rideID)
	return err
}

func (l *sqlRowLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
