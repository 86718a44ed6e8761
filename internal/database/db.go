package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ponytojas/sensormap/config"
	"github.com/ponytojas/sensormap/internal/models"
)

// HistoryEntry is one stored nearest-sensor result.
type HistoryEntry struct {
	Time           time.Time `json:"time"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	SensorID       int       `json:"sensor_id"`
	SensorLocation string    `json:"sensor_location"`
	DistanceMeters float64   `json:"distance_m"`
}

// TimescaleDB stores nearest-sensor results in a hypertable
type TimescaleDB struct {
	conn  *pgx.Conn
	table string
}

// NewTimescaleDB creates a new TimescaleDB instance
func NewTimescaleDB(ctx context.Context, cfg *config.Config) (*TimescaleDB, error) {
	conn, err := pgx.Connect(ctx, cfg.GetDBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &TimescaleDB{
		conn:  conn,
		table: cfg.Timescale.TableName,
	}, nil
}

// Close closes the database connection
func (db *TimescaleDB) Close() error {
	return db.conn.Close(context.Background())
}

// InitializeTable checks if the table exists and creates it if it doesn't
func (db *TimescaleDB) InitializeTable(ctx context.Context) error {
	var exists bool
	err := db.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, db.table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if table exists: %w", err)
	}

	if exists {
		log.Printf("[DATABASE] Table %s already exists", db.table)
		return nil
	}

	log.Printf("[DATABASE] Creating table %s...", db.table)
	if _, err := db.conn.Exec(ctx, createTableSQL(db.table)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if _, err := db.conn.Exec(ctx, `SELECT create_hypertable($1, 'time')`, db.table); err != nil {
		return fmt.Errorf("failed to convert table to hypertable: %w", err)
	}

	log.Printf("[DATABASE] Table %s created and converted to hypertable", db.table)
	return nil
}

// Record inserts one nearest-sensor result
func (db *TimescaleDB) Record(ctx context.Context, result models.NearestResult) error {
	_, err := db.conn.Exec(ctx, insertSQL(db.table), insertArgs(result)...)
	if err != nil {
		return fmt.Errorf("failed to insert nearest sensor result: %w", err)
	}
	return nil
}

// Recent returns the latest results, newest first
func (db *TimescaleDB) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(ctx, recentSQL(db.table), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[HistoryEntry])
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE %s (
			time TIMESTAMPTZ NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			sensor_id INTEGER NOT NULL,
			sensor_location TEXT,
			distance_m DOUBLE PRECISION NOT NULL
		)
	`, pgx.Identifier{table}.Sanitize())
}

func insertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (time, latitude, longitude, sensor_id, sensor_location, distance_m)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, pgx.Identifier{table}.Sanitize())
}

func insertArgs(r models.NearestResult) []any {
	ts := r.ComputedAt
	if ts.IsZero() {
		ts = r.Position.Timestamp
	}
	return []any{ts, r.Position.Latitude, r.Position.Longitude, r.Sensor.ID, r.Sensor.Location, r.DistanceMeters}
}

func recentSQL(table string) string {
	return fmt.Sprintf(`
		SELECT time, latitude, longitude, sensor_id, COALESCE(sensor_location, ''), distance_m
		FROM %s
		ORDER BY time DESC
		LIMIT $1
	`, pgx.Identifier{table}.Sanitize())
}
