// Package store persists missions and their detection sets in SQLite.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
	"github.com/pkg/errors"

	"github.com/aerie/mission-core/mission"
	"github.com/aerie/mission-core/models"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dataSourceName and makes
// sure the schema exists. ":memory:" is accepted for tests.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	if dbDir := filepath.Dir(dbPath); dbPath != ":memory:" && dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// a single connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	createMissionsTable := `
    CREATE TABLE IF NOT EXISTS missions (
        id TEXT PRIMARY KEY,
        stage INTEGER NOT NULL DEFAULT 0,
        image_ref TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    );
    `

	createDetectionsTable := `
    CREATE TABLE IF NOT EXISTS detections (
        mission_id TEXT NOT NULL REFERENCES missions(id) ON DELETE CASCADE,
        rank INTEGER NOT NULL,
        detection_id INTEGER NOT NULL,
        class TEXT NOT NULL,
        confidence REAL NOT NULL,
        x REAL NOT NULL,
        y REAL NOT NULL,
        width REAL NOT NULL,
        height REAL NOT NULL,
        zone TEXT NOT NULL,
        deployed INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (mission_id, rank)
    );
    CREATE INDEX IF NOT EXISTS idx_detections_class ON detections(class);
    `

	if _, err := db.Exec(createMissionsTable); err != nil {
		return errors.Wrap(err, "create missions table")
	}
	if _, err := db.Exec(createDetectionsTable); err != nil {
		return errors.Wrap(err, "create detections table")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveMission writes the mission row and replaces its detection set.
func (s *SQLiteStore) SaveMission(ctx context.Context, m *mission.State) error {
	snap := m.Snapshot()
	status := snap.Status
	deployed := make(map[int]bool)
	for _, d := range snap.Deployed {
		deployed[d.ID] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO missions (id, stage, image_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			image_ref = excluded.image_ref,
			updated_at = excluded.updated_at`,
		status.ID, int(status.Stage), status.ImageRef,
		formatTime(snap.CreatedAt), formatTime(status.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "upsert mission %s", m.ID())
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM detections WHERE mission_id = ?", m.ID()); err != nil {
		return errors.Wrapf(err, "clear detections of mission %s", m.ID())
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (
			mission_id, rank, detection_id, class, confidence,
			x, y, width, height, zone, deployed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare detection insert")
	}
	defer stmt.Close()

	for rank, d := range snap.Detections {
		deployedInt := 0
		if deployed[d.ID] {
			deployedInt = 1
		}
		_, err := stmt.ExecContext(ctx,
			m.ID(), rank+1, d.ID, d.Class, d.Confidence,
			d.X, d.Y, d.Width, d.Height, string(d.Zone), deployedInt,
		)
		if err != nil {
			return errors.Wrapf(err, "insert detection %d of mission %s", d.ID, m.ID())
		}
	}

	return errors.Wrap(tx.Commit(), "commit mission")
}

// LoadMission rebuilds a mission. Unknown ids return mission.ErrNotFound.
func (s *SQLiteStore) LoadMission(ctx context.Context, id string) (*mission.State, error) {
	var stage int
	var imageRef, createdRaw, updatedRaw string
	err := s.db.QueryRowContext(ctx,
		"SELECT stage, image_ref, created_at, updated_at FROM missions WHERE id = ?", id,
	).Scan(&stage, &imageRef, &createdRaw, &updatedRaw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, mission.ErrNotFound
		}
		return nil, errors.Wrapf(err, "query mission %s", id)
	}

	detections, deployed, err := s.loadDetections(ctx, id)
	if err != nil {
		return nil, err
	}

	return mission.Restore(id, mission.Stage(stage), imageRef, detections, deployed,
		parseTime(createdRaw), parseTime(updatedRaw)), nil
}

// LoadAll rebuilds every stored mission, oldest first.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]*mission.State, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM missions ORDER BY created_at, id")
	if err != nil {
		return nil, errors.Wrap(err, "query missions")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan mission id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate missions")
	}

	missions := make([]*mission.State, 0, len(ids))
	for _, id := range ids {
		m, err := s.LoadMission(ctx, id)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, nil
}

// DeleteMission removes a mission and its detections.
func (s *SQLiteStore) DeleteMission(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM detections WHERE mission_id = ?", id); err != nil {
		return errors.Wrapf(err, "delete detections of mission %s", id)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM missions WHERE id = ?", id); err != nil {
		return errors.Wrapf(err, "delete mission %s", id)
	}
	return nil
}

// ClassTotals counts stored detections per class across every mission.
func (s *SQLiteStore) ClassTotals(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT class, COUNT(*) FROM detections GROUP BY class")
	if err != nil {
		return nil, errors.Wrap(err, "query class totals")
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var class string
		var count int
		if err := rows.Scan(&class, &count); err != nil {
			return nil, errors.Wrap(err, "scan class total")
		}
		totals[class] = count
	}
	return totals, errors.Wrap(rows.Err(), "iterate class totals")
}

func (s *SQLiteStore) loadDetections(ctx context.Context, missionID string) ([]models.Detection, []models.Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT detection_id, class, confidence, x, y, width, height, zone, deployed
		FROM detections
		WHERE mission_id = ?
		ORDER BY rank`, missionID)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "query detections of mission %s", missionID)
	}
	defer rows.Close()

	detections := []models.Detection{}
	deployed := []models.Detection{}
	for rows.Next() {
		var d models.Detection
		var zone string
		var deployedInt int
		if err := rows.Scan(&d.ID, &d.Class, &d.Confidence, &d.X, &d.Y, &d.Width, &d.Height, &zone, &deployedInt); err != nil {
			return nil, nil, errors.Wrap(err, "scan detection")
		}
		d.Zone = models.Zone(zone)
		detections = append(detections, d)
		if deployedInt == 1 {
			deployed = append(deployed, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "iterate detections")
	}
	return detections, deployed, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
