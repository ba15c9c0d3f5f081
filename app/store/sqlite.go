package store

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore implements the persistence contract on normalized tables:
// projects (one row per project), gps_points and photos (cascade delete,
// foreign key to projects). Get reassembles the same nested document shape
// the file backend stores natively.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database and sets pragmas. Schema creation is a
// separate Initialize call so its failure can be logged without aborting
// startup.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for better concurrency, foreign_keys for cascade delete
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to set %s: %w (also failed to close db: %v)", pragma, err, closeErr)
			}
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Initialize creates the database schema, idempotent
func (s *SQLiteStore) Initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL DEFAULT '',
			created TEXT NOT NULL,
			updated TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			property TEXT NOT NULL DEFAULT '{}',
			visit_data TEXT NOT NULL DEFAULT '{}',
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS gps_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			label TEXT NOT NULL DEFAULT '',
			lat REAL NOT NULL DEFAULT 0,
			lon REAL NOT NULL DEFAULT 0,
			altitude REAL NOT NULL DEFAULT 0,
			elevation_ft REAL NOT NULL DEFAULT 0,
			accuracy REAL NOT NULL DEFAULT 0,
			point_type TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS photos (
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL,
			timestamp TEXT NOT NULL DEFAULT '',
			gps TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			PRIMARY KEY (project_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gps_points_project_id ON gps_points(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_photos_project_id ON photos(project_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Create inserts a new project row and returns the generated id
func (s *SQLiteStore) Create(owner string, prop Property) (string, error) {
	now := time.Now()
	id := newProjectID(now)

	propJSON, err := json.Marshal(prop)
	if err != nil {
		return "", fmt.Errorf("failed to marshal property: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO projects (id, owner, created, status, property, visit_data, notes)
		VALUES (?, ?, ?, 'pending', ?, '{}', '')`,
		id, owner, fmtTime(now), string(propJSON))
	if err != nil {
		return "", fmt.Errorf("failed to insert project %s: %w", id, err)
	}
	return id, nil
}

// Get joins the project row with its points and photos and reassembles the
// full denormalized document
func (s *SQLiteStore) Get(id string) (Project, error) {
	var row projectRow
	err := s.db.Get(&row, `
		SELECT id, owner, created, updated, status, property, visit_data, notes
		FROM projects WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("failed to query project %s: %w", id, err)
	}

	p, err := row.toProject()
	if err != nil {
		return Project{}, err
	}

	var points []gpsRow
	err = s.db.Select(&points, `
		SELECT label, lat, lon, altitude, elevation_ft, accuracy, point_type, timestamp
		FROM gps_points WHERE project_id = ? ORDER BY id`, id)
	if err != nil {
		return Project{}, fmt.Errorf("failed to query gps points for %s: %w", id, err)
	}
	for _, g := range points {
		p.GpsPoints = append(p.GpsPoints, g.toPoint())
	}

	var photos []photoRow
	err = s.db.Select(&photos, `
		SELECT id, label, filename, timestamp, gps
		FROM photos WHERE project_id = ? ORDER BY id`, id)
	if err != nil {
		return Project{}, fmt.Errorf("failed to query photos for %s: %w", id, err)
	}
	for _, ph := range photos {
		photo, err := ph.toPhoto()
		if err != nil {
			log.Printf("[WARN] skipping malformed photo record %s/%s: %v", id, ph.ID, err)
			continue
		}
		p.Photos = append(p.Photos, photo)
	}

	return p, nil
}

// List returns compact summaries of all projects visible to owner, sorted by id
func (s *SQLiteStore) List(owner string) ([]Summary, error) {
	query := `SELECT id, created, status, property FROM projects ORDER BY id`
	args := []any{}
	if owner != "" {
		query = `SELECT id, created, status, property FROM projects
			WHERE owner = '' OR owner = ? ORDER BY id`
		args = append(args, owner)
	}

	var rows []projectRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}

	res := []Summary{}
	for _, row := range rows {
		var prop Property
		if row.Property != "" {
			if err := json.Unmarshal([]byte(row.Property), &prop); err != nil {
				log.Printf("[WARN] skipping project %s with malformed property: %v", row.ID, err)
				continue
			}
		}
		res = append(res, Summary{ID: row.ID, Address: prop.Address, Client: prop.Client,
			Created: parseTime(row.Created), Status: row.Status})
	}
	return res, nil
}

// Update replaces the mutable document fields in a single statement.
// Status is kept when the caller omits it, matching the file backend.
func (s *SQLiteStore) Update(id string, upd Update) error {
	if upd.VisitData == nil {
		upd.VisitData = map[string]any{}
	}

	propJSON, err := json.Marshal(upd.Property)
	if err != nil {
		return fmt.Errorf("failed to marshal property: %w", err)
	}
	visitJSON, err := json.Marshal(upd.VisitData)
	if err != nil {
		return fmt.Errorf("failed to marshal visit data: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE projects
		SET status = COALESCE(NULLIF(?, ''), status), property = ?, visit_data = ?, notes = ?, updated = ?
		WHERE id = ?`,
		upd.Status, string(propJSON), string(visitJSON), upd.Notes, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows for %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddGpsPoint inserts one waypoint and returns the new total, both inside a
// transaction so the reported count matches the insert
func (s *SQLiteStore) AddGpsPoint(id string, point GpsPoint) (int, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkProjectExists(tx, id); err != nil {
		return 0, err
	}

	point.Timestamp = time.Now()
	_, err = tx.Exec(`
		INSERT INTO gps_points (project_id, label, lat, lon, altitude, elevation_ft, accuracy, point_type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, point.Label, point.Lat, point.Lon, point.Altitude, point.ElevationFt,
		point.Accuracy, point.PointType, fmtTime(point.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("failed to insert gps point for %s: %w", id, err)
	}

	var count int
	if err := tx.Get(&count, `SELECT COUNT(*) FROM gps_points WHERE project_id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to count gps points for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return count, nil
}

// AddPhoto validates and decodes the payload, then stores the normalized
// base64 (data-URL prefix stripped) together with the metadata in one
// transaction
func (s *SQLiteStore) AddPhoto(id string, upload PhotoUpload) (string, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkProjectExists(tx, id); err != nil {
		return "", err
	}

	raw, err := decodePhoto(upload.Data)
	if err != nil {
		return "", err
	}
	if upload.Label == "" {
		upload.Label = "Photo"
	}

	gpsJSON := ""
	if upload.GPS != nil {
		b, err := json.Marshal(upload.GPS)
		if err != nil {
			return "", fmt.Errorf("failed to marshal photo gps: %w", err)
		}
		gpsJSON = string(b)
	}

	now := time.Now()
	photoID := newPhotoID(now)
	_, err = tx.Exec(`
		INSERT INTO photos (project_id, id, label, filename, timestamp, gps, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, photoID, upload.Label, photoFilename(id, photoID), fmtTime(now), gpsJSON, encodePhoto(raw))
	if err != nil {
		return "", fmt.Errorf("failed to insert photo for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return photoID, nil
}

// Export reuses the Get assembly and returns the marshaled document
func (s *SQLiteStore) Export(id string) ([]byte, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project %s: %w", id, err)
	}
	return data, nil
}

// PhotoFile is not served from the database backend, photo binaries live in
// the base64 column only
func (s *SQLiteStore) PhotoFile(string) ([]byte, error) {
	return nil, ErrNotFound
}

// Seed creates the given project if no row with its id exists yet
func (s *SQLiteStore) Seed(p Project) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.Get(&count, `SELECT COUNT(*) FROM projects WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to check project %s: %w", p.ID, err)
	}
	if count > 0 {
		return nil // already present, keep it untouched
	}

	normalizeSeed(&p)
	propJSON, err := json.Marshal(p.Property)
	if err != nil {
		return fmt.Errorf("failed to marshal property: %w", err)
	}
	visitJSON, err := json.Marshal(p.VisitData)
	if err != nil {
		return fmt.Errorf("failed to marshal visit data: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO projects (id, owner, created, status, property, visit_data, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Owner, fmtTime(p.Created), p.Status, string(propJSON), string(visitJSON), p.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert seed project %s: %w", p.ID, err)
	}

	for _, point := range p.GpsPoints {
		_, err = tx.Exec(`
			INSERT INTO gps_points (project_id, label, lat, lon, altitude, elevation_ft, accuracy, point_type, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, point.Label, point.Lat, point.Lon, point.Altitude, point.ElevationFt,
			point.Accuracy, point.PointType, fmtTime(point.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to insert seed gps point for %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// checkProjectExists returns ErrNotFound when no row matches id
func checkProjectExists(tx *sqlx.Tx, id string) error {
	var count int
	if err := tx.Get(&count, `SELECT COUNT(*) FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to check project %s: %w", id, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// row types for sqlx scanning

type projectRow struct {
	ID        string `db:"id"`
	Owner     string `db:"owner"`
	Created   string `db:"created"`
	Updated   string `db:"updated"`
	Status    string `db:"status"`
	Property  string `db:"property"`
	VisitData string `db:"visit_data"`
	Notes     string `db:"notes"`
}

func (r projectRow) toProject() (Project, error) {
	p := Project{
		ID:        r.ID,
		Owner:     r.Owner,
		Created:   parseTime(r.Created),
		Updated:   parseTime(r.Updated),
		Status:    r.Status,
		Notes:     r.Notes,
		VisitData: map[string]any{},
		GpsPoints: []GpsPoint{},
		Photos:    []Photo{},
	}
	if r.Property != "" {
		if err := json.Unmarshal([]byte(r.Property), &p.Property); err != nil {
			return Project{}, fmt.Errorf("failed to parse property for %s: %w", r.ID, err)
		}
	}
	if r.VisitData != "" {
		if err := json.Unmarshal([]byte(r.VisitData), &p.VisitData); err != nil {
			return Project{}, fmt.Errorf("failed to parse visit data for %s: %w", r.ID, err)
		}
	}
	return p, nil
}

type gpsRow struct {
	Label       string  `db:"label"`
	Lat         float64 `db:"lat"`
	Lon         float64 `db:"lon"`
	Altitude    float64 `db:"altitude"`
	ElevationFt float64 `db:"elevation_ft"`
	Accuracy    float64 `db:"accuracy"`
	PointType   string  `db:"point_type"`
	Timestamp   string  `db:"timestamp"`
}

func (r gpsRow) toPoint() GpsPoint {
	return GpsPoint{Label: r.Label, Lat: r.Lat, Lon: r.Lon, Altitude: r.Altitude,
		ElevationFt: r.ElevationFt, Accuracy: r.Accuracy, PointType: r.PointType,
		Timestamp: parseTime(r.Timestamp)}
}

type photoRow struct {
	ID        string `db:"id"`
	Label     string `db:"label"`
	Filename  string `db:"filename"`
	Timestamp string `db:"timestamp"`
	GPS       string `db:"gps"`
}

func (r photoRow) toPhoto() (Photo, error) {
	photo := Photo{ID: r.ID, Label: r.Label, Filename: r.Filename, Timestamp: parseTime(r.Timestamp)}
	if r.GPS != "" {
		var gps GpsPoint
		if err := json.Unmarshal([]byte(r.GPS), &gps); err != nil {
			return Photo{}, fmt.Errorf("failed to parse photo gps: %w", err)
		}
		photo.GPS = &gps
	}
	return photo, nil
}

// encodePhoto normalizes the stored payload to plain std base64
func encodePhoto(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("[WARN] invalid timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}
