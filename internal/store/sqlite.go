package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/geowatch/geowatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for
// single-node deployments and tests; Postgres is the production driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS zones (
	id                     TEXT PRIMARY KEY,
	owner_id               TEXT NOT NULL REFERENCES users(id),
	name                   TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	geometry               TEXT NOT NULL,
	change_type            TEXT NOT NULL,
	frequency              TEXT NOT NULL DEFAULT 'weekly',
	confidence_threshold   INTEGER NOT NULL DEFAULT 60,
	email_alerts           INTEGER NOT NULL DEFAULT 1,
	in_app_alerts          INTEGER NOT NULL DEFAULT 1,
	status                 TEXT NOT NULL DEFAULT 'active',
	last_checked_at        DATETIME,
	total_changes_detected INTEGER NOT NULL DEFAULT 0,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS change_records (
	id             TEXT PRIMARY KEY,
	zone_id        TEXT NOT NULL REFERENCES zones(id),
	owner_id       TEXT NOT NULL,
	zone_name      TEXT NOT NULL,
	epoch          DATETIME NOT NULL,
	detected_at    DATETIME NOT NULL,
	change_area_m2 REAL NOT NULL,
	change_percent REAL NOT NULL,
	severity       TEXT NOT NULL,
	before_image   TEXT,
	after_image    TEXT,
	read           INTEGER NOT NULL DEFAULT 0,
	notified       INTEGER NOT NULL DEFAULT 0,
	notified_at    DATETIME,
	created_at     DATETIME NOT NULL,
	UNIQUE (zone_id, epoch)
);

CREATE TABLE IF NOT EXISTS ndvi_points (
	zone_id TEXT NOT NULL REFERENCES zones(id),
	date    DATETIME NOT NULL,
	value   REAL NOT NULL,
	quality TEXT NOT NULL DEFAULT 'good',
	PRIMARY KEY (zone_id, date)
);

CREATE INDEX IF NOT EXISTS idx_zones_status ON zones(status);
CREATE INDEX IF NOT EXISTS idx_changes_zone ON change_records(zone_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_ndvi_zone_date ON ndvi_points(zone_id, date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteSelectZone = `SELECT id, owner_id, name, description, geometry, change_type, frequency,
	confidence_threshold, email_alerts, in_app_alerts, status, last_checked_at,
	total_changes_detected, created_at, updated_at FROM zones`

func (s *SQLiteStore) CreateZone(ctx context.Context, zone *model.Zone) error {
	if zone.ID == "" {
		zone.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	zone.CreatedAt = now
	zone.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO zones (id, owner_id, name, description, geometry, change_type, frequency,
			confidence_threshold, email_alerts, in_app_alerts, status, total_changes_detected,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		zone.ID, zone.OwnerID, zone.Name, zone.Description, string(zone.Geometry),
		zone.ChangeType, string(zone.Frequency), zone.ConfidenceThreshold,
		zone.EmailAlerts, zone.InAppAlerts, string(zone.Status), now, now,
	)
	return eris.Wrap(err, "sqlite: create zone")
}

func (s *SQLiteStore) GetZone(ctx context.Context, id string) (*model.Zone, error) {
	zone, err := scanZoneSQL(s.db.QueryRowContext(ctx, sqliteSelectZone+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrZoneNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get zone")
	}
	return zone, nil
}

func (s *SQLiteStore) ListZones(ctx context.Context, filter ZoneFilter) ([]model.Zone, error) {
	query := sqliteSelectZone + ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list zones")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		zone, err := scanZoneSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan zone")
		}
		zones = append(zones, *zone)
	}
	return zones, eris.Wrap(rows.Err(), "sqlite: iterate zones")
}

func (s *SQLiteStore) MarkZoneChecked(ctx context.Context, id string, checkedAt time.Time, changeDetected bool) error {
	bump := 0
	if changeDetected {
		bump = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE zones SET last_checked_at = ?, total_changes_detected = total_changes_detected + ?,
			updated_at = ?
		WHERE id = ? AND (last_checked_at IS NULL OR last_checked_at <= ?)`,
		checkedAt.UTC(), bump, time.Now().UTC(), id, checkedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark zone checked")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetZone(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SetZoneStatus(ctx context.Context, id string, status model.ZoneStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE zones SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set zone status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrZoneNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name) VALUES (?, ?, ?)`,
		user.ID, user.Email, user.Name,
	)
	return eris.Wrap(err, "sqlite: create user")
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get user")
	}
	return &user, nil
}

func (s *SQLiteStore) CreateChangeRecord(ctx context.Context, rec *model.ChangeRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	before, err := marshalImage(rec.BeforeImage)
	if err != nil {
		return false, err
	}
	after, err := marshalImage(rec.AfterImage)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO change_records
			(id, zone_id, owner_id, zone_name, epoch, detected_at, change_area_m2, change_percent,
			 severity, before_image, after_image, read, notified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT (zone_id, epoch) DO NOTHING`,
		rec.ID, rec.ZoneID, rec.OwnerID, rec.ZoneName, rec.Epoch.UTC(), rec.DetectedAt.UTC(),
		rec.ChangeAreaM2, rec.ChangePercent, string(rec.Severity),
		nullableText(before), nullableText(after), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: create change record")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

const sqliteSelectChange = `SELECT id, zone_id, owner_id, zone_name, epoch, detected_at, change_area_m2,
	change_percent, severity, before_image, after_image, read, notified, notified_at, created_at
	FROM change_records`

func (s *SQLiteStore) GetChangeByZoneEpoch(ctx context.Context, zoneID string, epoch time.Time) (*model.ChangeRecord, error) {
	rec, err := scanChangeSQL(s.db.QueryRowContext(ctx,
		sqliteSelectChange+` WHERE zone_id = ? AND epoch = ?`, zoneID, epoch.UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChangeNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get change by epoch")
	}
	return rec, nil
}

func (s *SQLiteStore) MarkChangeNotified(ctx context.Context, recordID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE change_records SET notified = 1, notified_at = ? WHERE id = ?`,
		at.UTC(), recordID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark change notified")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChangeNotFound
	}
	return nil
}

func (s *SQLiteStore) ListChangesByZone(ctx context.Context, zoneID string, limit int) ([]model.ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		sqliteSelectChange+` WHERE zone_id = ? ORDER BY detected_at DESC LIMIT ?`,
		zoneID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list changes")
	}
	defer rows.Close()

	var recs []model.ChangeRecord
	for rows.Next() {
		rec, err := scanChangeSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: iterate changes")
}

func (s *SQLiteStore) ReplaceNDVISeries(ctx context.Context, zoneID string, points []model.NDVIDataPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin ndvi replace")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ndvi_points WHERE zone_id = ?`, zoneID); err != nil {
		return eris.Wrap(err, "sqlite: clear ndvi series")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ndvi_points (zone_id, date, value, quality) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare ndvi insert")
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, zoneID, p.Date.UTC(), p.Value, string(p.Quality)); err != nil {
			return eris.Wrap(err, "sqlite: insert ndvi point")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit ndvi replace")
}

func (s *SQLiteStore) ListNDVISeries(ctx context.Context, zoneID string) ([]model.NDVIDataPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT zone_id, date, value, quality FROM ndvi_points WHERE zone_id = ? ORDER BY date`,
		zoneID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ndvi series")
	}
	defer rows.Close()

	var points []model.NDVIDataPoint
	for rows.Next() {
		var p model.NDVIDataPoint
		var quality string
		if err := rows.Scan(&p.ZoneID, &p.Date, &p.Value, &quality); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ndvi point")
		}
		p.Quality = model.NDVIQuality(quality)
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "sqlite: iterate ndvi points")
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanZoneSQL(row rowScanner) (*model.Zone, error) {
	var zone model.Zone
	var geometry, frequency, status string
	var lastChecked sql.NullTime
	err := row.Scan(
		&zone.ID, &zone.OwnerID, &zone.Name, &zone.Description, &geometry,
		&zone.ChangeType, &frequency, &zone.ConfidenceThreshold,
		&zone.EmailAlerts, &zone.InAppAlerts, &status, &lastChecked,
		&zone.TotalChangesDetected, &zone.CreatedAt, &zone.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	zone.Geometry = json.RawMessage(geometry)
	zone.Frequency = model.Frequency(frequency)
	zone.Status = model.ZoneStatus(status)
	if lastChecked.Valid {
		t := lastChecked.Time.UTC()
		zone.LastCheckedAt = &t
	}
	return &zone, nil
}

func scanChangeSQL(row rowScanner) (*model.ChangeRecord, error) {
	var rec model.ChangeRecord
	var severity string
	var before, after sql.NullString
	var notifiedAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.ZoneID, &rec.OwnerID, &rec.ZoneName, &rec.Epoch, &rec.DetectedAt,
		&rec.ChangeAreaM2, &rec.ChangePercent, &severity, &before, &after,
		&rec.Read, &rec.Notified, &notifiedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Severity = model.Severity(severity)
	if notifiedAt.Valid {
		t := notifiedAt.Time.UTC()
		rec.NotifiedAt = &t
	}
	if before.Valid {
		if rec.BeforeImage, err = unmarshalImage([]byte(before.String)); err != nil {
			return nil, err
		}
	}
	if after.Valid {
		if rec.AfterImage, err = unmarshalImage([]byte(after.String)); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func nullableText(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
