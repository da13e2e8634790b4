package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/geowatch/geowatch/internal/db"
	"github.com/geowatch/geowatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the check loop.
var preparedStatements = map[string]string{
	"get_zone":          selectZoneSQL + ` WHERE id = $1`,
	"mark_zone_checked": markZoneCheckedSQL,
	"get_change_epoch":  selectChangeSQL + ` WHERE zone_id = $1 AND epoch = $2`,
	"insert_change":     insertChangeSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS zones (
	id                     TEXT PRIMARY KEY,
	owner_id               TEXT NOT NULL REFERENCES users(id),
	name                   TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	geometry               JSONB NOT NULL,
	change_type            TEXT NOT NULL,
	frequency              TEXT NOT NULL DEFAULT 'weekly',
	confidence_threshold   INT NOT NULL DEFAULT 60,
	email_alerts           BOOLEAN NOT NULL DEFAULT TRUE,
	in_app_alerts          BOOLEAN NOT NULL DEFAULT TRUE,
	status                 TEXT NOT NULL DEFAULT 'active',
	last_checked_at        TIMESTAMPTZ,
	total_changes_detected INT NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS change_records (
	id             TEXT PRIMARY KEY,
	zone_id        TEXT NOT NULL REFERENCES zones(id),
	owner_id       TEXT NOT NULL,
	zone_name      TEXT NOT NULL,
	epoch          TIMESTAMPTZ NOT NULL,
	detected_at    TIMESTAMPTZ NOT NULL,
	change_area_m2 DOUBLE PRECISION NOT NULL,
	change_percent DOUBLE PRECISION NOT NULL,
	severity       TEXT NOT NULL,
	before_image   JSONB,
	after_image    JSONB,
	read           BOOLEAN NOT NULL DEFAULT FALSE,
	notified       BOOLEAN NOT NULL DEFAULT FALSE,
	notified_at    TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (zone_id, epoch)
);

CREATE TABLE IF NOT EXISTS ndvi_points (
	zone_id TEXT NOT NULL REFERENCES zones(id),
	date    TIMESTAMPTZ NOT NULL,
	value   DOUBLE PRECISION NOT NULL,
	quality TEXT NOT NULL DEFAULT 'good',
	PRIMARY KEY (zone_id, date)
);

CREATE INDEX IF NOT EXISTS idx_zones_status ON zones(status);
CREATE INDEX IF NOT EXISTS idx_zones_owner ON zones(owner_id);
CREATE INDEX IF NOT EXISTS idx_changes_zone ON change_records(zone_id, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_changes_notified ON change_records(notified) WHERE NOT notified;
CREATE INDEX IF NOT EXISTS idx_ndvi_zone_date ON ndvi_points(zone_id, date);
`

const selectZoneSQL = `SELECT id, owner_id, name, description, geometry, change_type, frequency,
	confidence_threshold, email_alerts, in_app_alerts, status, last_checked_at,
	total_changes_detected, created_at, updated_at FROM zones`

const markZoneCheckedSQL = `UPDATE zones
	SET last_checked_at = $2,
	    total_changes_detected = total_changes_detected + $3,
	    updated_at = now()
	WHERE id = $1 AND (last_checked_at IS NULL OR last_checked_at <= $2)`

const selectChangeSQL = `SELECT id, zone_id, owner_id, zone_name, epoch, detected_at, change_area_m2,
	change_percent, severity, before_image, after_image, read, notified, notified_at, created_at
	FROM change_records`

const insertChangeSQL = `INSERT INTO change_records
	(id, zone_id, owner_id, zone_name, epoch, detected_at, change_area_m2, change_percent,
	 severity, before_image, after_image, read, notified, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, FALSE, now())
	ON CONFLICT (zone_id, epoch) DO NOTHING`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateZone(ctx context.Context, zone *model.Zone) error {
	if zone.ID == "" {
		zone.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	zone.CreatedAt = now
	zone.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO zones (id, owner_id, name, description, geometry, change_type, frequency,
			confidence_threshold, email_alerts, in_app_alerts, status, total_changes_detected,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $12)`,
		zone.ID, zone.OwnerID, zone.Name, zone.Description, []byte(zone.Geometry),
		zone.ChangeType, string(zone.Frequency), zone.ConfidenceThreshold,
		zone.EmailAlerts, zone.InAppAlerts, string(zone.Status), now,
	)
	return eris.Wrap(err, "postgres: create zone")
}

func (s *PostgresStore) GetZone(ctx context.Context, id string) (*model.Zone, error) {
	row := s.pool.QueryRow(ctx, selectZoneSQL+` WHERE id = $1`, id)
	zone, err := scanZone(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrZoneNotFound
		}
		return nil, eris.Wrap(err, "postgres: get zone")
	}
	return zone, nil
}

func (s *PostgresStore) ListZones(ctx context.Context, filter ZoneFilter) ([]model.Zone, error) {
	query := selectZoneSQL + ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += ` AND owner_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list zones")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan zone")
		}
		zones = append(zones, *zone)
	}
	return zones, eris.Wrap(rows.Err(), "postgres: iterate zones")
}

func (s *PostgresStore) MarkZoneChecked(ctx context.Context, id string, checkedAt time.Time, changeDetected bool) error {
	bump := 0
	if changeDetected {
		bump = 1
	}
	tag, err := s.pool.Exec(ctx, markZoneCheckedSQL, id, checkedAt.UTC(), bump)
	if err != nil {
		return eris.Wrap(err, "postgres: mark zone checked")
	}
	if tag.RowsAffected() == 0 {
		// Either the zone is gone or a newer check already advanced the
		// timestamp; only the former is an error.
		if _, err := s.GetZone(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) SetZoneStatus(ctx context.Context, id string, status model.ZoneStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE zones SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set zone status")
	}
	if tag.RowsAffected() == 0 {
		return ErrZoneNotFound
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name) VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.Name,
	)
	return eris.Wrap(err, "postgres: create user")
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Email, &user.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, eris.Wrap(err, "postgres: get user")
	}
	return &user, nil
}

func (s *PostgresStore) CreateChangeRecord(ctx context.Context, rec *model.ChangeRecord) (bool, error) {
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

	tag, err := s.pool.Exec(ctx, insertChangeSQL,
		rec.ID, rec.ZoneID, rec.OwnerID, rec.ZoneName, rec.Epoch.UTC(), rec.DetectedAt.UTC(),
		rec.ChangeAreaM2, rec.ChangePercent, string(rec.Severity), before, after,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: create change record")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetChangeByZoneEpoch(ctx context.Context, zoneID string, epoch time.Time) (*model.ChangeRecord, error) {
	row := s.pool.QueryRow(ctx, selectChangeSQL+` WHERE zone_id = $1 AND epoch = $2`, zoneID, epoch.UTC())
	rec, err := scanChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChangeNotFound
		}
		return nil, eris.Wrap(err, "postgres: get change by epoch")
	}
	return rec, nil
}

func (s *PostgresStore) MarkChangeNotified(ctx context.Context, recordID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE change_records SET notified = TRUE, notified_at = $2 WHERE id = $1`,
		recordID, at.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: mark change notified")
	}
	if tag.RowsAffected() == 0 {
		return ErrChangeNotFound
	}
	return nil
}

func (s *PostgresStore) ListChangesByZone(ctx context.Context, zoneID string, limit int) ([]model.ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		selectChangeSQL+` WHERE zone_id = $1 ORDER BY detected_at DESC LIMIT $2`,
		zoneID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list changes")
	}
	defer rows.Close()

	var recs []model.ChangeRecord
	for rows.Next() {
		rec, err := scanChange(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan change")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: iterate changes")
}

func (s *PostgresStore) ReplaceNDVISeries(ctx context.Context, zoneID string, points []model.NDVIDataPoint) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin ndvi replace")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM ndvi_points WHERE zone_id = $1`, zoneID); err != nil {
		return eris.Wrap(err, "postgres: clear ndvi series")
	}

	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{zoneID, p.Date.UTC(), p.Value, string(p.Quality)})
	}
	if _, err := db.CopyFrom(ctx, tx, "ndvi_points", []string{"zone_id", "date", "value", "quality"}, rows); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit ndvi replace")
}

func (s *PostgresStore) ListNDVISeries(ctx context.Context, zoneID string) ([]model.NDVIDataPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT zone_id, date, value, quality FROM ndvi_points WHERE zone_id = $1 ORDER BY date`,
		zoneID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ndvi series")
	}
	defer rows.Close()

	var points []model.NDVIDataPoint
	for rows.Next() {
		var p model.NDVIDataPoint
		var quality string
		if err := rows.Scan(&p.ZoneID, &p.Date, &p.Value, &quality); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ndvi point")
		}
		p.Quality = model.NDVIQuality(quality)
		points = append(points, p)
	}
	return points, eris.Wrap(rows.Err(), "postgres: iterate ndvi points")
}

// scanZone reads one zone row in selectZoneSQL column order.
func scanZone(row pgx.Row) (*model.Zone, error) {
	var zone model.Zone
	var geometry []byte
	var frequency, status string
	err := row.Scan(
		&zone.ID, &zone.OwnerID, &zone.Name, &zone.Description, &geometry,
		&zone.ChangeType, &frequency, &zone.ConfidenceThreshold,
		&zone.EmailAlerts, &zone.InAppAlerts, &status, &zone.LastCheckedAt,
		&zone.TotalChangesDetected, &zone.CreatedAt, &zone.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	zone.Geometry = json.RawMessage(geometry)
	zone.Frequency = model.Frequency(frequency)
	zone.Status = model.ZoneStatus(status)
	return &zone, nil
}

// scanChange reads one change row in selectChangeSQL column order.
func scanChange(row pgx.Row) (*model.ChangeRecord, error) {
	var rec model.ChangeRecord
	var severity string
	var before, after []byte
	err := row.Scan(
		&rec.ID, &rec.ZoneID, &rec.OwnerID, &rec.ZoneName, &rec.Epoch, &rec.DetectedAt,
		&rec.ChangeAreaM2, &rec.ChangePercent, &severity, &before, &after,
		&rec.Read, &rec.Notified, &rec.NotifiedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Severity = model.Severity(severity)
	if rec.BeforeImage, err = unmarshalImage(before); err != nil {
		return nil, err
	}
	if rec.AfterImage, err = unmarshalImage(after); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalImage(p *model.ImageParams) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	return data, eris.Wrap(err, "postgres: marshal image params")
}

func unmarshalImage(data []byte) (*model.ImageParams, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p model.ImageParams
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal image params")
	}
	return &p, nil
}
