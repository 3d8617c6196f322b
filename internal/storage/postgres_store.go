package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/hitchr-matching/internal/models"
)

// PostgresStore keeps each record as a JSON document next to the columns the
// feed filters on.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) PingContext(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate executes a schema script.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

const upsertListing = `INSERT INTO listings(id, kind, status, is_test_data, body, updated_at)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET kind=EXCLUDED.kind, status=EXCLUDED.status, is_test_data=EXCLUDED.is_test_data, body=EXCLUDED.body, updated_at=EXCLUDED.updated_at`

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.DeliveryRequest) error {
	return p.saveListing(ctx, r.ID, models.KindRequest, r.Status, r.IsTestData, r)
}

func (p *PostgresStore) SaveAvailability(ctx context.Context, a *models.DriverAvailability) error {
	return p.saveListing(ctx, a.ID, models.KindDriver, a.Status, a.IsTestData, a)
}

func (p *PostgresStore) saveListing(ctx context.Context, id string, kind models.Kind, status string, test bool, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode listing %s: %w", id, err)
	}
	if _, err := p.db.ExecContext(ctx, upsertListing, id, string(kind), status, test, body, time.Now()); err != nil {
		return fmt.Errorf("save listing %s: %w", id, err)
	}
	return nil
}

func (p *PostgresStore) SaveProfile(ctx context.Context, d *models.DriverProfile) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", d.ID, err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO driver_profiles(id, body, updated_at) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET body=EXCLUDED.body, updated_at=EXCLUDED.updated_at`, d.ID, body, time.Now())
	if err != nil {
		return fmt.Errorf("save profile %s: %w", d.ID, err)
	}
	return nil
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.DeliveryRequest, error) {
	var r models.DeliveryRequest
	if err := p.getOne(ctx, `SELECT body FROM listings WHERE id=$1 AND kind='request'`, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) GetAvailability(ctx context.Context, id string) (*models.DriverAvailability, error) {
	var a models.DriverAvailability
	if err := p.getOne(ctx, `SELECT body FROM listings WHERE id=$1 AND kind='driver'`, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) GetProfile(ctx context.Context, id string) (*models.DriverProfile, error) {
	var d models.DriverProfile
	if err := p.getOne(ctx, `SELECT body FROM driver_profiles WHERE id=$1`, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) getOne(ctx context.Context, query, id string, dst any) error {
	var body []byte
	err := p.db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	return nil
}

func (p *PostgresStore) ListRequests(ctx context.Context) ([]*models.DeliveryRequest, error) {
	return listBodies[models.DeliveryRequest](ctx, p.db, `SELECT body FROM listings WHERE kind='request' ORDER BY id`)
}

func (p *PostgresStore) ListAvailabilities(ctx context.Context) ([]*models.DriverAvailability, error) {
	return listBodies[models.DriverAvailability](ctx, p.db, `SELECT body FROM listings WHERE kind='driver' ORDER BY id`)
}

func (p *PostgresStore) ListProfiles(ctx context.Context) ([]*models.DriverProfile, error) {
	return listBodies[models.DriverProfile](ctx, p.db, `SELECT body FROM driver_profiles ORDER BY id`)
}

func (p *PostgresStore) DeleteListing(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM listings WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete listing %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func listBodies[T any](ctx context.Context, db *sql.DB, query string) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		v := new(T)
		if err := json.Unmarshal(body, v); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
