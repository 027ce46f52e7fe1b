package directory

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/blood-connect/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, d *models.Donor) error {
	var lon, lat sql.NullFloat64
	if loc, ok := d.Target(); ok {
		lon = sql.NullFloat64{Float64: loc.Lon, Valid: true}
		lat = sql.NullFloat64{Float64: loc.Lat, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO donors(id, name, email, blood_group, available, lon, lat, verified, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET name=$2, email=$3, blood_group=$4, available=$5, lon=$6, lat=$7, verified=$8, updated_at=$9`,
		d.ID, d.Name, d.Email, string(d.BloodGroup), d.Available, lon, lat, d.Verified, time.Now())
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Donor, error) {
	var d models.Donor
	var bg string
	var lon, lat sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `SELECT id, name, email, blood_group, available, lon, lat, verified, updated_at FROM donors WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.Email, &bg, &d.Available, &lon, &lat, &d.Verified, &d.Updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.BloodGroup = models.BloodGroup(bg)
	if lon.Valid && lat.Valid {
		d.Location = &models.GeoTarget{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &d, nil
}

func (p *PostgresStore) SetAvailability(ctx context.Context, id string, available bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE donors SET available=$1, updated_at=$2 WHERE id=$3`, available, time.Now(), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) SetLocation(ctx context.Context, id string, loc models.GeoTarget) error {
	res, err := p.db.ExecContext(ctx, `UPDATE donors SET lon=$1, lat=$2, updated_at=$3 WHERE id=$4`, loc.Lon, loc.Lat, time.Now(), id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
