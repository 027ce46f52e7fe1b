package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"

	"github.com/example/blood-connect/internal/models"
)

// PostgresStore implements RequestStore and NotificationStore over one
// database handle.
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

func (p *PostgresStore) SaveRequest(ctx context.Context, r *models.Request) error {
	var lon, lat sql.NullFloat64
	if loc, ok := r.Target(); ok {
		lon = sql.NullFloat64{Float64: loc.Lon, Valid: true}
		lat = sql.NullFloat64{Float64: loc.Lat, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO requests(id, requester_id, patient_name, blood_group, units, hospital_name, location_label, lon, lat, urgency, contact_number, note, status, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.RequesterID, r.PatientName, string(r.BloodGroup), r.Units, r.HospitalName, r.LocationLabel,
		lon, lat, string(r.Urgency), r.ContactNumber, r.Note, string(r.Status), r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, requester_id, patient_name, blood_group, units, hospital_name, location_label, lon, lat, urgency, contact_number, note, status, created_at
		FROM requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ListActive(ctx context.Context) ([]models.Request, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, requester_id, patient_name, blood_group, units, hospital_name, location_label, lon, lat, urgency, contact_number, note, status, created_at
		FROM requests WHERE status=$1 ORDER BY created_at DESC`, string(models.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, to models.RequestStatus) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cur string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM requests WHERE id=$1 FOR UPDATE`, id).Scan(&cur); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if err := validTransition(models.RequestStatus(cur), to); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE requests SET status=$1 WHERE id=$2`, string(to), id); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var r models.Request
	var bg, urgency, status string
	var lon, lat sql.NullFloat64
	err := row.Scan(&r.ID, &r.RequesterID, &r.PatientName, &bg, &r.Units, &r.HospitalName, &r.LocationLabel,
		&lon, &lat, &urgency, &r.ContactNumber, &r.Note, &status, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.BloodGroup = models.BloodGroup(bg)
	r.Urgency = models.Urgency(urgency)
	r.Status = models.RequestStatus(status)
	if lon.Valid && lat.Valid {
		r.Location = &models.GeoTarget{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &r, nil
}

func (p *PostgresStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	meta, _ := json.Marshal(n.Meta)
	_, err := p.db.ExecContext(ctx, `INSERT INTO notifications(id, recipient_id, sender_id, type, title, message, read, meta, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.RecipientID, n.SenderID, string(n.Type), n.Title, n.Message, n.Read, meta, n.CreatedAt)
	return err
}

func (p *PostgresStore) ListByRecipient(ctx context.Context, recipientID string) ([]models.Notification, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, recipient_id, sender_id, type, title, message, read, meta, created_at
		FROM notifications WHERE recipient_id=$1 ORDER BY created_at DESC`, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		var typ string
		var meta []byte
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.SenderID, &typ, &n.Title, &n.Message, &n.Read, &meta, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = models.NotificationType(typ)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &n.Meta)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id, recipientID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE notifications SET read=true WHERE id=$1 AND recipient_id=$2`, id, recipientID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (p *PostgresStore) Delete(ctx context.Context, id, recipientID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND recipient_id=$2`, id, recipientID)
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
