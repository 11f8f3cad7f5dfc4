package webhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
)

// Store persists endpoints and the delivery log in the tenant schema.
type Store interface {
	Create(ctx context.Context, ep *Endpoint) error
	Get(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	Update(ctx context.Context, ep *Endpoint) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Endpoint, int, error)
	ListActive(ctx context.Context, kind string) ([]*Endpoint, error)

	RecordDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error)
	ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type storePG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const endpointColumns = `id, url, secret, kinds, hospital_ids, description, status, created_at, updated_at`

func scanEndpoint(row rowScanner) (*Endpoint, error) {
	var e Endpoint
	err := row.Scan(&e.ID, &e.URL, &e.Secret, &e.Kinds, &e.HospitalIDs, &e.Description,
		&e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *storePG) Create(ctx context.Context, ep *Endpoint) error {
	ep.ID = uuid.New()
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO webhook_endpoint (id, url, secret, kinds, hospital_ids, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		ep.ID, ep.URL, ep.Secret, ep.Kinds, ep.HospitalIDs, ep.Description, ep.Status,
	).Scan(&ep.CreatedAt, &ep.UpdatedAt)
	return apperr.FromDB(err, "webhook")
}

func (s *storePG) Get(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	ep, err := scanEndpoint(db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoint WHERE id = $1`, id))
	return ep, apperr.FromDB(err, "webhook")
}

// Update writes everything except the secret.
func (s *storePG) Update(ctx context.Context, ep *Endpoint) error {
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		UPDATE webhook_endpoint SET
			url = $2, kinds = $3, hospital_ids = $4, description = $5, status = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		ep.ID, ep.URL, ep.Kinds, ep.HospitalIDs, ep.Description, ep.Status,
	).Scan(&ep.CreatedAt, &ep.UpdatedAt)
	return apperr.FromDB(err, "webhook")
}

func (s *storePG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM webhook_endpoint WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "webhook")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("webhook")
	}
	return nil
}

func (s *storePG) List(ctx context.Context, limit, offset int) ([]*Endpoint, int, error) {
	conn := db.Conn(ctx, s.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_endpoint`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoint
		ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	endpoints := make([]*Endpoint, 0)
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, 0, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, total, rows.Err()
}

func (s *storePG) ListActive(ctx context.Context, kind string) ([]*Endpoint, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoint
		WHERE status = $1 AND $2 = ANY(kinds) ORDER BY created_at`, StatusActive, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	endpoints := make([]*Endpoint, 0)
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// -- Deliveries --

const deliveryColumns = `id, endpoint_id, event_id, kind, payload, status_code, response_body,
	duration_ms, attempt, status, error, created_at`

func scanDelivery(row rowScanner) (*Delivery, error) {
	var d Delivery
	var payload []byte
	err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Kind, &payload, &d.StatusCode,
		&d.ResponseBody, &d.DurationMS, &d.Attempt, &d.Status, &d.Error, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = payload
	return &d, nil
}

func (s *storePG) RecordDelivery(ctx context.Context, d *Delivery) error {
	d.ID = uuid.New()
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO webhook_delivery (id, endpoint_id, event_id, kind, payload, status_code,
			response_body, duration_ms, attempt, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		d.ID, d.EndpointID, d.EventID, d.Kind, string(d.Payload), d.StatusCode,
		d.ResponseBody, d.DurationMS, d.Attempt, d.Status, d.Error,
	).Scan(&d.CreatedAt)
	return apperr.FromDB(err, "webhook delivery")
}

func (s *storePG) GetDelivery(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	d, err := scanDelivery(db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_delivery WHERE id = $1`, id))
	return d, apperr.FromDB(err, "webhook delivery")
}

func (s *storePG) ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	conn := db.Conn(ctx, s.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_delivery WHERE endpoint_id = $1`, endpointID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_delivery WHERE endpoint_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, endpointID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, total, rows.Err()
}
