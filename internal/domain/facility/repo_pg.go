package facility

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/pkg/pagination"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const siteColumns = `name, code, address, city, state, pincode, contact_person, phone, email`

// -- Nodal Repository --

type nodalRepoPG struct {
	pool *pgxpool.Pool
}

func NewNodalRepo(pool *pgxpool.Pool) NodalRepository {
	return &nodalRepoPG{pool: pool}
}

const nodalColumns = `id, ` + siteColumns + `, active, created_at, updated_at`

func scanNodal(row rowScanner) (*Nodal, error) {
	var n Nodal
	err := row.Scan(&n.ID, &n.Name, &n.Code, &n.Address, &n.City, &n.State, &n.Pincode,
		&n.ContactPerson, &n.Phone, &n.Email, &n.Active, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *nodalRepoPG) Create(ctx context.Context, n *Nodal) error {
	n.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO nodal (id, `+siteColumns+`, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		n.ID, n.Name, n.Code, n.Address, n.City, n.State, n.Pincode,
		n.ContactPerson, n.Phone, n.Email, n.Active,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	return apperr.FromDB(err, "nodal center")
}

func (r *nodalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Nodal, error) {
	n, err := scanNodal(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+nodalColumns+` FROM nodal WHERE id = $1`, id))
	return n, apperr.FromDB(err, "nodal center")
}

func (r *nodalRepoPG) GetByCode(ctx context.Context, code string) (*Nodal, error) {
	n, err := scanNodal(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+nodalColumns+` FROM nodal WHERE code = $1`, code))
	return n, apperr.FromDB(err, "nodal center")
}

func (r *nodalRepoPG) Update(ctx context.Context, n *Nodal) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE nodal SET
			name = $2, code = $3, address = $4, city = $5, state = $6, pincode = $7,
			contact_person = $8, phone = $9, email = $10, active = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		n.ID, n.Name, n.Code, n.Address, n.City, n.State, n.Pincode,
		n.ContactPerson, n.Phone, n.Email, n.Active,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	return apperr.FromDB(err, "nodal center")
}

func (r *nodalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM nodal WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "nodal center")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("nodal center")
	}
	return nil
}

func (r *nodalRepoPG) List(ctx context.Context, q string, limit, offset int) ([]*Nodal, int, error) {
	where, args := siteFilter(q)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM nodal`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+nodalColumns+` FROM nodal`+where+
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	nodals := make([]*Nodal, 0)
	for rows.Next() {
		n, err := scanNodal(rows)
		if err != nil {
			return nil, 0, err
		}
		nodals = append(nodals, n)
	}
	return nodals, total, rows.Err()
}

// -- Hospital Repository --

type hospitalRepoPG struct {
	pool *pgxpool.Pool
}

func NewHospitalRepo(pool *pgxpool.Pool) HospitalRepository {
	return &hospitalRepoPG{pool: pool}
}

const hospitalColumns = `id, nodal_id, ` + siteColumns + `, active, created_at, updated_at`

func scanHospital(row rowScanner) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.NodalID, &h.Name, &h.Code, &h.Address, &h.City, &h.State, &h.Pincode,
		&h.ContactPerson, &h.Phone, &h.Email, &h.Active, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *hospitalRepoPG) Create(ctx context.Context, h *Hospital) error {
	h.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO hospital (id, nodal_id, `+siteColumns+`, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		h.ID, h.NodalID, h.Name, h.Code, h.Address, h.City, h.State, h.Pincode,
		h.ContactPerson, h.Phone, h.Email, h.Active,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	return apperr.FromDB(err, "hospital")
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	h, err := scanHospital(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospital WHERE id = $1`, id))
	return h, apperr.FromDB(err, "hospital")
}

func (r *hospitalRepoPG) GetByCode(ctx context.Context, code string) (*Hospital, error) {
	h, err := scanHospital(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+hospitalColumns+` FROM hospital WHERE code = $1`, code))
	return h, apperr.FromDB(err, "hospital")
}

func (r *hospitalRepoPG) Update(ctx context.Context, h *Hospital) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE hospital SET
			nodal_id = $2, name = $3, code = $4, address = $5, city = $6, state = $7, pincode = $8,
			contact_person = $9, phone = $10, email = $11, active = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		h.ID, h.NodalID, h.Name, h.Code, h.Address, h.City, h.State, h.Pincode,
		h.ContactPerson, h.Phone, h.Email, h.Active,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	return apperr.FromDB(err, "hospital")
}

func (r *hospitalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM hospital WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "hospital")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("hospital")
	}
	return nil
}

func (r *hospitalRepoPG) List(ctx context.Context, q string, limit, offset int) ([]*Hospital, int, error) {
	where, args := siteFilter(q)
	return r.list(ctx, where, args, limit, offset)
}

func (r *hospitalRepoPG) ListByNodal(ctx context.Context, nodalID uuid.UUID, limit, offset int) ([]*Hospital, int, error) {
	return r.list(ctx, ` WHERE nodal_id = $1`, []interface{}{nodalID}, limit, offset)
}

func (r *hospitalRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Hospital, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM hospital`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+hospitalColumns+` FROM hospital`+where+
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	hospitals := make([]*Hospital, 0)
	for rows.Next() {
		h, err := scanHospital(rows)
		if err != nil {
			return nil, 0, err
		}
		hospitals = append(hospitals, h)
	}
	return hospitals, total, rows.Err()
}

func (r *hospitalRepoPG) CountByNodal(ctx context.Context, nodalID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM hospital WHERE nodal_id = $1`, nodalID).Scan(&n)
	return n, err
}

// siteFilter builds the WHERE clause for the q substring filter over name,
// code and city.
func siteFilter(q string) (string, []interface{}) {
	if q == "" {
		return "", nil
	}
	return ` WHERE (name ILIKE $1 OR code ILIKE $1 OR city ILIKE $1)`, []interface{}{pagination.LikePattern(q)}
}
