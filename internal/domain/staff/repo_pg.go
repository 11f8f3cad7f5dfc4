package staff

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

type technicianRepoPG struct {
	pool *pgxpool.Pool
}

func NewTechnicianRepo(pool *pgxpool.Pool) TechnicianRepository {
	return &technicianRepoPG{pool: pool}
}

const technicianColumns = `id, user_id, nodal_id, name, code, qualification, phone, email, active, created_at, updated_at`

func scanTechnician(row rowScanner) (*Technician, error) {
	var t Technician
	err := row.Scan(&t.ID, &t.UserID, &t.NodalID, &t.Name, &t.Code, &t.Qualification,
		&t.Phone, &t.Email, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *technicianRepoPG) Create(ctx context.Context, t *Technician) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO technician (id, user_id, nodal_id, name, code, qualification, phone, email, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		t.ID, t.UserID, t.NodalID, t.Name, t.Code, t.Qualification, t.Phone, t.Email, t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return apperr.FromDB(err, "technician")
}

func (r *technicianRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Technician, error) {
	t, err := scanTechnician(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+technicianColumns+` FROM technician WHERE id = $1`, id))
	return t, apperr.FromDB(err, "technician")
}

func (r *technicianRepoPG) GetByCode(ctx context.Context, code string) (*Technician, error) {
	t, err := scanTechnician(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+technicianColumns+` FROM technician WHERE code = $1`, code))
	return t, apperr.FromDB(err, "technician")
}

func (r *technicianRepoPG) Update(ctx context.Context, t *Technician) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE technician SET
			user_id = $2, nodal_id = $3, name = $4, code = $5, qualification = $6,
			phone = $7, email = $8, active = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		t.ID, t.UserID, t.NodalID, t.Name, t.Code, t.Qualification, t.Phone, t.Email, t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return apperr.FromDB(err, "technician")
}

func (r *technicianRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM technician WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "technician")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("technician")
	}
	return nil
}

func (r *technicianRepoPG) List(ctx context.Context, q string, limit, offset int) ([]*Technician, int, error) {
	if q == "" {
		return r.list(ctx, "", nil, limit, offset)
	}
	return r.list(ctx, ` WHERE (name ILIKE $1 OR code ILIKE $1 OR qualification ILIKE $1)`,
		[]interface{}{pagination.LikePattern(q)}, limit, offset)
}

func (r *technicianRepoPG) ListByNodal(ctx context.Context, nodalID uuid.UUID, limit, offset int) ([]*Technician, int, error) {
	return r.list(ctx, ` WHERE nodal_id = $1`, []interface{}{nodalID}, limit, offset)
}

func (r *technicianRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Technician, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM technician`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+technicianColumns+` FROM technician`+where+
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	techs := make([]*Technician, 0)
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, 0, err
		}
		techs = append(techs, t)
	}
	return techs, total, rows.Err()
}

// refLookupPG answers existence checks against the nodal and app_user tables.
type refLookupPG struct {
	pool *pgxpool.Pool
}

func NewRefLookup(pool *pgxpool.Pool) interface {
	NodalLookup
	UserLookup
} {
	return &refLookupPG{pool: pool}
}

func (r *refLookupPG) NodalExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM nodal WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *refLookupPG) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM app_user WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}
