package account

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

// -- Users --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userColumns = `id, username, password_hash, role, display_name, email, phone, active, created_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.DisplayName,
		&u.Email, &u.Phone, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO app_user (id, username, password_hash, role, display_name, email, phone, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		u.ID, u.Username, u.PasswordHash, u.Role, u.DisplayName, u.Email, u.Phone, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return apperr.FromDB(err, "user")
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM app_user WHERE id = $1`, id))
	return u, apperr.FromDB(err, "user")
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM app_user WHERE username = $1`, username))
	return u, apperr.FromDB(err, "user")
}

// Update writes profile fields only. Username and password are not touched.
func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE app_user SET
			role = $2, display_name = $3, email = $4, phone = $5, active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		u.ID, u.Role, u.DisplayName, u.Email, u.Phone, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return apperr.FromDB(err, "user")
}

func (r *userRepoPG) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE app_user SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return apperr.FromDB(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, q, role string, limit, offset int) ([]*User, int, error) {
	conn := db.Conn(ctx, r.pool)

	where := ` WHERE 1=1`
	var args []interface{}
	if q != "" {
		args = append(args, pagination.LikePattern(q))
		where += fmt.Sprintf(` AND (username ILIKE $%d OR display_name ILIKE $%d)`, len(args), len(args))
	}
	if role != "" {
		args = append(args, role)
		where += fmt.Sprintf(` AND role = $%d`, len(args))
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM app_user`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+userColumns+` FROM app_user`+where+
		fmt.Sprintf(` ORDER BY username LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// -- Mappings --

type mappingRepoPG struct {
	pool *pgxpool.Pool
}

func NewMappingRepo(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepoPG{pool: pool}
}

const mappingColumns = `id, user_id, hospital_id, nodal_id, active, created_at`

func scanMapping(row rowScanner) (*Mapping, error) {
	var m Mapping
	if err := row.Scan(&m.ID, &m.UserID, &m.HospitalID, &m.NodalID, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mappingRepoPG) Create(ctx context.Context, m *Mapping) error {
	m.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO user_mapping (id, user_id, hospital_id, nodal_id, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.UserID, m.HospitalID, m.NodalID, m.Active,
	).Scan(&m.CreatedAt)
	return apperr.FromDB(err, "user mapping")
}

func (r *mappingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	m, err := scanMapping(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+mappingColumns+` FROM user_mapping WHERE id = $1`, id))
	return m, apperr.FromDB(err, "user mapping")
}

func (r *mappingRepoPG) Update(ctx context.Context, m *Mapping) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE user_mapping SET user_id = $2, hospital_id = $3, nodal_id = $4, active = $5
		WHERE id = $1
		RETURNING created_at`,
		m.ID, m.UserID, m.HospitalID, m.NodalID, m.Active,
	).Scan(&m.CreatedAt)
	return apperr.FromDB(err, "user mapping")
}

func (r *mappingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM user_mapping WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "user mapping")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user mapping")
	}
	return nil
}

func (r *mappingRepoPG) List(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]*Mapping, int, error) {
	conn := db.Conn(ctx, r.pool)

	where := ""
	var args []interface{}
	if userID != nil {
		where = ` WHERE user_id = $1`
		args = append(args, *userID)
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM user_mapping`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+mappingColumns+` FROM user_mapping`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	mappings, err := collectMappings(rows)
	return mappings, total, err
}

func (r *mappingRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Mapping, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+mappingColumns+` FROM user_mapping WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMappings(rows)
}

func (r *mappingRepoPG) ScopeHospitals(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT m.hospital_id FROM user_mapping m
		WHERE m.user_id = $1 AND m.active AND m.hospital_id IS NOT NULL
		UNION
		SELECT h.id FROM user_mapping m
		JOIN hospital h ON h.nodal_id = m.nodal_id
		WHERE m.user_id = $1 AND m.active`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type mappingRows interface {
	rowScanner
	Next() bool
	Err() error
}

func collectMappings(rows mappingRows) ([]*Mapping, error) {
	mappings := make([]*Mapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// -- Reference lookups --

type refLookupPG struct {
	pool *pgxpool.Pool
}

func NewRefLookup(pool *pgxpool.Pool) RefLookup {
	return &refLookupPG{pool: pool}
}

func (r *refLookupPG) HospitalExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM hospital WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (r *refLookupPG) NodalExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM nodal WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}
