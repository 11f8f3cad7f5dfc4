package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/pkg/pagination"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// codeNameFilter builds the WHERE clause for the q substring filter.
func codeNameFilter(q string) (string, []interface{}) {
	if q == "" {
		return "", nil
	}
	return ` WHERE (name ILIKE $1 OR code ILIKE $1)`, []interface{}{pagination.LikePattern(q)}
}

func deleteByID(ctx context.Context, conn db.Querier, table, what string, id uuid.UUID) error {
	tag, err := conn.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, what)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(what)
	}
	return nil
}

// -- Kit Repository --

type kitRepoPG struct {
	pool *pgxpool.Pool
}

func NewKitRepo(pool *pgxpool.Pool) KitRepository {
	return &kitRepoPG{pool: pool}
}

const kitColumns = `id, name, code, manufacturer, lot_number, expiry_date, tests_per_kit, active, created_at, updated_at`

func scanKit(row rowScanner) (*Kit, error) {
	var k Kit
	var expiry *time.Time
	err := row.Scan(&k.ID, &k.Name, &k.Code, &k.Manufacturer, &k.LotNumber, &expiry,
		&k.TestsPerKit, &k.Active, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiry != nil {
		s := expiry.Format(DateLayout)
		k.ExpiryDate = &s
	}
	return &k, nil
}

func (r *kitRepoPG) Create(ctx context.Context, k *Kit) error {
	k.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO kit (id, name, code, manufacturer, lot_number, expiry_date, tests_per_kit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		k.ID, k.Name, k.Code, k.Manufacturer, k.LotNumber, k.Expiry(), k.TestsPerKit, k.Active,
	).Scan(&k.CreatedAt, &k.UpdatedAt)
	return apperr.FromDB(err, "kit")
}

func (r *kitRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Kit, error) {
	k, err := scanKit(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+kitColumns+` FROM kit WHERE id = $1`, id))
	return k, apperr.FromDB(err, "kit")
}

func (r *kitRepoPG) GetByCode(ctx context.Context, code string) (*Kit, error) {
	k, err := scanKit(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+kitColumns+` FROM kit WHERE code = $1`, code))
	return k, apperr.FromDB(err, "kit")
}

func (r *kitRepoPG) Update(ctx context.Context, k *Kit) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE kit SET
			name = $2, code = $3, manufacturer = $4, lot_number = $5, expiry_date = $6,
			tests_per_kit = $7, active = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		k.ID, k.Name, k.Code, k.Manufacturer, k.LotNumber, k.Expiry(), k.TestsPerKit, k.Active,
	).Scan(&k.CreatedAt, &k.UpdatedAt)
	return apperr.FromDB(err, "kit")
}

func (r *kitRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, db.Conn(ctx, r.pool), "kit", "kit", id)
}

func (r *kitRepoPG) List(ctx context.Context, q string, limit, offset int) ([]*Kit, int, error) {
	where, args := codeNameFilter(q)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM kit`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+kitColumns+` FROM kit`+where+
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	kits := make([]*Kit, 0)
	for rows.Next() {
		k, err := scanKit(rows)
		if err != nil {
			return nil, 0, err
		}
		kits = append(kits, k)
	}
	return kits, total, rows.Err()
}

// -- Investigation Repository --

type investigationRepoPG struct {
	pool *pgxpool.Pool
}

func NewInvestigationRepo(pool *pgxpool.Pool) InvestigationRepository {
	return &investigationRepoPG{pool: pool}
}

const investigationColumns = `id, name, code, sample_type, unit, reference_low, reference_high,
	reference_text, method, kit_id, price, active, created_at, updated_at`

func scanInvestigation(row rowScanner) (*Investigation, error) {
	var inv Investigation
	err := row.Scan(&inv.ID, &inv.Name, &inv.Code, &inv.SampleType, &inv.Unit,
		&inv.ReferenceLow, &inv.ReferenceHigh, &inv.ReferenceText, &inv.Method, &inv.KitID,
		&inv.Price, &inv.Active, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *investigationRepoPG) Create(ctx context.Context, inv *Investigation) error {
	inv.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO investigation (
			id, name, code, sample_type, unit, reference_low, reference_high,
			reference_text, method, kit_id, price, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		inv.ID, inv.Name, inv.Code, inv.SampleType, inv.Unit, inv.ReferenceLow, inv.ReferenceHigh,
		inv.ReferenceText, inv.Method, inv.KitID, inv.Price, inv.Active,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	return apperr.FromDB(err, "investigation")
}

func (r *investigationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Investigation, error) {
	inv, err := scanInvestigation(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+investigationColumns+` FROM investigation WHERE id = $1`, id))
	return inv, apperr.FromDB(err, "investigation")
}

func (r *investigationRepoPG) GetByCode(ctx context.Context, code string) (*Investigation, error) {
	inv, err := scanInvestigation(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+investigationColumns+` FROM investigation WHERE code = $1`, code))
	return inv, apperr.FromDB(err, "investigation")
}

func (r *investigationRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Investigation, error) {
	if len(ids) == 0 {
		return []*Investigation{}, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+investigationColumns+` FROM investigation WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invs := make([]*Investigation, 0, len(ids))
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

func (r *investigationRepoPG) Update(ctx context.Context, inv *Investigation) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE investigation SET
			name = $2, code = $3, sample_type = $4, unit = $5, reference_low = $6, reference_high = $7,
			reference_text = $8, method = $9, kit_id = $10, price = $11, active = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		inv.ID, inv.Name, inv.Code, inv.SampleType, inv.Unit, inv.ReferenceLow, inv.ReferenceHigh,
		inv.ReferenceText, inv.Method, inv.KitID, inv.Price, inv.Active,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	return apperr.FromDB(err, "investigation")
}

func (r *investigationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, db.Conn(ctx, r.pool), "investigation", "investigation", id)
}

func (r *investigationRepoPG) List(ctx context.Context, q string, limit, offset int) ([]*Investigation, int, error) {
	where, args := codeNameFilter(q)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM investigation`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+investigationColumns+` FROM investigation`+where+
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	invs := make([]*Investigation, 0)
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, 0, err
		}
		invs = append(invs, inv)
	}
	return invs, total, rows.Err()
}

// -- Profile Repository --

type profileRepoPG struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepoPG{pool: pool}
}

// profileColumns aggregates the member investigations in position order.
const profileColumns = `p.id, p.name, p.code, p.description, p.price, p.active, p.created_at, p.updated_at,
	COALESCE((SELECT array_agg(pi.investigation_id ORDER BY pi.position)
	          FROM profile_investigation pi WHERE pi.profile_id = p.id), '{}')`

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Description, &p.Price, &p.Active,
		&p.CreatedAt, &p.UpdatedAt, &p.InvestigationIDs)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepoPG) Create(ctx context.Context, p *Profile) error {
	p.ID = uuid.New()
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		INSERT INTO profile (id, name, code, description, price, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Code, p.Description, p.Price, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "profile")
	}
	return r.writeMembers(ctx, conn, p)
}

func (r *profileRepoPG) writeMembers(ctx context.Context, conn db.Querier, p *Profile) error {
	if _, err := conn.Exec(ctx, `DELETE FROM profile_investigation WHERE profile_id = $1`, p.ID); err != nil {
		return fmt.Errorf("clear profile investigations: %w", err)
	}
	_, err := conn.Exec(ctx, `
		INSERT INTO profile_investigation (profile_id, investigation_id, position)
		SELECT $1, inv_id, ord::int
		FROM unnest($2::uuid[]) WITH ORDINALITY AS t(inv_id, ord)`,
		p.ID, p.InvestigationIDs)
	return apperr.FromDB(err, "profile investigation")
}

func (r *profileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	p, err := scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+profileColumns+` FROM profile p WHERE p.id = $1`, id))
	return p, apperr.FromDB(err, "profile")
}

func (r *profileRepoPG) GetByCode(ctx context.Context, code string) (*Profile, error) {
	p, err := scanProfile(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+profileColumns+` FROM profile p WHERE p.code = $1`, code))
	return p, apperr.FromDB(err, "profile")
}

func (r *profileRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Profile, error) {
	if len(ids) == 0 {
		return []*Profile{}, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+profileColumns+` FROM profile p WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]*Profile, 0, len(ids))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (r *profileRepoPG) Update(ctx context.Context, p *Profile) error {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		UPDATE profile SET
			name = $2, code = $3, description = $4, price = $5, active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Code, p.Description, p.Price, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "profile")
	}
	return r.writeMembers(ctx, conn, p)
}

func (r *profileRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return deleteByID(ctx, db.Conn(ctx, r.pool), "profile", "profile", id)
}

func (r *profileRepoPG) List(ctx context.Context, q string, limit, offset int) ([]*Profile, int, error) {
	where := ""
	var args []interface{}
	if q != "" {
		where = ` WHERE (p.name ILIKE $1 OR p.code ILIKE $1)`
		args = append(args, pagination.LikePattern(q))
	}
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM profile p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+profileColumns+` FROM profile p`+where+
		fmt.Sprintf(` ORDER BY p.name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	profiles := make([]*Profile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		profiles = append(profiles, p)
	}
	return profiles, total, rows.Err()
}
