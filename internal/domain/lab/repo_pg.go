package lab

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/domain/account"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/pkg/pagination"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// -- Patients --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientColumns = `id, hospital_id, name, age, gender, phone, mrn, created_at, updated_at`

func scanPatient(row rowScanner) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.HospitalID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.MRN, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, hospital_id, name, age, gender, phone, mrn)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.HospitalID, p.Name, p.Age, p.Gender, p.Phone, p.MRN,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientColumns+` FROM patient WHERE id = $1`, id))
	return p, apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET name = $2, age = $3, gender = $4, phone = $5, mrn = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING hospital_id, created_at, updated_at`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, p.MRN,
	).Scan(&p.HospitalID, &p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) List(ctx context.Context, hospitalID *uuid.UUID, scope *account.Scope, q string, limit, offset int) ([]*Patient, int, error) {
	conn := db.Conn(ctx, r.pool)

	where := ` WHERE 1=1`
	var args []interface{}
	if hospitalID != nil {
		args = append(args, *hospitalID)
		where += fmt.Sprintf(` AND hospital_id = $%d`, len(args))
	}
	if scope != nil && !scope.All {
		args = append(args, scopeIDs(scope))
		where += fmt.Sprintf(` AND hospital_id = ANY($%d)`, len(args))
	}
	if q != "" {
		args = append(args, pagination.LikePattern(q))
		where += fmt.Sprintf(` AND (name ILIKE $%d OR mrn ILIKE $%d OR phone ILIKE $%d)`, len(args), len(args), len(args))
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+patientColumns+` FROM patient`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients := make([]*Patient, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// -- Samples --

type sampleRepoPG struct {
	pool *pgxpool.Pool
}

func NewSampleRepo(pool *pgxpool.Pool) SampleRepository {
	return &sampleRepoPG{pool: pool}
}

const sampleColumns = `s.id, s.barcode, s.patient_id, s.hospital_id, s.nodal_id, s.status, s.priority,
	s.profile_ids, s.investigation_ids, s.notes, s.collected_by, s.collected_at, s.received_by,
	s.received_at, s.reject_reason, s.rejected_at, s.resulted_at, s.approved_by, s.approved_at,
	s.created_by, s.created_at, s.updated_at`

func scanSample(row rowScanner) (*Sample, error) {
	var s Sample
	err := row.Scan(&s.ID, &s.Barcode, &s.PatientID, &s.HospitalID, &s.NodalID, &s.Status, &s.Priority,
		&s.ProfileIDs, &s.InvestigationIDs, &s.Notes, &s.CollectedBy, &s.CollectedAt, &s.ReceivedBy,
		&s.ReceivedAt, &s.RejectReason, &s.RejectedAt, &s.ResultedAt, &s.ApprovedBy, &s.ApprovedAt,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sampleRepoPG) Create(ctx context.Context, s *Sample) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO sample (id, barcode, patient_id, hospital_id, nodal_id, status, priority,
			profile_ids, investigation_ids, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		s.ID, s.Barcode, s.PatientID, s.HospitalID, s.NodalID, s.Status, s.Priority,
		s.ProfileIDs, s.InvestigationIDs, s.Notes, s.CreatedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return apperr.FromDB(err, "sample")
}

func (r *sampleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Sample, error) {
	s, err := scanSample(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+sampleColumns+` FROM sample s WHERE s.id = $1`, id))
	return s, apperr.FromDB(err, "sample")
}

func (r *sampleRepoPG) GetByBarcode(ctx context.Context, barcode string) (*Sample, error) {
	s, err := scanSample(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+sampleColumns+` FROM sample s WHERE s.barcode = $1`, barcode))
	return s, apperr.FromDB(err, "sample")
}

func (r *sampleRepoPG) List(ctx context.Context, f SampleFilter) ([]*Sample, int, error) {
	conn := db.Conn(ctx, r.pool)

	where := ` WHERE 1=1`
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(cond, len(args))
	}
	if f.Status != "" {
		add(` AND s.status = $%d`, f.Status)
	}
	if f.HospitalID != nil {
		add(` AND s.hospital_id = $%d`, *f.HospitalID)
	}
	if f.NodalID != nil {
		add(` AND s.nodal_id = $%d`, *f.NodalID)
	}
	if f.PatientID != nil {
		add(` AND s.patient_id = $%d`, *f.PatientID)
	}
	if f.Scope != nil && !f.Scope.All {
		add(` AND s.hospital_id = ANY($%d)`, scopeIDs(f.Scope))
	}
	if f.Q != "" {
		args = append(args, pagination.LikePattern(f.Q))
		where += fmt.Sprintf(` AND (s.barcode ILIKE $%d OR p.name ILIKE $%d)`, len(args), len(args))
	}
	from := ` FROM sample s JOIN patient p ON p.id = s.patient_id`

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, `SELECT `+sampleColumns+from+where+
		fmt.Sprintf(` ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	samples := make([]*Sample, 0)
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, 0, err
		}
		samples = append(samples, s)
	}
	return samples, total, rows.Err()
}

func (r *sampleRepoPG) UpdateStatus(ctx context.Context, s *Sample, from Status) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE sample SET
			status = $3, notes = $4, collected_by = $5, collected_at = $6,
			received_by = $7, received_at = $8, reject_reason = $9, rejected_at = $10,
			resulted_at = $11, approved_by = $12, approved_at = $13, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		s.ID, from, s.Status, s.Notes, s.CollectedBy, s.CollectedAt,
		s.ReceivedBy, s.ReceivedAt, s.RejectReason, s.RejectedAt,
		s.ResultedAt, s.ApprovedBy, s.ApprovedAt,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("sample %s is no longer %s: %w", s.Barcode, from, apperr.ErrInvalidTransition)
	}
	return apperr.FromDB(err, "sample")
}

func (r *sampleRepoPG) AddEvent(ctx context.Context, e *Event) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO sample_event (sample_id, from_status, to_status, actor, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, at`,
		e.SampleID, e.From, e.To, e.Actor, e.Reason,
	).Scan(&e.ID, &e.At)
}

func (r *sampleRepoPG) Events(ctx context.Context, sampleID uuid.UUID) ([]*Event, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, sample_id, from_status, to_status, actor, reason, at
		FROM sample_event WHERE sample_id = $1 ORDER BY at, id`, sampleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SampleID, &e.From, &e.To, &e.Actor, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// -- Results --

type resultRepoPG struct {
	pool *pgxpool.Pool
}

func NewResultRepo(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) Upsert(ctx context.Context, res *Result) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO result (sample_id, investigation_id, value, unit, flag, remarks, entered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sample_id, investigation_id) DO UPDATE SET
			value = EXCLUDED.value, unit = EXCLUDED.unit, flag = EXCLUDED.flag,
			remarks = EXCLUDED.remarks, entered_by = EXCLUDED.entered_by, entered_at = NOW()
		RETURNING entered_at`,
		res.SampleID, res.InvestigationID, res.Value, res.Unit, res.Flag, res.Remarks, res.EnteredBy,
	).Scan(&res.EnteredAt)
	return apperr.FromDB(err, "result")
}

func (r *resultRepoPG) ListBySample(ctx context.Context, sampleID uuid.UUID) ([]*Result, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT sample_id, investigation_id, value, unit, flag, remarks, entered_by, entered_at
		FROM result WHERE sample_id = $1`, sampleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*Result, 0)
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.SampleID, &res.InvestigationID, &res.Value, &res.Unit, &res.Flag,
			&res.Remarks, &res.EnteredBy, &res.EnteredAt); err != nil {
			return nil, err
		}
		results = append(results, &res)
	}
	return results, rows.Err()
}

func (r *resultRepoPG) DeleteBySample(ctx context.Context, sampleID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM result WHERE sample_id = $1`, sampleID)
	return apperr.FromDB(err, "result")
}

// scopeIDs never returns nil so an empty scope binds as an empty array.
func scopeIDs(scope *account.Scope) []uuid.UUID {
	if scope.HospitalIDs == nil {
		return []uuid.UUID{}
	}
	return scope.HospitalIDs
}
