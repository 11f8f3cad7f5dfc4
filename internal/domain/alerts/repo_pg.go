package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lims/lims/internal/platform/db"
)

type feedRepoPG struct {
	pool *pgxpool.Pool
}

func NewFeedRepo(pool *pgxpool.Pool) FeedRepository {
	return &feedRepoPG{pool: pool}
}

func (r *feedRepoPG) Items(ctx context.Context, kind Kind, since time.Time, hospitalIDs []uuid.UUID, limit int) ([]Item, error) {
	args := []interface{}{statuses[kind], since}
	query := `
		SELECT e.sample_id, s.barcode, p.name, s.hospital_id, e.to_status, e.reason, e.at
		FROM sample_event e
		JOIN sample s ON s.id = e.sample_id
		JOIN patient p ON p.id = s.patient_id
		WHERE e.to_status = ANY($1) AND e.at > $2`
	if hospitalIDs != nil {
		args = append(args, hospitalIDs)
		query += fmt.Sprintf(` AND s.hospital_id = ANY($%d)`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY e.at, e.id LIMIT $%d`, len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		it := Item{Kind: kind}
		if err := rows.Scan(&it.SampleID, &it.Barcode, &it.PatientName, &it.HospitalID,
			&it.Status, &it.Reason, &it.At); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// PoolTenants runs fn with a connection bound to the tenant's schema.
func PoolTenants(pool *pgxpool.Pool) TenantFunc {
	return func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
		conn, err := db.AcquireTenant(ctx, pool, tenant)
		if err != nil {
			return err
		}
		defer conn.Release()
		return fn(db.WithTenantConn(ctx, tenant, conn))
	}
}
