package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ertriage/ertriage/internal/domain/derrors"
	"github.com/ertriage/ertriage/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const alertCols = `id, encounter_id, hospital_id, type, severity, message, metadata,
	acknowledged_at, acknowledged_by_user_id, resolved_at, resolved_by_user_id, created_at`

func (r *repoPG) Create(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO alert (
			id, encounter_id, hospital_id, type, severity, message, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		a.ID, a.EncounterID, a.HospitalID, a.Type, a.Severity, a.Message, a.Metadata,
	).Scan(&a.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	a, err := scanAlert(r.conn(ctx).QueryRow(ctx,
		`SELECT `+alertCols+` FROM alert WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, derrors.NotFoundf("alert not found")
	}
	return a, err
}

func (r *repoPG) ExistsOpen(ctx context.Context, encounterID uuid.UUID, alertType string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert
			WHERE encounter_id = $1 AND type = $2 AND resolved_at IS NULL
		)`, encounterID, alertType).Scan(&exists)
	return exists, err
}

func (r *repoPG) ListUnacknowledgedByHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Alert, int, error) {
	// Resolved alerts leave the board even if nobody acknowledged them.
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM alert
		WHERE hospital_id = $1 AND acknowledged_at IS NULL AND resolved_at IS NULL`, hospitalID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM alert
		WHERE hospital_id = $1 AND acknowledged_at IS NULL AND resolved_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, hospitalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts, err := collectAlerts(rows)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertCols+` FROM alert
		WHERE encounter_id = $1
		ORDER BY created_at DESC`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (r *repoPG) SetAcknowledged(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert SET acknowledged_at = $2, acknowledged_by_user_id = $3
		WHERE id = $1 AND acknowledged_at IS NULL`,
		id, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return derrors.Conflictf("alert already acknowledged")
	}
	return nil
}

func (r *repoPG) SetResolved(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert SET resolved_at = $2, resolved_by_user_id = $3
		WHERE id = $1 AND resolved_at IS NULL`,
		id, at, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return derrors.Conflictf("alert already resolved")
	}
	return nil
}

func scanAlert(row pgx.Row) (*Alert, error) {
	a := &Alert{}
	err := row.Scan(
		&a.ID, &a.EncounterID, &a.HospitalID, &a.Type, &a.Severity, &a.Message,
		&a.Metadata, &a.AcknowledgedAt, &a.AcknowledgedByUserID,
		&a.ResolvedAt, &a.ResolvedByUserID, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func collectAlerts(rows pgx.Rows) ([]*Alert, error) {
	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
