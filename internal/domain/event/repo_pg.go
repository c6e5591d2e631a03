package event

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

const eventCols = `id, encounter_id, hospital_id, type, metadata,
	staff_user_id, patient_id, created_at, processed_at`

func (r *repoPG) Create(ctx context.Context, ev *Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter_event (
			id, encounter_id, hospital_id, type, metadata, staff_user_id, patient_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		ev.ID, ev.EncounterID, ev.HospitalID, ev.Type, ev.Metadata,
		ev.StaffUserID, ev.PatientID,
	).Scan(&ev.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM encounter_event WHERE id = $1`, id))
}

func (r *repoPG) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE encounter_event SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`,
		id, at)
	return err
}

func (r *repoPG) ListUnprocessedBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id FROM encounter_event
		WHERE processed_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter_event WHERE encounter_id = $1`, encounterID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM encounter_event
		WHERE encounter_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`, encounterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

func scanEvent(row pgx.Row) (*Event, error) {
	ev, err := scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, derrors.NotFoundf("event not found")
	}
	return ev, err
}

func scanRow(row pgx.Row) (*Event, error) {
	ev := &Event{}
	err := row.Scan(
		&ev.ID, &ev.EncounterID, &ev.HospitalID, &ev.Type, &ev.Metadata,
		&ev.StaffUserID, &ev.PatientID, &ev.CreatedAt, &ev.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return ev, nil
}
