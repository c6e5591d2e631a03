package encounter

import (
	"context"
	"errors"
	"strconv"

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

const encounterCols = `id, hospital_id, patient_id, status, chief_complaint,
	current_ctas_level, current_priority_score,
	expected_at, arrived_at, triaged_at, waiting_at, departed_at, cancelled_at,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (
			id, hospital_id, patient_id, status, chief_complaint,
			expected_at, arrived_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		enc.ID, enc.HospitalID, enc.PatientID, enc.Status, enc.ChiefComplaint,
		enc.ExpectedAt, enc.ArrivedAt,
	).Scan(&enc.CreatedAt, &enc.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scanEncounter(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encounterCols+` FROM encounter WHERE id = $1`, id))
}

func (r *repoPG) ListByHospital(ctx context.Context, hospitalID uuid.UUID, filter ListFilter, limit, offset int) ([]*Encounter, int, error) {
	where := `hospital_id = $1`
	args := []interface{}{hospitalID}
	if filter.Status != nil {
		where += ` AND status = $2`
		args = append(args, *filter.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encounterCols+` FROM encounter
		WHERE `+where+`
		ORDER BY current_priority_score DESC NULLS LAST, arrived_at ASC NULLS LAST, created_at ASC
		LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	encs, err := collectEncounters(rows)
	if err != nil {
		return nil, 0, err
	}
	return encs, total, nil
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encounterCols+` FROM encounter
		WHERE status = ANY($1)
		ORDER BY created_at`,
		[]string{string(StatusAdmitted), string(StatusTriage), string(StatusWaiting)})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEncounters(rows)
}

func (r *repoPG) UpdateStatus(ctx context.Context, enc *Encounter) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET
			status = $2,
			expected_at = $3, arrived_at = $4, triaged_at = $5,
			waiting_at = $6, departed_at = $7, cancelled_at = $8,
			updated_at = now()
		WHERE id = $1`,
		enc.ID, enc.Status,
		enc.ExpectedAt, enc.ArrivedAt, enc.TriagedAt,
		enc.WaitingAt, enc.DepartedAt, enc.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return derrors.NotFoundf("encounter not found")
	}
	return nil
}

func (r *repoPG) UpdateTriageCache(ctx context.Context, id uuid.UUID, ctasLevel, priorityScore int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET
			current_ctas_level = $2, current_priority_score = $3, updated_at = now()
		WHERE id = $1`,
		id, ctasLevel, priorityScore)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return derrors.NotFoundf("encounter not found")
	}
	return nil
}

func (r *repoPG) CreateAssessment(ctx context.Context, a *TriageAssessment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_assessment (
			id, encounter_id, ctas_level, priority_score, vitals, notes, created_by_user_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		a.ID, a.EncounterID, a.CtasLevel, a.PriorityScore, a.Vitals, a.Notes, a.CreatedByUserID,
	).Scan(&a.CreatedAt)
}

func (r *repoPG) ListAssessments(ctx context.Context, encounterID uuid.UUID) ([]*TriageAssessment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, encounter_id, ctas_level, priority_score, vitals, notes,
			created_by_user_id, created_at
		FROM triage_assessment
		WHERE encounter_id = $1
		ORDER BY created_at`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TriageAssessment
	for rows.Next() {
		a := &TriageAssessment{}
		if err := rows.Scan(
			&a.ID, &a.EncounterID, &a.CtasLevel, &a.PriorityScore, &a.Vitals,
			&a.Notes, &a.CreatedByUserID, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanEncounter(row pgx.Row) (*Encounter, error) {
	enc := &Encounter{}
	err := row.Scan(
		&enc.ID, &enc.HospitalID, &enc.PatientID, &enc.Status, &enc.ChiefComplaint,
		&enc.CurrentCtasLevel, &enc.CurrentPriorityScore,
		&enc.ExpectedAt, &enc.ArrivedAt, &enc.TriagedAt, &enc.WaitingAt,
		&enc.DepartedAt, &enc.CancelledAt,
		&enc.CreatedAt, &enc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, derrors.NotFoundf("encounter not found")
	}
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func collectEncounters(rows pgx.Rows) ([]*Encounter, error) {
	var encs []*Encounter
	for rows.Next() {
		enc, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		encs = append(encs, enc)
	}
	return encs, rows.Err()
}
