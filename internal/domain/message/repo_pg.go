package message

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

const messageCols = `id, encounter_id, hospital_id, body, sender_user_id,
	sender_patient_id, is_worsening, read_at, created_at`

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO message (
			id, encounter_id, hospital_id, body, sender_user_id, sender_patient_id, is_worsening
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		m.ID, m.EncounterID, m.HospitalID, m.Body, m.SenderUserID, m.SenderPatientID, m.IsWorsening,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+messageCols+` FROM message WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, derrors.NotFoundf("message not found")
	}
	return m, err
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM message WHERE encounter_id = $1`, encounterID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+messageCols+` FROM message
		WHERE encounter_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`, encounterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

func (r *repoPG) CountUnread(ctx context.Context, encounterID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM message WHERE encounter_id = $1 AND read_at IS NULL`,
		encounterID).Scan(&count)
	return count, err
}

func (r *repoPG) SetRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE message SET read_at = $2 WHERE id = $1 AND read_at IS NULL`,
		id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return derrors.Conflictf("message already read")
	}
	return nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	m := &Message{}
	err := row.Scan(
		&m.ID, &m.EncounterID, &m.HospitalID, &m.Body, &m.SenderUserID,
		&m.SenderPatientID, &m.IsWorsening, &m.ReadAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
