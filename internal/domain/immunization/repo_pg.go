package immunization

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ehr/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns the production Store backed by Postgres.
func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

const recordCols = `id, resource, version, is_deleted, is_reinstated,
	identifier_system, identifier_value, nhs_number, disease_type,
	occurrence_datetime, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Resource, &rec.Version, &rec.IsDeleted, &rec.IsReinstated,
		&rec.IdentifierSystem, &rec.IdentifierValue, &rec.NHSNumber, &rec.DiseaseType,
		&rec.OccurrenceDateTime, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *storePG) FindByIdentifier(ctx context.Context, system, value string) (*Record, error) {
	rec, err := scanRecord(s.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM immunization_resource
		WHERE identifier_system = $1 AND identifier_value = $2`, system, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *storePG) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Version = 1
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO immunization_resource (id, resource, version, is_deleted, is_reinstated,
			identifier_system, identifier_value, nhs_number, disease_type, occurrence_datetime)
		VALUES ($1,$2,$3,false,false,$4,$5,$6,$7,$8)`,
		rec.ID, rec.Resource, rec.Version, rec.IdentifierSystem, rec.IdentifierValue,
		rec.NHSNumber, rec.DiseaseType, rec.OccurrenceDateTime)
	return err
}

func (s *storePG) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(s.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM immunization_resource WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *storePG) UpdateResource(ctx context.Context, id uuid.UUID, resource json.RawMessage) (*Record, error) {
	rec, err := scanRecord(s.conn(ctx).QueryRow(ctx, `
		UPDATE immunization_resource SET resource = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_deleted = false
		RETURNING `+recordCols, id, resource))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *storePG) Reinstate(ctx context.Context, id uuid.UUID, resource json.RawMessage, nhsNumber, diseaseType string, occurrence *time.Time) (*Record, error) {
	rec, err := scanRecord(s.conn(ctx).QueryRow(ctx, `
		UPDATE immunization_resource SET resource = $2, version = version + 1,
			is_deleted = false, is_reinstated = true, nhs_number = $3, disease_type = $4,
			occurrence_datetime = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+recordCols, id, resource, nhsNumber, diseaseType, occurrence))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// SoftDelete leaves the row in place; the patient-side index is realised
// as a partial index over is_deleted = false in the schema migration, so
// flipping the flag is enough to drop the record from it.
func (s *storePG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE immunization_resource SET is_deleted = true, updated_at = NOW()
		WHERE id = $1 AND is_deleted = false`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *storePG) Search(ctx context.Context, nhsNumber, diseaseType string, dateFrom, dateTo *time.Time) ([]*Record, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM immunization_resource
		WHERE is_deleted = false AND nhs_number = $1 AND disease_type = $2
			AND ($3::timestamptz IS NULL OR occurrence_datetime >= $3)
			AND ($4::timestamptz IS NULL OR occurrence_datetime <= $4)
		ORDER BY occurrence_datetime DESC`, nhsNumber, diseaseType, dateFrom, dateTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
