package audit

import (
	"context"
	"errors"

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

type storePG struct {
	pool *pgxpool.Pool
}

// NewStorePG returns a Postgres-backed audit Store.
func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

const auditCols = `message_id, filename, queue_name, status, ts, expires_at, record_count, error_details`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.MessageID, &e.Filename, &e.QueueName, &e.Status, &e.Timestamp,
		&e.ExpiresAt, &e.RecordCount, &e.ErrorDetails)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *storePG) Create(ctx context.Context, entry *Entry) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO audit_entries (message_id, filename, queue_name, status, ts, expires_at, record_count, error_details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.MessageID, entry.Filename, entry.QueueName, entry.Status, entry.Timestamp,
		entry.ExpiresAt, entry.RecordCount, entry.ErrorDetails)
	return err
}

func (s *storePG) Get(ctx context.Context, messageID string) (*Entry, error) {
	return scanEntry(s.conn(ctx).QueryRow(ctx, `SELECT `+auditCols+` FROM audit_entries WHERE message_id = $1`, messageID))
}

func (s *storePG) GetByFilename(ctx context.Context, filename string) (*Entry, error) {
	return scanEntry(s.conn(ctx).QueryRow(ctx, `SELECT `+auditCols+` FROM audit_entries WHERE filename = $1`, filename))
}

func (s *storePG) TransitionStatus(ctx context.Context, messageID string, from, to Status) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE audit_entries SET status = $1, ts = now()
		WHERE message_id = $2 AND status = $3`,
		to, messageID, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *storePG) SetRecordCount(ctx context.Context, messageID string, count int) error {
	_, err := s.conn(ctx).Exec(ctx, `UPDATE audit_entries SET record_count = $1 WHERE message_id = $2`, count, messageID)
	return err
}

func (s *storePG) SetErrorDetails(ctx context.Context, messageID string, details string) error {
	_, err := s.conn(ctx).Exec(ctx, `UPDATE audit_entries SET error_details = $1 WHERE message_id = $2`, details, messageID)
	return err
}

func (s *storePG) QueuedForPartition(ctx context.Context, queueName string) ([]*Entry, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+auditCols+` FROM audit_entries
		WHERE queue_name = $1 AND status = $2
		ORDER BY ts ASC`,
		queueName, StatusQueued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *storePG) ProcessingForPartition(ctx context.Context, queueName string) (*Entry, error) {
	e, err := scanEntry(s.conn(ctx).QueryRow(ctx, `
		SELECT `+auditCols+` FROM audit_entries
		WHERE queue_name = $1 AND status = $2`,
		queueName, StatusProcessing))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

func (s *storePG) ActivePartitions(ctx context.Context) ([]string, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT DISTINCT queue_name FROM audit_entries
		WHERE status IN ($1, $2) AND queue_name <> ''`,
		StatusQueued, StatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var queueName string
		if err := rows.Scan(&queueName); err != nil {
			return nil, err
		}
		partitions = append(partitions, queueName)
	}
	return partitions, rows.Err()
}
