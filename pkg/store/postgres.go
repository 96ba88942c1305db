package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportstack/report-manager/pkg/report"
)

// PostgreSQL unique violation error code.
const uniqueViolationCode = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS report_request (
	request_id      TEXT PRIMARY KEY,
	report_type     TEXT NOT NULL,
	status          TEXT NOT NULL,
	requested_by    TEXT NOT NULL,
	parameters_json TEXT NOT NULL,
	archive_ref     TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_report_request_status ON report_request (status);
CREATE INDEX IF NOT EXISTS idx_report_request_created_at ON report_request (created_at);

CREATE TABLE IF NOT EXISTS dead_letter (
	id             BIGSERIAL PRIMARY KEY,
	subject        TEXT NOT NULL,
	request_id     TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL,
	payload        TEXT NOT NULL,
	delivery_count BIGINT NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL
);
`

// Postgres implements RequestStore and DeadLetterStore on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the tables and indexes when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, rec *report.Request) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO report_request
			(request_id, report_type, status, requested_by, parameters_json,
			 archive_ref, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.RequestID, string(rec.ReportType), string(rec.Status),
		rec.RequestedBy, rec.Parameters, rec.ArchiveRef, rec.ErrorMessage,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.RequestID)
		}
		return fmt.Errorf("create report request: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, requestID string) (*report.Request, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT request_id, report_type, status, requested_by, parameters_json,
		       archive_ref, error_message, created_at, updated_at
		FROM report_request
		WHERE request_id = $1`, requestID)

	var rec report.Request
	var reportType, status string
	err := row.Scan(&rec.RequestID, &reportType, &status, &rec.RequestedBy,
		&rec.Parameters, &rec.ArchiveRef, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("get report request: %w", err)
	}
	rec.ReportType = report.Type(reportType)
	rec.Status = report.Status(status)
	return &rec, nil
}

func (p *Postgres) Update(ctx context.Context, rec *report.Request) error {
	rec.UpdatedAt = time.Now().UTC()
	tag, err := p.pool.Exec(ctx, `
		UPDATE report_request
		SET report_type = $2, status = $3, requested_by = $4,
		    parameters_json = $5, archive_ref = $6, error_message = $7,
		    updated_at = $8
		WHERE request_id = $1`,
		rec.RequestID, string(rec.ReportType), string(rec.Status),
		rec.RequestedBy, rec.Parameters, rec.ArchiveRef, rec.ErrorMessage,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update report request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.RequestID)
	}
	return nil
}

func (p *Postgres) TransitionIfStatus(ctx context.Context, requestID string, to report.Status, from ...report.Status) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source status")
	}

	args := []any{requestID, string(to), time.Now().UTC()}
	placeholders := make([]string, 0, len(from))
	for i, s := range from {
		args = append(args, string(s))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+4))
	}

	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE report_request
		SET status = $2, updated_at = $3
		WHERE request_id = $1 AND status IN (%s)`,
		strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return false, fmt.Errorf("transition report request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) SaveDeadLetter(ctx context.Context, rec *DeadLetterRecord) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO dead_letter
			(subject, request_id, reason, payload, delivery_count, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rec.Subject, rec.RequestID, rec.Reason, rec.Payload,
		rec.DeliveryCount, rec.ReceivedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

var (
	_ RequestStore    = (*Postgres)(nil)
	_ DeadLetterStore = (*Postgres)(nil)
)
