package caseflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/tx"
)

// PostgresStore persists cases in PostgreSQL. All statements join a
// context transaction when one is present so the terminal write and
// the stats charge commit together.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed case store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const caseColumns = `id, subject_id, required_caps, attributes, state, vendor, external_ref,
		confidence, pep_match, cost_charged, latency_ms, terminal_reason, retries,
		next_retry_at, callback_deadline, charge_settled, created_at, updated_at, terminated_at`

var terminalStates = pq.StringArray{
	string(StateApproved), string(StateRejected), string(StateManualReview),
	string(StateExpired), string(StateFailed),
}

func (s *PostgresStore) Create(ctx context.Context, c *Case) error {
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("marshal case attributes: %w", err)
	}
	query := `
		INSERT INTO kyc_cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	now := time.Now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = tx.Preferred(ctx, s.db).ExecContext(ctx, query,
		c.ID.String(), c.SubjectID.String(), pq.Array(c.Required.Strings()), attrs,
		string(c.State), nullString(c.Vendor.String()), nullString(c.ExternalRef),
		c.Confidence, c.PEPMatch, c.CostCharged.String(), c.LatencyMS,
		nullString(string(c.TerminalReason)),
		c.Retries, c.NextRetryAt, c.CallbackDeadline, c.ChargeSettled,
		createdAt, now, c.TerminatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dErrors.New(dErrors.CodeConflict, "case already exists")
		}
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.CaseID) (*Case, error) {
	query := `SELECT ` + caseColumns + ` FROM kyc_cases WHERE id = $1`
	c, err := scanCase(tx.Preferred(ctx, s.db).QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
		}
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetByVendorRef(ctx context.Context, vendor domain.VendorID, externalRef string) (*Case, error) {
	query := `SELECT ` + caseColumns + ` FROM kyc_cases WHERE vendor = $1 AND external_ref = $2`
	c, err := scanCase(tx.Preferred(ctx, s.db).QueryRowContext(ctx, query, vendor.String(), externalRef))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.New(dErrors.CodeNotFound, "no case for vendor reference")
		}
		return nil, fmt.Errorf("get case by vendor ref: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, c *Case) error {
	attrs, err := json.Marshal(c.Attributes)
	if err != nil {
		return fmt.Errorf("marshal case attributes: %w", err)
	}
	query := `
		UPDATE kyc_cases SET
			state = $2, vendor = $3, external_ref = $4, confidence = $5, pep_match = $6,
			cost_charged = $7, latency_ms = $8, terminal_reason = $9, retries = $10,
			next_retry_at = $11, callback_deadline = $12, attributes = $13, updated_at = $14
		WHERE id = $1 AND NOT (state = ANY($15))
	`
	result, err := tx.Preferred(ctx, s.db).ExecContext(ctx, query,
		c.ID.String(), string(c.State), nullString(c.Vendor.String()), nullString(c.ExternalRef),
		c.Confidence, c.PEPMatch, c.CostCharged.String(), c.LatencyMS,
		nullString(string(c.TerminalReason)),
		c.Retries, c.NextRetryAt, c.CallbackDeadline, attrs, time.Now().UTC(), terminalStates,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.Get(ctx, c.ID); getErr != nil {
			return getErr
		}
		return dErrors.New(dErrors.CodeConflict, "case is terminal")
	}
	return nil
}

// MarkTerminal is a single conditional UPDATE guarded on the stored
// state, taking a transaction-scoped advisory lock on the case id so
// concurrent settlers serialize.
func (s *PostgresStore) MarkTerminal(ctx context.Context, c *Case) (bool, error) {
	q := tx.Preferred(ctx, s.db)
	if _, inTx := tx.From(ctx); inTx {
		if _, err := q.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, c.ID.String(),
		); err != nil {
			return false, fmt.Errorf("case advisory lock: %w", err)
		}
	}

	now := time.Now().UTC()
	query := `
		UPDATE kyc_cases SET
			state = $2, vendor = $3, external_ref = $4, confidence = $5, pep_match = $6,
			cost_charged = $7, latency_ms = $8, terminal_reason = $9, retries = $10,
			next_retry_at = NULL, callback_deadline = NULL,
			charge_settled = TRUE, updated_at = $11, terminated_at = $11
		WHERE id = $1 AND NOT (state = ANY($12))
	`
	result, err := q.ExecContext(ctx, query,
		c.ID.String(), string(c.State), nullString(c.Vendor.String()), nullString(c.ExternalRef),
		c.Confidence, c.PEPMatch, c.CostCharged.String(), c.LatencyMS,
		nullString(string(c.TerminalReason)),
		c.Retries, now, terminalStates,
	)
	if err != nil {
		return false, fmt.Errorf("mark case terminal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark case terminal rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM kyc_cases
		WHERE state = $1 AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY created_at
		LIMIT $3
	`
	return s.list(ctx, query, string(StatePending), now, limitOrDefault(limit))
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM kyc_cases
		WHERE state = $1 AND callback_deadline IS NOT NULL AND callback_deadline <= $2
		ORDER BY created_at
		LIMIT $3
	`
	return s.list(ctx, query, string(StateAwaitingCallback), now, limitOrDefault(limit))
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject domain.SubjectID) ([]*Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM kyc_cases
		WHERE subject_id = $1
		ORDER BY created_at DESC
	`
	rows, err := tx.Preferred(ctx, s.db).QueryContext(ctx, query, subject.String())
	if err != nil {
		return nil, fmt.Errorf("list cases by subject: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Case, error) {
	rows, err := tx.Preferred(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*Case, error) {
	defer func() {
		_ = rows.Close()
	}()
	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

type caseRow interface {
	Scan(dest ...any) error
}

func scanCase(row caseRow) (*Case, error) {
	var (
		c                Case
		idRaw, subject   string
		caps             pq.StringArray
		attrs            []byte
		stateRaw, cost   string
		vendor, ref      sql.NullString
		reason           sql.NullString
		nextRetry        sql.NullTime
		deadline         sql.NullTime
		terminated       sql.NullTime
		created, updated time.Time
	)
	if err := row.Scan(
		&idRaw, &subject, &caps, &attrs, &stateRaw, &vendor, &ref,
		&c.Confidence, &c.PEPMatch, &cost, &c.LatencyMS, &reason, &c.Retries,
		&nextRetry, &deadline, &c.ChargeSettled, &created, &updated, &terminated,
	); err != nil {
		return nil, err
	}

	var err error
	if c.ID, err = domain.ParseCaseID(idRaw); err != nil {
		return nil, fmt.Errorf("stored case id: %w", err)
	}
	if c.SubjectID, err = domain.ParseSubjectID(subject); err != nil {
		return nil, fmt.Errorf("stored subject id: %w", err)
	}
	if c.Required, err = domain.ParseCapabilitySet(caps); err != nil {
		return nil, fmt.Errorf("stored capabilities: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c.Attributes); err != nil {
			return nil, fmt.Errorf("stored attributes: %w", err)
		}
	}
	if c.State, err = ParseState(stateRaw); err != nil {
		return nil, err
	}
	if vendor.Valid && vendor.String != "" {
		if c.Vendor, err = domain.ParseVendorID(vendor.String); err != nil {
			return nil, fmt.Errorf("stored vendor: %w", err)
		}
	}
	if ref.Valid {
		c.ExternalRef = ref.String
	}
	if c.CostCharged, err = decimal.NewFromString(cost); err != nil {
		return nil, fmt.Errorf("stored cost: %w", err)
	}
	if reason.Valid {
		c.TerminalReason = TerminalReason(reason.String)
	}
	if nextRetry.Valid {
		t := nextRetry.Time.UTC()
		c.NextRetryAt = &t
	}
	if deadline.Valid {
		t := deadline.Time.UTC()
		c.CallbackDeadline = &t
	}
	if terminated.Valid {
		t := terminated.Time.UTC()
		c.TerminatedAt = &t
	}
	c.CreatedAt = created.UTC()
	c.UpdatedAt = updated.UTC()
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
