package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"kycflow/pkg/domain"
)

// Record is one routing decision flattened for the audit trail.
type Record struct {
	CaseID    domain.CaseID
	SubjectID domain.SubjectID
	Vendor    domain.VendorID
	Epsilon   float64
	Explored  bool
	Scores    map[domain.VendorID]float64
	DecidedAt time.Time
}

// Recorder persists routing decisions so operators can answer "why did
// case X go to vendor Y". Recording is best-effort and must never
// block or fail a decision.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// PostgresRecorder appends decisions to the decision_audit table.
type PostgresRecorder struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRecorder builds a Recorder over the given pool.
func NewPostgresRecorder(db *sql.DB, logger *slog.Logger) *PostgresRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRecorder{db: db, logger: logger}
}

func (r *PostgresRecorder) Record(ctx context.Context, rec Record) {
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		scores = []byte("{}")
	}
	query := `
		INSERT INTO decision_audit (case_id, subject_id, vendor, epsilon, explored, scores, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query,
		rec.CaseID.String(), rec.SubjectID.String(), rec.Vendor.String(),
		rec.Epsilon, rec.Explored, scores, rec.DecidedAt.UTC(),
	); err != nil {
		r.logger.Warn("decision audit write failed", "case_id", rec.CaseID, "error", err)
	}
}

var _ Recorder = (*PostgresRecorder)(nil)
