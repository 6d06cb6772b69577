package trust

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/tx"
)

// PostgresStore persists trust profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed profile store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, subject domain.SubjectID) (*Profile, error) {
	query := `
		SELECT subject_id, score, level, components, updated_at
		FROM trust_profiles
		WHERE subject_id = $1
	`
	var (
		p          Profile
		subjectRaw string
		levelRaw   string
		components []byte
		updated    time.Time
	)
	err := tx.Preferred(ctx, s.db).QueryRowContext(ctx, query, subject.String()).
		Scan(&subjectRaw, &p.Score, &levelRaw, &components, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dErrors.New(dErrors.CodeNotFound, "trust profile not found")
		}
		return nil, fmt.Errorf("get trust profile: %w", err)
	}

	if p.SubjectID, err = domain.ParseSubjectID(subjectRaw); err != nil {
		return nil, fmt.Errorf("stored subject id: %w", err)
	}
	if p.Level, err = ParseLevel(levelRaw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(components, &p.Components); err != nil {
		return nil, fmt.Errorf("stored trust components: %w", err)
	}
	p.UpdatedAt = updated.UTC()
	return &p, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, profile *Profile) error {
	components, err := json.Marshal(profile.Components)
	if err != nil {
		return fmt.Errorf("marshal trust components: %w", err)
	}
	query := `
		INSERT INTO trust_profiles (subject_id, score, level, components, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE SET
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			components = EXCLUDED.components,
			updated_at = EXCLUDED.updated_at
	`
	_, err = tx.Preferred(ctx, s.db).ExecContext(ctx, query,
		profile.SubjectID.String(), profile.Score, string(profile.Level),
		components, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert trust profile: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
