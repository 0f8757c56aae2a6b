package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

// FeedbackRepository persists feedback records for the learner's durable
// flush and startup restore.
type FeedbackRepository struct {
	pool *pgxpool.Pool
}

func NewFeedbackRepository(pool *pgxpool.Pool) *FeedbackRepository {
	return &FeedbackRepository{pool: pool}
}

// UpsertAll writes the learner's current records; status transitions
// overwrite the persisted row.
func (r *FeedbackRepository) UpsertAll(ctx context.Context, records []*domain.FeedbackRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, record := range records {
		if _, err := tx.Exec(ctx,
			`INSERT INTO feedback_records
			   (id, query, response, is_helpful, sources_used, specialist, extracted_keywords,
			    correction, target_item_id, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET
			   extracted_keywords = EXCLUDED.extracted_keywords,
			   status = EXCLUDED.status`,
			record.ID, record.Query, record.Response, record.IsHelpful, record.SourcesUsed,
			string(record.Specialist), record.ExtractedKeywords,
			nullableString(record.Correction), nullableString(record.TargetItemID),
			string(record.Status), record.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *FeedbackRepository) GetByID(ctx context.Context, id string) (*domain.FeedbackRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, query, response, is_helpful, sources_used, specialist, extracted_keywords,
		        correction, target_item_id, status, created_at
		 FROM feedback_records WHERE id = $1`,
		id,
	)
	record, err := scanFeedbackRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFeedbackNotFound
		}
		return nil, err
	}
	return record, nil
}

// LoadAll returns persisted records in insertion order.
func (r *FeedbackRepository) LoadAll(ctx context.Context) ([]*domain.FeedbackRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, query, response, is_helpful, sources_used, specialist, extracted_keywords,
		        correction, target_item_id, status, created_at
		 FROM feedback_records ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.FeedbackRecord
	for rows.Next() {
		record, err := scanFeedbackRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// DeleteOlderThan enforces the feedback retention window.
func (r *FeedbackRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM feedback_records WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func scanFeedbackRow(row pgx.Row) (*domain.FeedbackRecord, error) {
	var record domain.FeedbackRecord
	var specialist, status string
	var correction, targetItemID *string

	if err := row.Scan(
		&record.ID, &record.Query, &record.Response, &record.IsHelpful, &record.SourcesUsed,
		&specialist, &record.ExtractedKeywords, &correction, &targetItemID, &status,
		&record.CreatedAt,
	); err != nil {
		return nil, err
	}

	record.Specialist = domain.Specialist(specialist)
	record.Status = domain.FeedbackStatus(status)
	if correction != nil {
		record.Correction = *correction
	}
	if targetItemID != nil {
		record.TargetItemID = *targetItemID
	}
	return &record, nil
}
