package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

// CacheRepository persists semantic cache entries so warm answers survive
// a restart. The in-memory cache stays authoritative; this table is only
// written by the periodic flush and read once at startup.
type CacheRepository struct {
	pool *pgxpool.Pool
}

func NewCacheRepository(pool *pgxpool.Pool) *CacheRepository {
	return &CacheRepository{pool: pool}
}

// ReplaceAll overwrites the persisted snapshot with the given entries.
func (r *CacheRepository) ReplaceAll(ctx context.Context, entries []*domain.CacheEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM cache_entries`); err != nil {
		return err
	}

	for _, entry := range entries {
		var embedding any
		if len(entry.QueryEmbedding) > 0 {
			embedding = pgvector.NewVector(entry.QueryEmbedding)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO cache_entries
			   (fingerprint, specialist, query, query_embedding, response, use_count, created_at, last_used_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.Fingerprint, string(entry.Specialist), entry.Query, embedding,
			entry.Response, entry.UseCount, entry.CreatedAt, entry.LastUsedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// LoadAll returns persisted entries ordered oldest first so a Restore
// rebuilds the same recency order.
func (r *CacheRepository) LoadAll(ctx context.Context) ([]*domain.CacheEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT fingerprint, specialist, query, query_embedding, response, use_count, created_at, last_used_at
		 FROM cache_entries ORDER BY last_used_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.CacheEntry
	for rows.Next() {
		entry, err := scanCacheRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanCacheRow(row pgx.Row) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	var specialist string
	var embedding *pgvector.Vector

	if err := row.Scan(
		&entry.Fingerprint, &specialist, &entry.Query, &embedding, &entry.Response,
		&entry.UseCount, &entry.CreatedAt, &entry.LastUsedAt,
	); err != nil {
		return nil, err
	}

	entry.Specialist = domain.Specialist(specialist)
	if embedding != nil {
		entry.QueryEmbedding = embedding.Slice()
	}
	return &entry, nil
}
