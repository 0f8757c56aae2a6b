package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/deskmate-ai/deskmate/internal/domain"
)

// KnowledgeRepository persists knowledge items in Postgres, one row per
// item with its embedding in a pgvector column. It implements the
// corpus.Store contract: whole-source Load and Save.
type KnowledgeRepository struct {
	pool *pgxpool.Pool
}

func NewKnowledgeRepository(pool *pgxpool.Pool) *KnowledgeRepository {
	return &KnowledgeRepository{pool: pool}
}

func (r *KnowledgeRepository) Load(ctx context.Context, sourceType domain.SourceType) ([]*domain.KnowledgeItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, source_type, title, body, keywords, metadata, searchable_text, content_checksum,
		        embedding, validation_count, created_at, updated_at
		 FROM knowledge_items WHERE source_type = $1 ORDER BY updated_at DESC`,
		string(sourceType),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

// Save replaces the whole source inside one transaction so a reader never
// observes a half-written source.
func (r *KnowledgeRepository) Save(ctx context.Context, sourceType domain.SourceType, items []*domain.KnowledgeItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM knowledge_items WHERE source_type = $1`, string(sourceType),
	); err != nil {
		return err
	}

	for _, item := range items {
		if err := insertKnowledgeItem(ctx, tx, item); err != nil {
			return fmt.Errorf("insert %s: %w", item.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *KnowledgeRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, source_type, title, body, keywords, metadata, searchable_text, content_checksum,
		        embedding, validation_count, created_at, updated_at
		 FROM knowledge_items WHERE id = $1`,
		id,
	)
	item, err := scanKnowledgeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

func (r *KnowledgeRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE knowledge_items SET embedding = $1 WHERE id = $2`,
		pgvector.NewVector(embedding), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// CountMissingEmbeddings reports how many rows still need a vector, for
// the stats endpoint and the backfill worker.
func (r *KnowledgeRepository) CountMissingEmbeddings(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_items WHERE embedding IS NULL`,
	).Scan(&count)
	return count, err
}

func insertKnowledgeItem(ctx context.Context, db dbtx, item *domain.KnowledgeItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return err
	}

	var embedding any
	if item.HasEmbedding() {
		embedding = pgvector.NewVector(item.Embedding)
	}

	_, err = db.Exec(ctx,
		`INSERT INTO knowledge_items
		   (id, source_type, title, body, keywords, metadata, searchable_text, content_checksum,
		    embedding, validation_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, string(item.SourceType), item.Title, item.Body, item.Keywords, metadata,
		item.SearchableText, item.ContentChecksum, embedding, item.ValidationCount,
		item.CreatedAt, item.UpdatedAt,
	)
	return err
}

func scanKnowledgeRows(rows pgx.Rows) ([]*domain.KnowledgeItem, error) {
	var results []*domain.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

func scanKnowledgeRow(row pgx.Row) (*domain.KnowledgeItem, error) {
	var item domain.KnowledgeItem
	var sourceType string
	var metadata []byte
	var embedding *pgvector.Vector

	if err := row.Scan(
		&item.ID, &sourceType, &item.Title, &item.Body, &item.Keywords, &metadata,
		&item.SearchableText, &item.ContentChecksum, &embedding, &item.ValidationCount,
		&item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	item.SourceType = domain.SourceType(sourceType)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, err
		}
	}
	if embedding != nil {
		item.Embedding = embedding.Slice()
	}
	return &item, nil
}
