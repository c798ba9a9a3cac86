package vector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PgIndex stores embeddings in the memory_embeddings table and searches
// them with pgvector cosine distance. Metadata filters use jsonb
// containment, so owner/category scoping happens inside the query.
type PgIndex struct {
	pool  *pgxpool.Pool
	chain *FallbackChain
}

func NewPgIndex(pool *pgxpool.Pool, chain *FallbackChain) *PgIndex {
	return &PgIndex{pool: pool, chain: chain}
}

func (x *PgIndex) Add(ctx context.Context, text string, metadata map[string]string) (string, error) {
	emb, err := x.chain.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	id := uuid.New()
	metaJSON, err := json.Marshal(metadataOrEmpty(metadata))
	if err != nil {
		return "", fmt.Errorf("marshaling embedding metadata: %w", err)
	}

	_, err = x.pool.Exec(ctx,
		`INSERT INTO memory_embeddings (id, content, metadata, embedding)
		 VALUES ($1, $2, $3, $4)`,
		id, text, metaJSON, pgvector.NewVector(emb.Vector),
	)
	if err != nil {
		return "", fmt.Errorf("inserting embedding: %w", err)
	}
	return id.String(), nil
}

func (x *PgIndex) Search(ctx context.Context, query string, filter map[string]string, limit int) (SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	emb, err := x.chain.Embed(ctx, query)
	if err != nil {
		return SearchResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	filterJSON, err := json.Marshal(metadataOrEmpty(filter))
	if err != nil {
		return SearchResult{}, fmt.Errorf("marshaling search filter: %w", err)
	}

	rows, err := x.pool.Query(ctx,
		`SELECT id, metadata, embedding <=> $1 AS distance
		 FROM memory_embeddings
		 WHERE metadata @> $2::jsonb
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(emb.Vector), filterJSON, limit,
	)
	if err != nil {
		return SearchResult{}, fmt.Errorf("searching embeddings: %w", err)
	}
	defer rows.Close()

	result := SearchResult{Degraded: emb.Degraded}
	for rows.Next() {
		var (
			id       uuid.UUID
			metaJSON []byte
			distance float64
		)
		if err := rows.Scan(&id, &metaJSON, &distance); err != nil {
			return SearchResult{}, fmt.Errorf("scanning embedding row: %w", err)
		}
		var meta map[string]string
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &meta)
		}
		result.Candidates = append(result.Candidates, Candidate{
			ID:          id.String(),
			Distance:    distance,
			HasDistance: true,
			Metadata:    meta,
		})
	}
	return result, rows.Err()
}

func (x *PgIndex) Update(ctx context.Context, id string, text *string, metadata map[string]string) error {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parsing embedding id: %w", err)
	}

	if text != nil {
		emb, err := x.chain.Embed(ctx, *text)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		_, err = x.pool.Exec(ctx,
			`UPDATE memory_embeddings SET content = $2, embedding = $3 WHERE id = $1`,
			entryID, *text, pgvector.NewVector(emb.Vector),
		)
		if err != nil {
			return fmt.Errorf("updating embedding content: %w", err)
		}
	}

	if metadata != nil {
		metaJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshaling embedding metadata: %w", err)
		}
		_, err = x.pool.Exec(ctx,
			`UPDATE memory_embeddings SET metadata = $2 WHERE id = $1`,
			entryID, metaJSON,
		)
		if err != nil {
			return fmt.Errorf("updating embedding metadata: %w", err)
		}
	}
	return nil
}

func (x *PgIndex) Delete(ctx context.Context, id string) error {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parsing embedding id: %w", err)
	}
	_, err = x.pool.Exec(ctx, `DELETE FROM memory_embeddings WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("deleting embedding: %w", err)
	}
	return nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
