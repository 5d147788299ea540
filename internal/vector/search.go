package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type ChunkHit struct {
	ChunkID  string  `json:"chunk_id"`
	Position int     `json:"position"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

type SearchFilters struct {
	EmbeddingVersion string
}

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// SearchChunks ranks a document's embedded chunks against a query vector.
func (s *Searcher) SearchChunks(ctx context.Context, documentID string, queryVec []float32, topK int, filters SearchFilters) ([]ChunkHit, error) {
	if topK <= 0 {
		topK = 8
	}
	vecLiteral := ToLiteral(queryVec)
	args := []any{documentID, vecLiteral, topK}

	filterSQL := ""
	if strings.TrimSpace(filters.EmbeddingVersion) != "" {
		filterSQL = " AND c.embedding_version = $4"
		args = append(args, filters.EmbeddingVersion)
	}

	query := `
SELECT c.chunk_id,
       c.position,
       LEFT(c.text, 420) AS snippet,
       1 - (c.embedding <=> $2::vector) AS score
FROM chunks c
WHERE c.document_id = $1
  AND c.embedding IS NOT NULL` + filterSQL + `
ORDER BY c.embedding <=> $2::vector
LIMIT $3`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]ChunkHit, 0, topK)
	for rows.Next() {
		var r ChunkHit
		if err := rows.Scan(&r.ChunkID, &r.Position, &r.Snippet, &r.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}
