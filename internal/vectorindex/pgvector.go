package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex implements Index on a Postgres table with the pgvector
// extension. Shares the catalog pool.
type PgVectorIndex struct {
	db *pgxpool.Pool
}

func NewPgVectorIndex(db *pgxpool.Pool) *PgVectorIndex {
	return &PgVectorIndex{db: db}
}

func (s *PgVectorIndex) Search(ctx context.Context, tenantID uuid.UUID, vector []float32, topK int, minScore float64) ([]ScoredPoint, error) {
	embedding := pgvector.NewVector(vector)

	rows, err := s.db.Query(ctx,
		`SELECT point_id, kind, category, tags, item_id, content, embedding, updated_at,
		        1 - (embedding <=> $1) AS score
		 FROM vector_points
		 WHERE tenant_id = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		embedding, tenantID, topK,
	)
	if err != nil {
		return nil, &UnavailableError{Op: "search", Err: err}
	}
	defer rows.Close()

	var results []ScoredPoint
	for rows.Next() {
		p := Point{TenantID: tenantID}
		var emb pgvector.Vector
		var score float64
		if err := rows.Scan(&p.ID, &p.Kind, &p.Category, &p.Tags, &p.ItemID, &p.Content, &emb, &p.UpdatedAt, &score); err != nil {
			return nil, &UnavailableError{Op: "scan search result", Err: err}
		}
		if score < minScore {
			continue
		}
		p.Embedding = emb.Slice()
		results = append(results, ScoredPoint{Point: p, Score: score})
	}
	return results, rows.Err()
}

func (s *PgVectorIndex) Scroll(ctx context.Context, tenantID uuid.UUID, cursor string, pageSize int) ([]Point, string, error) {
	var rows pgx.Rows
	var err error

	if cursor == "" {
		rows, err = s.db.Query(ctx,
			`SELECT point_id, kind, category, tags, item_id, content, embedding, updated_at
			 FROM vector_points
			 WHERE tenant_id = $1
			 ORDER BY updated_at DESC, point_id DESC
			 LIMIT $2`,
			tenantID, pageSize,
		)
	} else {
		var afterTime time.Time
		var afterID uuid.UUID
		afterTime, afterID, err = decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		rows, err = s.db.Query(ctx,
			`SELECT point_id, kind, category, tags, item_id, content, embedding, updated_at
			 FROM vector_points
			 WHERE tenant_id = $1 AND (updated_at, point_id) < ($2, $3)
			 ORDER BY updated_at DESC, point_id DESC
			 LIMIT $4`,
			tenantID, afterTime, afterID, pageSize,
		)
	}
	if err != nil {
		return nil, "", &UnavailableError{Op: "scroll", Err: err}
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		p := Point{TenantID: tenantID}
		var emb pgvector.Vector
		if err := rows.Scan(&p.ID, &p.Kind, &p.Category, &p.Tags, &p.ItemID, &p.Content, &emb, &p.UpdatedAt); err != nil {
			return nil, "", &UnavailableError{Op: "scan scroll result", Err: err}
		}
		p.Embedding = emb.Slice()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", &UnavailableError{Op: "scroll", Err: err}
	}

	next := ""
	if len(points) == pageSize {
		last := points[len(points)-1]
		next = encodeCursor(last.UpdatedAt, last.ID)
	}
	return points, next, nil
}

func (s *PgVectorIndex) Upsert(ctx context.Context, p Point) error {
	embedding := pgvector.NewVector(p.Embedding)
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO vector_points (point_id, tenant_id, kind, category, tags, item_id, content, embedding, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (point_id) DO UPDATE
		 SET kind = $3, category = $4, tags = $5, item_id = $6, content = $7, embedding = $8, updated_at = $9`,
		p.ID, p.TenantID, p.Kind, p.Category, tags, p.ItemID, p.Content, embedding, p.UpdatedAt,
	)
	if err != nil {
		return &UnavailableError{Op: "upsert", Err: err}
	}
	return nil
}

func (s *PgVectorIndex) Delete(ctx context.Context, tenantID, pointID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM vector_points WHERE point_id = $1 AND tenant_id = $2",
		pointID, tenantID,
	)
	if err != nil {
		return &UnavailableError{Op: "delete", Err: err}
	}
	return nil
}

func (s *PgVectorIndex) Count(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM vector_points WHERE tenant_id = $1", tenantID,
	).Scan(&n)
	if err != nil {
		return 0, &UnavailableError{Op: "count", Err: err}
	}
	return n, nil
}

func encodeCursor(t time.Time, id uuid.UUID) string {
	return t.UTC().Format(time.RFC3339Nano) + "|" + id.String()
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor %q", cursor)
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor time: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor id: %w", err)
	}
	return t, id, nil
}
