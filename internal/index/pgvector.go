package index

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/vektor-ai/vektor/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the passages schema to the database at databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Postgres is a VectorIndex backed by Postgres with the pgvector extension.
// It preserves the ranking contract of the in-memory index: cosine similarity
// descending, insertion order (seq) ascending on ties.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPostgres creates a VectorIndex over the given connection pool.
func NewPostgres(pool *pgxpool.Pool, dimension int) *Postgres {
	return &Postgres{pool: pool, dimension: dimension}
}

// Dimension returns the configured embedding dimension.
func (p *Postgres) Dimension() int {
	return p.dimension
}

func (p *Postgres) Upsert(ctx context.Context, passage *domain.Passage) error {
	if err := domain.ValidatePassage(passage); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid passage", err)
	}
	if len(passage.Embedding) != p.dimension {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndex,
			domain.ErrDimensionMismatch.Message,
			fmt.Errorf("index dimension %d, passage %q has %d", p.dimension, passage.ID, len(passage.Embedding)))
	}

	meta, err := metaToJSON(passage.Meta)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to encode passage meta", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO passages (id, namespace, source_file, content, meta, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET namespace = EXCLUDED.namespace,
		     source_file = EXCLUDED.source_file,
		     content = EXCLUDED.content,
		     meta = EXCLUDED.meta,
		     embedding = EXCLUDED.embedding`,
		passage.ID,
		passage.Namespace,
		passage.SourceFile,
		passage.Content,
		meta,
		pgvector.NewVector(passage.Embedding),
	)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to upsert passage", err)
	}
	return nil
}

func (p *Postgres) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]domain.ScoredPassage, error) {
	if topK <= 0 {
		return nil, domain.ErrInvalidTopK
	}
	if len(query) != p.dimension {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndex,
			domain.ErrDimensionMismatch.Message,
			fmt.Errorf("index dimension %d, query has %d", p.dimension, len(query)))
	}

	sql := `SELECT id, namespace, source_file, content, meta, embedding, seq,
	               1 - (embedding <=> $1) AS score
	        FROM passages`
	args := []any{pgvector.NewVector(query)}

	clause := ""
	if filter != nil {
		if filter.Namespace != "" {
			args = append(args, filter.Namespace)
			clause = fmt.Sprintf(" WHERE namespace = $%d", len(args))
		}
		if filter.SourceFile != "" {
			args = append(args, filter.SourceFile)
			if clause == "" {
				clause = fmt.Sprintf(" WHERE source_file = $%d", len(args))
			} else {
				clause += fmt.Sprintf(" AND source_file = $%d", len(args))
			}
		}
	}
	args = append(args, topK)
	sql += clause + fmt.Sprintf(" ORDER BY score DESC, seq ASC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to search passages", err)
	}
	defer rows.Close()

	results := make([]domain.ScoredPassage, 0, topK)
	for rows.Next() {
		var passage domain.Passage
		var meta []byte
		var embedding pgvector.Vector
		var score float32
		if err := rows.Scan(&passage.ID, &passage.Namespace, &passage.SourceFile,
			&passage.Content, &meta, &embedding, &passage.Seq, &score); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to scan passage", err)
		}
		passage.Embedding = embedding.Slice()
		passage.Meta, err = metaFromJSON(meta)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to decode passage meta", err)
		}
		results = append(results, domain.ScoredPassage{Passage: &passage, Score: score})
	}
	return results, rows.Err()
}

func (p *Postgres) DeleteBySource(ctx context.Context, namespace, filename string) (int, error) {
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM passages WHERE namespace = $1 AND source_file = $2`,
		namespace, filename)
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to delete passages", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM passages WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to delete passages", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM passages`).Scan(&count); err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to count passages", err)
	}
	return count, nil
}

func (p *Postgres) ListSources(ctx context.Context, namespace string) ([]domain.SourceInfo, error) {
	sql := `SELECT namespace, source_file, count(*), sum(octet_length(content))
	        FROM passages`
	args := []any{}
	if namespace != "" {
		args = append(args, namespace)
		sql += ` WHERE namespace = $1`
	}
	sql += ` GROUP BY namespace, source_file ORDER BY namespace, source_file`

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to list sources", err)
	}
	defer rows.Close()

	sources := make([]domain.SourceInfo, 0)
	for rows.Next() {
		var info domain.SourceInfo
		if err := rows.Scan(&info.Namespace, &info.Filename, &info.PassageCount, &info.ByteSize); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeIndex, "failed to scan source", err)
		}
		info.FileID = domain.SourceFileID(info.Namespace, info.Filename)
		sources = append(sources, info)
	}
	return sources, rows.Err()
}

func metaToJSON(meta domain.Meta) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func metaFromJSON(data []byte) (domain.Meta, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	meta := make(domain.Meta, len(raw))
	for k, v := range raw {
		switch value := v.(type) {
		case string:
			meta[k] = domain.MetaString(value)
		case float64:
			meta[k] = domain.MetaNumber(value)
		case bool:
			meta[k] = domain.MetaBool(value)
		default:
			return nil, fmt.Errorf("meta key %q has unsupported type %T", k, v)
		}
	}
	return meta, nil
}
