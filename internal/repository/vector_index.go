package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/carecontext/internal/domain"
)

// VectorIndex stores and searches chunks of both corpora in pgvector tables.
// Similarity is cosine similarity clamped to [0,1].
type VectorIndex struct {
	db     dbtx
	tables map[domain.Corpus]string
}

// TableConfig names the table backing each corpus.
type TableConfig struct {
	Knowledge      string
	PatientRecords string
}

func NewVectorIndex(pool *pgxpool.Pool, tables TableConfig) *VectorIndex {
	return newVectorIndex(pool, tables)
}

func NewVectorIndexWithTx(tx pgx.Tx, tables TableConfig) *VectorIndex {
	return newVectorIndex(tx, tables)
}

func newVectorIndex(db dbtx, tables TableConfig) *VectorIndex {
	if tables.Knowledge == "" {
		tables.Knowledge = "knowledge_chunks"
	}
	if tables.PatientRecords == "" {
		tables.PatientRecords = "patient_record_chunks"
	}
	return &VectorIndex{
		db: db,
		tables: map[domain.Corpus]string{
			domain.CorpusKnowledge:     pgx.Identifier{tables.Knowledge}.Sanitize(),
			domain.CorpusPatientRecord: pgx.Identifier{tables.PatientRecords}.Sanitize(),
		},
	}
}

func (r *VectorIndex) table(corpus domain.Corpus) (string, error) {
	t, ok := r.tables[corpus]
	if !ok {
		return "", fmt.Errorf("unknown corpus: %s", corpus)
	}
	return t, nil
}

// Upsert appends chunks to the corpus in one transaction and returns the
// number stored. Each call inserts new rows.
func (r *VectorIndex) Upsert(ctx context.Context, corpus domain.Corpus, chunks []domain.Chunk) (int, error) {
	table, err := r.table(corpus)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	for i := range chunks {
		if err := domain.ValidateChunk(corpus, &chunks[i]); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	var sql string
	if corpus == domain.CorpusPatientRecord {
		sql = fmt.Sprintf(`INSERT INTO %s
			(id, content, content_hash, embedding, source_label, doc_type, entry_date, metadata, created_at, owner_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, table)
	} else {
		sql = fmt.Sprintf(`INSERT INTO %s
			(id, content, content_hash, embedding, source_label, doc_type, entry_date, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, table)
	}

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range chunks {
			id := c.ID
			if id == "" {
				id = uuid.NewString()
			}
			createdAt := c.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			extra := c.Metadata.Extra
			if extra == nil {
				extra = map[string]string{}
			}
			args := []any{
				id,
				c.Content,
				c.ContentHash,
				pgvector.NewVector(c.Embedding),
				c.Metadata.SourceLabel,
				string(c.Metadata.DocType),
				c.Metadata.Date,
				extra,
				createdAt,
			}
			if corpus == domain.CorpusPatientRecord {
				args = append(args, c.Metadata.OwnerID)
			}
			batch.Queue(sql, args...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, domain.IndexUnavailable(err)
	}
	return len(chunks), nil
}

// Query returns at most q.K chunks with similarity >= q.ScoreFloor, most
// similar first, ties broken by most recent insertion. PatientRecord queries
// must carry an owner; the owner filter is part of the similarity query.
func (r *VectorIndex) Query(ctx context.Context, corpus domain.Corpus, q domain.VectorQuery) ([]domain.ScoredMatch, error) {
	table, err := r.table(corpus)
	if err != nil {
		return nil, err
	}
	if corpus == domain.CorpusPatientRecord && q.OwnerID == "" {
		return nil, domain.ErrInvalidScope
	}
	if len(q.Vector) == 0 {
		return nil, errors.New("query vector is required")
	}
	if q.K <= 0 {
		return []domain.ScoredMatch{}, nil
	}

	ownerCol := "NULL::text"
	filter := ""
	args := []any{pgvector.NewVector(q.Vector), float64(q.ScoreFloor), q.K}
	if corpus == domain.CorpusPatientRecord {
		ownerCol = "owner_id"
		filter = " AND owner_id = $4"
		args = append(args, q.OwnerID)
	}

	sql := fmt.Sprintf(`
		SELECT id, content, content_hash, embedding, source_label, doc_type, entry_date, metadata, created_at, %s,
		       GREATEST(0, 1 - (embedding <=> $1)) AS similarity
		FROM %s
		WHERE GREATEST(0, 1 - (embedding <=> $1)) >= $2%s
		ORDER BY similarity DESC, seq DESC
		LIMIT $3`, ownerCol, table, filter)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.IndexUnavailable(err)
	}
	defer rows.Close()

	matches := make([]domain.ScoredMatch, 0, q.K)
	for rows.Next() {
		var (
			c          domain.Chunk
			vec        pgvector.Vector
			docType    string
			extra      map[string]string
			owner      *string
			similarity float64
		)
		if err := rows.Scan(&c.ID, &c.Content, &c.ContentHash, &vec, &c.Metadata.SourceLabel, &docType,
			&c.Metadata.Date, &extra, &c.CreatedAt, &owner, &similarity); err != nil {
			return nil, domain.IndexUnavailable(err)
		}
		c.Embedding = vec.Slice()
		c.Metadata.DocType = domain.DocType(docType)
		c.Metadata.OwnerID = derefString(owner)
		if len(extra) > 0 {
			c.Metadata.Extra = extra
		}
		matches = append(matches, domain.ScoredMatch{
			Chunk:      c,
			Similarity: float32(similarity),
			Corpus:     corpus,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.IndexUnavailable(err)
	}
	return matches, nil
}
