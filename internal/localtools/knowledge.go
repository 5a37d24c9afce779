package localtools

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/pgvector/pgvector-go"
)

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DefaultEmbeddingModel is the OpenAI embeddings model used when none is
// configured.
const DefaultEmbeddingModel = oai.EmbeddingModelTextEmbedding3Small

// OpenAIEmbedder implements [Embedder] via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client oai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder. An empty model selects
// [DefaultEmbeddingModel].
func NewOpenAIEmbedder(apiKey, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("localtools: embedder: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Embed implements [Embedder].
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("localtools: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("localtools: embed: empty response")
	}
	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// PGKnowledgeBase is a pgvector-backed [KnowledgeBase]. Documents live in the
// kb_documents table with an embedding column; results are ordered by
// ascending cosine distance.
type PGKnowledgeBase struct {
	pool  *pgxpool.Pool
	embed Embedder
}

// NewPGKnowledgeBase connects to Postgres and ensures the document table
// exists. The pgvector extension must already be installed.
func NewPGKnowledgeBase(ctx context.Context, dsn string, embed Embedder) (*PGKnowledgeBase, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("localtools: knowledge base: connect: %w", err)
	}
	kb := &PGKnowledgeBase{pool: pool, embed: embed}
	if err := kb.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return kb, nil
}

func (kb *PGKnowledgeBase) ensureSchema(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS kb_documents (
		    id        TEXT PRIMARY KEY,
		    title     TEXT NOT NULL,
		    content   TEXT NOT NULL,
		    embedding vector(1536) NOT NULL
		)`
	if _, err := kb.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("localtools: knowledge base: ensure schema: %w", err)
	}
	return nil
}

// Index upserts one document.
func (kb *PGKnowledgeBase) Index(ctx context.Context, id, title, content string) error {
	vec, err := kb.embed.Embed(ctx, title+"\n"+content)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO kb_documents (id, title, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    title     = EXCLUDED.title,
		    content   = EXCLUDED.content,
		    embedding = EXCLUDED.embedding`
	if _, err := kb.pool.Exec(ctx, q, id, title, content, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("localtools: knowledge base: index %s: %w", id, err)
	}
	return nil
}

// Search implements [KnowledgeBase]. Score is 1 - cosine distance so higher
// scores indicate better matches.
func (kb *PGKnowledgeBase) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	vec, err := kb.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	const q = `
		SELECT title, content, 1 - (embedding <=> $1) AS score
		FROM   kb_documents
		ORDER  BY embedding <=> $1
		LIMIT  $2`
	rows, err := kb.pool.Query(ctx, q, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("localtools: knowledge base: search: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Title, &d.Content, &d.Score); err != nil {
			return nil, fmt.Errorf("localtools: knowledge base: scan: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localtools: knowledge base: rows: %w", err)
	}
	return docs, nil
}

// Ping reports backend reachability for health checks.
func (kb *PGKnowledgeBase) Ping(ctx context.Context) error {
	return kb.pool.Ping(ctx)
}

// Close releases the connection pool.
func (kb *PGKnowledgeBase) Close() {
	kb.pool.Close()
}
