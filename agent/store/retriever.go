package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts ...string) ([]Vector, error)
}

// QueryRewriter sharpens a retrieval query using the user's profile.
type QueryRewriter interface {
	Rewrite(ctx context.Context, query string, profile string) (string, error)
}

type OpenAIEmbedder struct {
	client *openaisdk.Client
	model  string
}

func NewOpenAIEmbedder(client *openaisdk.Client, model string) (*OpenAIEmbedder, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAIEmbedder{client: client, model: model}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts ...string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([]Vector, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
		}
		vec := make(Vector, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

const rewritePrompt = `Eres un asistente que reescribe consultas para un sistema de recuperación.
Usa el perfil para hacer la pregunta más específica y técnica, sin cambiar la intención.
Devuelve UNA sola consulta mejorada en una línea, sin explicaciones.`

type OpenAIRewriter struct {
	client *openaisdk.Client
	model  string
}

func NewOpenAIRewriter(client *openaisdk.Client, model string) (*OpenAIRewriter, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("rewrite model is required")
	}
	return &OpenAIRewriter{client: client, model: strings.TrimSpace(model)}, nil
}

func (r *OpenAIRewriter) Rewrite(ctx context.Context, query string, profile string) (string, error) {
	user := fmt.Sprintf("Perfil del estudiante:\n%s\n\nConsulta original:\n%s", profile, query)
	resp, err := r.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(r.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(rewritePrompt),
			openaisdk.UserMessage(user),
		},
		Temperature: openaisdk.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("rewrite query: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Retriever indexes and searches documents by embedding similarity.
type Retriever struct {
	docs     DocumentStore
	embedder Embedder
	rewriter QueryRewriter
}

func NewRetriever(docs DocumentStore, embedder Embedder, rewriter QueryRewriter) (*Retriever, error) {
	if docs == nil {
		return nil, errors.New("document store is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	return &Retriever{docs: docs, embedder: embedder, rewriter: rewriter}, nil
}

// Index embeds doc.Content and upserts the document.
func (r *Retriever) Index(ctx context.Context, doc *Document) error {
	if doc == nil || strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("%w: document content is required", ErrInvalidInput)
	}
	vecs, err := r.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return err
	}
	doc.Embedding = vecs[0]
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	return r.docs.UpsertDocument(ctx, doc)
}

// Rewrite returns the profile-aware form of query, or query itself when no
// rewriter is configured or the rewrite fails.
func (r *Retriever) Rewrite(ctx context.Context, query string, profile string) string {
	if r.rewriter == nil || strings.TrimSpace(profile) == "" {
		return query
	}
	out, err := r.rewriter.Rewrite(ctx, query, profile)
	if err != nil || strings.TrimSpace(out) == "" {
		return query
	}
	return out
}

func (r *Retriever) Search(ctx context.Context, collection, owner, query string, limit int) ([]Document, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	vecs, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.docs.SearchDocuments(ctx, DocumentQuery{
		Collection: collection,
		Owner:      owner,
		Embedding:  vecs[0],
		Limit:      limit,
	})
}
