package oracle

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/judgeflow/backend/internal/errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/genai"
)

// Request carries everything the oracle needs to grade one submission.
type Request struct {
	Context    string
	Submission string
	MaxPoints  int
	Credential string
}

// Scorer returns the oracle's raw, untrusted answer text.
type Scorer interface {
	Score(ctx context.Context, req Request) (string, error)
}

// GeminiScorer grades submissions with a Gemini model. One client is kept per
// credential so that bring-your-own keys do not rebuild a client per call.
type GeminiScorer struct {
	model   string
	mu      sync.Mutex
	clients *lru.Cache[string, *genai.Client]
}

func NewGeminiScorer(model string, cacheSize int) (*GeminiScorer, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	clients, err := lru.New[string, *genai.Client](cacheSize)
	if err != nil {
		return nil, err
	}
	return &GeminiScorer{model: model, clients: clients}, nil
}

func (g *GeminiScorer) client(ctx context.Context, credential string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients.Get(credential); ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  credential,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	g.clients.Add(credential, c)
	return c, nil
}

func (g *GeminiScorer) Score(ctx context.Context, req Request) (string, error) {
	if req.Credential == "" {
		return "", fmt.Errorf("%w, no credential", apperrors.ErrOracleFailed)
	}

	client, err := g.client(ctx, req.Credential)
	if err != nil {
		return "", fmt.Errorf("%w, %v", apperrors.ErrOracleFailed, err)
	}

	resp, err := client.Models.GenerateContent(ctx, g.model,
		genai.Text(BuildPrompt(req.Context, req.MaxPoints, req.Submission)),
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w, %v", apperrors.ErrOracleFailed, err)
	}

	return resp.Text(), nil
}

// Evaluate scores a request and normalizes the answer.
func Evaluate(ctx context.Context, scorer Scorer, req Request) (Result, error) {
	raw, err := scorer.Score(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Normalize(raw, req.MaxPoints)
}
