package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/pithecene-io/smelter/fault"
)

// Call budget per spec: each attempt is bounded, the extractor adds the
// outer retry (3 attempts, base 2s, jitter 250ms).
const (
	CallTimeout  = 120 * time.Second
	MaxAttempts  = 3
	RetryBase    = 2 * time.Second
	RetryJitter  = 250 * time.Millisecond
	maxOutTokens = 4096
	temperature  = 0.1
)

// Backoff returns the extractor's retry budget for LLM calls.
func Backoff() fault.Backoff {
	return fault.Backoff{Attempts: MaxAttempts, Base: RetryBase, Jitter: RetryJitter}
}

// Gemini calls the Gemini vision API in constrained JSON mode.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a client for the given model id. Credentials come
// from the environment (API key or application default credentials).
func NewGemini(ctx context.Context, model string, opts ...option.ClientOption) (*Gemini, error) {
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// GenerateJSON implements Client. The model runs cold (temperature 0.1),
// in JSON response mode, constrained to the invoice schema. One call;
// retrying is the caller's policy.
func (g *Gemini) GenerateJSON(ctx context.Context, req Request) (*Response, error) {
	const op = "llm.generate"

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(temperature)
	model.SetMaxOutputTokens(maxOutTokens)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = invoiceSchema()

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	format := strings.TrimPrefix(req.ImageMIME, "image/")
	resp, err := model.GenerateContent(ctx,
		genai.ImageData(format, req.Image),
		genai.Text(req.Prompt),
	)
	if err != nil {
		return nil, classify(op, err)
	}

	text, err := responseText(resp)
	if err != nil {
		// An empty or blocked response is not transport trouble; the
		// same image will block again.
		return nil, fault.Permanent(op, err)
	}
	return &Response{Text: text, Model: g.model}, nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil {
			return "", fmt.Errorf("prompt blocked: %v", resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("candidate has no content (finish reason %v)", cand.FinishReason)
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("candidate has no text parts (finish reason %v)", cand.FinishReason)
	}
	return b.String(), nil
}

// classify maps API failures onto the fault taxonomy. Rate limits and
// server errors are transient; invalid requests and auth failures are
// permanent.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return fault.Transient(op, err)
		case apiErr.Code >= 400:
			return fault.Permanent(op, err)
		}
	}
	return fault.Classify(op, err)
}

var _ Client = (*Gemini)(nil)
