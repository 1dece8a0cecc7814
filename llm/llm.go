// Package llm invokes the vision model that turns an invoice page image
// into structured JSON. The Gemini implementation lives in gemini.go;
// prompts.go holds the vendor prompt table and schema.go the typed
// response schema the model is constrained to.
package llm

import (
	"context"
	"sync"

	"github.com/pithecene-io/smelter/fault"
)

// Request is one vision extraction call.
type Request struct {
	// Prompt is the vendor-specific instruction text.
	Prompt string
	// Image is the page image content.
	Image []byte
	// ImageMIME is the image content type, e.g. "image/png".
	ImageMIME string
}

// Response is the raw model output.
type Response struct {
	// Text is the model's JSON reply, unparsed.
	Text string
	// Model is the model id that produced the reply.
	Model string
}

// Client is the vision LLM port. GenerateJSON asks the model for a JSON
// document constrained by the invoice response schema. Transport and
// rate-limit failures are transient; content-level failures surface to
// the caller as ordinary responses it must validate.
type Client interface {
	GenerateJSON(ctx context.Context, req Request) (*Response, error)
}

// Fake is an in-memory Client for tests. Responses and errors are
// dequeued in FIFO order; an empty queue fails the test's premise loudly.
type Fake struct {
	// ModelID is reported on every response.
	ModelID string

	mu       sync.Mutex
	queue    []fakeReply
	requests []Request
}

type fakeReply struct {
	text string
	err  error
}

// Reply enqueues a successful JSON reply.
func (f *Fake) Reply(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeReply{text: text})
}

// FailWith enqueues an error reply.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeReply{err: err})
}

// Requests returns every request seen so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// GenerateJSON implements Client.
func (f *Fake) GenerateJSON(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.queue) == 0 {
		return nil, fault.Transientf("llm.generate", "fake llm: no reply queued")
	}
	reply := f.queue[0]
	f.queue = f.queue[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	model := f.ModelID
	if model == "" {
		model = "fake-model"
	}
	return &Response{Text: reply.text, Model: model}, nil
}

var _ Client = (*Fake)(nil)
