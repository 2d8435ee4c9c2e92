// Package llm models summarization providers as capability-tagged
// interfaces: every provider chats, some can list models, some support
// asynchronous batches. Capability presence is declared in the
// descriptor and checked explicitly, never via runtime type inspection
// alone.
package llm

import (
	"context"
	"fmt"

	"github.com/caevv/gitpulse/internal/state"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Descriptor declares a provider's identity and capabilities.
type Descriptor struct {
	Name           string
	SupportsModels bool
	SupportsBatch  bool
}

// Provider is the minimal capability every summarization backend has.
type Provider interface {
	Descriptor() Descriptor
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}

// ModelLister is the optional model-enumeration capability.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// BatchRequest is one prompt in an asynchronous batch submission.
type BatchRequest struct {
	CustomID string
	Model    string
	Messages []Message
}

// BatchProvider is the optional asynchronous batch capability.
type BatchProvider interface {
	// SubmitBatch submits the requests and returns the provider batch id.
	SubmitBatch(ctx context.Context, reqs []BatchRequest) (string, error)

	// BatchStatus maps the provider's view of a batch onto the store's
	// status set.
	BatchStatus(ctx context.Context, batchID string) (state.BatchStatus, error)

	// BatchResults retrieves a completed batch's outputs by custom id.
	BatchResults(ctx context.Context, batchID string) (map[string]string, error)
}

// AsModelLister returns the model-listing capability if the provider
// declares and implements it.
func AsModelLister(p Provider) (ModelLister, bool) {
	if !p.Descriptor().SupportsModels {
		return nil, false
	}
	l, ok := p.(ModelLister)
	return l, ok
}

// AsBatch returns the batch capability if the provider declares and
// implements it.
func AsBatch(p Provider) (BatchProvider, bool) {
	if !p.Descriptor().SupportsBatch {
		return nil, false
	}
	b, ok := p.(BatchProvider)
	return b, ok
}

// NewProvider constructs the configured provider by name.
func NewProvider(name, apiKey, baseURL string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAI(apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
}
