package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/caevv/gitpulse/internal/state"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Provider, ModelLister and BatchProvider on the
// OpenAI API (or a compatible endpoint via base_url).
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates the provider. baseURL overrides the default API
// endpoint when non-empty.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}
}

// Descriptor declares the full capability set.
func (p *OpenAI) Descriptor() Descriptor {
	return Descriptor{
		Name:           "openai",
		SupportsModels: true,
		SupportsBatch:  true,
	}
}

// Chat runs one synchronous completion and returns the first choice.
func (p *OpenAI) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toChatMessages(messages),
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels enumerates the models available to the configured key.
func (p *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// SubmitBatch uploads the requests as a batch input file and creates the
// batch. The returned id is the provider's; the caller records it in the
// BatchJobStore before relying on it.
func (p *OpenAI) SubmitBatch(ctx context.Context, reqs []BatchRequest) (string, error) {
	if len(reqs) == 0 {
		return "", fmt.Errorf("batch submission needs at least one request")
	}

	lines := make([]openai.BatchLineItem, 0, len(reqs))
	for _, r := range reqs {
		lines = append(lines, openai.BatchChatCompletionRequest{
			CustomID: r.CustomID,
			Method:   "POST",
			URL:      openai.BatchEndpointChatCompletions,
			Body: openai.ChatCompletionRequest{
				Model:    r.Model,
				Messages: toChatMessages(r.Messages),
			},
		})
	}

	resp, err := p.client.CreateBatchWithUploadFile(ctx, openai.CreateBatchWithUploadFileRequest{
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: "24h",
		UploadBatchFileRequest: openai.UploadBatchFileRequest{
			FileName: "gitpulse-batch.jsonl",
			Lines:    lines,
		},
	})
	if err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	return resp.ID, nil
}

// BatchStatus maps the provider's batch states onto the store's set.
// "cancelled" is not in that set and maps to failed, a terminal state.
func (p *OpenAI) BatchStatus(ctx context.Context, batchID string) (state.BatchStatus, error) {
	resp, err := p.client.RetrieveBatch(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("retrieve batch %s: %w", batchID, err)
	}

	switch resp.Status {
	case "validating", "in_progress", "finalizing":
		return state.BatchProcessing, nil
	case "completed":
		return state.BatchCompleted, nil
	case "expired":
		return state.BatchExpired, nil
	case "failed", "cancelling", "cancelled":
		return state.BatchFailed, nil
	default:
		return "", fmt.Errorf("batch %s has unknown status %q", batchID, resp.Status)
	}
}

// batchOutputLine is one record of the batch output file.
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		Body struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
}

// BatchResults downloads and parses the output file of a completed batch.
func (p *OpenAI) BatchResults(ctx context.Context, batchID string) (map[string]string, error) {
	resp, err := p.client.RetrieveBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("retrieve batch %s: %w", batchID, err)
	}
	if resp.OutputFileID == nil {
		return nil, fmt.Errorf("batch %s has no output file", batchID)
	}

	raw, err := p.client.GetFileContent(ctx, *resp.OutputFileID)
	if err != nil {
		return nil, fmt.Errorf("download batch output: %w", err)
	}
	defer raw.Close()

	results := make(map[string]string)
	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var line batchOutputLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("parse batch output line: %w", err)
		}
		if len(line.Response.Body.Choices) == 0 {
			continue
		}
		results[line.CustomID] = line.Response.Body.Choices[0].Message.Content
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read batch output: %w", err)
	}

	return results, nil
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
