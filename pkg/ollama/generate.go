package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DeterministicSeed is sent with every deterministic request so repeated
// prompts decode identically.
const DeterministicSeed = 42

// GenerateOptions bounds a single completion.
type GenerateOptions struct {
	MaxTokens     int
	Deterministic bool
}

// GenerateClient produces completions with Ollama's /api/generate endpoint.
type GenerateClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewGenerateClient creates an Ollama generation client.
func NewGenerateClient(baseURL, model string) *GenerateClient {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &GenerateClient{
		baseURL: baseURL,
		model:   model,
		client:  newHTTPClient(),
	}
}

type modelOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
}

type generateReq struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Stream  bool         `json:"stream"`
	Options modelOptions `json:"options"`
}

type generateResp struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (o GenerateOptions) model() modelOptions {
	mo := modelOptions{NumPredict: o.MaxTokens}
	if o.Deterministic {
		zero, seed := 0.0, DeterministicSeed
		mo.Temperature = &zero
		mo.Seed = &seed
	}
	return mo
}

// Generate returns the model's completion for prompt. Cancellation and
// deadlines come from ctx.
func (c *GenerateClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	body, err := json.Marshal(generateReq{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: opts.model(),
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama generate: status %d", resp.StatusCode)
	}

	var out generateResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama generate decode: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", out.Error)
	}
	return out.Response, nil
}
