package llm

import (
	"context"
)

// MockLLMClient is a hand-rolled test double for LLMClient. Tests assign the
// function fields they care about; unset fields return zero values. Call
// counters let tests assert how often the model was consulted, which matters
// for cache and fallback behavior.
type MockLLMClient struct {
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)
	CreateEmbeddingFunc  func(ctx context.Context, input string, model string) ([]float32, error)
	CreateEmbeddingsFunc func(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// Model and Endpoint back GetModel/GetEndpoint.
	Model    string
	Endpoint string

	GenerateResponseCalls int
	CreateEmbeddingCalls  int
	CreateEmbeddingsCalls int
}

// NewMockLLMClient creates a mock with placeholder identity values.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model:    "mock-model",
		Endpoint: "http://mock-endpoint",
	}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	m.GenerateResponseCalls++
	if m.GenerateResponseFunc == nil {
		return &GenerateResponseResult{}, nil
	}
	return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
}

// CreateEmbedding implements LLMClient.
func (m *MockLLMClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	m.CreateEmbeddingCalls++
	if m.CreateEmbeddingFunc == nil {
		return nil, nil
	}
	return m.CreateEmbeddingFunc(ctx, input, model)
}

// CreateEmbeddings implements LLMClient.
func (m *MockLLMClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	m.CreateEmbeddingsCalls++
	if m.CreateEmbeddingsFunc == nil {
		return nil, nil
	}
	return m.CreateEmbeddingsFunc(ctx, inputs, model)
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockLLMClient) GetEndpoint() string {
	if m.Endpoint == "" {
		return "http://mock-endpoint"
	}
	return m.Endpoint
}

// Reset clears the call counters between test phases.
func (m *MockLLMClient) Reset() {
	m.GenerateResponseCalls = 0
	m.CreateEmbeddingCalls = 0
	m.CreateEmbeddingsCalls = 0
}

var _ LLMClient = (*MockLLMClient)(nil)
