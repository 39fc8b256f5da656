package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/finscan/internal/ai"
	"github.com/kiranshivaraju/finscan/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing. It records every request.
type MockProvider struct {
	Name_        string
	Model_       string
	CompleteFunc func(ctx context.Context, req models.CompletionRequest) (string, error)

	mu    sync.Mutex
	calls []models.CompletionRequest
}

func (m *MockProvider) Name() string  { return m.Name_ }
func (m *MockProvider) Model() string { return m.Model_ }

func (m *MockProvider) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

// Calls returns a copy of the requests received so far, in order.
func (m *MockProvider) Calls() []models.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CompletionRequest(nil), m.calls...)
}

// NewMockProvider returns a MockProvider whose replies name the call number.
func NewMockProvider() *MockProvider {
	m := &MockProvider{Name_: "mock", Model_: "mock-v1"}
	m.CompleteFunc = func(_ context.Context, _ models.CompletionRequest) (string, error) {
		m.mu.Lock()
		n := len(m.calls)
		m.mu.Unlock()
		return fmt.Sprintf("Mock completion #%d", n), nil
	}
	return m
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:  "mock-failing",
		Model_: "mock-v1",
		CompleteFunc: func(_ context.Context, _ models.CompletionRequest) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock-timeout",
		Model_: "mock-v1",
		CompleteFunc: func(ctx context.Context, _ models.CompletionRequest) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
