package gmail

import (
	"context"
	"sync"
	"time"

	"github.com/subscout/subscout/internal/model"
)

// MockSource is a mock implementation of service.MailSource for testing.
type MockSource struct {
	FetchFunc      func(ctx context.Context, account model.EmailAccount, since *time.Time) ([]model.InboundEmail, error)
	Messages       []model.InboundEmail
	Err            error
	FetchCalls     []FetchCall
	FetchCallCount int
	mu             sync.Mutex
}

// FetchCall represents a single call to Fetch.
type FetchCall struct {
	Since   *time.Time
	Account model.EmailAccount
}

// NewMockSource creates a mock source that returns the given messages.
func NewMockSource(messages ...model.InboundEmail) *MockSource {
	return &MockSource{Messages: messages}
}

// Fetch implements the MailSource interface.
func (m *MockSource) Fetch(ctx context.Context, account model.EmailAccount, since *time.Time) ([]model.InboundEmail, error) {
	m.mu.Lock()
	m.FetchCallCount++
	m.FetchCalls = append(m.FetchCalls, FetchCall{Account: account, Since: since})
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, account, since)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Messages, nil
}

// LastCall returns the most recent fetch call, or nil when none were made.
func (m *MockSource) LastCall() *FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.FetchCalls) == 0 {
		return nil
	}
	call := m.FetchCalls[len(m.FetchCalls)-1]
	return &call
}
