package llmadapter

import (
	"context"
	"sync"
)

// MockChatModel is a test double for ChatModel, grounded on
// graph/model/mock.go from the teacher: configurable canned responses,
// call-history tracking, and error injection, all behind a mutex for
// concurrent test use.
type MockChatModel struct {
	// Responses is the sequence returned by successive Chat/StreamChat
	// calls. The last entry repeats once exhausted.
	Responses []ChatOut

	// Err, if set, is returned instead of a response.
	Err error

	// Calls records every invocation's messages, in order.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records one Chat/StreamChat invocation.
type MockChatCall struct {
	Messages []Message
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages})

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// StreamChat implements ChatModel by delivering the whole Chat response as
// a single non-final chunk followed by a final empty Done chunk.
func (m *MockChatModel) StreamChat(ctx context.Context, messages []Message, onChunk func(StreamChunk) error) error {
	out, err := m.Chat(ctx, messages)
	if err != nil {
		return err
	}
	if out.Text != "" {
		if err := onChunk(StreamChunk{Text: out.Text}); err != nil {
			return err
		}
	}
	return onChunk(StreamChunk{Done: true})
}

// Reset clears call history, for reuse across test cases.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount reports how many times Chat/StreamChat has been invoked.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
