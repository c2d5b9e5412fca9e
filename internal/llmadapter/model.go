// Package llmadapter abstracts the external LLM chat service referenced
// by the "call-llm" step of the durable chat route. The LLM itself is out
// of scope (spec.md §1); this package only adapts it to a single Chat/
// StreamChat call.
//
// Grounded on graph/model/chat.go from the teacher, narrowed from its
// general tool-calling ChatModel to the plain text-in/text-out contract
// this engine's routes need — see DESIGN.md for why ToolSpec/ToolCall are
// dropped rather than carried forward unused.
package llmadapter

import "context"

// Message roles, mirroring graph/model's RoleSystem/RoleUser/RoleAssistant.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string
	Content string
}

// ChatOut is the LLM's reply to a Chat or StreamChat call.
type ChatOut struct {
	Text string
}

// StreamChunk is one piece of a streamed reply.
type StreamChunk struct {
	Text string
	Done bool
}

// ChatModel is the adapter surface the route engine depends on.
type ChatModel interface {
	// Chat sends messages and returns the complete reply.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)

	// StreamChat sends messages and delivers the reply incrementally via
	// onChunk, called synchronously for each chunk in order. The final
	// call has Done=true and may carry trailing text.
	StreamChat(ctx context.Context, messages []Message, onChunk func(StreamChunk) error) error
}
