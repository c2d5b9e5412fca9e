package llmadapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiModel adapts Google's Gemini API to ChatModel, grounded on
// graph/model/google/google.go from the teacher and extended with
// StreamChat (the teacher's adapter only implements a single-shot Chat)
// and a configurable sampling temperature, matching the
// gemini.model.temperature config key.
type GeminiModel struct {
	apiKey      string
	modelName   string
	temperature float32
}

// NewGeminiModel builds a GeminiModel. modelName defaults to
// "gemini-2.5-flash" when empty.
func NewGeminiModel(apiKey, modelName string, temperature float64) *GeminiModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &GeminiModel{apiKey: apiKey, modelName: modelName, temperature: float32(temperature)}
}

func (g *GeminiModel) newGenModel(ctx context.Context) (*genai.Client, *genai.GenerativeModel, error) {
	if g.apiKey == "" {
		return nil, nil, errors.New("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: create client: %w", err)
	}
	genModel := client.GenerativeModel(g.modelName)
	genModel.SetTemperature(g.temperature)
	return client, genModel, nil
}

func toParts(messages []Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	return parts
}

// Chat implements ChatModel.
func (g *GeminiModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	client, genModel, err := g.newGenModel(ctx)
	if err != nil {
		return ChatOut{}, err
	}
	defer func() { _ = client.Close() }()

	resp, err := genModel.GenerateContent(ctx, toParts(messages)...)
	if err != nil {
		return ChatOut{}, fmt.Errorf("gemini: generate content: %w", err)
	}
	return extractText(resp), nil
}

// StreamChat implements ChatModel, calling onChunk once per streamed part
// and a final Done chunk when the stream ends.
func (g *GeminiModel) StreamChat(ctx context.Context, messages []Message, onChunk func(StreamChunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, genModel, err := g.newGenModel(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	iter := genModel.GenerateContentStream(ctx, toParts(messages)...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return onChunk(StreamChunk{Done: true})
		}
		if err != nil {
			return fmt.Errorf("gemini: stream content: %w", err)
		}
		chunk := extractText(resp)
		if chunk.Text != "" {
			if err := onChunk(StreamChunk{Text: chunk.Text}); err != nil {
				return err
			}
		}
	}
}

func extractText(resp *genai.GenerateContentResponse) ChatOut {
	out := ChatOut{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(text)
		}
	}
	return out
}
