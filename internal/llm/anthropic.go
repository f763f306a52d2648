package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no override is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

const anthropicMaxTokens = 1024

// AnthropicProvider streams chat completions through Anthropic's Beta
// Messages API, offered as a second concrete Provider alongside
// OpenAIProvider so the host app can choose a vendor per deployment.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider builds a provider against DefaultAnthropicModel.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  DefaultAnthropicModel,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// StreamChat opens a Beta Messages streaming request and translates
// each server-sent event's generic JSON shape into Chunks: the SDK's
// event union types have shifted across versions, so matching on the
// raw "type"/"delta" fields is more stable than depending on the
// union's current Go shape.
func (p *AnthropicProvider) StreamChat(ctx context.Context, persona string, history []Message, userText string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	messages := make([]anthropic.BetaMessageParam, 0, len(history)+1)
	for _, m := range history {
		role := anthropic.BetaMessageParamRoleUser
		if m.Role == RoleAssistant {
			role = anthropic.BetaMessageParamRoleAssistant
		}
		messages = append(messages, anthropic.BetaMessageParam{
			Role:    role,
			Content: []anthropic.BetaContentBlockParamUnion{anthropic.BetaContentBlockParamOfRequestTextBlock(m.Text)},
		})
	}
	messages = append(messages, anthropic.BetaMessageParam{
		Role:    anthropic.BetaMessageParamRoleUser,
		Content: []anthropic.BetaContentBlockParamUnion{anthropic.BetaContentBlockParamOfRequestTextBlock(userText)},
	})

	req := anthropic.BetaMessageNewParams{
		Model:     p.model,
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.BetaTextBlockParam{{Text: persona}},
		Messages:  messages,
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := p.client.Beta.Messages.NewStreaming(ctx, req)
		defer stream.Close()

		// stream.Next() only advances the cursor and reports whether
		// another event is available; the event itself comes from
		// stream.Current().
		for stream.Next() {
			event := stream.Current()

			raw, err := json.Marshal(event)
			if err != nil {
				continue
			}
			var eventMap map[string]interface{}
			if err := json.Unmarshal(raw, &eventMap); err != nil {
				continue
			}

			eventType, _ := eventMap["type"].(string)
			switch eventType {
			case "content_block_delta":
				if delta, ok := eventMap["delta"].(map[string]interface{}); ok {
					if text, ok := delta["text"].(string); ok && text != "" {
						chunks <- Chunk{Delta: text}
					}
				}
			case "message_stop":
				chunks <- Chunk{Done: true}
				return
			case "error":
				if errData, ok := eventMap["error"].(map[string]interface{}); ok {
					msg, _ := errData["message"].(string)
					errs <- fmt.Errorf("anthropic: stream error event: %s", msg)
					return
				}
			}
		}

		if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
			errs <- fmt.Errorf("anthropic: stream: %w", err)
			return
		}
		chunks <- Chunk{Done: true}
	}()

	return chunks, errs
}
