package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider streams chat completions through OpenAI's chat
// completions API. It is the teacher's own sashabaranov/go-openai
// dependency, previously wired to the batch speech-synthesis
// endpoint, redirected to the streaming chat surface it's actually
// suited for.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider against the default OpenAI
// chat-completions model.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// StreamChat opens a streaming chat completion and forwards each
// delta as a Chunk until the stream closes.
func (p *OpenAIProvider) StreamChat(ctx context.Context, persona string, history []Message, userText string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 16)
	errs := make(chan error, 1)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: persona,
	})
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	})

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   true,
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errs <- fmt.Errorf("openai: start stream: %w", err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					chunks <- Chunk{Done: true}
					return
				}
				errs <- fmt.Errorf("openai: stream recv: %w", err)
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				chunks <- Chunk{Delta: choice.Delta.Content}
			}
			if choice.FinishReason != "" {
				chunks <- Chunk{Done: true}
				return
			}
		}
	}()

	return chunks, errs
}
