package llm

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI streams chat completions through the official openai-go SDK.
type OpenAI struct {
	client openai.Client
}

func NewOpenAI(s Settings) (*OpenAI, error) {
	if s.APIKey == "" {
		return nil, errors.New("openai api key missing; set LLM_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(s.APIKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(s.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}, nil
}

func (o *OpenAI) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	if req.Model == "" {
		return nil, errors.New("openai: model is required")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	})

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !send(ctx, out, Chunk{Content: delta}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, out, Chunk{Err: err})
			return
		}
		if err := ctx.Err(); err != nil {
			send(ctx, out, Chunk{Err: err})
		}
	}()
	return out, nil
}
