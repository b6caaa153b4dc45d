package gateway

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/journi-app/journi-go/pkg/wire"
)

const expenseAssistantPrompt = "You are Journi, a trip expense assistant for a group chat. " +
	"Answer briefly in the user's language. You cannot modify expenses yourself; " +
	"describe what you understood and summarize balances from the session state when asked."

// OpenAIEngine streams chat completions as bot chunks. It carries no tool
// calling; tool-backed turns stay with the scripted engine.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

var _ Engine = &OpenAIEngine{}

func NewOpenAIEngine(apiKey, model string) *OpenAIEngine {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIEngine{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (e *OpenAIEngine) Reply(ctx context.Context, sess SessionView, userID, content string, out Emitter) error {
	out.Typing(true)

	stream, err := e.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: expenseAssistantPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userID + ": " + content},
		},
		Stream: true,
	})
	if err != nil {
		return errors.Wrap(err, "start completion stream")
	}
	defer func() { _ = stream.Close() }()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "receive completion chunk")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		out.Chunk(delta)
	}

	out.Complete(full.String(), wire.SessionPatch{})
	return nil
}
