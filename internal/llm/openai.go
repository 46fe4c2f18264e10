package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIClient adapts the go-openai chat completion API to Client.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}
}

func (o *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", apperr.Provider("openai request", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Provider("openai", fmt.Errorf("response contained no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
