package upstream

import (
	"context"
	"fmt"
	"log"

	"github.com/bytedance/sonic"
	"google.golang.org/genai"

	"github.com/sunfac/flavr-sub007/messages"
)

// CompletionClient is the single-shot Completion Service over the genai
// Models API. One instance is shared by the chat responder and every degraded
// voice session.
type CompletionClient struct {
	client *genai.Client
	model  string
	tools  []*genai.Tool
}

// NewCompletionClient creates a completion client for the given model.
func NewCompletionClient(client *genai.Client, model string, tools []*genai.Tool) *CompletionClient {
	return &CompletionClient{
		client: client,
		model:  model,
		tools:  tools,
	}
}

// Complete runs one blocking completion and returns the full reply.
func (cc *CompletionClient) Complete(ctx context.Context, p Prompt) (Reply, error) {
	contents, config, err := cc.buildRequest(p)
	if err != nil {
		return Reply{}, err
	}

	resp, err := cc.client.Models.GenerateContent(ctx, cc.model, contents, config)
	if err != nil {
		return Reply{}, fmt.Errorf("completion failed: %w", err)
	}

	return Reply{
		Text:  resp.Text(),
		Calls: resp.FunctionCalls(),
	}, nil
}

// StreamComplete relays fragments and tool calls as they arrive. Cancelling
// ctx stops consumption of the upstream stream.
func (cc *CompletionClient) StreamComplete(ctx context.Context, p Prompt, onText func(string), onCall func(*genai.FunctionCall)) error {
	contents, config, err := cc.buildRequest(p)
	if err != nil {
		return err
	}

	for resp, err := range cc.client.Models.GenerateContentStream(ctx, cc.model, contents, config) {
		if err != nil {
			return fmt.Errorf("completion stream failed: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" && onText != nil {
				onText(part.Text)
			}
			if part.FunctionCall != nil && onCall != nil {
				onCall(part.FunctionCall)
			}
		}
	}
	return nil
}

// buildRequest converts a Prompt into genai contents and config.
func (cc *CompletionClient) buildRequest(p Prompt) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	system := p.System
	if p.RecipeContext != nil {
		recipeJSON, err := sonic.Marshal(p.RecipeContext)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal recipe context: %w", err)
		}
		system += "\n\nThe recipe currently on the user's screen:\n" + string(recipeJSON)
	}

	contents := make([]*genai.Content, 0, len(p.History))
	for _, turn := range p.History {
		role := genai.RoleUser
		if turn.Role == messages.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("empty prompt history")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		Tools: cc.tools,
	}

	log.Printf("📤 Completion request: %d turn(s)", len(contents))
	return contents, config, nil
}
