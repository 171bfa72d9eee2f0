// Package modelclient provides model.Client implementations backed by real
// model providers, translating between the engine's provider-agnostic
// model.Request/model.Response and each provider's wire types.
package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/nullstackai/conductor/model"
)

// AnthropicMessagesClient captures the subset of the Anthropic SDK client
// used by the adapter, satisfied by *sdk.MessageService so tests can pass a
// fake in its place.
type AnthropicMessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicOptions configures the Anthropic adapter.
type AnthropicOptions struct {
	// DefaultModel is used when model.Request.Model is empty and
	// ModelClass does not resolve to HighModel or SmallModel.
	DefaultModel string
	// HighModel is used for model.ModelClassHighReasoning requests.
	HighModel string
	// SmallModel is used for model.ModelClassSmall requests.
	SmallModel string
	// MaxTokens is the default completion cap when a request omits one.
	MaxTokens int
	// Temperature is used when a request does not specify one.
	Temperature float64
	// ThinkingBudget is the default thinking token budget when thinking
	// is enabled but the request does not specify a budget.
	ThinkingBudget int64
}

// Anthropic implements model.Client on top of the Anthropic Messages API.
type Anthropic struct {
	msg        AnthropicMessagesClient
	defaultMdl string
	highMdl    string
	smallMdl   string
	maxTok     int
	temp       float64
	think      int64
}

// NewAnthropic builds an Anthropic-backed model client from an existing
// Anthropic Messages client and configuration options.
func NewAnthropic(msg AnthropicMessagesClient, opts AnthropicOptions) (*Anthropic, error) {
	if msg == nil {
		return nil, errors.New("modelclient: anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("modelclient: anthropic default model is required")
	}
	return &Anthropic{
		msg:        msg,
		defaultMdl: opts.DefaultModel,
		highMdl:    opts.HighModel,
		smallMdl:   opts.SmallModel,
		maxTok:     opts.MaxTokens,
		temp:       opts.Temperature,
		think:      opts.ThinkingBudget,
	}, nil
}

// NewAnthropicFromAPIKey constructs a client using the default Anthropic
// HTTP client configured from apiKey.
func NewAnthropicFromAPIKey(apiKey string, opts AnthropicOptions) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("modelclient: anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&ac.Messages, opts)
}

// Complete implements model.Client.
func (c *Anthropic) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("modelclient: anthropic messages.new: %w", err)
	}
	return translateAnthropicResponse(msg)
}

func (c *Anthropic) resolveModel(req *model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassHighReasoning:
		if c.highMdl != "" {
			return c.highMdl
		}
	case model.ModelClassSmall:
		if c.smallMdl != "" {
			return c.smallMdl
		}
	}
	return c.defaultMdl
}

func (c *Anthropic) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Anthropic) effectiveTemperature(requested float32) float64 {
	if requested > 0 {
		return float64(requested)
	}
	return c.temp
}

func (c *Anthropic) prepareRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("modelclient: anthropic messages are required")
	}
	modelID := c.resolveModel(req)
	if modelID == "" {
		return nil, errors.New("modelclient: anthropic model identifier is required")
	}
	msgs, system, err := encodeAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := c.effectiveMaxTokens(req.MaxTokens)
	if maxTokens <= 0 {
		return nil, errors.New("modelclient: anthropic max_tokens must be positive")
	}
	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools := encodeAnthropicTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if t := c.effectiveTemperature(req.Temperature); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if req.Thinking != nil && req.Thinking.Enable {
		budget := req.Thinking.BudgetTokens
		if budget <= 0 {
			budget = int(c.think)
		}
		if budget <= 0 {
			return nil, errors.New("modelclient: anthropic thinking budget is required when thinking is enabled")
		}
		if int64(budget) >= int64(maxTokens) {
			return nil, fmt.Errorf("modelclient: anthropic thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	if req.ToolChoice != nil {
		tc, err := encodeAnthropicToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return params, nil
}

// encodeAnthropicMessages translates the run's part-structured messages into
// Anthropic message params. A trailing CacheCheckpointPart on a message
// marks the preceding content block as a cache boundary (spec.md's context
// trimming never splits a checkpoint from the segment it terminates, so the
// boundary always lands on the message's last real content block).
func encodeAnthropicMessages(msgs []*model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		checkpoint := false
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case model.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("modelclient: anthropic tool_use part missing name")
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, v.Input, v.Name))
			case model.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, v.Content, v.IsError))
			case model.CacheCheckpointPart:
				checkpoint = true
			case model.ThinkingPart:
				// Anthropic requires thinking blocks to be replayed verbatim
				// with their signature when thinking is enabled; omitted here
				// since this adapter does not yet re-enable thinking on
				// follow-up turns.
			}
		}
		if checkpoint {
			applyCacheControl(blocks)
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser, model.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("modelclient: anthropic unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("modelclient: anthropic at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func applyCacheControl(blocks []sdk.ContentBlockParamUnion) {
	if len(blocks) == 0 {
		return
	}
	last := &blocks[len(blocks)-1]
	switch {
	case last.OfText != nil:
		last.OfText.CacheControl = sdk.NewCacheControlEphemeralParam()
	case last.OfToolUse != nil:
		last.OfToolUse.CacheControl = sdk.NewCacheControlEphemeralParam()
	case last.OfToolResult != nil:
		last.OfToolResult.CacheControl = sdk.NewCacheControlEphemeralParam()
	}
}

func encodeAnthropicTools(defs []*model.ToolDefinition) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema := toolInputSchema(def.InputSchema)
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func toolInputSchema(schema any) sdk.ToolInputSchemaParam {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return sdk.ToolInputSchemaParam{}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}
}

func encodeAnthropicToolChoice(choice *model.ToolChoice) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case model.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case model.ToolChoiceRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case model.ToolChoiceTool:
		if choice.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("modelclient: anthropic tool choice mode tool requires a name")
		}
		return sdk.ToolChoiceParamOfTool(choice.Name), nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("modelclient: anthropic unsupported tool choice mode %q", choice.Mode)
	}
}

func isRateLimited(err error) bool {
	return err != nil && errors.Is(err, model.ErrRateLimited)
}

// translateAnthropicResponse folds an Anthropic response's content blocks
// into a single assistant model.Message, preserving block order so
// interleaved thinking/tool-use content survives the round trip.
func translateAnthropicResponse(msg *sdk.Message) (*model.Response, error) {
	if msg == nil {
		return nil, errors.New("modelclient: anthropic response message is nil")
	}
	out := &model.Message{Role: model.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				out.Parts = append(out.Parts, model.TextPart{Text: block.Text})
			}
		case "thinking":
			if block.Thinking != "" {
				out.Parts = append(out.Parts, model.ThinkingPart{Text: block.Thinking, Signature: block.Signature, Final: true})
			}
		case "tool_use":
			out.Parts = append(out.Parts, model.ToolUsePart{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}
	resp := &model.Response{Message: out, StopReason: string(msg.StopReason)}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(u.InputTokens),
			OutputTokens: int(u.OutputTokens),
			TotalTokens:  int(u.InputTokens + u.OutputTokens),
		}
	}
	return resp, nil
}
