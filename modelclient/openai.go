package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/nullstackai/conductor/model"
)

// OpenAIChatClient captures the subset of the openai-go client used by the
// adapter, satisfied by the real client's Chat.Completions service.
type OpenAIChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// OpenAI implements model.Client on top of the Chat Completions API.
type OpenAI struct {
	chat       OpenAIChatClient
	defaultMdl string
	highMdl    string
	smallMdl   string
	maxTok     int
	temp       float64
}

// NewOpenAI builds an OpenAI-backed model client from an existing chat
// completions client and configuration options.
func NewOpenAI(chat OpenAIChatClient, opts OpenAIOptions) (*OpenAI, error) {
	if chat == nil {
		return nil, errors.New("modelclient: openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("modelclient: openai default model is required")
	}
	return &OpenAI{
		chat:       chat,
		defaultMdl: opts.DefaultModel,
		highMdl:    opts.HighModel,
		smallMdl:   opts.SmallModel,
		maxTok:     opts.MaxTokens,
		temp:       opts.Temperature,
	}, nil
}

// NewOpenAIFromAPIKey constructs a client using the default openai-go HTTP
// client configured from apiKey.
func NewOpenAIFromAPIKey(apiKey string, opts OpenAIOptions) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("modelclient: openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAI(client.Chat.Completions, opts)
}

// Complete implements model.Client.
func (c *OpenAI) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("modelclient: openai chat completions: %w", err)
	}
	return translateOpenAIResponse(resp)
}

func (c *OpenAI) resolveModel(req *model.Request) string {
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

func (c *OpenAI) prepareRequest(req *model.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("modelclient: openai messages are required")
	}
	modelID := c.resolveModel(req)
	if modelID == "" {
		return nil, errors.New("modelclient: openai model identifier is required")
	}
	msgs, err := encodeOpenAIMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := &openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: msgs,
	}
	if maxTokens := req.MaxTokens; maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	} else if c.maxTok > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTok))
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = openai.Float(float64(t))
	} else if c.temp > 0 {
		params.Temperature = openai.Float(c.temp)
	}
	if tools := encodeOpenAITools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.ToolChoice != nil {
		tc, err := encodeOpenAIToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return params, nil
}

// encodeOpenAIMessages flattens the run's part-structured messages into
// chat messages. Thinking and cache-checkpoint parts have no Chat
// Completions equivalent and are dropped; a message that answers a tool
// call is encoded as a tool-role message keyed by its ToolUseID.
func encodeOpenAIMessages(msgs []*model.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			if text := m.Text(); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case model.RoleUser:
			if text := m.Text(); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case model.RoleTool:
			for _, p := range m.Parts {
				if v, ok := p.(model.ToolResultPart); ok {
					out = append(out, openai.ToolMessage(v.Content, v.ToolUseID))
				}
			}
		case model.RoleAssistant:
			assistant, err := encodeOpenAIAssistant(m)
			if err != nil {
				return nil, err
			}
			out = append(out, assistant)
		default:
			return nil, fmt.Errorf("modelclient: openai unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("modelclient: openai at least one message is required")
	}
	return out, nil
}

func encodeOpenAIAssistant(m *model.Message) (openai.ChatCompletionMessageParamUnion, error) {
	text := m.Text()
	var calls []openai.ChatCompletionMessageToolCallParam
	for _, tu := range m.ToolUses() {
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID: tu.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tu.Name,
				Arguments: string(tu.Input),
			},
		})
	}
	msg := openai.AssistantMessage(text)
	if len(calls) > 0 {
		msg.OfAssistant.ToolCalls = calls
	}
	return msg, nil
}

func encodeOpenAITools(defs []*model.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		fn := shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
		}
		if def.InputSchema != nil {
			if data, err := json.Marshal(def.InputSchema); err == nil {
				var params map[string]any
				if json.Unmarshal(data, &params) == nil {
					fn.Parameters = params
				}
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out
}

func encodeOpenAIToolChoice(choice *model.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case "", model.ToolChoiceAuto:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}, nil
	case model.ToolChoiceNone:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}, nil
	case model.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}, nil
	case model.ToolChoiceTool:
		if choice.Name == "" {
			return openai.ChatCompletionToolChoiceOptionUnionParam{}, errors.New("modelclient: openai tool choice mode tool requires a name")
		}
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, fmt.Errorf("modelclient: openai unsupported tool choice mode %q", choice.Mode)
	}
}

func translateOpenAIResponse(resp *openai.ChatCompletion) (*model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("modelclient: openai response has no choices")
	}
	choice := resp.Choices[0]
	out := &model.Message{Role: model.RoleAssistant}
	if text := choice.Message.Content; text != "" {
		out.Parts = append(out.Parts, model.TextPart{Text: text})
	}
	for _, call := range choice.Message.ToolCalls {
		out.Parts = append(out.Parts, model.ToolUsePart{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}
	return &model.Response{
		Message: out,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: string(choice.FinishReason),
	}, nil
}
