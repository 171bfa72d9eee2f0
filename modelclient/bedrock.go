package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/nullstackai/conductor/model"
)

// BedrockRuntimeClient mirrors the subset of the AWS Bedrock runtime client
// used by the adapter, satisfied by *bedrockruntime.Client.
type BedrockRuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures the Bedrock adapter.
type BedrockOptions struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float32
}

// Bedrock implements model.Client on top of the AWS Bedrock Converse API.
type Bedrock struct {
	runtime    BedrockRuntimeClient
	defaultMdl string
	highMdl    string
	smallMdl   string
	maxTok     int
	temp       float32
}

// NewBedrock builds a Bedrock-backed model client from an existing runtime
// client and configuration options.
func NewBedrock(runtime BedrockRuntimeClient, opts BedrockOptions) (*Bedrock, error) {
	if runtime == nil {
		return nil, errors.New("modelclient: bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("modelclient: bedrock default model is required")
	}
	return &Bedrock{
		runtime:    runtime,
		defaultMdl: opts.DefaultModel,
		highMdl:    opts.HighModel,
		smallMdl:   opts.SmallModel,
		maxTok:     opts.MaxTokens,
		temp:       opts.Temperature,
	}, nil
}

// Complete implements model.Client.
func (c *Bedrock) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	input, toolNames, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isBedrockRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("modelclient: bedrock converse: %w", err)
	}
	return translateBedrockResponse(output, toolNames)
}

func (c *Bedrock) resolveModel(req *model.Request) string {
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

func (c *Bedrock) prepareRequest(req *model.Request) (*bedrockruntime.ConverseInput, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("modelclient: bedrock messages are required")
	}
	modelID := c.resolveModel(req)
	if modelID == "" {
		return nil, nil, errors.New("modelclient: bedrock model identifier is required")
	}
	toolConfig, toolNames := encodeBedrockTools(req.Tools)
	messages, system, err := encodeBedrockMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input, toolNames, nil
}

func (c *Bedrock) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if tokens := c.effectiveMaxTokens(maxTokens); tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens))
	}
	if t := c.effectiveTemperature(temp); t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func (c *Bedrock) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func (c *Bedrock) effectiveTemperature(requested float32) float32 {
	if requested > 0 {
		return requested
	}
	return c.temp
}

// encodeBedrockMessages translates part-structured messages into Bedrock
// Converse blocks. CacheCheckpointPart becomes a CachePoint content block,
// the Bedrock equivalent of Anthropic's cache_control directive.
func encodeBedrockMessages(msgs []*model.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				switch v := p.(type) {
				case model.TextPart:
					if v.Text != "" {
						system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
					}
				case model.CacheCheckpointPart:
					system = append(system, &brtypes.SystemContentBlockMemberCachePoint{
						Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
					})
				}
			}
			continue
		}

		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				tb := brtypes.ToolUseBlock{Input: toBedrockDocument(v.Input)}
				if v.Name != "" {
					tb.Name = aws.String(v.Name)
				}
				if v.ID != "" {
					tb.ToolUseId = aws.String(v.ID)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				tr := brtypes.ToolResultBlock{
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
					},
				}
				if v.ToolUseID != "" {
					tr.ToolUseId = aws.String(v.ToolUseID)
				}
				if v.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			case model.CacheCheckpointPart:
				blocks = append(blocks, &brtypes.ContentBlockMemberCachePoint{
					Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
				})
			case model.ThinkingPart:
				if v.Signature != "" && v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberReasoningContent{
						Value: &brtypes.ReasoningContentBlockMemberReasoningText{
							Value: brtypes.ReasoningTextBlock{
								Text:      aws.String(v.Text),
								Signature: aws.String(v.Signature),
							},
						},
					})
				}
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == model.RoleUser || m.Role == model.RoleTool {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("modelclient: bedrock at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeBedrockTools(defs []*model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string) {
	if len(defs) == 0 {
		return nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	names := make(map[string]string, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		names[def.Name] = def.Name
		spec := brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toBedrockDocument(def.InputSchema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, names
}

func toBedrockDocument(schema any) document.Interface {
	if schema == nil {
		return bedrockLazyDocument(map[string]any{"type": "object"})
	}
	switch v := schema.(type) {
	case json.RawMessage:
		if len(v) == 0 {
			return bedrockLazyDocument(map[string]any{"type": "object"})
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return bedrockLazyDocument(map[string]any{"type": "object"})
		}
		return bedrockLazyDocument(decoded)
	default:
		return bedrockLazyDocument(v)
	}
}

func bedrockLazyDocument(v any) document.Interface {
	return document.NewLazyDocument(v)
}

func decodeBedrockDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func isBedrockRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

func translateBedrockResponse(output *bedrockruntime.ConverseOutput, toolNames map[string]string) (*model.Response, error) {
	if output == nil {
		return nil, errors.New("modelclient: bedrock response is nil")
	}
	out := &model.Message{Role: model.RoleAssistant}
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				if v.Value != "" {
					out.Parts = append(out.Parts, model.TextPart{Text: v.Value})
				}
			case *brtypes.ContentBlockMemberReasoningContent:
				if rc, ok := v.Value.(*brtypes.ReasoningContentBlockMemberReasoningText); ok {
					out.Parts = append(out.Parts, model.ThinkingPart{
						Text:      aws.ToString(rc.Value.Text),
						Signature: aws.ToString(rc.Value.Signature),
						Final:     true,
					})
				}
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = toolNames[*v.Value.Name]
					if name == "" {
						name = *v.Value.Name
					}
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				out.Parts = append(out.Parts, model.ToolUsePart{
					ID:    id,
					Name:  name,
					Input: decodeBedrockDocument(v.Value.Input),
				})
			}
		}
	}
	resp := &model.Response{Message: out, StopReason: string(output.StopReason)}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(usage.TotalTokens)),
		}
	}
	return resp, nil
}
