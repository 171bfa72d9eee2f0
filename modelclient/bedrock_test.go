package modelclient

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/model"
)

// stubBedrockRuntimeClient is a hand-written BedrockRuntimeClient fake - a
// single-method interface, consistent with the rest of the pack's treatment
// of this seam.
type stubBedrockRuntimeClient struct {
	output *bedrockruntime.ConverseOutput
	err    error
}

func (s *stubBedrockRuntimeClient) Converse(_ context.Context, _ *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return s.output, s.err
}

func newBedrock(t *testing.T, stub *stubBedrockRuntimeClient, opts BedrockOptions) *Bedrock {
	t.Helper()
	if opts.DefaultModel == "" {
		opts.DefaultModel = "anthropic.claude-3-sonnet"
	}
	c, err := NewBedrock(stub, opts)
	require.NoError(t, err)
	return c
}

func TestNewBedrockRejectsNilClient(t *testing.T) {
	_, err := NewBedrock(nil, BedrockOptions{DefaultModel: "m"})
	require.Error(t, err)
}

func TestNewBedrockRejectsEmptyDefaultModel(t *testing.T) {
	_, err := NewBedrock(&stubBedrockRuntimeClient{}, BedrockOptions{})
	require.Error(t, err)
}

func TestBedrockResolveModelPrefersRequestModel(t *testing.T) {
	c := newBedrock(t, &stubBedrockRuntimeClient{}, BedrockOptions{})
	require.Equal(t, "explicit", c.resolveModel(&model.Request{Model: "explicit"}))
}

func TestBedrockResolveModelUsesClassWhenSet(t *testing.T) {
	c := newBedrock(t, &stubBedrockRuntimeClient{}, BedrockOptions{HighModel: "high", SmallModel: "small"})
	require.Equal(t, "high", c.resolveModel(&model.Request{ModelClass: model.ModelClassHighReasoning}))
	require.Equal(t, "small", c.resolveModel(&model.Request{ModelClass: model.ModelClassSmall}))
}

func TestBedrockInferenceConfigNilWhenNothingSet(t *testing.T) {
	c := newBedrock(t, &stubBedrockRuntimeClient{}, BedrockOptions{})
	require.Nil(t, c.inferenceConfig(0, 0))
}

func TestBedrockInferenceConfigSetsBothFields(t *testing.T) {
	c := newBedrock(t, &stubBedrockRuntimeClient{}, BedrockOptions{MaxTokens: 256, Temperature: 0.4})
	cfg := c.inferenceConfig(0, 0)
	require.NotNil(t, cfg)
	require.Equal(t, int32(256), *cfg.MaxTokens)
	require.Equal(t, float32(0.4), *cfg.Temperature)
}

func TestBedrockPrepareRequestRejectsEmptyMessages(t *testing.T) {
	c := newBedrock(t, &stubBedrockRuntimeClient{}, BedrockOptions{})
	_, _, err := c.prepareRequest(&model.Request{})
	require.Error(t, err)
}

func TestEncodeBedrockMessagesSplitsSystemMessages(t *testing.T) {
	msgs := []*model.Message{
		model.NewText(model.RoleSystem, "be helpful"),
		model.NewText(model.RoleUser, "hi"),
	}
	conv, system, err := encodeBedrockMessages(msgs)
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Len(t, conv, 1)
	require.Equal(t, brtypes.ConversationRoleUser, conv[0].Role)
}

func TestEncodeBedrockMessagesMapsToolRoleToUser(t *testing.T) {
	msgs := []*model.Message{
		model.NewText(model.RoleUser, "hi"),
		{Role: model.RoleTool, Parts: []model.Part{model.ToolResultPart{ToolUseID: "tc-1", Content: "done"}}},
	}
	conv, _, err := encodeBedrockMessages(msgs)
	require.NoError(t, err)
	require.Len(t, conv, 2)
	require.Equal(t, brtypes.ConversationRoleUser, conv[1].Role)
}

func TestEncodeBedrockMessagesRejectsAllEmpty(t *testing.T) {
	msgs := []*model.Message{{Role: model.RoleUser, Parts: nil}}
	_, _, err := encodeBedrockMessages(msgs)
	require.Error(t, err)
}

func TestEncodeBedrockToolsBuildsToolConfig(t *testing.T) {
	defs := []*model.ToolDefinition{{Name: "spawn_worker", Description: "spawn a worker", InputSchema: json.RawMessage(`{"type":"object"}`)}}
	cfg, names := encodeBedrockTools(defs)
	require.NotNil(t, cfg)
	require.Len(t, cfg.Tools, 1)
	require.Equal(t, "spawn_worker", names["spawn_worker"])
}

func TestEncodeBedrockToolsNilWhenNoDefs(t *testing.T) {
	cfg, names := encodeBedrockTools(nil)
	require.Nil(t, cfg)
	require.Nil(t, names)
}

func TestBedrockDocumentRoundTrip(t *testing.T) {
	doc := toBedrockDocument(json.RawMessage(`{"task":"do it"}`))
	raw := decodeBedrockDocument(doc)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "do it", decoded["task"])
}

func TestDecodeBedrockDocumentNilWhenDocNil(t *testing.T) {
	require.Nil(t, decodeBedrockDocument(nil))
}

func TestIsBedrockRateLimitedDetectsSentinel(t *testing.T) {
	require.True(t, isBedrockRateLimited(model.ErrRateLimited))
	require.False(t, isBedrockRateLimited(nil))
}

func TestTranslateBedrockResponseNilOutputErrors(t *testing.T) {
	_, err := translateBedrockResponse(nil, nil)
	require.Error(t, err)
}

func TestTranslateBedrockResponseTranslatesTextAndUsage(t *testing.T) {
	output := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: "hello there"},
				},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(10),
			OutputTokens: aws.Int32(5),
			TotalTokens:  aws.Int32(15),
		},
	}
	resp, err := translateBedrockResponse(output, nil)
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Message.Text())
	require.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestTranslateBedrockResponseTranslatesToolUseWithCanonicalName(t *testing.T) {
	output := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String("tc-1"),
						Name:      aws.String("sanitized_name"),
						Input:     toBedrockDocument(json.RawMessage(`{"x":1}`)),
					}},
				},
			},
		},
	}
	resp, err := translateBedrockResponse(output, map[string]string{"sanitized_name": "spawn_worker"})
	require.NoError(t, err)
	uses := resp.Message.ToolUses()
	require.Len(t, uses, 1)
	require.Equal(t, "spawn_worker", uses[0].Name)
	require.Equal(t, "tc-1", uses[0].ID)
}
