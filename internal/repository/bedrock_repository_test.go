package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	appconfig "imageanalyzer/internal/config"
)

type fakeBedrock struct {
	invokeInput   *bedrockruntime.InvokeModelInput
	invokeOutput  *bedrockruntime.InvokeModelOutput
	converseInput *bedrockruntime.ConverseInput
	converseOut   *bedrockruntime.ConverseOutput
	err           error
	hadDeadline   bool
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.invokeInput = params
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return f.invokeOutput, nil
}

func (f *fakeBedrock) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.converseInput = params
	_, f.hadDeadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return f.converseOut, nil
}

func testBedrockConfig(style string) appconfig.BedrockConfig {
	return appconfig.BedrockConfig{
		ModelStyle:  style,
		ModelID:     "test-model",
		MaxTokens:   2000,
		Temperature: 0.7,
		TopP:        0.9,
		Prompt:      "Describe this image",
		Timeout:     time.Minute,
	}
}

func newTestModel(t *testing.T, api BedrockAPI, style string) ModelRepository {
	t.Helper()
	m, err := NewModelRepository(api, testBedrockConfig(style), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestNewModelRepositoryUnknownStyle(t *testing.T) {
	_, err := NewModelRepository(&fakeBedrock{}, testBedrockConfig("titan"), zap.NewNop())
	assert.Error(t, err)
}

func TestAnthropicDescribeImage(t *testing.T) {
	api := &fakeBedrock{
		invokeOutput: &bedrockruntime.InvokeModelOutput{
			Body: []byte(`{"content":[{"type":"text","text":"A cat on a sofa"}],"usage":{"input_tokens":10,"output_tokens":5}}`),
		},
	}
	m := newTestModel(t, api, appconfig.ModelStyleAnthropic)
	image := []byte{0xff, 0xd8, 0xff, 0xe0}

	text, err := m.DescribeImage(context.Background(), image, "jpg")
	require.NoError(t, err)
	assert.Equal(t, "A cat on a sofa", text)
	assert.Equal(t, "test-model", m.ModelID())
	assert.True(t, api.hadDeadline)

	in := api.invokeInput
	require.NotNil(t, in)
	assert.Equal(t, "test-model", aws.ToString(in.ModelId))
	assert.Equal(t, "application/json", aws.ToString(in.ContentType))

	body := in.Body
	assert.Equal(t, "bedrock-2023-05-31", gjson.GetBytes(body, "anthropic_version").String())
	assert.Equal(t, int64(2000), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, "image", gjson.GetBytes(body, "messages.0.content.0.type").String())
	assert.Equal(t, "base64", gjson.GetBytes(body, "messages.0.content.0.source.type").String())
	assert.Equal(t, "image/jpeg", gjson.GetBytes(body, "messages.0.content.0.source.media_type").String())
	assert.Equal(t, base64.StdEncoding.EncodeToString(image), gjson.GetBytes(body, "messages.0.content.0.source.data").String())
	assert.Equal(t, "text", gjson.GetBytes(body, "messages.0.content.1.type").String())
	assert.Equal(t, "Describe this image", gjson.GetBytes(body, "messages.0.content.1.text").String())
}

func TestAnthropicDescribeImageFailures(t *testing.T) {
	apiErr := errors.New("ThrottlingException: rate exceeded")

	tests := []struct {
		name    string
		api     *fakeBedrock
		wantErr error
	}{
		{
			name:    "api error",
			api:     &fakeBedrock{err: apiErr},
			wantErr: apiErr,
		},
		{
			name: "malformed body",
			api:  &fakeBedrock{invokeOutput: &bedrockruntime.InvokeModelOutput{Body: []byte("<html>")}},
		},
		{
			name:    "no content",
			api:     &fakeBedrock{invokeOutput: &bedrockruntime.InvokeModelOutput{Body: []byte(`{"content":[]}`)}},
			wantErr: errEmptyResponse,
		},
		{
			name:    "blank text",
			api:     &fakeBedrock{invokeOutput: &bedrockruntime.InvokeModelOutput{Body: []byte(`{"content":[{"type":"text","text":"  "}]}`)}},
			wantErr: errEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t, tt.api, appconfig.ModelStyleAnthropic)

			text, err := m.DescribeImage(context.Background(), []byte("png"), "png")
			require.Error(t, err)
			assert.Empty(t, text)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNovaDescribeImage(t *testing.T) {
	api := &fakeBedrock{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &types.ConverseOutputMemberMessage{
				Value: types.Message{
					Role: types.ConversationRoleAssistant,
					Content: []types.ContentBlock{
						&types.ContentBlockMemberText{Value: "A red barn"},
						&types.ContentBlockMemberText{Value: "under a blue sky"},
					},
				},
			},
			Usage: &types.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(6)},
		},
	}
	m := newTestModel(t, api, appconfig.ModelStyleNova)
	image := []byte("GIF89a")

	text, err := m.DescribeImage(context.Background(), image, "gif")
	require.NoError(t, err)
	assert.Equal(t, "A red barn\nunder a blue sky", text)
	assert.True(t, api.hadDeadline)

	in := api.converseInput
	require.NotNil(t, in)
	assert.Equal(t, "test-model", aws.ToString(in.ModelId))
	require.Len(t, in.Messages, 1)
	assert.Equal(t, types.ConversationRoleUser, in.Messages[0].Role)
	require.Len(t, in.Messages[0].Content, 2)

	img, ok := in.Messages[0].Content[0].(*types.ContentBlockMemberImage)
	require.True(t, ok)
	assert.Equal(t, types.ImageFormatGif, img.Value.Format)
	src, ok := img.Value.Source.(*types.ImageSourceMemberBytes)
	require.True(t, ok)
	assert.Equal(t, image, src.Value)

	prompt, ok := in.Messages[0].Content[1].(*types.ContentBlockMemberText)
	require.True(t, ok)
	assert.Equal(t, "Describe this image", prompt.Value)

	require.NotNil(t, in.InferenceConfig)
	assert.Equal(t, int32(2000), aws.ToInt32(in.InferenceConfig.MaxTokens))
	assert.InDelta(t, 0.7, aws.ToFloat32(in.InferenceConfig.Temperature), 0.0001)
	assert.InDelta(t, 0.9, aws.ToFloat32(in.InferenceConfig.TopP), 0.0001)
}

func TestNovaDescribeImageJPGFormat(t *testing.T) {
	api := &fakeBedrock{
		converseOut: &bedrockruntime.ConverseOutput{
			Output: &types.ConverseOutputMemberMessage{
				Value: types.Message{Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "ok"}}},
			},
		},
	}
	m := newTestModel(t, api, appconfig.ModelStyleNova)

	_, err := m.DescribeImage(context.Background(), []byte{0xff}, "jpg")
	require.NoError(t, err)

	img := api.converseInput.Messages[0].Content[0].(*types.ContentBlockMemberImage)
	assert.Equal(t, types.ImageFormatJpeg, img.Value.Format)
}

func TestNovaDescribeImageFailures(t *testing.T) {
	apiErr := errors.New("AccessDeniedException")

	tests := []struct {
		name    string
		api     *fakeBedrock
		wantErr error
	}{
		{
			name:    "api error",
			api:     &fakeBedrock{err: apiErr},
			wantErr: apiErr,
		},
		{
			name: "no message output",
			api:  &fakeBedrock{converseOut: &bedrockruntime.ConverseOutput{}},
		},
		{
			name: "no text blocks",
			api: &fakeBedrock{converseOut: &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{Value: types.Message{}},
			}},
			wantErr: errEmptyResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t, tt.api, appconfig.ModelStyleNova)

			_, err := m.DescribeImage(context.Background(), []byte("png"), "png")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
