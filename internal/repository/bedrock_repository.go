package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	appconfig "imageanalyzer/internal/config"
	"imageanalyzer/pkg/utils"
)

const anthropicVersion = "bedrock-2023-05-31"

var errEmptyResponse = errors.New("model returned no text")

// ModelRepository sends one image and the configured prompt to a hosted
// multimodal model and returns its text answer.
type ModelRepository interface {
	DescribeImage(ctx context.Context, image []byte, ext string) (string, error)
	ModelID() string
}

// BedrockAPI is the subset of *bedrockruntime.Client used here.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// NewBedrockClient returns a runtime client that makes exactly one attempt
// per call.
func NewBedrockClient(awsCfg aws.Config) *bedrockruntime.Client {
	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		o.RetryMaxAttempts = 1
	})
}

// NewModelRepository picks the payload shape for cfg.ModelStyle.
func NewModelRepository(api BedrockAPI, cfg appconfig.BedrockConfig, log *zap.Logger) (ModelRepository, error) {
	switch cfg.ModelStyle {
	case appconfig.ModelStyleAnthropic:
		return &anthropicModel{api: api, cfg: cfg, log: log}, nil
	case appconfig.ModelStyleNova:
		return &novaModel{api: api, cfg: cfg, log: log}, nil
	default:
		return nil, fmt.Errorf("unknown model style %q", cfg.ModelStyle)
	}
}

func withTimeout(ctx context.Context, cfg appconfig.BedrockConfig) (context.Context, context.CancelFunc) {
	if cfg.Timeout > 0 {
		return context.WithTimeout(ctx, cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// anthropicModel uses InvokeModel with an Anthropic messages body.
type anthropicModel struct {
	api BedrockAPI
	cfg appconfig.BedrockConfig
	log *zap.Logger
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Source *anthropicSource `json:"source,omitempty"`
	Text   string           `json:"text,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

func (m *anthropicModel) ModelID() string {
	return m.cfg.ModelID
}

func (m *anthropicModel) DescribeImage(ctx context.Context, image []byte, ext string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        m.cfg.MaxTokens,
		Messages: []anthropicMessage{
			{
				Role: "user",
				Content: []anthropicContent{
					{
						Type: "image",
						Source: &anthropicSource{
							Type:      "base64",
							MediaType: utils.MediaType(ext),
							Data:      base64.StdEncoding.EncodeToString(image),
						},
					},
					{Type: "text", Text: m.cfg.Prompt},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx, m.cfg)
	defer cancel()

	output, err := m.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(m.cfg.ModelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		m.log.Error("Bedrock InvokeModel failed",
			zap.String("model", m.cfg.ModelID),
			zap.Error(err))
		return "", fmt.Errorf("invoke model %s: %w", m.cfg.ModelID, err)
	}

	if !gjson.ValidBytes(output.Body) {
		return "", fmt.Errorf("invoke model %s: malformed response body", m.cfg.ModelID)
	}

	text := gjson.GetBytes(output.Body, "content.0.text").String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("invoke model %s: %w", m.cfg.ModelID, errEmptyResponse)
	}

	m.log.Debug("Bedrock InvokeModel succeeded",
		zap.String("model", m.cfg.ModelID),
		zap.Int64("input_tokens", gjson.GetBytes(output.Body, "usage.input_tokens").Int()),
		zap.Int64("output_tokens", gjson.GetBytes(output.Body, "usage.output_tokens").Int()))

	return text, nil
}

// novaModel uses the Converse API, which carries raw image bytes.
type novaModel struct {
	api BedrockAPI
	cfg appconfig.BedrockConfig
	log *zap.Logger
}

func (m *novaModel) ModelID() string {
	return m.cfg.ModelID
}

func (m *novaModel) DescribeImage(ctx context.Context, image []byte, ext string) (string, error) {
	ctx, cancel := withTimeout(ctx, m.cfg)
	defer cancel()

	output, err := m.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(m.cfg.ModelID),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberImage{
						Value: types.ImageBlock{
							Format: types.ImageFormat(utils.ImageFormat(ext)),
							Source: &types.ImageSourceMemberBytes{Value: image},
						},
					},
					&types.ContentBlockMemberText{Value: m.cfg.Prompt},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(m.cfg.MaxTokens)),
			Temperature: aws.Float32(float32(m.cfg.Temperature)),
			TopP:        aws.Float32(float32(m.cfg.TopP)),
		},
	})
	if err != nil {
		m.log.Error("Bedrock Converse failed",
			zap.String("model", m.cfg.ModelID),
			zap.Error(err))
		return "", fmt.Errorf("converse %s: %w", m.cfg.ModelID, err)
	}

	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("converse %s: unexpected output type %T", m.cfg.ModelID, output.Output)
	}

	var parts []string
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok && t.Value != "" {
			parts = append(parts, t.Value)
		}
	}

	text := strings.Join(parts, "\n")
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("converse %s: %w", m.cfg.ModelID, errEmptyResponse)
	}

	if output.Usage != nil {
		m.log.Debug("Bedrock Converse succeeded",
			zap.String("model", m.cfg.ModelID),
			zap.Int32("input_tokens", aws.ToInt32(output.Usage.InputTokens)),
			zap.Int32("output_tokens", aws.ToInt32(output.Usage.OutputTokens)))
	}

	return text, nil
}
