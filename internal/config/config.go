package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	ModelStyleAnthropic = "anthropic"
	ModelStyleNova      = "nova"

	DefaultAnthropicModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	DefaultNovaModelID      = "us.amazon.nova-pro-v1:0"

	DefaultPrompt = `Analyze this image in detail, covering:
1. The main objects and the scene
2. Colors, composition and visual elements
3. The likely mood or atmosphere
4. Any text content (if present)
5. The overall quality and characteristics of the image

Answer thoroughly and professionally.`
)

// Values shipped in sample .env files; treated as unset.
var placeholders = map[string]bool{
	"your_access_key_id_here":     true,
	"your_secret_access_key_here": true,
	"your_session_token_here":     true,
}

type Config struct {
	LogLevel string
	Server   ServerConfig
	AWS      AWSConfig
	Bedrock  BedrockConfig
	App      AppConfig
	Archive  ArchiveConfig
}

type ServerConfig struct {
	Host string
	Port string `validate:"required,numeric"`
}

type AWSConfig struct {
	Region            string `validate:"required"`
	AccessKeyID       string `validate:"required_with=SecretAccessKey"`
	SecretAccessKey   string `validate:"required_with=AccessKeyID"`
	SessionToken      string
	VerifyCredentials bool
}

// HasStaticCredentials reports whether an explicit key pair was configured.
func (c AWSConfig) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

type BedrockConfig struct {
	ModelStyle  string  `validate:"oneof=anthropic nova"`
	ModelID     string  `validate:"required"`
	MaxTokens   int     `validate:"gt=0"`
	Temperature float64 `validate:"gte=0,lte=1"`
	TopP        float64 `validate:"gte=0,lte=1"`
	Prompt      string  `validate:"required"`
	Timeout     time.Duration
}

type AppConfig struct {
	UploadDir      string `validate:"required"`
	StaticDir      string
	MaxUploadSize  int64    `validate:"gt=0"`
	AllowedFormats []string `validate:"min=1"`
}

type ArchiveConfig struct {
	Bucket   string
	Endpoint string
	Prefix   string
}

// Enabled reports whether analysed images are archived to S3.
func (c ArchiveConfig) Enabled() bool {
	return c.Bucket != ""
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("ENV_FILE", ".env")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "5000")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_VERIFY_CREDENTIALS", false)
	v.SetDefault("BEDROCK_MODEL_STYLE", ModelStyleAnthropic)
	v.SetDefault("BEDROCK_MAX_TOKENS", 2000)
	v.SetDefault("BEDROCK_TEMPERATURE", 0.7)
	v.SetDefault("BEDROCK_TOP_P", 0.9)
	v.SetDefault("BEDROCK_PROMPT", DefaultPrompt)
	v.SetDefault("BEDROCK_TIMEOUT", "60s")
	v.SetDefault("APP_UPLOAD_DIR", "./uploads")
	v.SetDefault("APP_STATIC_DIR", "./web")
	v.SetDefault("APP_MAX_UPLOAD_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("APP_ALLOWED_FORMATS", "png,jpg,jpeg,gif")
	v.SetDefault("ARCHIVE_PREFIX", "analyzed/")

	v.AutomaticEnv()

	if err := readEnvFile(v, v.GetString("ENV_FILE")); err != nil {
		return nil, err
	}

	style := strings.ToLower(v.GetString("BEDROCK_MODEL_STYLE"))
	modelID := v.GetString("BEDROCK_MODEL_ID")
	if modelID == "" {
		modelID = defaultModelID(style)
	}

	cfg := &Config{
		LogLevel: v.GetString("LOG_LEVEL"),
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetString("SERVER_PORT"),
		},
		AWS: AWSConfig{
			Region:            v.GetString("AWS_REGION"),
			AccessKeyID:       value(v, "AWS_ACCESS_KEY_ID"),
			SecretAccessKey:   value(v, "AWS_SECRET_ACCESS_KEY"),
			SessionToken:      value(v, "AWS_SESSION_TOKEN"),
			VerifyCredentials: v.GetBool("AWS_VERIFY_CREDENTIALS"),
		},
		Bedrock: BedrockConfig{
			ModelStyle:  style,
			ModelID:     modelID,
			MaxTokens:   v.GetInt("BEDROCK_MAX_TOKENS"),
			Temperature: v.GetFloat64("BEDROCK_TEMPERATURE"),
			TopP:        v.GetFloat64("BEDROCK_TOP_P"),
			Prompt:      v.GetString("BEDROCK_PROMPT"),
			Timeout:     v.GetDuration("BEDROCK_TIMEOUT"),
		},
		App: AppConfig{
			UploadDir:      v.GetString("APP_UPLOAD_DIR"),
			StaticDir:      v.GetString("APP_STATIC_DIR"),
			MaxUploadSize:  v.GetInt64("APP_MAX_UPLOAD_SIZE"),
			AllowedFormats: formats(v.GetString("APP_ALLOWED_FORMATS")),
		},
		Archive: ArchiveConfig{
			Bucket:   v.GetString("ARCHIVE_BUCKET"),
			Endpoint: v.GetString("ARCHIVE_ENDPOINT"),
			Prefix:   v.GetString("ARCHIVE_PREFIX"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := createDirs(cfg); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return cfg, nil
}

// readEnvFile merges a dotenv file into v. A missing file is not an error;
// process environment variables still take precedence over its values.
func readEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return nil
}

func value(v *viper.Viper, key string) string {
	s := strings.TrimSpace(v.GetString(key))
	if placeholders[s] {
		return ""
	}
	return s
}

func formats(raw string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		f = strings.TrimPrefix(strings.ToLower(f), ".")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func defaultModelID(style string) string {
	if style == ModelStyleNova {
		return DefaultNovaModelID
	}
	return DefaultAnthropicModelID
}

func createDirs(cfg *Config) error {
	if err := os.MkdirAll(cfg.App.UploadDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", cfg.App.UploadDir, err)
	}
	return nil
}
