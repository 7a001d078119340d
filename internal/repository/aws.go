package repository

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	appconfig "imageanalyzer/internal/config"
)

// LoadAWSConfig builds the aws.Config shared by every client in the process.
// Explicit keys win; otherwise the SDK default credential chain is used
// (environment, shared profile, instance or task role).
func LoadAWSConfig(ctx context.Context, cfg appconfig.AWSConfig) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.HasStaticCredentials() {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	return config.LoadDefaultConfig(ctx, opts...)
}
