package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	appconfig "imageanalyzer/internal/config"
	"imageanalyzer/internal/domain"
	"imageanalyzer/pkg/utils"
)

// ArchiveRepository keeps a copy of every analysed image and its result.
type ArchiveRepository interface {
	Archive(ctx context.Context, result *domain.AnalysisResult, image []byte, ext string) error
}

// S3API is the subset of *s3.Client used here.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Repository struct {
	client S3API
	cfg    appconfig.ArchiveConfig
	region string
	log    *zap.Logger
}

// NewS3Client builds an S3 client, honouring a custom endpoint such as MinIO.
func NewS3Client(awsCfg aws.Config, cfg appconfig.ArchiveConfig) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}

func NewS3Repository(ctx context.Context, client S3API, cfg appconfig.ArchiveConfig, region string, log *zap.Logger) ArchiveRepository {
	repo := &s3Repository{
		client: client,
		cfg:    cfg,
		region: region,
		log:    log,
	}

	if err := repo.ensureBucketExists(ctx); err != nil {
		log.Warn("Failed to ensure archive bucket exists",
			zap.String("bucket", cfg.Bucket),
			zap.Error(err))
	}

	return repo
}

func (r *s3Repository) ensureBucketExists(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.cfg.Bucket),
	})
	if err == nil {
		r.log.Info("Archive bucket already exists", zap.String("bucket", r.cfg.Bucket))
		return nil
	}

	r.log.Info("Creating archive bucket", zap.String("bucket", r.cfg.Bucket))

	input := &s3.CreateBucketInput{
		Bucket: aws.String(r.cfg.Bucket),
	}
	// us-east-1 rejects an explicit location constraint.
	if r.region != "" && r.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(r.region),
		}
	}

	if _, err := r.client.CreateBucket(ctx, input); err != nil {
		return err
	}

	r.log.Info("Archive bucket created", zap.String("bucket", r.cfg.Bucket))
	return nil
}

func (r *s3Repository) Archive(ctx context.Context, result *domain.AnalysisResult, image []byte, ext string) error {
	imageKey := r.cfg.Prefix + result.ID + "." + ext
	if err := r.uploadFile(ctx, imageKey, bytes.NewReader(image), int64(len(image)), utils.MediaType(ext)); err != nil {
		return err
	}

	record, err := json.Marshal(result)
	if err != nil {
		return err
	}

	resultKey := r.cfg.Prefix + result.ID + ".json"
	return r.uploadFile(ctx, resultKey, bytes.NewReader(record), int64(len(record)), "application/json")
}

func (r *s3Repository) uploadFile(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		r.log.Error("Failed to upload file to S3",
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	r.log.Info("File uploaded to S3",
		zap.String("key", key),
		zap.Int64("size", size))

	return nil
}
