package repository

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// IdentityAPI is the subset of *sts.Client used here.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

func NewSTSClient(awsCfg aws.Config) *sts.Client {
	return sts.NewFromConfig(awsCfg)
}

// CallerIdentity resolves the principal the configured credentials belong to.
func CallerIdentity(ctx context.Context, api IdentityAPI) (*Identity, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, err
	}

	return &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
