package grants

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/pkg/errors"
)

// Options select the credentials used to reach the shared account.
type Options struct {
	Region  string
	Profile string
	// RoleArn, when set, is assumed before calling the shared account.
	RoleArn string
}

// NewVerifier builds a Verifier on the default credential chain.
func NewVerifier(ctx context.Context, opts Options, secretArn, keyArn string) (*Verifier, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS configuration")
	}

	if opts.RoleArn != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), opts.RoleArn, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "mad-shared-accounts-grant-check"
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return &Verifier{
		Secrets:   secretsmanager.NewFromConfig(cfg),
		Keys:      kms.NewFromConfig(cfg),
		SecretArn: secretArn,
		KeyArn:    keyArn,
	}, nil
}
