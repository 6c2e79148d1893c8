// Package sharing publishes resources to other accounts through AWS RAM.
package sharing

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ram"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

type ShareArgs struct {
	ResourceArn pulumi.StringInput
	// Principals are account ids, organization or OU arns.
	Principals []string
}

type Share struct {
	ResourceShare *ram.ResourceShare
	Principals    []*ram.PrincipalAssociation
}

// NewShare shares one resource with every principal.
func NewShare(ctx *pulumi.Context, name string, args ShareArgs, opts ...pulumi.ResourceOption) (*Share, error) {
	if args.ResourceArn == nil {
		return nil, errors.Errorf("share %s has no resource", name)
	}
	if len(args.Principals) == 0 {
		return nil, errors.Errorf("share %s has no principals", name)
	}

	// Create RAM resource share
	share, err := ram.NewResourceShare(ctx, name+"-share", &ram.ResourceShareArgs{
		Name:                    pulumi.String(name),
		AllowExternalPrincipals: pulumi.Bool(true),
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name),
		},
	}, opts...)
	if err != nil {
		return nil, err
	}

	_, err = ram.NewResourceAssociation(ctx, name+"-resource", &ram.ResourceAssociationArgs{
		ResourceArn:      args.ResourceArn,
		ResourceShareArn: share.Arn,
	}, opts...)
	if err != nil {
		return nil, err
	}

	out := &Share{ResourceShare: share}
	for i, principal := range args.Principals {
		assoc, err := ram.NewPrincipalAssociation(ctx, fmt.Sprintf("%s-principal-%d", name, i+1), &ram.PrincipalAssociationArgs{
			Principal:        pulumi.String(principal),
			ResourceShareArn: share.Arn,
		}, opts...)
		if err != nil {
			return nil, err
		}
		out.Principals = append(out.Principals, assoc)
	}
	return out, nil
}
