package network

import (
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2transitgateway"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// BackboneArgs configure the transit gateway owned by the hub zone.
type BackboneArgs struct {
	Description string
}

// Backbone is the routing fabric every zone attaches to.
type Backbone struct {
	TransitGateway *ec2transitgateway.TransitGateway
}

// NewBackbone creates a transit gateway that accepts attachments from the
// accounts it is shared with.
func NewBackbone(ctx *pulumi.Context, name string, args BackboneArgs) (*Backbone, error) {
	description := args.Description
	if description == "" {
		description = name + " transit gateway"
	}

	// Create Transit Gateway
	tgw, err := ec2transitgateway.NewTransitGateway(ctx, name+"-tgw", &ec2transitgateway.TransitGatewayArgs{
		Description:                  pulumi.String(description),
		AutoAcceptSharedAttachments:  pulumi.String("enable"),
		DefaultRouteTableAssociation: pulumi.String("enable"),
		DefaultRouteTablePropagation: pulumi.String("enable"),
		DnsSupport:                   pulumi.String("enable"),
		Tags:                         nameTag(name + "-tgw"),
	})
	if err != nil {
		return nil, err
	}
	return &Backbone{TransitGateway: tgw}, nil
}

// ID is the transit gateway id as an input for attachments and routes.
func (b *Backbone) ID() pulumi.StringInput {
	return b.TransitGateway.ID().ToStringOutput()
}

// Arn is what gets shared with the spoke accounts.
func (b *Backbone) Arn() pulumi.StringOutput {
	return b.TransitGateway.Arn
}
