package zone

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/network"
	"github.com/dudutwizer/mad-shared-accounts/internal/resolver"
	"github.com/dudutwizer/mad-shared-accounts/internal/sharing"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

// Networking is the hub zone: it owns the transit gateway and the forwarding
// rule and shares both with the other accounts.
type Networking struct {
	settings *topology.Settings
	Segment  *network.Segment
	Backbone *network.Backbone
	Resolver *resolver.Resolver
}

// NewNetworking creates the hub segment and transit gateway, attaches the
// segment and shares the gateway with the configured principals.
func NewNetworking(ctx *pulumi.Context, s *topology.Settings) (*Networking, error) {
	seg, err := network.NewSegment(ctx, string(topology.Networking), network.SegmentArgs{
		CidrBlock:         s.Plan.CIDR(topology.Networking),
		AvailabilityZones: s.AvailabilityZones,
		FlowLogs:          s.FlowLogs,
	})
	if err != nil {
		return nil, err
	}

	backbone, err := network.NewBackbone(ctx, string(topology.Networking), network.BackboneArgs{
		Description: fmt.Sprintf("%s hub", topology.ConfigNamespace),
	})
	if err != nil {
		return nil, err
	}

	if _, err := seg.AttachToBackbone(ctx, backbone.ID()); err != nil {
		return nil, err
	}

	if len(s.Principals) > 0 {
		_, err = sharing.NewShare(ctx, "tgw-share", sharing.ShareArgs{
			ResourceArn: backbone.Arn(),
			Principals:  s.Principals,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Networking{settings: s, Segment: seg, Backbone: backbone}, nil
}

// InstallRoute routes a peer block through the hub's own transit gateway from
// the private subnets.
func (n *Networking) InstallRoute(ctx *pulumi.Context, destination string) ([]*ec2.Route, error) {
	return n.Segment.InstallRoute(ctx, destination, n.Backbone.ID(), false)
}

// AddForwardingRule creates the resolver for the directory domain after the
// transit gateway and shares the rule with the configured principals.
func (n *Networking) AddForwardingRule(ctx *pulumi.Context, fw topology.Forwarder) (*resolver.Resolver, error) {
	if n.Resolver != nil {
		return n.Resolver, nil
	}

	r, err := resolver.New(ctx, "networking-resolver", resolver.Args{
		Segment:   n.Segment,
		Forwarder: fw,
		Replicas:  n.settings.Directory.Replicas,
		DependsOn: []pulumi.Resource{n.Backbone.TransitGateway},
	})
	if err != nil {
		return nil, err
	}

	if len(n.settings.Principals) > 0 {
		_, err = sharing.NewShare(ctx, "resolver-share", sharing.ShareArgs{
			ResourceArn: r.Rule.Arn,
			Principals:  n.settings.Principals,
		})
		if err != nil {
			return nil, err
		}
	}
	n.Resolver = r
	return r, nil
}
