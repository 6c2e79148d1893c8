package zone

import (
	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/route53"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/directory"
	"github.com/dudutwizer/mad-shared-accounts/internal/network"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

// SharedResources hosts the managed directory and its credential.
type SharedResources struct {
	Segment   *network.Segment
	Directory *directory.Directory

	association *route53.ResolverRuleAssociation
}

func NewSharedResources(ctx *pulumi.Context, s *topology.Settings) (*SharedResources, error) {
	seg, err := sharedSegment(ctx, s)
	if err != nil {
		return nil, err
	}

	dir, err := directory.New(ctx, "mad", directory.Args{
		DomainName:        s.Directory.DomainName,
		Edition:           s.Directory.Edition,
		Segment:           seg,
		ExistingSecretArn: s.Directory.ExistingSecretArn,
		ParameterPrefix:   "/" + topology.ConfigNamespace + "/" + s.Directory.DomainName,
	})
	if err != nil {
		return nil, err
	}
	return &SharedResources{Segment: seg, Directory: dir}, nil
}

// sharedSegment creates the zone's VPC, or reads the existing one the
// directory should live in. An existing VPC must carry the planned block.
func sharedSegment(ctx *pulumi.Context, s *topology.Settings) (*network.Segment, error) {
	name := string(topology.SharedResources)
	planned := s.Plan.CIDR(topology.SharedResources)
	if s.Directory.ExistingVpcID == "" {
		return network.NewSegment(ctx, name, network.SegmentArgs{
			CidrBlock:         planned,
			AvailabilityZones: s.AvailabilityZones,
			FlowLogs:          s.FlowLogs,
		})
	}

	seg, err := network.ExistingSegment(ctx, name, network.ExistingSegmentArgs{
		VpcID:            s.Directory.ExistingVpcID,
		PrivateSubnetIDs: s.Directory.ExistingSubnetIDs,
		RouteTableIDs:    s.Directory.ExistingRouteTableIDs,
	})
	if err != nil {
		return nil, err
	}
	if seg.CidrBlock != planned {
		return nil, errors.Errorf("existing VPC %s has block %s, the address plan gives the shared zone %s", s.Directory.ExistingVpcID, seg.CidrBlock, planned)
	}
	return seg, nil
}

func (z *SharedResources) AttachToBackbone(ctx *pulumi.Context, transitGatewayID string) error {
	_, err := z.Segment.AttachToBackbone(ctx, pulumi.String(transitGatewayID))
	return err
}

func (z *SharedResources) InstallRoute(ctx *pulumi.Context, destination, transitGatewayID string) ([]*ec2.Route, error) {
	return z.Segment.InstallRoute(ctx, destination, pulumi.String(transitGatewayID), false)
}

// AssociateRule binds the rule shared by the networking zone to this VPC.
func (z *SharedResources) AssociateRule(ctx *pulumi.Context, ruleID string) (*route53.ResolverRuleAssociation, error) {
	if z.association != nil {
		return z.association, nil
	}
	assoc, err := associateRule(ctx, string(topology.SharedResources), ruleID, z.Segment)
	if err != nil {
		return nil, err
	}
	z.association = assoc
	return assoc, nil
}

func (z *SharedResources) GrantSecretAccess(ctx *pulumi.Context, principals []string) error {
	return z.Directory.GrantSecretAccess(ctx, principals)
}
