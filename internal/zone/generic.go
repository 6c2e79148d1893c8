package zone

import (
	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/route53"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/network"
	"github.com/dudutwizer/mad-shared-accounts/internal/resolver"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
	"github.com/dudutwizer/mad-shared-accounts/internal/worker"
)

// ErrGrantMissing is returned by LaunchMachine while the shared zone has not
// granted the worker role access to the directory secret.
var ErrGrantMissing = errors.New("worker role has not been granted access to the directory secret")

// Generic is a workload zone running the Windows worker.
type Generic struct {
	settings *topology.Settings
	Segment  *network.Segment
	Role     *worker.Role
	// RoleArn is derived from the fixed role name, so it is known before
	// the role exists.
	RoleArn string
	Worker  *worker.Worker

	association *route53.ResolverRuleAssociation
	resolver    *resolver.Resolver
}

// NewGeneric creates the workload segment and the worker role. The role gets
// read access to secretArn and decrypt on kmsKeyArn when they are known.
func NewGeneric(ctx *pulumi.Context, s *topology.Settings, secretArn, kmsKeyArn string) (*Generic, error) {
	seg, err := network.NewSegment(ctx, string(topology.Generic), network.SegmentArgs{
		CidrBlock:         s.Plan.CIDR(topology.Generic),
		AvailabilityZones: s.AvailabilityZones,
		FlowLogs:          s.FlowLogs,
	})
	if err != nil {
		return nil, err
	}

	role, err := worker.NewRole(ctx, "worker", worker.RoleArgs{
		RoleName:  s.Worker.RoleName,
		SecretArn: secretArn,
		KMSKeyArn: kmsKeyArn,
	})
	if err != nil {
		return nil, err
	}

	return &Generic{
		settings: s,
		Segment:  seg,
		Role:     role,
		RoleArn:  topology.RoleArn(s.AccountID, s.Worker.RoleName),
	}, nil
}

func (g *Generic) AttachToBackbone(ctx *pulumi.Context, transitGatewayID string) error {
	_, err := g.Segment.AttachToBackbone(ctx, pulumi.String(transitGatewayID))
	return err
}

// InstallRoute routes a peer block from both the public and private subnets,
// since the worker may sit in either.
func (g *Generic) InstallRoute(ctx *pulumi.Context, destination, transitGatewayID string) ([]*ec2.Route, error) {
	return g.Segment.InstallRoute(ctx, destination, pulumi.String(transitGatewayID), true)
}

func (g *Generic) AssociateRule(ctx *pulumi.Context, ruleID string) (*route53.ResolverRuleAssociation, error) {
	if g.association != nil {
		return g.association, nil
	}
	assoc, err := associateRule(ctx, string(topology.Generic), ruleID, g.Segment)
	if err != nil {
		return nil, err
	}
	g.association = assoc
	return assoc, nil
}

// AddResolver forwards the directory domain through a local rule on an
// existing outbound endpoint in this zone.
func (g *Generic) AddResolver(ctx *pulumi.Context, fw topology.Forwarder, endpointID string) (*resolver.Resolver, error) {
	if g.resolver != nil {
		return g.resolver, nil
	}
	r, err := resolver.New(ctx, "generic-resolver", resolver.Args{
		Segment:            g.Segment,
		Forwarder:          fw,
		Replicas:           g.settings.Directory.Replicas,
		ExistingEndpointID: endpointID,
	})
	if err != nil {
		return nil, err
	}
	g.resolver = r
	return r, nil
}

// LaunchMachine starts the worker. A secret join is refused with
// ErrGrantMissing unless readers, the principals the shared zone granted,
// include the worker role.
func (g *Generic) LaunchMachine(ctx *pulumi.Context, join topology.JoinMethod, readers []string) (*worker.Worker, error) {
	if g.Worker != nil {
		return g.Worker, nil
	}
	if _, ok := join.(topology.SecretJoin); ok && !contains(readers, g.RoleArn) {
		return nil, ErrGrantMissing
	}

	w, err := worker.New(ctx, "windows-worker", worker.Args{
		Segment:          g.Segment,
		Role:             g.Role,
		InstanceType:     g.settings.Worker.InstanceType,
		UsePrivateSubnet: g.settings.Worker.UsePrivateSubnet,
		Join:             join,
	})
	if err != nil {
		return nil, err
	}
	g.Worker = w
	return w, nil
}

func associateRule(ctx *pulumi.Context, zone, ruleID string, seg *network.Segment) (*route53.ResolverRuleAssociation, error) {
	if ruleID == "" {
		return nil, errors.New("resolver rule id is empty")
	}
	return resolver.Associate(ctx, zone+"-rule-assoc", pulumi.String(ruleID), seg.Vpc.ID().ToStringOutput())
}
