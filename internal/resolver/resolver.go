// Package resolver forwards DNS queries for the directory domain from a
// segment to the directory's DNS servers.
package resolver

import (
	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/route53"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/network"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

const dnsPort = 53

type Args struct {
	Segment   *network.Segment
	Forwarder topology.Forwarder
	// Replicas is how many DNS servers the directory runs; the forwarder
	// must list one target per replica.
	Replicas int
	// ExistingEndpointID reuses an outbound endpoint instead of creating one.
	ExistingEndpointID string
	// DependsOn orders the rule after other resources, the transit gateway
	// in the hub zone.
	DependsOn []pulumi.Resource
}

type Resolver struct {
	SecurityGroup *ec2.SecurityGroup
	Endpoint      *route53.ResolverEndpoint
	EndpointID    pulumi.StringOutput
	Rule          *route53.ResolverRule
	Association   *route53.ResolverRuleAssociation
}

// New creates the outbound endpoint unless one is supplied, the FORWARD rule
// and its association with the segment's VPC.
func New(ctx *pulumi.Context, name string, args Args) (*Resolver, error) {
	if args.Segment == nil {
		return nil, errors.New("resolver needs a network segment")
	}
	if err := args.Forwarder.Validate(args.Replicas); err != nil {
		return nil, err
	}

	r := &Resolver{}
	if args.ExistingEndpointID != "" {
		r.EndpointID = pulumi.String(args.ExistingEndpointID).ToStringOutput()
	} else if err := r.createEndpoint(ctx, name, args.Segment); err != nil {
		return nil, err
	}

	targets := route53.ResolverRuleTargetIpArray{}
	for _, ip := range args.Forwarder.TargetIPs {
		targets = append(targets, &route53.ResolverRuleTargetIpArgs{
			Ip:   pulumi.String(ip),
			Port: pulumi.Int(dnsPort),
		})
	}

	var opts []pulumi.ResourceOption
	if len(args.DependsOn) > 0 {
		opts = append(opts, pulumi.DependsOn(args.DependsOn))
	}

	// Create forwarding rule for the directory domain
	rule, err := route53.NewResolverRule(ctx, name+"-rule", &route53.ResolverRuleArgs{
		Name:               pulumi.String(name + "-rule"),
		DomainName:         pulumi.String(args.Forwarder.DomainName),
		RuleType:           pulumi.String("FORWARD"),
		ResolverEndpointId: r.EndpointID,
		TargetIps:          targets,
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name + "-rule"),
		},
	}, opts...)
	if err != nil {
		return nil, err
	}
	r.Rule = rule

	r.Association, err = Associate(ctx, name+"-assoc", rule.ID().ToStringOutput(), args.Segment.Vpc.ID().ToStringOutput())
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) createEndpoint(ctx *pulumi.Context, name string, seg *network.Segment) error {
	// Create security group for the resolver endpoint
	sg, err := ec2.NewSecurityGroup(ctx, name+"-sg", &ec2.SecurityGroupArgs{
		VpcId:       seg.Vpc.ID(),
		Description: pulumi.String("Outbound Route53 resolver endpoint"),
		Ingress: ec2.SecurityGroupIngressArray{
			&ec2.SecurityGroupIngressArgs{
				Protocol:    pulumi.String("udp"),
				FromPort:    pulumi.Int(dnsPort),
				ToPort:      pulumi.Int(dnsPort),
				CidrBlocks:  pulumi.StringArray{pulumi.String(seg.CidrBlock)},
				Description: pulumi.String("Allow DNS over UDP from the VPC"),
			},
			&ec2.SecurityGroupIngressArgs{
				Protocol:    pulumi.String("tcp"),
				FromPort:    pulumi.Int(dnsPort),
				ToPort:      pulumi.Int(dnsPort),
				CidrBlocks:  pulumi.StringArray{pulumi.String(seg.CidrBlock)},
				Description: pulumi.String("Allow DNS over TCP from the VPC"),
			},
		},
		Egress: ec2.SecurityGroupEgressArray{
			&ec2.SecurityGroupEgressArgs{
				Protocol:    pulumi.String("-1"),
				FromPort:    pulumi.Int(0),
				ToPort:      pulumi.Int(0),
				CidrBlocks:  pulumi.StringArray{pulumi.String("0.0.0.0/0")},
				Description: pulumi.String("Allow all outbound traffic"),
			},
		},
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name + "-sg"),
		},
	})
	if err != nil {
		return err
	}
	r.SecurityGroup = sg

	ips := route53.ResolverEndpointIpAddressArray{}
	for _, subnet := range seg.PrivateSubnets {
		ips = append(ips, &route53.ResolverEndpointIpAddressArgs{
			SubnetId: subnet.ID(),
		})
	}

	// Create outbound resolver endpoint in the private subnets
	endpoint, err := route53.NewResolverEndpoint(ctx, name+"-endpoint", &route53.ResolverEndpointArgs{
		Name:             pulumi.String(name + "-endpoint"),
		Direction:        pulumi.String("OUTBOUND"),
		IpAddresses:      ips,
		SecurityGroupIds: pulumi.StringArray{sg.ID()},
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name + "-endpoint"),
		},
	})
	if err != nil {
		return err
	}
	r.Endpoint = endpoint
	r.EndpointID = endpoint.ID().ToStringOutput()
	return nil
}

// Associate binds a rule, possibly created and shared by another account, to
// a VPC.
func Associate(ctx *pulumi.Context, name string, ruleID, vpcID pulumi.StringInput, opts ...pulumi.ResourceOption) (*route53.ResolverRuleAssociation, error) {
	return route53.NewResolverRuleAssociation(ctx, name, &route53.ResolverRuleAssociationArgs{
		Name:           pulumi.String(name),
		ResolverRuleId: ruleID,
		VpcId:          vpcID,
	}, opts...)
}
