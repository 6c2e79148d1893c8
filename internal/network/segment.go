package network

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/cloudwatch"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2transitgateway"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// SegmentArgs describe one zone's private network.
type SegmentArgs struct {
	CidrBlock         string
	AvailabilityZones []string
	FlowLogs          bool
}

// Segment holds all the networking resources of one zone
type Segment struct {
	Name               string
	CidrBlock          string
	Vpc                *ec2.Vpc
	PublicSubnets      []*ec2.Subnet
	PrivateSubnets     []*ec2.Subnet
	InternetGateway    *ec2.InternetGateway
	NatGateway         *ec2.NatGateway
	PublicRouteTables  []*ec2.RouteTable
	PrivateRouteTables []*ec2.RouteTable
	FlowLogGroup       *cloudwatch.LogGroup
	Attachment         *ec2transitgateway.VpcAttachment

	routes map[string][]*ec2.Route
}

// NewSegment creates the VPC, one public and one private subnet per AZ, the
// internet and NAT gateways and a route table per subnet.
func NewSegment(ctx *pulumi.Context, name string, args SegmentArgs) (*Segment, error) {
	publicCidrs, privateCidrs, err := SplitBlock(args.CidrBlock, len(args.AvailabilityZones))
	if err != nil {
		return nil, err
	}

	seg := &Segment{
		Name:      name,
		CidrBlock: args.CidrBlock,
		routes:    map[string][]*ec2.Route{},
	}

	// Create VPC
	seg.Vpc, err = ec2.NewVpc(ctx, name+"-vpc", &ec2.VpcArgs{
		CidrBlock:          pulumi.String(args.CidrBlock),
		EnableDnsSupport:   pulumi.Bool(true),
		EnableDnsHostnames: pulumi.Bool(true),
		Tags:               nameTag(name + "-vpc"),
	})
	if err != nil {
		return nil, err
	}

	// Create Internet Gateway
	seg.InternetGateway, err = ec2.NewInternetGateway(ctx, name+"-igw", &ec2.InternetGatewayArgs{
		VpcId: seg.Vpc.ID(),
		Tags:  nameTag(name + "-igw"),
	})
	if err != nil {
		return nil, err
	}

	for i, az := range args.AvailabilityZones {
		// Create public subnet in this AZ
		public, err := ec2.NewSubnet(ctx, fmt.Sprintf("%s-public-subnet-%d", name, i+1), &ec2.SubnetArgs{
			VpcId:               seg.Vpc.ID(),
			CidrBlock:           pulumi.String(publicCidrs[i]),
			AvailabilityZone:    pulumi.String(az),
			MapPublicIpOnLaunch: pulumi.Bool(true),
			Tags:                nameTag(fmt.Sprintf("%s-public-subnet-%d", name, i+1)),
		})
		if err != nil {
			return nil, err
		}
		seg.PublicSubnets = append(seg.PublicSubnets, public)

		// Create private subnet in this AZ
		private, err := ec2.NewSubnet(ctx, fmt.Sprintf("%s-private-subnet-%d", name, i+1), &ec2.SubnetArgs{
			VpcId:            seg.Vpc.ID(),
			CidrBlock:        pulumi.String(privateCidrs[i]),
			AvailabilityZone: pulumi.String(az),
			Tags:             nameTag(fmt.Sprintf("%s-private-subnet-%d", name, i+1)),
		})
		if err != nil {
			return nil, err
		}
		seg.PrivateSubnets = append(seg.PrivateSubnets, private)
	}

	// Create NAT Gateway in the first public subnet
	eip, err := ec2.NewEip(ctx, name+"-nat-eip", &ec2.EipArgs{
		Vpc:  pulumi.Bool(true),
		Tags: nameTag(name + "-nat-eip"),
	})
	if err != nil {
		return nil, err
	}
	seg.NatGateway, err = ec2.NewNatGateway(ctx, name+"-nat", &ec2.NatGatewayArgs{
		AllocationId: eip.ID(),
		SubnetId:     seg.PublicSubnets[0].ID(),
		Tags:         nameTag(name + "-nat"),
	}, pulumi.DependsOn([]pulumi.Resource{seg.InternetGateway}))
	if err != nil {
		return nil, err
	}

	for i, subnet := range seg.PublicSubnets {
		rt, err := newSubnetRouteTable(ctx, seg, fmt.Sprintf("%s-public-rt-%d", name, i+1), subnet)
		if err != nil {
			return nil, err
		}
		_, err = ec2.NewRoute(ctx, fmt.Sprintf("%s-public-default-%d", name, i+1), &ec2.RouteArgs{
			RouteTableId:         rt.ID(),
			DestinationCidrBlock: pulumi.String("0.0.0.0/0"),
			GatewayId:            seg.InternetGateway.ID(),
		})
		if err != nil {
			return nil, err
		}
		seg.PublicRouteTables = append(seg.PublicRouteTables, rt)
	}

	for i, subnet := range seg.PrivateSubnets {
		rt, err := newSubnetRouteTable(ctx, seg, fmt.Sprintf("%s-private-rt-%d", name, i+1), subnet)
		if err != nil {
			return nil, err
		}
		_, err = ec2.NewRoute(ctx, fmt.Sprintf("%s-private-default-%d", name, i+1), &ec2.RouteArgs{
			RouteTableId:         rt.ID(),
			DestinationCidrBlock: pulumi.String("0.0.0.0/0"),
			NatGatewayId:         seg.NatGateway.ID(),
		})
		if err != nil {
			return nil, err
		}
		seg.PrivateRouteTables = append(seg.PrivateRouteTables, rt)
	}

	if args.FlowLogs {
		if err := seg.enableFlowLogs(ctx); err != nil {
			return nil, err
		}
	}
	return seg, nil
}

// PrivateSubnetIDs returns the private subnet ids, one per AZ.
func (s *Segment) PrivateSubnetIDs() pulumi.StringArray {
	ids := make(pulumi.StringArray, 0, len(s.PrivateSubnets))
	for _, subnet := range s.PrivateSubnets {
		ids = append(ids, subnet.ID())
	}
	return ids
}

// AttachToBackbone attaches the private subnets to a transit gateway.
func (s *Segment) AttachToBackbone(ctx *pulumi.Context, transitGatewayID pulumi.StringInput, opts ...pulumi.ResourceOption) (*ec2transitgateway.VpcAttachment, error) {
	if s.Attachment != nil {
		return s.Attachment, nil
	}

	// Create Transit Gateway VPC attachment
	attachment, err := ec2transitgateway.NewVpcAttachment(ctx, s.Name+"-tgw-attachment", &ec2transitgateway.VpcAttachmentArgs{
		TransitGatewayId: transitGatewayID,
		VpcId:            s.Vpc.ID(),
		SubnetIds:        s.PrivateSubnetIDs(),
		DnsSupport:       pulumi.String("enable"),
		Tags:             nameTag(s.Name + "-tgw-attachment"),
	}, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "attaching %s to the transit gateway", s.Name)
	}
	s.Attachment = attachment
	return attachment, nil
}

func newSubnetRouteTable(ctx *pulumi.Context, seg *Segment, name string, subnet *ec2.Subnet) (*ec2.RouteTable, error) {
	// Create route table
	rt, err := ec2.NewRouteTable(ctx, name, &ec2.RouteTableArgs{
		VpcId: seg.Vpc.ID(),
		Tags:  nameTag(name),
	})
	if err != nil {
		return nil, err
	}

	// Associate subnet with route table
	_, err = ec2.NewRouteTableAssociation(ctx, name+"-assoc", &ec2.RouteTableAssociationArgs{
		SubnetId:     subnet.ID(),
		RouteTableId: rt.ID(),
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (s *Segment) enableFlowLogs(ctx *pulumi.Context) error {
	// Create log group for VPC flow logs
	group, err := cloudwatch.NewLogGroup(ctx, s.Name+"-flow-logs", &cloudwatch.LogGroupArgs{
		RetentionInDays: pulumi.Int(30),
		Tags:            nameTag(s.Name + "-flow-logs"),
	})
	if err != nil {
		return err
	}

	// Create role the flow log service writes with
	role, err := iam.NewRole(ctx, s.Name+"-flow-logs-role", &iam.RoleArgs{
		AssumeRolePolicy: pulumi.String(`{
			"Version": "2012-10-17",
			"Statement": [{
				"Action": "sts:AssumeRole",
				"Principal": {
					"Service": "vpc-flow-logs.amazonaws.com"
				},
				"Effect": "Allow"
			}]
		}`),
		InlinePolicies: iam.RoleInlinePolicyArray{
			&iam.RoleInlinePolicyArgs{
				Name: pulumi.String("flow-logs-delivery"),
				Policy: pulumi.String(`{
					"Version": "2012-10-17",
					"Statement": [{
						"Action": [
							"logs:CreateLogStream",
							"logs:PutLogEvents",
							"logs:DescribeLogGroups",
							"logs:DescribeLogStreams"
						],
						"Effect": "Allow",
						"Resource": "*"
					}]
				}`),
			},
		},
		Tags: nameTag(s.Name + "-flow-logs-role"),
	})
	if err != nil {
		return err
	}

	// Create VPC flow log
	_, err = ec2.NewFlowLog(ctx, s.Name+"-flow-log", &ec2.FlowLogArgs{
		VpcId:              s.Vpc.ID(),
		TrafficType:        pulumi.String("ALL"),
		LogDestinationType: pulumi.String("cloud-watch-logs"),
		LogDestination:     group.Arn,
		IamRoleArn:         role.Arn,
		Tags:               nameTag(s.Name + "-flow-log"),
	})
	if err != nil {
		return err
	}
	s.FlowLogGroup = group
	return nil
}

func nameTag(name string) pulumi.StringMap {
	return pulumi.StringMap{
		"Name": pulumi.String(name),
	}
}
