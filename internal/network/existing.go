package network

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// ExistingSegmentArgs name a VPC created outside this project.
type ExistingSegmentArgs struct {
	VpcID            string
	PrivateSubnetIDs []string
	// RouteTableIDs receive the transit gateway routes of InstallRoute.
	RouteTableIDs []string
}

// ExistingSegment reads an existing VPC, its private subnets and route tables
// into a Segment. Nothing is created; the segment can still be attached to a
// backbone and routed.
func ExistingSegment(ctx *pulumi.Context, name string, args ExistingSegmentArgs) (*Segment, error) {
	if args.VpcID == "" {
		return nil, errors.New("existing segment needs a VPC id")
	}
	if len(args.PrivateSubnetIDs) == 0 {
		return nil, errors.Errorf("existing segment %s has no private subnets", args.VpcID)
	}

	found, err := ec2.LookupVpc(ctx, &ec2.LookupVpcArgs{Id: pulumi.StringRef(args.VpcID)})
	if err != nil {
		return nil, errors.Wrapf(err, "looking up VPC %s", args.VpcID)
	}

	seg := &Segment{
		Name:      name,
		CidrBlock: found.CidrBlock,
		routes:    map[string][]*ec2.Route{},
	}

	seg.Vpc, err = ec2.GetVpc(ctx, name+"-vpc", pulumi.ID(args.VpcID), nil)
	if err != nil {
		return nil, err
	}
	for i, id := range args.PrivateSubnetIDs {
		subnet, err := ec2.GetSubnet(ctx, fmt.Sprintf("%s-private-subnet-%d", name, i+1), pulumi.ID(id), nil)
		if err != nil {
			return nil, err
		}
		seg.PrivateSubnets = append(seg.PrivateSubnets, subnet)
	}
	for i, id := range args.RouteTableIDs {
		rt, err := ec2.GetRouteTable(ctx, fmt.Sprintf("%s-private-rt-%d", name, i+1), pulumi.ID(id), nil)
		if err != nil {
			return nil, err
		}
		seg.PrivateRouteTables = append(seg.PrivateRouteTables, rt)
	}
	return seg, nil
}
