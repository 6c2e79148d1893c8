package network

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

var routeNameReplacer = strings.NewReplacer(".", "-", "/", "-")

// InstallRoute sends traffic for destination through the transit gateway from
// every private route table, and from the public ones when includePublic is
// set. Each route waits for the segment's attachment. Installing the same
// destination twice returns the routes created the first time.
func (s *Segment) InstallRoute(ctx *pulumi.Context, destination string, transitGatewayID pulumi.StringInput, includePublic bool) ([]*ec2.Route, error) {
	if routes, ok := s.routes[destination]; ok {
		return routes, nil
	}
	if s.Attachment == nil {
		return nil, errors.Errorf("%s is not attached to a transit gateway", s.Name)
	}

	_, dest, err := net.ParseCIDR(destination)
	if err != nil || dest.String() != destination {
		return nil, errors.Errorf("route destination %q is not a network address", destination)
	}
	_, own, err := net.ParseCIDR(s.CidrBlock)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", s.CidrBlock)
	}
	if own.Contains(dest.IP) || dest.Contains(own.IP) {
		return nil, errors.Errorf("route destination %s overlaps %s's own block %s", destination, s.Name, s.CidrBlock)
	}

	tables := map[string]*ec2.RouteTable{}
	for i, rt := range s.PrivateRouteTables {
		tables[fmt.Sprintf("private-%d", i+1)] = rt
	}
	if includePublic {
		for i, rt := range s.PublicRouteTables {
			tables[fmt.Sprintf("public-%d", i+1)] = rt
		}
	}
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	suffix := routeNameReplacer.Replace(destination)
	routes := make([]*ec2.Route, 0, len(keys))
	for _, key := range keys {
		// Create route toward the peer zone via the transit gateway
		route, err := ec2.NewRoute(ctx, fmt.Sprintf("%s-%s-to-%s", s.Name, key, suffix), &ec2.RouteArgs{
			RouteTableId:         tables[key].ID(),
			DestinationCidrBlock: pulumi.String(destination),
			TransitGatewayId:     transitGatewayID,
		}, pulumi.DependsOn([]pulumi.Resource{s.Attachment}))
		if err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	s.routes[destination] = routes
	return routes, nil
}

// Destinations lists the blocks routes were installed for, sorted.
func (s *Segment) Destinations() []string {
	out := make([]string, 0, len(s.routes))
	for d := range s.routes {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
