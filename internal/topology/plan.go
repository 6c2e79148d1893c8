package topology

import (
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ZoneKind identifies one of the three deployable account zones.
type ZoneKind string

const (
	Networking      ZoneKind = "networking"
	SharedResources ZoneKind = "shared"
	Generic         ZoneKind = "generic"
)

// Zones lists every zone in deployment order.
var Zones = []ZoneKind{Networking, SharedResources, Generic}

// ParseZone maps a config value onto a ZoneKind.
func ParseZone(s string) (ZoneKind, error) {
	for _, z := range Zones {
		if string(z) == s {
			return z, nil
		}
	}
	return "", errors.Errorf("unknown zone %q (want networking, shared or generic)", s)
}

// smallestZonePrefix is the longest prefix a zone block may carry.
const smallestZonePrefix = 24

// AddressPlan holds the static CIDR block of each zone.
type AddressPlan struct {
	SharedAccount     string `json:"sharedAccount" yaml:"sharedAccount"`
	NetworkingAccount string `json:"networkingAccount" yaml:"networkingAccount"`
	GenericAccount    string `json:"genericAccount" yaml:"genericAccount"`
}

// RouteDestination is one cross-zone route: traffic leaving Zone for Destination.
type RouteDestination struct {
	Zone        ZoneKind
	Destination string
}

// CIDR returns the block allocated to a zone.
func (p AddressPlan) CIDR(z ZoneKind) string {
	switch z {
	case Networking:
		return p.NetworkingAccount
	case SharedResources:
		return p.SharedAccount
	case Generic:
		return p.GenericAccount
	}
	return ""
}

// Peers returns the blocks of every other zone, in deployment order.
func (p AddressPlan) Peers(z ZoneKind) []string {
	peers := make([]string, 0, len(Zones)-1)
	for _, other := range Zones {
		if other != z {
			peers = append(peers, p.CIDR(other))
		}
	}
	return peers
}

// RouteDestinations returns the full mesh of zone to peer-block routes.
func (p AddressPlan) RouteDestinations() []RouteDestination {
	var out []RouteDestination
	for _, z := range Zones {
		for _, peer := range p.Peers(z) {
			out = append(out, RouteDestination{Zone: z, Destination: peer})
		}
	}
	return out
}

// Validate checks that every block parses, is a /24 or larger, and that the
// three blocks do not overlap. All problems are reported at once.
func (p AddressPlan) Validate() error {
	var result *multierror.Error
	var nets []*net.IPNet
	for _, z := range Zones {
		block := p.CIDR(z)
		if block == "" {
			result = multierror.Append(result, errors.Errorf("%s: address range is empty", z))
			continue
		}
		ip, ipnet, err := net.ParseCIDR(block)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "%s: invalid address range", z))
			continue
		}
		if ip.To4() == nil {
			result = multierror.Append(result, errors.Errorf("%s: %s is not an IPv4 range", z, block))
			continue
		}
		if !ip.Equal(ipnet.IP) {
			result = multierror.Append(result, errors.Errorf("%s: %s has host bits set (network is %s)", z, block, ipnet))
			continue
		}
		if ones, _ := ipnet.Mask.Size(); ones > smallestZonePrefix {
			result = multierror.Append(result, errors.Errorf("%s: %s is smaller than a /%d", z, block, smallestZonePrefix))
			continue
		}
		nets = append(nets, ipnet)
	}
	if len(nets) > 1 {
		_, all, _ := net.ParseCIDR("0.0.0.0/0")
		if err := cidr.VerifyNoOverlap(nets, all); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "address ranges overlap"))
		}
	}
	return result.ErrorOrNil()
}
