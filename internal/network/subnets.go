package network

import (
	"math/bits"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/pkg/errors"
)

// SplitBlock carves a zone block into one public and one private subnet per
// availability zone. Public subnets take the low indexes.
func SplitBlock(block string, azCount int) (public, private []string, err error) {
	if azCount < 1 {
		return nil, nil, errors.New("need at least one availability zone")
	}
	_, base, err := net.ParseCIDR(block)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parsing %s", block)
	}

	newBits := bits.Len(uint(2*azCount - 1))
	for i := 0; i < 2*azCount; i++ {
		subnet, err := cidr.Subnet(base, newBits, i)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "carving subnet %d of %s", i, block)
		}
		if i < azCount {
			public = append(public, subnet.String())
		} else {
			private = append(private, subnet.String())
		}
	}
	return public, private, nil
}
