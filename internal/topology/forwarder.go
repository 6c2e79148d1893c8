package topology

import (
	"net"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// DefaultDirectoryReplicas is the number of domain controllers a managed
// Microsoft AD runs, and therefore the number of resolver targets it exposes.
const DefaultDirectoryReplicas = 2

// Forwarder routes DNS queries for DomainName to the directory's DNS addresses.
type Forwarder struct {
	DomainName string   `json:"domainName" yaml:"domainName"`
	TargetIPs  []string `json:"targetIps" yaml:"targetIps"`
}

// NewForwarder builds a Forwarder and validates it against the replica count.
func NewForwarder(domainName string, targets []string, replicas int) (Forwarder, error) {
	f := Forwarder{
		DomainName: domainName,
		TargetIPs:  append([]string(nil), targets...),
	}
	if err := f.Validate(replicas); err != nil {
		return Forwarder{}, err
	}
	return f, nil
}

// Validate rejects a forwarder whose target list does not match the number of
// directory replicas. A non-positive replicas means DefaultDirectoryReplicas.
func (f Forwarder) Validate(replicas int) error {
	if replicas <= 0 {
		replicas = DefaultDirectoryReplicas
	}

	var result *multierror.Error
	if strings.TrimSpace(f.DomainName) == "" {
		result = multierror.Append(result, errors.New("forwarder domain name is empty"))
	}
	if len(f.TargetIPs) != replicas {
		result = multierror.Append(result, errors.Errorf(
			"forwarder for %q has %d target addresses, directory has %d replicas",
			f.DomainName, len(f.TargetIPs), replicas))
	}

	seen := make(map[string]bool, len(f.TargetIPs))
	for _, ip := range f.TargetIPs {
		parsed := net.ParseIP(ip)
		if parsed == nil || parsed.To4() == nil {
			result = multierror.Append(result, errors.Errorf("forwarder target %q is not an IPv4 address", ip))
			continue
		}
		if seen[ip] {
			result = multierror.Append(result, errors.Errorf("forwarder target %s listed twice", ip))
		}
		seen[ip] = true
	}
	return result.ErrorOrNil()
}
