// Package deploy drives the three zone stacks through the deployment phases,
// re-reading every stack's outputs on each run to find where it left off.
package deploy

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
	"github.com/dudutwizer/mad-shared-accounts/internal/zone"
)

// Phase is how far the topology has been deployed. Phases are ordered.
type Phase int

const (
	Undeployed Phase = iota
	HubDeployed
	SharedDeployed
	RoutesInstalled
	ResolverAssociated
	PermissionsGranted
	WorkerLaunched
)

var phaseNames = []string{
	"UNDEPLOYED",
	"HUB_DEPLOYED",
	"SHARED_DEPLOYED",
	"ROUTES_INSTALLED",
	"RESOLVER_ASSOCIATED",
	"PERMISSIONS_GRANTED",
	"WORKER_LAUNCHED",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// ParsePhase accepts a phase name in any case, with dashes or underscores.
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, name := range phaseNames {
		if name == norm {
			return Phase(i), nil
		}
	}
	return Undeployed, errors.Errorf("unknown phase %q, expected one of %s", s, strings.Join(phaseNames, ", "))
}

// Outputs are one stack's published outputs.
type Outputs map[string]interface{}

// Snapshot holds the outputs of every zone's stack.
type Snapshot map[topology.ZoneKind]Outputs

func (s Snapshot) str(z topology.ZoneKind, key string) string {
	v, _ := s[z][key].(string)
	return v
}

func (s Snapshot) list(z topology.ZoneKind, key string) []string {
	switch v := s[z][key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// DetectPhase returns the last phase whose conditions, and those of every
// phase before it, hold in the snapshot. The grant is only checked against
// the published readers here; the controller also verifies it live.
func DetectPhase(plan topology.AddressPlan, workerRoleArn string, snap Snapshot) Phase {
	checks := []func() bool{
		HubDeployed: func() bool {
			return snap.str(topology.Networking, zone.OutputTransitGatewayID) != ""
		},
		SharedDeployed: func() bool {
			return snap.str(topology.SharedResources, zone.OutputSecretArn) != "" &&
				len(snap.list(topology.SharedResources, zone.OutputDirectoryDNS)) > 0
		},
		RoutesInstalled: func() bool {
			for _, z := range topology.Zones {
				if !containsAll(snap.list(z, zone.OutputRouteDestinations), plan.Peers(z)) {
					return false
				}
			}
			return true
		},
		ResolverAssociated: func() bool {
			return snap.str(topology.Networking, zone.OutputResolverRuleID) != "" &&
				snap.str(topology.SharedResources, zone.OutputResolverRuleAssociationID) != "" &&
				snap.str(topology.Generic, zone.OutputResolverRuleAssociationID) != ""
		},
		PermissionsGranted: func() bool {
			return workerRoleArn != "" && containsAll(snap.list(topology.SharedResources, zone.OutputSecretReaders), []string{workerRoleArn})
		},
		WorkerLaunched: func() bool {
			return snap.str(topology.Generic, zone.OutputWorkerInstanceID) != ""
		},
	}

	phase := Undeployed
	for p := HubDeployed; p <= WorkerLaunched; p++ {
		if !checks[p]() {
			break
		}
		phase = p
	}
	return phase
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// step is the work that moves the topology into phase.
type step struct {
	phase Phase
	zones []topology.ZoneKind
}

// steps are ordered so each stack sees its peers' latest outputs: generic
// publishes the worker role before the hub and shared zones are updated,
// the hub publishes its rule before the spokes associate it.
var steps = []step{
	{HubDeployed, []topology.ZoneKind{topology.Networking}},
	{SharedDeployed, []topology.ZoneKind{topology.SharedResources}},
	{RoutesInstalled, []topology.ZoneKind{topology.Generic, topology.Networking, topology.SharedResources}},
	{ResolverAssociated, []topology.ZoneKind{topology.Networking, topology.SharedResources, topology.Generic}},
	{PermissionsGranted, []topology.ZoneKind{topology.SharedResources}},
	{WorkerLaunched, []topology.ZoneKind{topology.Generic}},
}

func stepTo(p Phase) (step, bool) {
	for _, s := range steps {
		if s.phase == p {
			return s, true
		}
	}
	return step{}, false
}
