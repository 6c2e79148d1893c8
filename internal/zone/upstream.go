package zone

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

// Upstream reads values published by other zones' stacks. A nil value with a
// nil error means the output has not been published yet.
type Upstream interface {
	Output(zone topology.ZoneKind, name string) (interface{}, error)
}

// StackReferences reads peer outputs through Pulumi stack references.
type StackReferences struct {
	refs map[topology.ZoneKind]*pulumi.StackReference
}

// NewStackReferences references every peer zone's stack that has a name.
func NewStackReferences(ctx *pulumi.Context, self topology.ZoneKind, stacks topology.StackNames) (*StackReferences, error) {
	s := &StackReferences{refs: map[topology.ZoneKind]*pulumi.StackReference{}}
	for _, z := range topology.Zones {
		name := stacks.Of(z)
		if z == self || name == "" {
			continue
		}
		ref, err := pulumi.NewStackReference(ctx, fmt.Sprintf("%s-ref", z), &pulumi.StackReferenceArgs{
			Name: pulumi.String(name),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "referencing stack %s", name)
		}
		s.refs[z] = ref
	}
	return s, nil
}

func (s *StackReferences) Output(zone topology.ZoneKind, name string) (interface{}, error) {
	ref, ok := s.refs[zone]
	if !ok {
		return nil, nil
	}
	details, err := ref.GetOutputDetails(name)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s from the %s stack", name, zone)
	}
	if details.Value != nil {
		return details.Value, nil
	}
	return details.SecretValue, nil
}

// StaticOutputs is an Upstream backed by fixed values.
type StaticOutputs map[topology.ZoneKind]map[string]interface{}

func (s StaticOutputs) Output(zone topology.ZoneKind, name string) (interface{}, error) {
	return s[zone][name], nil
}

// Inputs are the cross-zone values a zone program depends on. Empty fields
// are not resolvable yet.
type Inputs struct {
	TransitGatewayID string
	ResolverRuleID   string
	SecretArn        string
	KMSKeyArn        string
	DirectoryDNS     []string
	WorkerRoleArn    string
	SecretReaders    []string
}

// ResolveInputs fills Inputs from the configured literals, falling back to the
// outputs of peer stacks.
func ResolveInputs(s *topology.Settings, up Upstream) (*Inputs, error) {
	in := &Inputs{}
	strs := []struct {
		dst     *string
		literal string
		zone    topology.ZoneKind
		output  string
	}{
		{&in.TransitGatewayID, s.Literals.TransitGatewayID, topology.Networking, OutputTransitGatewayID},
		{&in.ResolverRuleID, s.Literals.ResolverRuleID, topology.Networking, OutputResolverRuleID},
		{&in.SecretArn, s.Literals.SecretArn, topology.SharedResources, OutputSecretArn},
		{&in.KMSKeyArn, s.Literals.KMSKeyArn, topology.SharedResources, OutputKMSKeyArn},
		{&in.WorkerRoleArn, "", topology.Generic, OutputWorkerRoleArn},
	}
	for _, v := range strs {
		if v.literal != "" {
			*v.dst = v.literal
			continue
		}
		if v.zone == s.Zone {
			continue
		}
		raw, err := up.Output(v.zone, v.output)
		if err != nil {
			return nil, err
		}
		if *v.dst, err = asString(raw); err != nil {
			return nil, errors.Wrapf(err, "%s output %s", v.zone, v.output)
		}
	}

	lists := []struct {
		dst     *[]string
		literal []string
		zone    topology.ZoneKind
		output  string
	}{
		{&in.DirectoryDNS, s.Literals.ForwarderTargets, topology.SharedResources, OutputDirectoryDNS},
		{&in.SecretReaders, nil, topology.SharedResources, OutputSecretReaders},
	}
	for _, v := range lists {
		if len(v.literal) > 0 {
			*v.dst = append([]string(nil), v.literal...)
			continue
		}
		if v.zone == s.Zone {
			continue
		}
		raw, err := up.Output(v.zone, v.output)
		if err != nil {
			return nil, err
		}
		if *v.dst, err = asStrings(raw); err != nil {
			return nil, errors.Wrapf(err, "%s output %s", v.zone, v.output)
		}
	}
	return in, nil
}

func asString(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	}
	return "", errors.Errorf("expected a string, got %T", v)
}

func asStrings(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), t...), nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			str, ok := item.(string)
			if !ok {
				return nil, errors.Errorf("expected a list of strings, found %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, errors.Errorf("expected a list of strings, got %T", v)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
