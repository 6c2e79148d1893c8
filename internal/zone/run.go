package zone

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

// Program is the Pulumi program shared by every zone's stack. The zone comes
// from stack config.
func Program(ctx *pulumi.Context) error {
	// 1. Read the zone's stack config
	s, err := topology.Load(ctx)
	if err != nil {
		return err
	}

	// 2. Reference the peer zones' stacks
	refs, err := NewStackReferences(ctx, s.Zone, s.Stacks)
	if err != nil {
		return err
	}

	// 3. Declare the zone and export its outputs
	return Run(ctx, s, refs)
}

// Run declares one zone. Every step whose cross-zone inputs are known is
// applied; the rest wait for a later pass, after the peer stacks have
// published what they need.
func Run(ctx *pulumi.Context, s *topology.Settings, up Upstream) error {
	in, err := ResolveInputs(s, up)
	if err != nil {
		return err
	}

	switch s.Zone {
	case topology.Networking:
		return runNetworking(ctx, s, in)
	case topology.SharedResources:
		return runShared(ctx, s, in)
	case topology.Generic:
		return runGeneric(ctx, s, in)
	}
	return errors.Errorf("unknown zone %q", s.Zone)
}

func runNetworking(ctx *pulumi.Context, s *topology.Settings, in *Inputs) error {
	hub, err := NewNetworking(ctx, s)
	if err != nil {
		return err
	}
	ctx.Export(OutputTransitGatewayID, hub.Backbone.TransitGateway.ID())

	for _, dest := range s.Plan.Peers(topology.Networking) {
		if _, err := hub.InstallRoute(ctx, dest); err != nil {
			return err
		}
	}
	ctx.Export(OutputRouteDestinations, pulumi.ToStringArray(hub.Segment.Destinations()))

	if len(in.DirectoryDNS) == 0 {
		ctx.Log.Info("directory DNS addresses not published yet, skipping the forwarding rule", nil)
		return nil
	}
	fw, err := topology.NewForwarder(s.Directory.DomainName, in.DirectoryDNS, s.Directory.Replicas)
	if err != nil {
		return err
	}
	r, err := hub.AddForwardingRule(ctx, fw)
	if err != nil {
		return err
	}
	ctx.Export(OutputResolverRuleID, r.Rule.ID())
	ctx.Export(OutputResolverRuleAssociationID, r.Association.ID())
	return nil
}

func runShared(ctx *pulumi.Context, s *topology.Settings, in *Inputs) error {
	shared, err := NewSharedResources(ctx, s)
	if err != nil {
		return err
	}
	dir := shared.Directory
	ctx.Export(OutputSecretName, pulumi.String(dir.SecretName))
	ctx.Export(OutputSecretArn, dir.SecretArn)
	ctx.Export(OutputKMSKeyArn, dir.Key.Arn)
	ctx.Export(OutputDirectoryID, dir.MicrosoftAD.ID())
	ctx.Export(OutputDirectoryDNS, dir.DNSAddresses())
	ctx.Export(OutputDomainName, pulumi.String(dir.DomainName))

	if in.TransitGatewayID != "" {
		if err := shared.AttachToBackbone(ctx, in.TransitGatewayID); err != nil {
			return err
		}
		for _, dest := range s.Plan.Peers(topology.SharedResources) {
			if _, err := shared.InstallRoute(ctx, dest, in.TransitGatewayID); err != nil {
				return err
			}
		}
	} else {
		ctx.Log.Info("transit gateway not published yet, skipping attachment and routes", nil)
	}
	ctx.Export(OutputRouteDestinations, pulumi.ToStringArray(shared.Segment.Destinations()))

	if in.ResolverRuleID != "" {
		assoc, err := shared.AssociateRule(ctx, in.ResolverRuleID)
		if err != nil {
			return err
		}
		ctx.Export(OutputResolverRuleAssociationID, assoc.ID())
	}

	readers := append([]string(nil), s.SecretReaders...)
	if in.WorkerRoleArn != "" && !contains(readers, in.WorkerRoleArn) {
		readers = append(readers, in.WorkerRoleArn)
	}
	if err := shared.GrantSecretAccess(ctx, readers); err != nil {
		return err
	}
	ctx.Export(OutputSecretReaders, pulumi.ToStringArray(dir.Readers()))
	return nil
}

func runGeneric(ctx *pulumi.Context, s *topology.Settings, in *Inputs) error {
	generic, err := NewGeneric(ctx, s, in.SecretArn, in.KMSKeyArn)
	if err != nil {
		return err
	}
	ctx.Export(OutputWorkerRoleArn, generic.Role.Role.Arn)

	if in.TransitGatewayID != "" {
		if err := generic.AttachToBackbone(ctx, in.TransitGatewayID); err != nil {
			return err
		}
		for _, dest := range s.Plan.Peers(topology.Generic) {
			if _, err := generic.InstallRoute(ctx, dest, in.TransitGatewayID); err != nil {
				return err
			}
		}
	} else {
		ctx.Log.Info("transit gateway not published yet, skipping attachment and routes", nil)
	}
	ctx.Export(OutputRouteDestinations, pulumi.ToStringArray(generic.Segment.Destinations()))

	switch {
	case in.ResolverRuleID != "":
		assoc, err := generic.AssociateRule(ctx, in.ResolverRuleID)
		if err != nil {
			return err
		}
		ctx.Export(OutputResolverRuleAssociationID, assoc.ID())
	case s.Literals.ResolverEndpointID != "" && len(in.DirectoryDNS) > 0:
		fw, err := topology.NewForwarder(s.Directory.DomainName, in.DirectoryDNS, s.Directory.Replicas)
		if err != nil {
			return err
		}
		r, err := generic.AddResolver(ctx, fw, s.Literals.ResolverEndpointID)
		if err != nil {
			return err
		}
		ctx.Export(OutputResolverRuleAssociationID, r.Association.ID())
	}

	if !s.Worker.Launch {
		return nil
	}
	return launchWorker(ctx, s, in, generic)
}

func launchWorker(ctx *pulumi.Context, s *topology.Settings, in *Inputs, generic *Generic) error {
	var join topology.JoinMethod
	var err error
	if strings.EqualFold(s.Worker.JoinMethod, "directory") {
		join, err = topology.ResolveJoinMethod(s.Worker.DirectoryID, s.Worker.DirectoryName, "")
	} else {
		if in.SecretArn == "" {
			ctx.Log.Info("directory secret not published yet, not launching the worker", nil)
			return nil
		}
		join, err = topology.ResolveJoinMethod("", "", in.SecretArn)
	}
	if err != nil {
		return err
	}

	w, err := generic.LaunchMachine(ctx, join, in.SecretReaders)
	if errors.Is(err, ErrGrantMissing) {
		ctx.Log.Warn(err.Error()+", not launching the worker", nil)
		return nil
	}
	if err != nil {
		return err
	}
	ctx.Export(OutputWorkerInstanceID, w.Instance.ID())
	if _, ok := join.(topology.DirectoryJoin); ok {
		ctx.Export(OutputWorkerPublicDNS, w.Instance.PublicDns)
	}

	if s.Worker.RDPCidr != "" {
		if err := w.OpenRDP(ctx, s.Worker.RDPCidr); err != nil {
			return err
		}
	}
	if len(s.Worker.PostBootCommands) > 0 {
		if _, err := w.RunPowerShell(ctx, "worker-post-boot", s.Worker.PostBootCommands); err != nil {
			return err
		}
	}
	return nil
}
