package zone

import (
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudutwizer/mad-shared-accounts/internal/pulumitest"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

const (
	networkingAccount = "527610730990"
	sharedAccount     = "117923233529"
	genericAccount    = "656988738169"

	tgwID     = "tgw-0a1b2c3d"
	ruleID    = "rslvr-rr-0a1b2c3d"
	secretArn = "arn:aws:secretsmanager:us-east-1:117923233529:secret:test.aws-secret-lEO8rL"
	keyArn    = "arn:aws:kms:us-east-1:117923233529:key/3c1d5f0e"
)

var workerRoleArn = topology.RoleArn(genericAccount, topology.DefaultWorkerRole)

func settings(zone topology.ZoneKind) *topology.Settings {
	accounts := map[topology.ZoneKind]string{
		topology.Networking:      networkingAccount,
		topology.SharedResources: sharedAccount,
		topology.Generic:         genericAccount,
	}
	return &topology.Settings{
		Zone:              zone,
		AccountID:         accounts[zone],
		Region:            "us-east-1",
		AvailabilityZones: []string{"us-east-1a", "us-east-1b"},
		Plan: topology.AddressPlan{
			SharedAccount:     "10.0.1.0/24",
			NetworkingAccount: "10.0.2.0/24",
			GenericAccount:    "10.0.3.0/24",
		},
		Principals: []string{sharedAccount, genericAccount},
		Directory: topology.DirectorySettings{
			DomainName: "test.aws",
			Edition:    "Enterprise",
			Replicas:   topology.DefaultDirectoryReplicas,
		},
		Worker: topology.WorkerSettings{
			RoleName:     topology.DefaultWorkerRole,
			InstanceType: topology.DefaultInstanceType,
			JoinMethod:   "secret",
			RDPCidr:      "83.130.43.233/32",
			Launch:       true,
		},
	}
}

// published is what every stack exports once the topology is complete.
func published() StaticOutputs {
	return StaticOutputs{
		topology.Networking: {
			OutputTransitGatewayID: tgwID,
			OutputResolverRuleID:   ruleID,
		},
		topology.SharedResources: {
			OutputSecretArn:     secretArn,
			OutputKMSKeyArn:     keyArn,
			OutputDirectoryDNS:  []interface{}{"10.0.1.162", "10.0.1.228"},
			OutputSecretReaders: []interface{}{workerRoleArn},
		},
		topology.Generic: {
			OutputWorkerRoleArn: workerRoleArn,
		},
	}
}

func run(t *testing.T, s *topology.Settings, up Upstream) (*pulumitest.Mocks, error) {
	t.Helper()
	return pulumitest.Run(func(ctx *pulumi.Context) error {
		return Run(ctx, s, up)
	})
}

// backboneRoutes counts routes through the transit gateway by destination.
func backboneRoutes(m *pulumitest.Mocks) map[string]int {
	out := map[string]int{}
	for _, r := range m.Resources(pulumitest.TypeRoute) {
		if _, ok := r.Inputs["transitGatewayId"]; ok {
			out[pulumitest.String(r, "destinationCidrBlock")]++
		}
	}
	return out
}

func TestNetworkingFirstPass(t *testing.T) {
	mocks, err := run(t, settings(topology.Networking), StaticOutputs{})
	require.NoError(t, err)

	assert.Equal(t, 1, mocks.Count(pulumitest.TypeTransitGateway))
	assert.Equal(t, 1, mocks.Count(pulumitest.TypeVpcAttachment))
	assert.Equal(t, map[string]int{"10.0.1.0/24": 2, "10.0.3.0/24": 2}, backboneRoutes(mocks))
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeResolverRule))

	share, ok := mocks.Named(pulumitest.TypeResourceShare, "tgw-share-share")
	require.True(t, ok)
	assert.Equal(t, "tgw-share", pulumitest.String(share, "name"))
	assert.Equal(t, 2, mocks.Count(pulumitest.TypePrincipalAssociation))
}

func TestNetworkingAddsForwardingRule(t *testing.T) {
	mocks, err := run(t, settings(topology.Networking), published())
	require.NoError(t, err)

	rule, ok := mocks.Named(pulumitest.TypeResolverRule, "networking-resolver-rule")
	require.True(t, ok)
	var targets []string
	for _, v := range rule.Inputs["targetIps"].ArrayValue() {
		targets = append(targets, v.ObjectValue()["ip"].StringValue())
	}
	assert.Equal(t, []string{"10.0.1.162", "10.0.1.228"}, targets)
	assert.Equal(t, "test.aws", pulumitest.String(rule, "domainName"))

	_, ok = mocks.Named(pulumitest.TypeResourceShare, "resolver-share-share")
	assert.True(t, ok)
}

func TestNetworkingRejectsReplicaMismatch(t *testing.T) {
	up := published()
	up[topology.SharedResources][OutputDirectoryDNS] = []interface{}{"10.0.1.162", "10.0.1.228", "10.0.1.10"}

	mocks, err := run(t, settings(topology.Networking), up)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 target addresses")
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeResolverRule))
}

func TestSharedFirstPass(t *testing.T) {
	mocks, err := run(t, settings(topology.SharedResources), StaticOutputs{})
	require.NoError(t, err)

	assert.Equal(t, 1, mocks.Count(pulumitest.TypeDirectory))
	assert.Equal(t, 1, mocks.Count(pulumitest.TypeSecret))
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeVpcAttachment))
	assert.Empty(t, backboneRoutes(mocks))
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeResolverRuleAssociation))
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeSecretPolicy))
}

func TestSharedWithPeersPublished(t *testing.T) {
	mocks, err := run(t, settings(topology.SharedResources), published())
	require.NoError(t, err)

	attachment := mocks.Resources(pulumitest.TypeVpcAttachment)
	require.Len(t, attachment, 1)
	assert.Equal(t, tgwID, pulumitest.String(attachment[0], "transitGatewayId"))
	assert.Equal(t, map[string]int{"10.0.2.0/24": 2, "10.0.3.0/24": 2}, backboneRoutes(mocks))

	assoc, ok := mocks.Named(pulumitest.TypeResolverRuleAssociation, "shared-rule-assoc")
	require.True(t, ok)
	assert.Equal(t, ruleID, pulumitest.String(assoc, "resolverRuleId"))

	require.Equal(t, 1, mocks.Count(pulumitest.TypeGrant))
	assert.Equal(t, workerRoleArn, pulumitest.String(mocks.Resources(pulumitest.TypeGrant)[0], "granteePrincipal"))
}

func TestSharedInExistingVpc(t *testing.T) {
	s := settings(topology.SharedResources)
	s.Directory.ExistingVpcID = "vpc-0a1b2c3d"
	s.Directory.ExistingSubnetIDs = []string{"subnet-0aaa", "subnet-0bbb"}
	s.Directory.ExistingRouteTableIDs = []string{"rtb-0ccc"}

	mocks, err := run(t, s, published())
	require.NoError(t, err)

	assert.Equal(t, 0, mocks.Count(pulumitest.TypeNatGateway))
	ad, ok := mocks.Named(pulumitest.TypeDirectory, "mad-mad")
	require.True(t, ok)
	assert.Equal(t, "vpc-0a1b2c3d", ad.Inputs["vpcSettings"].ObjectValue()["vpcId"].StringValue())

	routes := mocks.Resources(pulumitest.TypeRoute)
	require.Len(t, routes, 2)
	for _, r := range routes {
		assert.Equal(t, "rtb-0ccc", pulumitest.String(r, "routeTableId"))
	}
}

func TestSharedRejectsExistingVpcOutsidePlan(t *testing.T) {
	s := settings(topology.SharedResources)
	s.Plan.SharedAccount = "10.0.4.0/24"
	s.Directory.ExistingVpcID = "vpc-0a1b2c3d"
	s.Directory.ExistingSubnetIDs = []string{"subnet-0aaa", "subnet-0bbb"}

	_, err := run(t, s, StaticOutputs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "the address plan gives the shared zone 10.0.4.0/24")
}

func TestGenericLaunchesWorker(t *testing.T) {
	s := settings(topology.Generic)
	s.Worker.PostBootCommands = []string{"Install-WindowsFeature RSAT-AD-Tools"}

	mocks, err := run(t, s, published())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"10.0.1.0/24": 4, "10.0.2.0/24": 4}, backboneRoutes(mocks))
	_, ok := mocks.Named(pulumitest.TypeResolverRuleAssociation, "generic-rule-assoc")
	assert.True(t, ok)

	instances := mocks.Resources(pulumitest.TypeInstance)
	require.Len(t, instances, 1)
	assert.Contains(t, pulumitest.String(instances[0], "userData"), secretArn)

	_, ok = mocks.Named(pulumitest.TypeSecurityGroupRule, "windows-worker-rdp-1")
	assert.True(t, ok)
	_, ok = mocks.Named(pulumitest.TypeSsmAssociation, "worker-post-boot")
	assert.True(t, ok)

	policy, ok := mocks.Named("aws:iam/rolePolicy:RolePolicy", "worker-secret-access")
	require.True(t, ok)
	assert.Contains(t, pulumitest.String(policy, "policy"), secretArn)
}

func TestGenericWaitsForGrant(t *testing.T) {
	up := published()
	up[topology.SharedResources][OutputSecretReaders] = []interface{}{}

	mocks, err := run(t, settings(topology.Generic), up)
	require.NoError(t, err)
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeInstance))
	assert.Equal(t, 1, mocks.Count(pulumitest.TypeRole))
}

func TestGenericWithoutLaunch(t *testing.T) {
	s := settings(topology.Generic)
	s.Worker.Launch = false

	mocks, err := run(t, s, published())
	require.NoError(t, err)
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeInstance))
}

func TestGenericDirectoryJoin(t *testing.T) {
	s := settings(topology.Generic)
	s.Worker.JoinMethod = "directory"
	s.Worker.DirectoryID = "d-9067a1b2c3"
	s.Worker.DirectoryName = "test.aws"
	up := published()
	up[topology.SharedResources][OutputSecretReaders] = nil

	mocks, err := run(t, s, up)
	require.NoError(t, err)
	require.Equal(t, 1, mocks.Count(pulumitest.TypeInstance))
	_, ok := mocks.Named(pulumitest.TypeSsmAssociation, "windows-worker-join-domain")
	assert.True(t, ok)
}

func TestGenericDirectoryJoinNeedsReference(t *testing.T) {
	s := settings(topology.Generic)
	s.Worker.JoinMethod = "directory"

	_, err := run(t, s, published())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join method is missing")
}

func TestGenericLocalResolver(t *testing.T) {
	s := settings(topology.Generic)
	s.Literals.ResolverEndpointID = "rslvr-out-local"
	up := published()
	delete(up[topology.Networking], OutputResolverRuleID)

	mocks, err := run(t, s, up)
	require.NoError(t, err)

	rule, ok := mocks.Named(pulumitest.TypeResolverRule, "generic-resolver-rule")
	require.True(t, ok)
	assert.Equal(t, "rslvr-out-local", pulumitest.String(rule, "resolverEndpointId"))
	assert.Equal(t, 0, mocks.Count(pulumitest.TypeResolverEndpoint))
}

func TestFullMeshRoutes(t *testing.T) {
	pairs := map[topology.ZoneKind][]string{}
	for _, z := range topology.Zones {
		mocks, err := run(t, settings(z), published())
		require.NoError(t, err, z)
		for dest := range backboneRoutes(mocks) {
			pairs[z] = append(pairs[z], dest)
		}
	}

	var total int
	plan := settings(topology.Networking).Plan
	for _, rd := range plan.RouteDestinations() {
		assert.Contains(t, pairs[rd.Zone], rd.Destination)
		total++
	}
	assert.Equal(t, 6, total)
	for _, z := range topology.Zones {
		assert.Len(t, pairs[z], 2, z)
	}
}

func TestLiteralsTakePrecedence(t *testing.T) {
	s := settings(topology.Generic)
	s.Literals.TransitGatewayID = "tgw-literal"
	s.Literals.ForwarderTargets = []string{"10.0.1.5", "10.0.1.6"}

	in, err := ResolveInputs(s, published())
	require.NoError(t, err)
	assert.Equal(t, "tgw-literal", in.TransitGatewayID)
	assert.Equal(t, ruleID, in.ResolverRuleID)
	assert.Equal(t, []string{"10.0.1.5", "10.0.1.6"}, in.DirectoryDNS)
	assert.Equal(t, []string{workerRoleArn}, in.SecretReaders)
	// a zone never reads its own outputs
	assert.Empty(t, in.WorkerRoleArn)
}

func TestResolveInputsRejectsWrongTypes(t *testing.T) {
	up := published()
	up[topology.Networking][OutputTransitGatewayID] = 42

	_, err := ResolveInputs(settings(topology.Generic), up)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transitGatewayId")
}

func TestStackReferences(t *testing.T) {
	m := &pulumitest.Mocks{StackOutputs: map[string]resource.PropertyMap{
		"acme/mad-shared-accounts/networking": {
			OutputTransitGatewayID: resource.NewStringProperty(tgwID),
		},
		"acme/mad-shared-accounts/shared": {
			OutputDirectoryDNS: resource.NewArrayProperty([]resource.PropertyValue{
				resource.NewStringProperty("10.0.1.162"),
				resource.NewStringProperty("10.0.1.228"),
			}),
		},
	}}
	stacks := topology.StackNames{
		Networking: "acme/mad-shared-accounts/networking",
		Shared:     "acme/mad-shared-accounts/shared",
		Generic:    "acme/mad-shared-accounts/generic",
	}

	var in *Inputs
	_, err := pulumitest.RunWith(m, func(ctx *pulumi.Context) error {
		refs, err := NewStackReferences(ctx, topology.Generic, stacks)
		if err != nil {
			return err
		}
		in, err = ResolveInputs(settings(topology.Generic), refs)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, tgwID, in.TransitGatewayID)
	assert.Equal(t, []string{"10.0.1.162", "10.0.1.228"}, in.DirectoryDNS)
	assert.Empty(t, in.ResolverRuleID)
	assert.Empty(t, in.SecretArn)
	assert.Equal(t, 2, m.Count(pulumitest.TypeStackReference))
}

func TestProgramReadsConfigAndPeers(t *testing.T) {
	t.Setenv("PULUMI_CONFIG", `{
		"aws:region": "us-east-1",
		"mad-shared-accounts:zone": "networking",
		"mad-shared-accounts:accountId": "527610730990",
		"mad-shared-accounts:addressPlan": "{\"sharedAccount\":\"10.0.1.0/24\",\"networkingAccount\":\"10.0.2.0/24\",\"genericAccount\":\"10.0.3.0/24\"}",
		"mad-shared-accounts:stacks": "{\"networking\":\"acme/mad-shared-accounts/networking\",\"shared\":\"acme/mad-shared-accounts/shared\",\"generic\":\"acme/mad-shared-accounts/generic\"}"
	}`)
	m := &pulumitest.Mocks{StackOutputs: map[string]resource.PropertyMap{
		"acme/mad-shared-accounts/shared": {
			OutputDirectoryDNS: resource.NewArrayProperty([]resource.PropertyValue{
				resource.NewStringProperty("10.0.1.162"),
				resource.NewStringProperty("10.0.1.228"),
			}),
		},
	}}

	_, err := pulumitest.RunWith(m, Program)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Count(pulumitest.TypeStackReference))
	assert.Equal(t, 1, m.Count(pulumitest.TypeTransitGateway))
	_, ok := m.Named(pulumitest.TypeResolverRule, "networking-resolver-rule")
	assert.True(t, ok)
}
