package topology

import (
	"github.com/pkg/errors"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// ConfigNamespace is the Pulumi project config namespace read by Load.
const ConfigNamespace = "mad-shared-accounts"

const (
	DefaultDomainName   = "test.aws"
	DefaultEdition      = "Standard"
	DefaultInstanceType = "t3.medium"
	DefaultWorkerRole   = "mad-windows-worker-role"
)

// StackNames are the fully qualified stack names ("org/project/stack") used for
// cross-stack references between zones.
type StackNames struct {
	Networking string `json:"networking" yaml:"networking"`
	Shared     string `json:"shared" yaml:"shared"`
	Generic    string `json:"generic" yaml:"generic"`
}

// Of returns the stack name configured for a zone.
func (s StackNames) Of(z ZoneKind) string {
	switch z {
	case Networking:
		return s.Networking
	case SharedResources:
		return s.Shared
	case Generic:
		return s.Generic
	}
	return ""
}

// Literals are hand-supplied identifiers that take precedence over values read
// from peer stacks. They exist for operators running passes by hand.
type Literals struct {
	TransitGatewayID string   `json:"transitGatewayId,omitempty" yaml:"transitGatewayId,omitempty"`
	ResolverRuleID   string   `json:"resolverRuleId,omitempty" yaml:"resolverRuleId,omitempty"`
	SecretArn        string   `json:"secretArn,omitempty" yaml:"secretArn,omitempty"`
	KMSKeyArn        string   `json:"kmsKeyArn,omitempty" yaml:"kmsKeyArn,omitempty"`
	ForwarderTargets []string `json:"forwarderTargets,omitempty" yaml:"forwarderTargets,omitempty"`

	// ResolverEndpointID is an outbound endpoint in the generic zone. When set
	// the generic zone forwards the directory domain through its own rule
	// instead of the one shared by the networking zone.
	ResolverEndpointID string `json:"resolverEndpointId,omitempty" yaml:"resolverEndpointId,omitempty"`
}

// DirectorySettings configure the managed directory in the shared zone.
type DirectorySettings struct {
	DomainName        string `json:"domainName" yaml:"domainName"`
	Edition           string `json:"edition" yaml:"edition"`
	Replicas          int    `json:"replicas" yaml:"replicas"`
	ExistingSecretArn string `json:"existingSecretArn,omitempty" yaml:"existingSecretArn,omitempty"`

	// ExistingVpcID places the directory in a VPC created outside this
	// project instead of a new one.
	ExistingVpcID         string   `json:"existingVpcId,omitempty" yaml:"existingVpcId,omitempty"`
	ExistingSubnetIDs     []string `json:"existingSubnetIds,omitempty" yaml:"existingSubnetIds,omitempty"`
	ExistingRouteTableIDs []string `json:"existingRouteTableIds,omitempty" yaml:"existingRouteTableIds,omitempty"`
}

func (d DirectorySettings) validateNetwork() error {
	if d.ExistingVpcID == "" {
		if len(d.ExistingSubnetIDs) > 0 || len(d.ExistingRouteTableIDs) > 0 {
			return errors.New("existing subnets or route tables need existingVpcId")
		}
		return nil
	}
	if len(d.ExistingSubnetIDs) < 2 {
		return errors.Errorf("existing VPC %s needs two private subnets for the directory, got %d", d.ExistingVpcID, len(d.ExistingSubnetIDs))
	}
	return nil
}

// WorkerSettings configure the worker instance in the generic zone.
type WorkerSettings struct {
	RoleName         string   `json:"roleName" yaml:"roleName"`
	InstanceType     string   `json:"instanceType" yaml:"instanceType"`
	UsePrivateSubnet bool     `json:"usePrivateSubnet" yaml:"usePrivateSubnet"`
	RDPCidr          string   `json:"rdpCidr,omitempty" yaml:"rdpCidr,omitempty"`
	JoinMethod       string   `json:"joinMethod" yaml:"joinMethod"`
	DirectoryID      string   `json:"directoryId,omitempty" yaml:"directoryId,omitempty"`
	DirectoryName    string   `json:"directoryName,omitempty" yaml:"directoryName,omitempty"`
	PostBootCommands []string `json:"postBootCommands,omitempty" yaml:"postBootCommands,omitempty"`
	Launch           bool     `json:"launch" yaml:"launch"`
}

// Settings is everything a zone program reads from its stack configuration.
type Settings struct {
	Zone              ZoneKind
	AccountID         string
	Region            string
	AvailabilityZones []string
	Plan              AddressPlan
	Stacks            StackNames
	Principals        []string
	SecretReaders     []string
	Directory         DirectorySettings
	Worker            WorkerSettings
	Literals          Literals
	FlowLogs          bool
}

// Load reads Settings from the stack configuration.
func Load(ctx *pulumi.Context) (*Settings, error) {
	// Get configuration values
	awsCfg := config.New(ctx, "aws")
	projectCfg := config.New(ctx, ConfigNamespace)

	zone, err := ParseZone(projectCfg.Require("zone"))
	if err != nil {
		return nil, err
	}

	s := &Settings{
		Zone:      zone,
		AccountID: projectCfg.Require("accountId"),
		Region:    awsCfg.Require("region"),
		FlowLogs:  projectCfg.GetBool("flowLogs"),
		Directory: DirectorySettings{
			DomainName:        getOr(projectCfg, "domainName", DefaultDomainName),
			Edition:           getOr(projectCfg, "edition", DefaultEdition),
			Replicas:          projectCfg.GetInt("directoryReplicas"),
			ExistingSecretArn: projectCfg.Get("existingSecretArn"),
			ExistingVpcID:     projectCfg.Get("existingVpcId"),
		},
		Worker: WorkerSettings{
			RoleName:         getOr(projectCfg, "workerRoleName", DefaultWorkerRole),
			InstanceType:     getOr(projectCfg, "workerInstanceType", DefaultInstanceType),
			UsePrivateSubnet: projectCfg.GetBool("workerUsePrivateSubnet"),
			RDPCidr:          projectCfg.Get("workerRdpCidr"),
			JoinMethod:       getOr(projectCfg, "workerJoinMethod", "secret"),
			DirectoryID:      projectCfg.Get("workerDirectoryId"),
			DirectoryName:    projectCfg.Get("workerDirectoryName"),
			Launch:           projectCfg.Get("launchWorker") != "false",
		},
		Literals: Literals{
			TransitGatewayID: projectCfg.Get("transitGatewayId"),
			ResolverRuleID:   projectCfg.Get("resolverRuleId"),
			SecretArn:        projectCfg.Get("secretArn"),
			KMSKeyArn:        projectCfg.Get("kmsKeyArn"),

			ResolverEndpointID: projectCfg.Get("resolverEndpointId"),
		},
	}
	if s.Directory.Replicas <= 0 {
		s.Directory.Replicas = DefaultDirectoryReplicas
	}

	if err := projectCfg.TryObject("addressPlan", &s.Plan); err != nil {
		return nil, errors.Wrap(err, "reading addressPlan")
	}

	objects := map[string]interface{}{
		"availabilityZones":      &s.AvailabilityZones,
		"stacks":                 &s.Stacks,
		"principals":             &s.Principals,
		"secretReaders":          &s.SecretReaders,
		"forwarderTargets":       &s.Literals.ForwarderTargets,
		"workerPostBootCommands": &s.Worker.PostBootCommands,
		"existingSubnetIds":      &s.Directory.ExistingSubnetIDs,
		"existingRouteTableIds":  &s.Directory.ExistingRouteTableIDs,
	}
	for key, out := range objects {
		if err := projectCfg.GetObject(key, out); err != nil {
			return nil, errors.Wrapf(err, "reading %s", key)
		}
	}
	if len(s.AvailabilityZones) == 0 {
		s.AvailabilityZones = []string{s.Region + "a", s.Region + "b"}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings that must hold before any resource is declared.
func (s *Settings) Validate() error {
	if err := s.Plan.Validate(); err != nil {
		return err
	}
	if len(s.AvailabilityZones) < 2 {
		return errors.Errorf("need at least two availability zones, got %d", len(s.AvailabilityZones))
	}
	if err := s.Worker.ValidateJoin(); err != nil {
		return err
	}
	if err := s.Directory.validateNetwork(); err != nil {
		return err
	}
	if len(s.Literals.ForwarderTargets) > 0 {
		if err := (Forwarder{DomainName: s.Directory.DomainName, TargetIPs: s.Literals.ForwarderTargets}).Validate(s.Directory.Replicas); err != nil {
			return err
		}
	}
	return nil
}

func getOr(cfg *config.Config, key, fallback string) string {
	if v := cfg.Get(key); v != "" {
		return v
	}
	return fallback
}
