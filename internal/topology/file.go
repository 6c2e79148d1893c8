package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Account is where one zone is deployed.
type Account struct {
	ID                string   `yaml:"id"`
	Region            string   `yaml:"region"`
	Profile           string   `yaml:"profile,omitempty"`
	AvailabilityZones []string `yaml:"availabilityZones,omitempty"`
}

// File is the topology description consumed by topologyctl.
type File struct {
	Project      string               `yaml:"project"`
	Organization string               `yaml:"organization"`
	Accounts     map[ZoneKind]Account `yaml:"accounts"`
	AddressPlan  AddressPlan          `yaml:"addressPlan"`
	Directory    DirectorySettings    `yaml:"directory"`
	Worker       WorkerSettings       `yaml:"worker"`
	Literals     Literals             `yaml:"literals,omitempty"`
	FlowLogs     bool                 `yaml:"flowLogs"`

	// GrantRoleArn is assumed in the shared account to verify secret grants.
	GrantRoleArn string `yaml:"grantRoleArn,omitempty"`
}

// LoadFile reads and validates a topology file, filling defaults.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading topology file %s", path)
	}

	f := &File{}
	if err := yaml.Unmarshal(raw, f); err != nil {
		return nil, errors.Wrapf(err, "parsing topology file %s", path)
	}
	f.applyDefaults()

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) applyDefaults() {
	if f.Project == "" {
		f.Project = ConfigNamespace
	}
	if f.Organization == "" {
		f.Organization = "organization"
	}
	if f.Directory.DomainName == "" {
		f.Directory.DomainName = DefaultDomainName
	}
	if f.Directory.Edition == "" {
		f.Directory.Edition = DefaultEdition
	}
	if f.Directory.Replicas <= 0 {
		f.Directory.Replicas = DefaultDirectoryReplicas
	}
	if f.Worker.RoleName == "" {
		f.Worker.RoleName = DefaultWorkerRole
	}
	if f.Worker.InstanceType == "" {
		f.Worker.InstanceType = DefaultInstanceType
	}
	if f.Worker.JoinMethod == "" {
		f.Worker.JoinMethod = "secret"
	}
}

// Validate checks accounts and the address plan.
func (f *File) Validate() error {
	var result *multierror.Error
	for _, z := range Zones {
		acct, ok := f.Accounts[z]
		if !ok {
			result = multierror.Append(result, errors.Errorf("accounts.%s is missing", z))
			continue
		}
		if acct.ID == "" {
			result = multierror.Append(result, errors.Errorf("accounts.%s.id is empty", z))
		}
		if acct.Region == "" {
			result = multierror.Append(result, errors.Errorf("accounts.%s.region is empty", z))
		}
	}
	if err := f.AddressPlan.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.Worker.ValidateJoin(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := f.Directory.validateNetwork(); err != nil {
		result = multierror.Append(result, err)
	}
	if len(f.Literals.ForwarderTargets) > 0 {
		fw := Forwarder{DomainName: f.Directory.DomainName, TargetIPs: f.Literals.ForwarderTargets}
		if err := fw.Validate(f.Directory.Replicas); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Stacks returns the fully qualified stack name of every zone.
func (f *File) Stacks() StackNames {
	name := func(z ZoneKind) string {
		return fmt.Sprintf("%s/%s/%s", f.Organization, f.Project, z)
	}
	return StackNames{
		Networking: name(Networking),
		Shared:     name(SharedResources),
		Generic:    name(Generic),
	}
}

// WorkerRoleArn is the ARN the generic zone's worker role will have.
func (f *File) WorkerRoleArn() string {
	return RoleArn(f.Accounts[Generic].ID, f.Worker.RoleName)
}

// SecretArnPrefix is the ARN prefix of the directory secret; Secrets Manager
// appends a random suffix on creation.
func (f *File) SecretArnPrefix() string {
	acct := f.Accounts[SharedResources]
	return fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:%s-secret", acct.Region, acct.ID, f.Directory.DomainName)
}

// RoleArn formats an IAM role ARN.
func RoleArn(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}

// StackConfig returns the Pulumi config of one zone's stack, keyed by the
// fully qualified config key.
func (f *File) StackConfig(z ZoneKind) (map[string]string, error) {
	acct := f.Accounts[z]
	key := func(k string) string { return ConfigNamespace + ":" + k }

	cfg := map[string]string{
		"aws:region":                  acct.Region,
		key("zone"):                   string(z),
		key("accountId"):              acct.ID,
		key("domainName"):             f.Directory.DomainName,
		key("edition"):                f.Directory.Edition,
		key("directoryReplicas"):      strconv.Itoa(f.Directory.Replicas),
		key("flowLogs"):               strconv.FormatBool(f.FlowLogs),
		key("workerRoleName"):         f.Worker.RoleName,
		key("workerInstanceType"):     f.Worker.InstanceType,
		key("workerUsePrivateSubnet"): strconv.FormatBool(f.Worker.UsePrivateSubnet),
		key("workerJoinMethod"):       f.Worker.JoinMethod,
		key("launchWorker"):           strconv.FormatBool(f.Worker.Launch),
	}
	if acct.Profile != "" {
		cfg["aws:profile"] = acct.Profile
	}

	optional := map[string]string{
		"workerRdpCidr":       f.Worker.RDPCidr,
		"workerDirectoryId":   f.Worker.DirectoryID,
		"workerDirectoryName": f.Worker.DirectoryName,
		"existingSecretArn":   f.Directory.ExistingSecretArn,
		"existingVpcId":       f.Directory.ExistingVpcID,
		"transitGatewayId":    f.Literals.TransitGatewayID,
		"resolverRuleId":      f.Literals.ResolverRuleID,
		"secretArn":           f.Literals.SecretArn,
		"kmsKeyArn":           f.Literals.KMSKeyArn,
		"resolverEndpointId":  f.Literals.ResolverEndpointID,
	}
	for k, v := range optional {
		if v != "" {
			cfg[key(k)] = v
		}
	}

	var principals []string
	for _, peer := range Zones {
		if peer != Networking {
			principals = append(principals, f.Accounts[peer].ID)
		}
	}

	objects := map[string]interface{}{
		"addressPlan": f.AddressPlan,
		"stacks":      f.Stacks(),
		"principals":  principals,
	}
	if len(acct.AvailabilityZones) > 0 {
		objects["availabilityZones"] = acct.AvailabilityZones
	}
	if len(f.Literals.ForwarderTargets) > 0 {
		objects["forwarderTargets"] = f.Literals.ForwarderTargets
	}
	if len(f.Worker.PostBootCommands) > 0 {
		objects["workerPostBootCommands"] = f.Worker.PostBootCommands
	}
	if len(f.Directory.ExistingSubnetIDs) > 0 {
		objects["existingSubnetIds"] = f.Directory.ExistingSubnetIDs
	}
	if len(f.Directory.ExistingRouteTableIDs) > 0 {
		objects["existingRouteTableIds"] = f.Directory.ExistingRouteTableIDs
	}
	for k, v := range objects {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s", k)
		}
		cfg[key(k)] = string(raw)
	}

	allowed, err := json.Marshal([]string{acct.ID})
	if err != nil {
		return nil, err
	}
	cfg["aws:allowedAccountIds"] = string(allowed)
	return cfg, nil
}
