// Package worker launches the Windows instance that joins the managed
// directory, either through SSM or with the credential in Secrets Manager.
package worker

import (
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ssm"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/network"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

const (
	DefaultInstanceType = "t3.medium"

	joinDocument       = "AWS-JoinDirectoryServiceDomain"
	powerShellDocument = "AWS-RunPowerShellScript"
	windowsImageName   = "Windows_Server-2019-English-Full-Base-*"
	rdpPort            = 3389
)

type Args struct {
	Segment          *network.Segment
	Role             *Role
	InstanceType     string
	UsePrivateSubnet bool
	Join             topology.JoinMethod
}

type Worker struct {
	name          string
	Instance      *ec2.Instance
	SecurityGroup *ec2.SecurityGroup
	// JoinAssociation is set for directory joins.
	JoinAssociation *ssm.Association

	rdpSources []string
	batches    int
}

// New launches one Windows Server 2019 instance in the first public subnet,
// or the first private one when UsePrivateSubnet is set.
func New(ctx *pulumi.Context, name string, args Args) (*Worker, error) {
	if args.Segment == nil || args.Role == nil {
		return nil, errors.New("worker needs a network segment and a role")
	}
	if args.Join == nil {
		return nil, errors.New("worker join method is missing")
	}
	subnets := args.Segment.PublicSubnets
	if args.UsePrivateSubnet {
		subnets = args.Segment.PrivateSubnets
	}
	if len(subnets) == 0 {
		return nil, errors.Errorf("%s has no subnets to place the worker in", args.Segment.Name)
	}
	instanceType := args.InstanceType
	if instanceType == "" {
		instanceType = DefaultInstanceType
	}

	var userData pulumi.StringPtrInput
	switch join := args.Join.(type) {
	case topology.SecretJoin:
		userData = pulumi.String(JoinScript(join.SecretArn))
	case topology.DirectoryJoin:
	default:
		return nil, errors.Errorf("unsupported join method %T", join)
	}

	// Get the latest Windows Server 2019 AMI
	ami, err := ec2.LookupAmi(ctx, &ec2.LookupAmiArgs{
		Owners:     []string{"amazon"},
		MostRecent: pulumi.BoolRef(true),
		Filters: []ec2.GetAmiFilter{
			{
				Name:   "name",
				Values: []string{windowsImageName},
			},
			{
				Name:   "platform",
				Values: []string{"windows"},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	// Create security group for the worker
	sg, err := ec2.NewSecurityGroup(ctx, name+"-sg", &ec2.SecurityGroupArgs{
		VpcId:       args.Segment.Vpc.ID(),
		Description: pulumi.String("Security group for the Windows worker"),
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name + "-sg"),
		},
	})
	if err != nil {
		return nil, err
	}
	_, err = ec2.NewSecurityGroupRule(ctx, name+"-egress", &ec2.SecurityGroupRuleArgs{
		Type:            pulumi.String("egress"),
		SecurityGroupId: sg.ID(),
		Protocol:        pulumi.String("-1"),
		FromPort:        pulumi.Int(0),
		ToPort:          pulumi.Int(0),
		CidrBlocks:      pulumi.StringArray{pulumi.String("0.0.0.0/0")},
		Description:     pulumi.String("Allow all outbound traffic"),
	})
	if err != nil {
		return nil, err
	}

	// Create the Windows worker instance
	instance, err := ec2.NewInstance(ctx, name, &ec2.InstanceArgs{
		Ami:                      pulumi.String(ami.Id),
		InstanceType:             pulumi.String(instanceType),
		SubnetId:                 subnets[0].ID(),
		VpcSecurityGroupIds:      pulumi.StringArray{sg.ID()},
		IamInstanceProfile:       args.Role.Profile.Name,
		AssociatePublicIpAddress: pulumi.Bool(!args.UsePrivateSubnet),
		UserData:                 userData,
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name),
		},
	})
	if err != nil {
		return nil, err
	}

	w := &Worker{name: name, Instance: instance, SecurityGroup: sg}

	if join, ok := args.Join.(topology.DirectoryJoin); ok {
		// Join the domain through SSM
		w.JoinAssociation, err = ssm.NewAssociation(ctx, name+"-join-domain", &ssm.AssociationArgs{
			Name: pulumi.String(joinDocument),
			Parameters: pulumi.StringMap{
				"directoryId":   pulumi.String(join.DirectoryID),
				"directoryName": pulumi.String(join.DirectoryName),
			},
			Targets: w.targets(),
		})
		if err != nil {
			return nil, err
		}
	}
	return w, nil
}

// JoinScript is the user data joining the instance to the domain with the
// credential stored in secretArn. The secret is read by the instance at boot.
func JoinScript(secretArn string) string {
	return fmt.Sprintf(`<powershell>
[string]$SecretAD = "%s"
$SecretObj = Get-SECSecretValue -SecretId $SecretAD
[PSCustomObject]$Secret = ($SecretObj.SecretString | ConvertFrom-Json)
$password = $Secret.Password | ConvertTo-SecureString -asPlainText -Force
$username = $Secret.UserID + "@" + $Secret.Domain
$credential = New-Object System.Management.Automation.PSCredential($username,$password)
Add-Computer -DomainName $Secret.Domain -Credential $credential
Restart-Computer -Force
</powershell>
`, secretArn)
}

// OpenRDP allows remote desktop from cidr. Opening the same source twice is a
// no-op.
func (w *Worker) OpenRDP(ctx *pulumi.Context, cidr string) error {
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		return errors.Wrapf(err, "RDP source %q", cidr)
	}
	for _, s := range w.rdpSources {
		if s == cidr {
			return nil
		}
	}

	_, err := ec2.NewSecurityGroupRule(ctx, fmt.Sprintf("%s-rdp-%d", w.name, len(w.rdpSources)+1), &ec2.SecurityGroupRuleArgs{
		Type:            pulumi.String("ingress"),
		SecurityGroupId: w.SecurityGroup.ID(),
		Protocol:        pulumi.String("tcp"),
		FromPort:        pulumi.Int(rdpPort),
		ToPort:          pulumi.Int(rdpPort),
		CidrBlocks:      pulumi.StringArray{pulumi.String(cidr)},
		Description:     pulumi.String("Allow RDP"),
	})
	if err != nil {
		return err
	}
	w.rdpSources = append(w.rdpSources, cidr)
	return nil
}

// RunPowerShell runs a batch of commands on the instance through SSM.
func (w *Worker) RunPowerShell(ctx *pulumi.Context, name string, commands []string) (*ssm.Association, error) {
	if len(commands) == 0 {
		return nil, errors.New("no PowerShell commands to run")
	}
	if name == "" {
		name = fmt.Sprintf("%s-commands-%d", w.name, w.batches+1)
	}

	assoc, err := ssm.NewAssociation(ctx, name, &ssm.AssociationArgs{
		Name: pulumi.String(powerShellDocument),
		Parameters: pulumi.StringMap{
			"commands": pulumi.String(strings.Join(commands, "\n")),
		},
		Targets: w.targets(),
	})
	if err != nil {
		return nil, err
	}
	w.batches++
	return assoc, nil
}

// ID is the instance id.
func (w *Worker) ID() pulumi.StringOutput {
	return w.Instance.ID().ToStringOutput()
}

func (w *Worker) targets() ssm.AssociationTargetArray {
	return ssm.AssociationTargetArray{
		&ssm.AssociationTargetArgs{
			Key:    pulumi.String("InstanceIds"),
			Values: pulumi.StringArray{w.Instance.ID()},
		},
	}
}
