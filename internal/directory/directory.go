// Package directory stands up the managed Active Directory of the shared zone
// together with the admin credential used to join machines to it.
package directory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/directoryservice"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/kms"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/secretsmanager"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ssm"
	"github.com/pulumi/pulumi-random/sdk/v4/go/random"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/dudutwizer/mad-shared-accounts/internal/network"
)

// AdminUser is the directory account stored in the secret.
const AdminUser = "Admin"

// Credential is the JSON body of the directory secret. The worker's startup
// script reads these exact field names.
type Credential struct {
	Domain   string `json:"Domain"`
	UserID   string `json:"UserID"`
	Password string `json:"Password"`
}

type Args struct {
	DomainName string
	// Edition is Standard or Enterprise.
	Edition string
	// Segment hosts the directory. When nil a segment is created from
	// CidrBlock and AvailabilityZones.
	Segment           *network.Segment
	CidrBlock         string
	AvailabilityZones []string
	// ExistingSecretArn reuses a secret holding a Credential instead of
	// generating one.
	ExistingSecretArn string
	// ParameterPrefix is where the directory details get published in
	// Parameter Store. Empty disables publishing.
	ParameterPrefix string
}

type Directory struct {
	name        string
	DomainName  string
	SecretName  string
	SecretArn   pulumi.StringOutput
	Segment     *network.Segment
	Key         *kms.Key
	MicrosoftAD *directoryservice.Directory

	readers []string
}

// New creates the KMS key, the credential secret and the MicrosoftAD
// directory on the first two private subnets of the segment.
func New(ctx *pulumi.Context, name string, args Args) (*Directory, error) {
	if args.DomainName == "" {
		return nil, errors.New("directory domain name is empty")
	}
	edition := args.Edition
	if edition == "" {
		edition = "Standard"
	}
	if edition != "Standard" && edition != "Enterprise" {
		return nil, errors.Errorf("directory edition must be Standard or Enterprise, got %q", edition)
	}

	seg := args.Segment
	if seg == nil {
		if args.CidrBlock == "" {
			return nil, errors.New("directory needs a network segment or a CIDR block")
		}
		var err error
		seg, err = network.NewSegment(ctx, name, network.SegmentArgs{
			CidrBlock:         args.CidrBlock,
			AvailabilityZones: args.AvailabilityZones,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "creating the network of directory %s", args.DomainName)
		}
	}
	if len(seg.PrivateSubnets) < 2 {
		return nil, errors.Errorf("directory needs two private subnets, %s has %d", seg.Name, len(seg.PrivateSubnets))
	}

	d := &Directory{
		name:       name,
		DomainName: args.DomainName,
		SecretName: args.DomainName + "-secret",
		Segment:    seg,
	}

	// Create KMS key for the directory secret
	key, err := kms.NewKey(ctx, name+"-key", &kms.KeyArgs{
		Description:       pulumi.String("KMS for AD"),
		EnableKeyRotation: pulumi.Bool(true),
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name + "-key"),
		},
	})
	if err != nil {
		return nil, err
	}
	d.Key = key

	var password pulumi.StringOutput
	if args.ExistingSecretArn != "" {
		d.SecretName, password, err = existingSecret(ctx, args.ExistingSecretArn)
		if err != nil {
			return nil, err
		}
		d.SecretArn = pulumi.String(args.ExistingSecretArn).ToStringOutput()
	} else {
		password, d.SecretArn, err = d.generateSecret(ctx, key)
		if err != nil {
			return nil, err
		}
	}

	// Create the managed Microsoft AD
	ad, err := directoryservice.NewDirectory(ctx, name+"-mad", &directoryservice.DirectoryArgs{
		Name:     pulumi.String(args.DomainName),
		Password: password,
		Edition:  pulumi.String(edition),
		Type:     pulumi.String("MicrosoftAD"),
		VpcSettings: &directoryservice.DirectoryVpcSettingsArgs{
			VpcId: seg.Vpc.ID(),
			SubnetIds: pulumi.StringArray{
				seg.PrivateSubnets[0].ID(),
				seg.PrivateSubnets[1].ID(),
			},
		},
		Tags: pulumi.StringMap{
			"Name": pulumi.String(name + "-mad"),
		},
	})
	if err != nil {
		return nil, err
	}
	d.MicrosoftAD = ad

	if args.ParameterPrefix != "" {
		if err := d.publishParameters(ctx, strings.TrimSuffix(args.ParameterPrefix, "/")); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Directory) generateSecret(ctx *pulumi.Context, key *kms.Key) (pulumi.StringOutput, pulumi.StringOutput, error) {
	var none pulumi.StringOutput

	// Generate the admin password
	password, err := random.NewRandomPassword(ctx, d.name+"-password", &random.RandomPasswordArgs{
		Length:  pulumi.Int(32),
		Special: pulumi.Bool(false),
	})
	if err != nil {
		return none, none, err
	}

	// Create secret holding the directory credential
	secret, err := secretsmanager.NewSecret(ctx, d.name+"-secret", &secretsmanager.SecretArgs{
		Name:     pulumi.String(d.SecretName),
		KmsKeyId: key.Arn,
		Tags: pulumi.StringMap{
			"Name": pulumi.String(d.SecretName),
		},
	})
	if err != nil {
		return none, none, err
	}

	domain := d.DomainName
	body := password.Result.ApplyT(func(p string) (string, error) {
		b, err := json.Marshal(Credential{Domain: domain, UserID: AdminUser, Password: p})
		return string(b), err
	}).(pulumi.StringOutput)

	_, err = secretsmanager.NewSecretVersion(ctx, d.name+"-secret-version", &secretsmanager.SecretVersionArgs{
		SecretId:     secret.ID(),
		SecretString: pulumi.ToSecret(body).(pulumi.StringOutput),
	})
	if err != nil {
		return none, none, err
	}
	return password.Result, secret.Arn, nil
}

// existingSecret reads the name and the admin password of a secret holding
// a Credential.
func existingSecret(ctx *pulumi.Context, secretArn string) (string, pulumi.StringOutput, error) {
	var none pulumi.StringOutput

	secret, err := secretsmanager.LookupSecret(ctx, &secretsmanager.LookupSecretArgs{
		Arn: pulumi.StringRef(secretArn),
	})
	if err != nil {
		return "", none, errors.Wrapf(err, "looking up secret %s", secretArn)
	}
	version, err := secretsmanager.LookupSecretVersion(ctx, &secretsmanager.LookupSecretVersionArgs{
		SecretId: secretArn,
	})
	if err != nil {
		return "", none, errors.Wrapf(err, "reading secret %s", secretArn)
	}
	var cred Credential
	if err := json.Unmarshal([]byte(version.SecretString), &cred); err != nil {
		return "", none, errors.Wrapf(err, "secret %s is not a directory credential", secretArn)
	}
	if cred.Password == "" {
		return "", none, errors.Errorf("secret %s has no Password", secretArn)
	}
	return secret.Name, pulumi.ToSecret(pulumi.String(cred.Password)).(pulumi.StringOutput), nil
}

func (d *Directory) publishParameters(ctx *pulumi.Context, prefix string) error {
	params := []struct {
		key   string
		kind  string
		value pulumi.StringInput
	}{
		{"domain-name", "String", pulumi.String(d.DomainName)},
		{"directory-id", "String", d.MicrosoftAD.ID().ToStringOutput()},
		{"dns-ips", "StringList", d.DNSAddresses().ApplyT(func(ips []string) string {
			return strings.Join(ips, ",")
		}).(pulumi.StringOutput)},
		{"secret-arn", "String", d.SecretArn},
	}
	for _, p := range params {
		// Store directory details in SSM Parameter Store
		_, err := ssm.NewParameter(ctx, fmt.Sprintf("%s-%s-param", d.name, p.key), &ssm.ParameterArgs{
			Name:  pulumi.String(prefix + "/" + p.key),
			Type:  pulumi.String(p.kind),
			Value: p.value,
			Tags: pulumi.StringMap{
				"Name": pulumi.String(d.name + "-" + p.key),
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DNSAddresses are the directory's DNS servers, one per replica.
func (d *Directory) DNSAddresses() pulumi.StringArrayOutput {
	return d.MicrosoftAD.DnsIpAddresses
}

// Readers returns the principals GrantSecretAccess was called with.
func (d *Directory) Readers() []string {
	return append([]string(nil), d.readers...)
}
