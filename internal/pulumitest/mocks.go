// Package pulumitest records the resources a Pulumi program registers so
// tests can assert on the declared topology without a deployment engine.
package pulumitest

import (
	"fmt"
	"sync"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Type tokens asserted on by tests.
const (
	TypeVpc                     = "aws:ec2/vpc:Vpc"
	TypeSubnet                  = "aws:ec2/subnet:Subnet"
	TypeRouteTable              = "aws:ec2/routeTable:RouteTable"
	TypeRoute                   = "aws:ec2/route:Route"
	TypeNatGateway              = "aws:ec2/natGateway:NatGateway"
	TypeSecurityGroup           = "aws:ec2/securityGroup:SecurityGroup"
	TypeSecurityGroupRule       = "aws:ec2/securityGroupRule:SecurityGroupRule"
	TypeInstance                = "aws:ec2/instance:Instance"
	TypeFlowLog                 = "aws:ec2/flowLog:FlowLog"
	TypeTransitGateway          = "aws:ec2transitgateway/transitGateway:TransitGateway"
	TypeVpcAttachment           = "aws:ec2transitgateway/vpcAttachment:VpcAttachment"
	TypeResolverEndpoint        = "aws:route53/resolverEndpoint:ResolverEndpoint"
	TypeResolverRule            = "aws:route53/resolverRule:ResolverRule"
	TypeResolverRuleAssociation = "aws:route53/resolverRuleAssociation:ResolverRuleAssociation"
	TypeDirectory               = "aws:directoryservice/directory:Directory"
	TypeSecret                  = "aws:secretsmanager/secret:Secret"
	TypeSecretVersion           = "aws:secretsmanager/secretVersion:SecretVersion"
	TypeSecretPolicy            = "aws:secretsmanager/secretPolicy:SecretPolicy"
	TypeKey                     = "aws:kms/key:Key"
	TypeGrant                   = "aws:kms/grant:Grant"
	TypeResourceShare           = "aws:ram/resourceShare:ResourceShare"
	TypeResourceAssociation     = "aws:ram/resourceAssociation:ResourceAssociation"
	TypePrincipalAssociation    = "aws:ram/principalAssociation:PrincipalAssociation"
	TypeRole                    = "aws:iam/role:Role"
	TypeInstanceProfile         = "aws:iam/instanceProfile:InstanceProfile"
	TypeSsmAssociation          = "aws:ssm/association:Association"
	TypeSsmParameter            = "aws:ssm/parameter:Parameter"
	TypeLogGroup                = "aws:cloudwatch/logGroup:LogGroup"
	TypeRandomPassword          = "random:index/randomPassword:RandomPassword"
	TypeStackReference          = "pulumi:pulumi:StackReference"
)

// DirectoryDNS are the addresses the mock directory reports.
var DirectoryDNS = []string{"10.0.1.162", "10.0.1.228"}

// ExistingSecretString is the body returned for looked up secrets.
const ExistingSecretString = `{"Domain":"test.aws","UserID":"Admin","Password":"existing-password"}`

// ExistingSecretName is the name returned for looked up secrets.
const ExistingSecretName = "corp-directory-admin"

// ExistingVpcCidr is the block of every looked up VPC.
const ExistingVpcCidr = "10.0.1.0/24"

// Mocks implements pulumi.MockResourceMonitor and keeps every registration.
type Mocks struct {
	// StackOutputs are served to stack references, keyed by stack name.
	StackOutputs map[string]resource.PropertyMap

	mu        sync.Mutex
	resources []pulumi.MockResourceArgs
}

// Run executes a program against a fresh Mocks.
func Run(body pulumi.RunFunc) (*Mocks, error) {
	return RunWith(&Mocks{}, body)
}

// RunWith executes a program against m.
func RunWith(m *Mocks, body pulumi.RunFunc) (*Mocks, error) {
	err := pulumi.RunErr(body, pulumi.WithMocks("mad-shared-accounts", "test", m))
	return m, err
}

func (m *Mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	m.resources = append(m.resources, args)
	m.mu.Unlock()

	id := args.Name + "_id"
	if args.ID != "" {
		id = args.ID
	}
	outputs := args.Inputs.Copy()
	if outputs == nil {
		outputs = resource.PropertyMap{}
	}
	if _, ok := outputs["arn"]; !ok {
		outputs["arn"] = resource.NewStringProperty(fmt.Sprintf("arn:aws:mock:us-east-1:123456789012:%s", id))
	}

	switch args.TypeToken {
	case TypeStackReference:
		name := args.ID
		if v, ok := args.Inputs["name"]; ok && v.IsString() {
			name = v.StringValue()
		}
		outputs["outputs"] = resource.NewObjectProperty(m.StackOutputs[name])
	case TypeDirectory:
		dns := make([]resource.PropertyValue, 0, len(DirectoryDNS))
		for _, ip := range DirectoryDNS {
			dns = append(dns, resource.NewStringProperty(ip))
		}
		outputs["dnsIpAddresses"] = resource.NewArrayProperty(dns)
	case TypeRandomPassword:
		outputs["result"] = resource.NewStringProperty("generated-password")
	case TypeKey:
		outputs["keyId"] = resource.NewStringProperty(id)
	case TypeVpc:
		if _, ok := outputs["defaultRouteTableId"]; !ok {
			outputs["defaultRouteTableId"] = resource.NewStringProperty(id + "_rt")
		}
	case TypeInstance:
		outputs["publicDns"] = resource.NewStringProperty(args.Name + ".compute.amazonaws.com")
	}
	return id, outputs, nil
}

func (m *Mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	switch args.Token {
	case "aws:ec2/getAmi:getAmi":
		return resource.PropertyMap{
			"id":   resource.NewStringProperty("ami-0windows2019"),
			"name": resource.NewStringProperty("Windows_Server-2019-English-Full-Base-2023.01.01"),
		}, nil
	case "aws:secretsmanager/getSecretVersion:getSecretVersion":
		return resource.PropertyMap{
			"arn":          args.Args["secretId"],
			"secretString": resource.NewStringProperty(ExistingSecretString),
		}, nil
	case "aws:secretsmanager/getSecret:getSecret":
		return resource.PropertyMap{
			"arn":  args.Args["arn"],
			"name": resource.NewStringProperty(ExistingSecretName),
		}, nil
	case "aws:ec2/getVpc:getVpc":
		return resource.PropertyMap{
			"id":        args.Args["id"],
			"cidrBlock": resource.NewStringProperty(ExistingVpcCidr),
		}, nil
	case "aws:index/getCallerIdentity:getCallerIdentity":
		return resource.PropertyMap{
			"accountId": resource.NewStringProperty("123456789012"),
		}, nil
	}
	return args.Args, nil
}

// Resources returns every registration of the given type token.
func (m *Mocks) Resources(typeToken string) []pulumi.MockResourceArgs {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []pulumi.MockResourceArgs
	for _, r := range m.resources {
		if r.TypeToken == typeToken {
			out = append(out, r)
		}
	}
	return out
}

// Count returns how many resources of the type were registered.
func (m *Mocks) Count(typeToken string) int {
	return len(m.Resources(typeToken))
}

// Named returns the registration with the given logical name.
func (m *Mocks) Named(typeToken, name string) (pulumi.MockResourceArgs, bool) {
	for _, r := range m.Resources(typeToken) {
		if r.Name == name {
			return r, true
		}
	}
	return pulumi.MockResourceArgs{}, false
}

// Strings reads a string-array input of a registration.
func Strings(args pulumi.MockResourceArgs, key resource.PropertyKey) []string {
	v, ok := args.Inputs[key]
	if !ok || !v.IsArray() {
		return nil
	}
	var out []string
	for _, item := range v.ArrayValue() {
		if item.IsString() {
			out = append(out, item.StringValue())
		}
	}
	return out
}

// String reads a string input of a registration.
func String(args pulumi.MockResourceArgs, key resource.PropertyKey) string {
	v, ok := args.Inputs[key]
	if !ok {
		return ""
	}
	if v.IsSecret() {
		v = v.SecretValue().Element
	}
	if !v.IsString() {
		return ""
	}
	return v.StringValue()
}
