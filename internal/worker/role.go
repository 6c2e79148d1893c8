package worker

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const ssmManagedPolicyArn = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"

// RoleArgs configure the worker's instance role. SecretArn and KMSKeyArn may
// be empty until the shared zone has published them; the matching inline
// policy is added on the pass that knows them.
type RoleArgs struct {
	RoleName  string
	SecretArn string
	KMSKeyArn string
}

// Role is the instance role the worker reads the directory secret with.
type Role struct {
	Role    *iam.Role
	Profile *iam.InstanceProfile
}

// NewRole creates the worker role under a fixed name so its ARN is known to the
// shared zone before the generic zone is deployed.
func NewRole(ctx *pulumi.Context, name string, args RoleArgs) (*Role, error) {
	if args.RoleName == "" {
		return nil, errors.New("worker role name is empty")
	}

	// Create EC2 role
	role, err := iam.NewRole(ctx, name+"-role", &iam.RoleArgs{
		Name: pulumi.String(args.RoleName),
		AssumeRolePolicy: pulumi.String(`{
			"Version": "2012-10-17",
			"Statement": [{
				"Action": "sts:AssumeRole",
				"Principal": {
					"Service": "ec2.amazonaws.com"
				},
				"Effect": "Allow",
				"Sid": ""
			}]
		}`),
		Tags: pulumi.StringMap{
			"Name": pulumi.String(args.RoleName),
		},
	})
	if err != nil {
		return nil, err
	}

	// Attach SSM policy to EC2 role
	_, err = iam.NewRolePolicyAttachment(ctx, name+"-ssm-policy", &iam.RolePolicyAttachmentArgs{
		Role:      role.Name,
		PolicyArn: pulumi.String(ssmManagedPolicyArn),
	})
	if err != nil {
		return nil, err
	}

	inline := []struct {
		suffix   string
		action   string
		resource string
	}{
		{"decrypt-kms", "kms:Decrypt", args.KMSKeyArn},
		{"secret-access", "secretsmanager:GetSecretValue", args.SecretArn},
	}
	for _, p := range inline {
		if p.resource == "" {
			continue
		}
		doc, err := allowPolicy(p.action, p.resource)
		if err != nil {
			return nil, err
		}
		_, err = iam.NewRolePolicy(ctx, name+"-"+p.suffix, &iam.RolePolicyArgs{
			Role:   role.Name,
			Policy: pulumi.String(doc),
		})
		if err != nil {
			return nil, err
		}
	}

	// Create instance profile for EC2 role
	profile, err := iam.NewInstanceProfile(ctx, name+"-profile", &iam.InstanceProfileArgs{
		Role: role.Name,
	})
	if err != nil {
		return nil, err
	}
	return &Role{Role: role, Profile: profile}, nil
}

func allowPolicy(action, resource string) (string, error) {
	doc := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{{
			"Effect":   "Allow",
			"Action":   []string{action},
			"Resource": []string{resource},
		}},
	}
	b, err := json.Marshal(doc)
	return string(b), err
}
