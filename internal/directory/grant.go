package directory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/kms"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/secretsmanager"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// SecretReadActions are allowed on the secret for every granted principal.
var SecretReadActions = []string{"secretsmanager:GetSecretValue", "secretsmanager:DescribeSecret"}

// KeyGrantOperations are granted on the key for every granted principal.
var KeyGrantOperations = []string{"Decrypt", "DescribeKey"}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string              `json:"Sid"`
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  string              `json:"Resource"`
}

// SecretPolicy renders the resource policy letting principals read the secret.
func SecretPolicy(principals []string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "AllowDirectoryCredentialRead",
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": principals},
			Action:    SecretReadActions,
			Resource:  "*",
		}},
	}
	b, err := json.Marshal(doc)
	return string(b), err
}

// GrantSecretAccess lets each principal read the secret and decrypt it with
// the directory key. Principals are IAM ARNs, usually roles in other accounts.
func (d *Directory) GrantSecretAccess(ctx *pulumi.Context, principals []string) error {
	if len(d.readers) > 0 {
		return errors.Errorf("secret access for %s was already granted", d.SecretName)
	}
	if len(principals) == 0 {
		return nil
	}
	for _, p := range principals {
		if !strings.HasPrefix(p, "arn:") {
			return errors.Errorf("secret reader %q is not an ARN", p)
		}
	}

	policy, err := SecretPolicy(principals)
	if err != nil {
		return err
	}

	// Attach resource policy to the secret
	_, err = secretsmanager.NewSecretPolicy(ctx, d.name+"-secret-policy", &secretsmanager.SecretPolicyArgs{
		SecretArn: d.SecretArn,
		Policy:    pulumi.String(policy),
	})
	if err != nil {
		return err
	}

	operations := pulumi.ToStringArray(KeyGrantOperations)
	for i, p := range principals {
		// Create KMS grant so the principal can decrypt the secret
		_, err := kms.NewGrant(ctx, fmt.Sprintf("%s-key-grant-%d", d.name, i+1), &kms.GrantArgs{
			Name:             pulumi.String(fmt.Sprintf("%s-reader-%d", d.name, i+1)),
			KeyId:            d.Key.KeyId,
			GranteePrincipal: pulumi.String(p),
			Operations:       operations,
		})
		if err != nil {
			return err
		}
	}
	d.readers = append(d.readers, principals...)
	return nil
}
