// Package grants checks, against the live AWS APIs of the shared account,
// that a principal can read and decrypt the directory secret.
package grants

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/pkg/errors"
)

// ErrNotGranted means the principal is missing from the secret policy or the
// key grants.
var ErrNotGranted = errors.New("access not granted")

type SecretsAPI interface {
	GetResourcePolicy(ctx context.Context, in *secretsmanager.GetResourcePolicyInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetResourcePolicyOutput, error)
}

type KeysAPI interface {
	ListGrants(ctx context.Context, in *kms.ListGrantsInput, optFns ...func(*kms.Options)) (*kms.ListGrantsOutput, error)
}

// Verifier checks the grants on one secret and the key encrypting it.
type Verifier struct {
	Secrets   SecretsAPI
	Keys      KeysAPI
	SecretArn string
	KeyArn    string

	// PollInterval is the first wait between checks in WaitFor.
	PollInterval time.Duration
}

// Verify returns nil when principal may call GetSecretValue on the secret and
// Decrypt with the key. A missing grant is reported as ErrNotGranted.
func (v *Verifier) Verify(ctx context.Context, principal string) error {
	if v.SecretArn == "" || v.KeyArn == "" {
		return errors.New("secret and key ARNs are required")
	}

	out, err := v.Secrets.GetResourcePolicy(ctx, &secretsmanager.GetResourcePolicyInput{
		SecretId: aws.String(v.SecretArn),
	})
	if err != nil {
		return errors.Wrapf(err, "reading resource policy of %s", v.SecretArn)
	}
	ok, err := policyAllows(aws.ToString(out.ResourcePolicy), principal, "secretsmanager:GetSecretValue")
	if err != nil {
		return errors.Wrapf(err, "parsing resource policy of %s", v.SecretArn)
	}
	if !ok {
		return errors.Wrapf(ErrNotGranted, "%s cannot read %s", principal, v.SecretArn)
	}

	ok, err = v.hasDecryptGrant(ctx, principal)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrNotGranted, "%s has no decrypt grant on %s", principal, v.KeyArn)
	}
	return nil
}

func (v *Verifier) hasDecryptGrant(ctx context.Context, principal string) (bool, error) {
	in := &kms.ListGrantsInput{KeyId: aws.String(v.KeyArn)}
	for {
		out, err := v.Keys.ListGrants(ctx, in)
		if err != nil {
			return false, errors.Wrapf(err, "listing grants of %s", v.KeyArn)
		}
		for _, g := range out.Grants {
			if !principalMatches(aws.ToString(g.GranteePrincipal), principal) {
				continue
			}
			for _, op := range g.Operations {
				if op == kmstypes.GrantOperationDecrypt {
					return true, nil
				}
			}
		}
		if !out.Truncated || out.NextMarker == nil {
			return false, nil
		}
		in.Marker = out.NextMarker
	}
}

type policy struct {
	Statement []statement `json:"Statement"`
}

type statement struct {
	Effect    string          `json:"Effect"`
	Principal json.RawMessage `json:"Principal"`
	Action    stringList      `json:"Action"`
}

// stringList decodes an IAM value that is either a string or a list.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// policyAllows reports whether the policy allows principal the action. An
// explicit Deny matching the principal wins over any Allow.
func policyAllows(doc, principal, action string) (bool, error) {
	if doc == "" {
		return false, nil
	}
	var p policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return false, err
	}

	allowed := false
	for _, st := range p.Statement {
		if !actionMatches(st.Action, action) {
			continue
		}
		principals, err := awsPrincipals(st.Principal)
		if err != nil {
			return false, err
		}
		if !anyPrincipalMatches(principals, principal) {
			continue
		}
		switch st.Effect {
		case "Deny":
			return false, nil
		case "Allow":
			allowed = true
		}
	}
	return allowed, nil
}

func anyPrincipalMatches(candidates []string, principal string) bool {
	for _, c := range candidates {
		if principalMatches(c, principal) {
			return true
		}
	}
	return false
}

// principalMatches reports whether a policy or grant principal covers
// principal: the wildcard, the same ARN, or the principal's whole account
// given as an account id or its root ARN.
func principalMatches(candidate, principal string) bool {
	if candidate == "*" || candidate == principal {
		return true
	}
	parsed, err := arn.Parse(principal)
	if err != nil || parsed.AccountID == "" {
		return false
	}
	root := arn.ARN{
		Partition: parsed.Partition,
		Service:   "iam",
		AccountID: parsed.AccountID,
		Resource:  "root",
	}
	return candidate == parsed.AccountID || candidate == root.String()
}

func actionMatches(actions []string, want string) bool {
	service := strings.SplitN(want, ":", 2)[0]
	for _, a := range actions {
		if a == want || a == "*" || a == service+":*" {
			return true
		}
	}
	return false
}

func awsPrincipals(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var wildcard string
	if err := json.Unmarshal(raw, &wildcard); err == nil {
		return []string{wildcard}, nil
	}
	var byType map[string]stringList
	if err := json.Unmarshal(raw, &byType); err != nil {
		return nil, err
	}
	return byType["AWS"], nil
}
