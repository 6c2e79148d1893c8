package topology

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `
project: mad-shared-accounts
organization: acme
accounts:
  networking:
    id: "527610730990"
    region: us-east-1
    profile: networking
  shared:
    id: "117923233529"
    region: us-east-1
    availabilityZones: [us-east-1a, us-east-1b]
  generic:
    id: "656988738169"
    region: us-east-1
addressPlan:
  sharedAccount: 10.0.1.0/24
  networkingAccount: 10.0.2.0/24
  genericAccount: 10.0.3.0/24
directory:
  edition: Enterprise
worker:
  rdpCidr: 83.130.43.233/32
  launch: true
  postBootCommands:
    - Install-WindowsFeature RSAT-AD-Tools
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	f, err := LoadFile(writeFile(t, sampleFile))
	require.NoError(t, err)

	assert.Equal(t, "test.aws", f.Directory.DomainName)
	assert.Equal(t, "Enterprise", f.Directory.Edition)
	assert.Equal(t, 2, f.Directory.Replicas)
	assert.Equal(t, "t3.medium", f.Worker.InstanceType)
	assert.Equal(t, "secret", f.Worker.JoinMethod)
	assert.Equal(t, DefaultWorkerRole, f.Worker.RoleName)
}

func TestLoadFileRejectsBadTopology(t *testing.T) {
	body := `
accounts:
  networking: {id: "1", region: us-east-1}
  shared: {id: "", region: us-east-1}
addressPlan:
  sharedAccount: 10.0.0.0/16
  networkingAccount: 10.0.2.0/24
  genericAccount: 10.0.3.0/24
`
	_, err := LoadFile(writeFile(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accounts.shared.id is empty")
	assert.Contains(t, err.Error(), "accounts.generic is missing")
	assert.Contains(t, err.Error(), "overlap")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFileStacksAndArns(t *testing.T) {
	f, err := LoadFile(writeFile(t, sampleFile))
	require.NoError(t, err)

	stacks := f.Stacks()
	assert.Equal(t, "acme/mad-shared-accounts/networking", stacks.Networking)
	assert.Equal(t, "acme/mad-shared-accounts/shared", stacks.Of(SharedResources))
	assert.Equal(t, "acme/mad-shared-accounts/generic", stacks.Of(Generic))

	assert.Equal(t, "arn:aws:iam::656988738169:role/mad-windows-worker-role", f.WorkerRoleArn())
	assert.Equal(t, "arn:aws:secretsmanager:us-east-1:117923233529:secret:test.aws-secret", f.SecretArnPrefix())
}

func TestFileStackConfig(t *testing.T) {
	f, err := LoadFile(writeFile(t, sampleFile))
	require.NoError(t, err)

	cfg, err := f.StackConfig(Networking)
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg["aws:region"])
	assert.Equal(t, "networking", cfg["aws:profile"])
	assert.Equal(t, `["527610730990"]`, cfg["aws:allowedAccountIds"])
	assert.Equal(t, "networking", cfg["mad-shared-accounts:zone"])
	assert.Equal(t, "527610730990", cfg["mad-shared-accounts:accountId"])
	assert.Equal(t, "83.130.43.233/32", cfg["mad-shared-accounts:workerRdpCidr"])
	assert.Equal(t, "true", cfg["mad-shared-accounts:launchWorker"])
	assert.NotContains(t, cfg, "mad-shared-accounts:availabilityZones")
	assert.NotContains(t, cfg, "mad-shared-accounts:transitGatewayId")

	var principals []string
	require.NoError(t, json.Unmarshal([]byte(cfg["mad-shared-accounts:principals"]), &principals))
	assert.Equal(t, []string{"117923233529", "656988738169"}, principals)

	var plan AddressPlan
	require.NoError(t, json.Unmarshal([]byte(cfg["mad-shared-accounts:addressPlan"]), &plan))
	assert.Equal(t, f.AddressPlan, plan)

	shared, err := f.StackConfig(SharedResources)
	require.NoError(t, err)
	assert.Equal(t, `["us-east-1a","us-east-1b"]`, shared["mad-shared-accounts:availabilityZones"])
	assert.NotContains(t, shared, "aws:profile")
}

func TestLoadFileRejectsBadWorkerJoin(t *testing.T) {
	tests := []struct {
		name   string
		worker string
		want   string
	}{
		{"secret join with directory reference", "worker: {joinMethod: secret, directoryId: d-1234567890, directoryName: test.aws}", "ambiguous"},
		{"directory join without reference", "worker: {joinMethod: directory}", "missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `
accounts:
  networking: {id: "527610730990", region: us-east-1}
  shared: {id: "117923233529", region: us-east-1}
  generic: {id: "656988738169", region: us-east-1}
addressPlan:
  sharedAccount: 10.0.1.0/24
  networkingAccount: 10.0.2.0/24
  genericAccount: 10.0.3.0/24
` + tt.worker + "\n"
			_, err := LoadFile(writeFile(t, body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFileStackConfigExistingVpc(t *testing.T) {
	f, err := LoadFile(writeFile(t, sampleFile))
	require.NoError(t, err)
	f.Directory.ExistingVpcID = "vpc-0a1b2c3d"
	f.Directory.ExistingSubnetIDs = []string{"subnet-0aaa", "subnet-0bbb"}
	require.NoError(t, f.Validate())

	cfg, err := f.StackConfig(SharedResources)
	require.NoError(t, err)
	assert.Equal(t, "vpc-0a1b2c3d", cfg["mad-shared-accounts:existingVpcId"])
	assert.Equal(t, `["subnet-0aaa","subnet-0bbb"]`, cfg["mad-shared-accounts:existingSubnetIds"])
	assert.NotContains(t, cfg, "mad-shared-accounts:existingRouteTableIds")
}
