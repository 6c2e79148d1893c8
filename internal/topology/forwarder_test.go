package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForwarderKeepsTargetOrder(t *testing.T) {
	f, err := NewForwarder("test.aws", []string{"10.0.1.162", "10.0.1.228"}, 0)
	require.NoError(t, err)

	assert.Equal(t, "test.aws", f.DomainName)
	assert.Equal(t, []string{"10.0.1.162", "10.0.1.228"}, f.TargetIPs)
}

func TestNewForwarderCopiesTargets(t *testing.T) {
	targets := []string{"10.0.1.162", "10.0.1.228"}
	f, err := NewForwarder("test.aws", targets, 2)
	require.NoError(t, err)

	targets[0] = "10.9.9.9"
	assert.Equal(t, "10.0.1.162", f.TargetIPs[0])
}

func TestForwarderValidate(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		targets  []string
		replicas int
		wantErr  string
	}{
		{name: "no targets", domain: "test.aws", targets: nil, wantErr: "has 0 target addresses"},
		{name: "one target", domain: "test.aws", targets: []string{"10.0.1.162"}, wantErr: "has 1 target addresses"},
		{name: "three targets", domain: "test.aws", targets: []string{"10.0.1.1", "10.0.1.2", "10.0.1.3"}, wantErr: "has 3 target addresses"},
		{name: "three targets for three replicas", domain: "test.aws", targets: []string{"10.0.1.1", "10.0.1.2", "10.0.1.3"}, replicas: 3},
		{name: "empty domain", domain: " ", targets: []string{"10.0.1.1", "10.0.1.2"}, wantErr: "domain name is empty"},
		{name: "not an address", domain: "test.aws", targets: []string{"10.0.1.1", "dc1.test.aws"}, wantErr: "not an IPv4 address"},
		{name: "ipv6 target", domain: "test.aws", targets: []string{"10.0.1.1", "fd00::1"}, wantErr: "not an IPv4 address"},
		{name: "duplicate target", domain: "test.aws", targets: []string{"10.0.1.1", "10.0.1.1"}, wantErr: "listed twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewForwarder(tt.domain, tt.targets, tt.replicas)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
