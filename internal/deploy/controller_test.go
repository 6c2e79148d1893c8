package deploy

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

// world mimics what each zone program publishes given its peers' outputs.
type world struct {
	outputs map[topology.ZoneKind]Outputs
	ups     []string
	frozen  bool
}

func newWorld() *world {
	w := &world{outputs: map[topology.ZoneKind]Outputs{}}
	for _, z := range topology.Zones {
		w.outputs[z] = Outputs{}
	}
	return w
}

func (w *world) get(z topology.ZoneKind, key string) interface{} {
	return w.outputs[z][key]
}

func (w *world) up(z topology.ZoneKind, overrides map[string]string) {
	w.ups = append(w.ups, string(z))
	if w.frozen {
		return
	}
	out := w.outputs[z]
	tgw := w.get(topology.Networking, "transitGatewayId")

	switch z {
	case topology.Networking:
		out["transitGatewayId"] = "tgw-1"
		out["routeDestinations"] = testPlan.Peers(z)
		if w.get(topology.SharedResources, "directoryDnsIps") != nil {
			out["resolverRuleId"] = "rslvr-rr-1"
		}
	case topology.SharedResources:
		out["secretArn"] = "arn:secret"
		out["kmsKeyArn"] = "arn:key"
		out["directoryDnsIps"] = []interface{}{"10.0.1.162", "10.0.1.228"}
		if tgw != nil {
			out["routeDestinations"] = testPlan.Peers(z)
		}
		if w.get(topology.Networking, "resolverRuleId") != nil {
			out["resolverRuleAssociationId"] = "rslvr-rrassoc-shared"
		}
		if role := w.get(topology.Generic, "workerRoleArn"); role != nil {
			out["secretReaders"] = []interface{}{role}
		}
	case topology.Generic:
		out["workerRoleArn"] = testRoleArn
		if tgw != nil {
			out["routeDestinations"] = testPlan.Peers(z)
		}
		if w.get(topology.Networking, "resolverRuleId") != nil {
			out["resolverRuleAssociationId"] = "rslvr-rrassoc-generic"
		}
		readers, _ := w.get(topology.SharedResources, "secretReaders").([]interface{})
		if overrides[ConfigLaunchWorker] != "false" && len(readers) > 0 {
			out["workerInstanceId"] = "i-0123"
		}
	}
}

type fakeStack struct {
	zone  topology.ZoneKind
	world *world
	upErr error
}

func (f *fakeStack) Name() string { return "acme/mad-shared-accounts/" + string(f.zone) }

func (f *fakeStack) Up(_ context.Context, overrides map[string]string) error {
	if f.upErr != nil {
		return f.upErr
	}
	f.world.up(f.zone, overrides)
	return nil
}

func (f *fakeStack) Outputs(context.Context) (Outputs, error) {
	out := Outputs{}
	for k, v := range f.world.outputs[f.zone] {
		out[k] = v
	}
	return out, nil
}

type fakeChecker struct {
	calls     int
	err       error
	principal string
	secretArn string
}

func (f *fakeChecker) WaitFor(_ context.Context, principal string, _ time.Duration) error {
	f.calls++
	f.principal = principal
	return f.err
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newController(w *world, checker *fakeChecker) *Controller {
	stacks := map[topology.ZoneKind]Stack{}
	for _, z := range topology.Zones {
		stacks[z] = &fakeStack{zone: z, world: w}
	}
	return &Controller{
		Stacks:        stacks,
		Plan:          testPlan,
		WorkerRoleArn: testRoleArn,
		LaunchWorker:  true,
		Grants: func(_ context.Context, secretArn, _ string) (GrantChecker, error) {
			checker.secretArn = secretArn
			return checker, nil
		},
		Log: quietLog(),
	}
}

func TestRunToWorkerLaunched(t *testing.T) {
	w := newWorld()
	checker := &fakeChecker{}
	c := newController(w, checker)

	phase, err := c.Run(context.Background(), WorkerLaunched)
	require.NoError(t, err)
	assert.Equal(t, WorkerLaunched, phase)

	assert.Equal(t, strings.Join([]string{
		"networking",
		"shared",
		"generic", "networking", "shared",
		"networking", "shared", "generic",
		"generic",
	}, ","), strings.Join(w.ups, ","))

	assert.Equal(t, 1, checker.calls)
	assert.Equal(t, testRoleArn, checker.principal)
	assert.Equal(t, "arn:secret", checker.secretArn)
}

func TestRunStopsAtTarget(t *testing.T) {
	w := newWorld()
	checker := &fakeChecker{}
	c := newController(w, checker)

	phase, err := c.Run(context.Background(), SharedDeployed)
	require.NoError(t, err)
	assert.Equal(t, SharedDeployed, phase)
	assert.Equal(t, []string{"networking", "shared"}, w.ups)
	assert.Zero(t, checker.calls)

	// A second run resumes from the published outputs.
	phase, err = c.Run(context.Background(), SharedDeployed)
	require.NoError(t, err)
	assert.Equal(t, SharedDeployed, phase)
	assert.Len(t, w.ups, 2)
}

func TestRunHoldsWorkerUntilGrantVerified(t *testing.T) {
	w := newWorld()
	checker := &fakeChecker{err: errors.New("not granted after 5m")}
	c := newController(w, checker)

	phase, err := c.Run(context.Background(), WorkerLaunched)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verifying grant")
	assert.Equal(t, PermissionsGranted, phase)
	assert.Nil(t, w.outputs[topology.Generic]["workerInstanceId"])
}

func TestRunRejectsWorkerTargetWhenLaunchDisabled(t *testing.T) {
	w := newWorld()
	c := newController(w, &fakeChecker{})
	c.LaunchWorker = false

	_, err := c.Run(context.Background(), WorkerLaunched)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch is disabled")
	assert.Empty(t, w.ups)
}

func TestRunDetectsNoProgress(t *testing.T) {
	w := newWorld()
	w.frozen = true
	c := newController(w, &fakeChecker{})

	phase, err := c.Run(context.Background(), HubDeployed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "made no progress")
	assert.Equal(t, Undeployed, phase)
}

func TestRunReportsStackFailure(t *testing.T) {
	w := newWorld()
	c := newController(w, &fakeChecker{})
	c.Stacks[topology.Networking].(*fakeStack).upErr = errors.New("quota exceeded")

	_, err := c.Run(context.Background(), HubDeployed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Contains(t, err.Error(), "acme/mad-shared-accounts/networking")
}

func TestRunWithoutCheckerTrustsReaders(t *testing.T) {
	w := newWorld()
	c := newController(w, &fakeChecker{})
	c.Grants = nil

	phase, err := c.Run(context.Background(), WorkerLaunched)
	require.NoError(t, err)
	assert.Equal(t, WorkerLaunched, phase)
}

func TestSnapshotNeedsEveryZone(t *testing.T) {
	c := &Controller{Stacks: map[topology.ZoneKind]Stack{}, Log: quietLog()}
	_, err := c.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestRunKeepsRunningWorker(t *testing.T) {
	w := newWorld()
	c := newController(w, &fakeChecker{})
	_, err := c.Run(context.Background(), WorkerLaunched)
	require.NoError(t, err)

	// The generic zone loses its routes; a fresh controller repairing them
	// must not take the worker down.
	delete(w.outputs[topology.Generic], "routeDestinations")
	var held []map[string]string
	c = newController(w, &fakeChecker{})
	c.Stacks[topology.Generic] = &recordingStack{
		fakeStack: c.Stacks[topology.Generic].(*fakeStack),
		seen:      &held,
	}

	phase, err := c.Run(context.Background(), WorkerLaunched)
	require.NoError(t, err)
	assert.Equal(t, WorkerLaunched, phase)
	require.NotEmpty(t, held)
	for _, o := range held {
		assert.Equal(t, "true", o[ConfigLaunchWorker])
	}
}

type recordingStack struct {
	*fakeStack
	seen *[]map[string]string
}

func (r *recordingStack) Up(ctx context.Context, overrides map[string]string) error {
	*r.seen = append(*r.seen, overrides)
	return r.fakeStack.Up(ctx, overrides)
}

func TestRunKeepsRunningWorkerWithLaunchOff(t *testing.T) {
	w := newWorld()
	c := newController(w, &fakeChecker{})
	_, err := c.Run(context.Background(), WorkerLaunched)
	require.NoError(t, err)

	delete(w.outputs[topology.Generic], "routeDestinations")
	var held []map[string]string
	c = newController(w, &fakeChecker{})
	c.LaunchWorker = false
	c.Stacks[topology.Generic] = &recordingStack{
		fakeStack: c.Stacks[topology.Generic].(*fakeStack),
		seen:      &held,
	}

	phase, err := c.Run(context.Background(), PermissionsGranted)
	require.NoError(t, err)
	assert.Equal(t, WorkerLaunched, phase)
	require.NotEmpty(t, held)
	for _, o := range held {
		assert.Equal(t, "true", o[ConfigLaunchWorker])
	}
	assert.Equal(t, "i-0123", w.outputs[topology.Generic]["workerInstanceId"])
}

func TestRunHoldsNewWorkerWithLaunchOff(t *testing.T) {
	w := newWorld()
	var held []map[string]string
	c := newController(w, &fakeChecker{})
	c.LaunchWorker = false
	c.Stacks[topology.Generic] = &recordingStack{
		fakeStack: c.Stacks[topology.Generic].(*fakeStack),
		seen:      &held,
	}

	phase, err := c.Run(context.Background(), PermissionsGranted)
	require.NoError(t, err)
	assert.Equal(t, PermissionsGranted, phase)
	require.NotEmpty(t, held)
	for _, o := range held {
		assert.Equal(t, "false", o[ConfigLaunchWorker])
	}
	assert.Nil(t, w.outputs[topology.Generic]["workerInstanceId"])
}
