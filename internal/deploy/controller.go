package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
	"github.com/dudutwizer/mad-shared-accounts/internal/zone"
)

// ConfigLaunchWorker is the stack config key the controller overrides to
// hold the worker back until the grant is verified.
const ConfigLaunchWorker = topology.ConfigNamespace + ":launchWorker"

// Stack is one zone's deployable stack.
type Stack interface {
	Name() string
	// Up deploys the stack with overrides applied on top of its config.
	Up(ctx context.Context, overrides map[string]string) error
	Outputs(ctx context.Context) (Outputs, error)
}

// GrantChecker waits until principal can read the directory credentials.
type GrantChecker interface {
	WaitFor(ctx context.Context, principal string, maxWait time.Duration) error
}

// GrantCheckerFunc builds a checker for the published secret and key.
type GrantCheckerFunc func(ctx context.Context, secretArn, keyArn string) (GrantChecker, error)

// Controller moves the topology forward one phase at a time.
type Controller struct {
	Stacks        map[topology.ZoneKind]Stack
	Plan          topology.AddressPlan
	WorkerRoleArn string
	LaunchWorker  bool

	// Grants, when set, verifies the grant against the live account before
	// the worker is launched.
	Grants       GrantCheckerFunc
	GrantTimeout time.Duration

	Log *logrus.Entry

	verified bool
}

func (c *Controller) log() *logrus.Entry {
	if c.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return c.Log
}

// Snapshot reads every stack's outputs concurrently.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		mu   sync.Mutex
		snap = Snapshot{}
	)
	for _, z := range topology.Zones {
		if _, ok := c.Stacks[z]; !ok {
			return nil, errors.Errorf("no stack for zone %s", z)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, z := range topology.Zones {
		z, st := z, c.Stacks[z]
		g.Go(func() error {
			out, err := st.Outputs(ctx)
			if err != nil {
				return errors.Wrapf(err, "reading outputs of %s", st.Name())
			}
			mu.Lock()
			snap[z] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Status returns the current phase as read from the stacks' outputs.
func (c *Controller) Status(ctx context.Context) (Phase, Snapshot, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return Undeployed, nil, err
	}
	return DetectPhase(c.Plan, c.WorkerRoleArn, snap), snap, nil
}

// Run applies steps until target is reached. Every step must move the
// topology to a later phase; a step that doesn't stops the run.
func (c *Controller) Run(ctx context.Context, target Phase) (Phase, error) {
	if target == WorkerLaunched && !c.LaunchWorker {
		return Undeployed, errors.New("target is WORKER_LAUNCHED but worker launch is disabled")
	}

	phase, snap, err := c.Status(ctx)
	if err != nil {
		return Undeployed, err
	}
	for {
		c.log().WithField("phase", phase.String()).Info("current phase")

		if phase >= PermissionsGranted && target >= PermissionsGranted && !c.verified {
			if err := c.verifyGrant(ctx, snap); err != nil {
				return phase, err
			}
		}
		if phase >= target {
			return phase, nil
		}

		next := phase + 1
		st, ok := stepTo(next)
		if !ok {
			return phase, errors.Errorf("no step leads to %s", next)
		}
		for _, z := range st.zones {
			stack := c.Stacks[z]
			c.log().WithFields(logrus.Fields{
				"zone":  string(z),
				"stack": stack.Name(),
				"phase": next.String(),
			}).Info("updating stack")
			if err := stack.Up(ctx, c.overrides(z, snap)); err != nil {
				return phase, errors.Wrapf(err, "updating %s towards %s", stack.Name(), next)
			}
		}

		reached, after, err := c.Status(ctx)
		if err != nil {
			return phase, err
		}
		if reached <= phase {
			return phase, errors.Errorf("step towards %s made no progress, still %s", next, phase)
		}
		phase, snap = reached, after
	}
}

// overrides holds the generic zone's worker back until the grant is
// verified. A worker that is already running is kept, even with launch
// turned off.
func (c *Controller) overrides(z topology.ZoneKind, snap Snapshot) map[string]string {
	if z != topology.Generic {
		return nil
	}
	launched := snap.str(topology.Generic, zone.OutputWorkerInstanceID) != ""
	if launched || (c.LaunchWorker && c.verified) {
		return map[string]string{ConfigLaunchWorker: "true"}
	}
	return map[string]string{ConfigLaunchWorker: "false"}
}

func (c *Controller) verifyGrant(ctx context.Context, snap Snapshot) error {
	log := c.log().WithFields(logrus.Fields{
		"zone":      string(topology.SharedResources),
		"principal": c.WorkerRoleArn,
	})
	if c.Grants == nil {
		log.Warn("no grant checker configured, trusting published readers")
		c.verified = true
		return nil
	}

	checker, err := c.Grants(ctx, snap.str(topology.SharedResources, zone.OutputSecretArn), snap.str(topology.SharedResources, zone.OutputKMSKeyArn))
	if err != nil {
		return errors.Wrap(err, "building grant checker")
	}
	log.Info("verifying secret and key grants")
	if err := checker.WaitFor(ctx, c.WorkerRoleArn, c.GrantTimeout); err != nil {
		return errors.Wrapf(err, "verifying grant for %s", c.WorkerRoleArn)
	}
	c.verified = true
	return nil
}
