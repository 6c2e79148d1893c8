package deploy

import (
	"context"

	"github.com/pkg/errors"
	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/sirupsen/logrus"

	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
)

// AutomationStack runs a zone's stack in-process with the Automation API.
type AutomationStack struct {
	zone   topology.ZoneKind
	config map[string]string
	stack  auto.Stack
	log    *logrus.Entry
}

// NewAutomationStack selects or creates the zone's stack and writes its
// config from the topology file.
func NewAutomationStack(ctx context.Context, f *topology.File, z topology.ZoneKind, program pulumi.RunFunc, log *logrus.Entry) (*AutomationStack, error) {
	cfg, err := f.StackConfig(z)
	if err != nil {
		return nil, err
	}

	name := f.Stacks().Of(z)
	stack, err := auto.UpsertStackInlineSource(ctx, name, f.Project, program)
	if err != nil {
		return nil, errors.Wrapf(err, "preparing stack %s", name)
	}

	a := &AutomationStack{
		zone:   z,
		config: cfg,
		stack:  stack,
		log:    log.WithFields(logrus.Fields{"zone": string(z), "stack": name}),
	}
	if err := a.setConfig(ctx, nil); err != nil {
		return nil, err
	}
	return a, nil
}

// PrepareStacks creates every zone's stack before any of them is deployed,
// so stack references between them always resolve.
func PrepareStacks(ctx context.Context, f *topology.File, program pulumi.RunFunc, log *logrus.Entry) (map[topology.ZoneKind]Stack, error) {
	stacks := map[topology.ZoneKind]Stack{}
	for _, z := range topology.Zones {
		s, err := NewAutomationStack(ctx, f, z, program, log)
		if err != nil {
			return nil, err
		}
		stacks[z] = s
	}
	return stacks, nil
}

func (a *AutomationStack) Name() string {
	return a.stack.Name()
}

func (a *AutomationStack) setConfig(ctx context.Context, overrides map[string]string) error {
	values := auto.ConfigMap{}
	for k, v := range a.config {
		values[k] = auto.ConfigValue{Value: v}
	}
	for k, v := range overrides {
		values[k] = auto.ConfigValue{Value: v}
	}
	if err := a.stack.SetAllConfig(ctx, values); err != nil {
		return errors.Wrapf(err, "writing config of %s", a.Name())
	}
	return nil
}

func (a *AutomationStack) Up(ctx context.Context, overrides map[string]string) error {
	if err := a.setConfig(ctx, overrides); err != nil {
		return err
	}

	progress := a.log.WriterLevel(logrus.DebugLevel)
	defer progress.Close()

	res, err := a.stack.Up(ctx, optup.ProgressStreams(progress))
	if err != nil {
		return errors.Wrapf(err, "deploying %s", a.Name())
	}
	a.log.WithField("result", res.Summary.Result).Info("stack updated")
	return nil
}

func (a *AutomationStack) Outputs(ctx context.Context) (Outputs, error) {
	out, err := a.stack.Outputs(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "reading outputs of %s", a.Name())
	}
	values := Outputs{}
	for k, v := range out {
		values[k] = v.Value
	}
	return values, nil
}
