package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudutwizer/mad-shared-accounts/internal/deploy"
	"github.com/dudutwizer/mad-shared-accounts/internal/grants"
	"github.com/dudutwizer/mad-shared-accounts/internal/topology"
	"github.com/dudutwizer/mad-shared-accounts/internal/zone"
)

func grantOptions(f *topology.File) grants.Options {
	shared := f.Accounts[topology.SharedResources]
	return grants.Options{
		Region:  shared.Region,
		Profile: shared.Profile,
		RoleArn: f.GrantRoleArn,
	}
}

func newController(ctx context.Context, f *topology.File, grantTimeout time.Duration) (*deploy.Controller, error) {
	log := logrus.WithField("project", f.Project)

	stacks, err := deploy.PrepareStacks(ctx, f, zone.Program, log)
	if err != nil {
		return nil, err
	}

	return &deploy.Controller{
		Stacks:        stacks,
		Plan:          f.AddressPlan,
		WorkerRoleArn: f.WorkerRoleArn(),
		LaunchWorker:  f.Worker.Launch,
		Grants: func(ctx context.Context, secretArn, keyArn string) (deploy.GrantChecker, error) {
			return grants.NewVerifier(ctx, grantOptions(f), secretArn, keyArn)
		},
		GrantTimeout: grantTimeout,
		Log:          log,
	}, nil
}
