package grants

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// WaitFor polls Verify with exponential backoff until the principal is
// granted or a non-grant error occurs. It gives up after maxWait, or only when
// ctx is done if maxWait is zero.
func (v *Verifier) WaitFor(ctx context.Context, principal string, maxWait time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = v.PollInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = 2 * time.Second
	}
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxWait

	op := func() error {
		err := v.Verify(ctx, principal)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotGranted) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		logrus.WithFields(logrus.Fields{
			"principal": principal,
			"retry_in":  next.String(),
		}).Info(err.Error())
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}
