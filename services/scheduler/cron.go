// Package scheduler runs the periodic jobs of the API server.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/noteearly/noteearly/core"
)

// SubscriptionExpirer cancels lapsed subscriptions.
type SubscriptionExpirer interface {
	ExpireLapsed(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	logger  core.Logger
	timeout time.Duration
}

// New registers the jobs. Run them with Start.
func New(conf *core.Config, expirer SubscriptionExpirer, logger core.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		timeout: time.Minute,
	}

	if spec := conf.Jobs.ExpireSubscriptionsSpec; spec != "" {
		if _, err := s.cron.AddFunc(spec, s.job("expire-subscriptions", expirer.ExpireLapsed)); err != nil {
			return nil, errors.Wrapf(err, "scheduling expire-subscriptions (%s)", spec)
		}
	}
	return s, nil
}

func (s *Scheduler) job(name string, fn func(ctx context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		n, err := fn(ctx)
		if err != nil {
			s.logger.Error(fmt.Sprintf("job %s: %v", name, err), err)
			return
		}
		if n > 0 {
			s.logger.Info(fmt.Sprintf("job %s: %d processed", name, n))
		}
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }
