// Package janitor runs the gateway's periodic maintenance on a cron
// schedule.
package janitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Gateway is the maintenance surface the janitor drives.
type Gateway interface {
	SweepIdentities() int
	PurgeCache() int
}

// Sweeper drops per-client state idle longer than olderThan. The
// server's transport throttle implements it.
type Sweeper interface {
	Sweep(olderThan time.Duration) int
}

// Janitor owns the cron loop behind the gateway's sweep and purge
// intervals. Jobs are registered before Start and run until Stop.
type Janitor struct {
	cron *cron.Cron
	gw   Gateway
}

// New creates a janitor for gw. Register the jobs, then Start.
func New(gw Gateway) *Janitor {
	return &Janitor{
		cron: cron.New(),
		gw:   gw,
	}
}

// Register adds the identity sweep and cache purge jobs at the given
// intervals.
func (j *Janitor) Register(sweepEvery, purgeEvery time.Duration) error {
	_, err := j.cron.AddFunc(every(sweepEvery), func() {
		if n := j.gw.SweepIdentities(); n > 0 {
			log.Debug().Int("removed", n).Msg("janitor_identity_sweep")
		}
	})
	if err != nil {
		return fmt.Errorf("registering identity sweep: %w", err)
	}

	_, err = j.cron.AddFunc(every(purgeEvery), func() {
		if n := j.gw.PurgeCache(); n > 0 {
			log.Debug().Int("removed", n).Msg("janitor_cache_purge")
		}
	})
	if err != nil {
		return fmt.Errorf("registering cache purge: %w", err)
	}
	return nil
}

// RegisterSweeper adds a job dropping s's entries idle longer than
// olderThan, checked at the given interval.
func (j *Janitor) RegisterSweeper(s Sweeper, interval, olderThan time.Duration) error {
	_, err := j.cron.AddFunc(every(interval), func() {
		s.Sweep(olderThan)
	})
	if err != nil {
		return fmt.Errorf("registering sweeper: %w", err)
	}
	return nil
}

// Start begins executing registered jobs.
func (j *Janitor) Start() {
	j.cron.Start()
	log.Debug().Int("jobs", len(j.cron.Entries())).Msg("janitor_started")
}

// Stop halts the janitor and waits for running jobs to complete.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered jobs (for testing).
func (j *Janitor) Entries() int {
	return len(j.cron.Entries())
}

func every(d time.Duration) string {
	if d <= 0 {
		d = 5 * time.Minute
	}
	return fmt.Sprintf("@every %s", d)
}
