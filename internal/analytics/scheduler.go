package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler periodically rolls analytics snapshots for every user.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	onRun   func(written int, err error)
}

// NewScheduler registers the snapshot job on the given cron schedule
// (standard five-field expression or a descriptor such as "@daily").
func NewScheduler(service *Service, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		service: service,
		cron:    cron.New(),
	}
	_, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}
	return s, nil
}

// SetOnRun installs a hook invoked after every snapshot run, e.g. to
// record outcome metrics.
func (s *Scheduler) SetOnRun(fn func(written int, err error)) {
	s.onRun = fn
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	written, err := s.service.SnapshotAll(ctx)
	if s.onRun != nil {
		s.onRun(written, err)
	}
	if err != nil {
		log.Printf("analytics snapshot run failed after %d snapshot(s): %v", written, err)
		return
	}
	log.Printf("analytics snapshot run wrote %d snapshot(s)", written)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
