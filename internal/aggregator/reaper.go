package aggregator

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Reaper periodically sweeps the engine for contexts past their deadline and
// publishes a partial report for each, independent of message arrival.
type Reaper struct {
	scheduler *gocron.Scheduler
	service   *Service
	interval  time.Duration
}

// NewReaper creates a Reaper sweeping on the given interval.
func NewReaper(service *Service, interval time.Duration) *Reaper {
	return &Reaper{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		interval:  interval,
	}
}

// Start schedules the sweep job and starts the underlying scheduler.
func (r *Reaper) Start() error {
	_, err := r.scheduler.Every(r.interval).Do(func() {
		r.service.PublishExpired(context.Background())
	})
	if err != nil {
		return err
	}

	r.scheduler.StartAsync()
	log.Printf("INFO: timeout reaper started (interval %s)", r.interval)
	return nil
}

// Stop stops the scheduler and cancels any future sweeps.
func (r *Reaper) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}
