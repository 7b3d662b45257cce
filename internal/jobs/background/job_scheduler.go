package background

import (
	"context"
	"log"
	"time"

	"fitforge/internal/repositories"

	"github.com/go-co-op/gocron/v2"
)

// Audit rows older than this are pruned; the Redis dedupe TTL is far shorter,
// so pruned events can no longer be redelivered by the processor anyway.
const billingEventRetention = 90 * 24 * time.Hour

// JobScheduler manages the billing service's background jobs.
type JobScheduler struct {
	scheduler gocron.Scheduler
	eventRepo repositories.BillingEventRepository
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(eventRepo repositories.BillingEventRepository) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	js := &JobScheduler{
		scheduler: scheduler,
		eventRepo: eventRepo,
	}

	if err := js.registerJobs(); err != nil {
		return nil, err
	}

	return js, nil
}

func (js *JobScheduler) registerJobs() error {
	_, err := js.scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(js.pruneBillingEvents),
		gocron.WithName("billing-event-prune"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}

func (js *JobScheduler) pruneBillingEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-billingEventRetention)
	pruned, err := js.eventRepo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("ERROR: pruning billing events failed: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("Pruned %d billing event rows older than %s", pruned, cutoff.Format(time.RFC3339))
	}
}

// Start starts the job scheduler
func (js *JobScheduler) Start() {
	log.Printf("Starting background job scheduler")
	js.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs.
func (js *JobScheduler) Stop() error {
	return js.scheduler.Shutdown()
}
