package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"companion/internal/services"
)

// evaluateEvery is how often the trigger policy's time signal is
// re-checked between messages.
const evaluateEvery = 5 * time.Minute

// Scheduler runs the background maintenance jobs: periodic trigger
// evaluation plus memory consolidation and expiry.
type Scheduler struct {
	scheduler gocron.Scheduler
	policy    *services.TriggerPolicy
	memory    *services.MemoryService
}

// NewScheduler builds the scheduler. cronOverride, when set, replaces
// the interval-based consolidation schedule with a standard 5-field
// cron expression; it is validated up front so a bad expression fails
// at startup instead of silently never running.
func NewScheduler(policy *services.TriggerPolicy, memory *services.MemoryService, cronOverride string) (*Scheduler, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: scheduler,
		policy:    policy,
		memory:    memory,
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(evaluateEvery),
		gocron.NewTask(s.evaluateTriggers),
	); err != nil {
		return nil, fmt.Errorf("failed to register trigger evaluation job: %w", err)
	}

	if memory != nil {
		definition := gocron.DurationJob(memory.Config().ConsolidationInterval)
		if cronOverride != "" {
			if _, err := cron.ParseStandard(cronOverride); err != nil {
				return nil, fmt.Errorf("invalid consolidation cron expression %q: %w", cronOverride, err)
			}
			definition = gocron.CronJob(cronOverride, false)
		}
		if _, err := scheduler.NewJob(
			definition,
			gocron.NewTask(s.consolidateMemory),
		); err != nil {
			return nil, fmt.Errorf("failed to register consolidation job: %w", err)
		}
	}

	return s, nil
}

// Start begins running the registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	log.Printf("⏰ [SCHEDULER] Background jobs started")
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	log.Printf("⏹️ [SCHEDULER] Stopping background jobs")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) evaluateTriggers() {
	s.policy.Evaluate()
}

// consolidateMemory runs consolidation with the expiry sweep alongside
// it, then persists if anything changed.
func (s *Scheduler) consolidateMemory() {
	now := time.Now()
	pruned := s.memory.Consolidate(now)
	expired := s.memory.Expire(now)

	if pruned == 0 && expired == 0 {
		return
	}

	log.Printf("🔄 [SCHEDULER] Memory maintenance: %d consolidated, %d expired", pruned, expired)
	if err := s.memory.Persist(); err != nil {
		log.Printf("⚠️ [SCHEDULER] Failed to persist memory after maintenance: %v", err)
	}
}
