package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/coopbank/backend/internal/services"
)

const settlementLockKey = "settlement:run-lock"

// ErrRunInProgress is returned when a settlement run is already holding
// the single-flight lock.
var ErrRunInProgress = errors.New("a settlement run is already in progress")

// Runner owns the periodic settlement trigger. The cron tick and the
// manual HTTP trigger both go through Trigger, so there is exactly one
// code path that can charge members.
type Runner struct {
	cron       *cron.Cron
	settlement *services.SettlementService
	redis      *redis.Client
	schedule   string
}

func NewRunner(settlement *services.SettlementService, redisClient *redis.Client, schedule string) *Runner {
	return &Runner{
		cron:       cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		settlement: settlement,
		redis:      redisClient,
		schedule:   schedule,
	}
}

// Start registers the settlement job and starts the cron loop.
func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Trigger(context.Background()); err != nil && !errors.Is(err, ErrRunInProgress) {
			log.Printf("[SETTLE] Scheduled run failed: %v", err)
		}
	}); err != nil {
		return err
	}

	r.cron.Start()
	log.Printf("[SETTLE] Scheduler started with schedule %q", r.schedule)
	return nil
}

// Stop stops the cron loop; the returned context is done once any running
// job has finished.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}

// Trigger executes one settlement run under the single-flight lock. The
// lock expires on its own well after any plausible run length, so a
// crashed holder cannot wedge settlements.
func (r *Runner) Trigger(ctx context.Context) (*services.SettlementSummary, error) {
	lock := NewRunLock(r.redis, settlementLockKey, 10*time.Minute)

	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			log.Printf("[SETTLE] Failed to release run lock: %v", err)
		}
	}()

	return r.settlement.Run(ctx, time.Now())
}
