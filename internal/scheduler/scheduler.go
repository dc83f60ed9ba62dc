package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/finpulse/alert-engine/internal/calendar"
	"github.com/finpulse/alert-engine/internal/evaluator"
	"github.com/finpulse/alert-engine/internal/observ"
)

// Scheduler drives periodic evaluation cycles. Ticks are skipped while every
// configured market is closed unless runWhenClosed is set.
type Scheduler struct {
	cron          *gocron.Scheduler
	engine        *evaluator.Engine
	cal           *calendar.Calendar
	markets       []calendar.Market
	interval      time.Duration
	runWhenClosed bool

	now func() time.Time
}

func New(engine *evaluator.Engine, cal *calendar.Calendar, interval time.Duration, runWhenClosed bool) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		cron:          gocron.NewScheduler(time.UTC),
		engine:        engine,
		cal:           cal,
		markets:       cal.Markets(),
		interval:      interval,
		runWhenClosed: runWhenClosed,
		now:           time.Now,
	}
}

// Start registers the evaluation job and launches the scheduler in the
// background.
func (s *Scheduler) Start() error {
	_, err := s.cron.Every(s.interval).Do(s.tick)
	if err != nil {
		return err
	}
	s.cron.StartAsync()
	observ.Log("scheduler_started", map[string]any{"interval_ms": s.interval.Milliseconds()})
	return nil
}

// Stop waits for a running tick to finish before returning.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	observ.Log("scheduler_stopped", nil)
}

func (s *Scheduler) tick() {
	if !s.runWhenClosed && !s.anyMarketTrading() {
		observ.IncCounter("evaluation_ticks_skipped_total", map[string]string{"reason": "all_closed"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	res, err := s.engine.EvaluateCycle(ctx)
	if err != nil {
		observ.LogError("evaluation_tick_failed", err, nil)
		observ.IncCounter("evaluation_ticks_failed_total", nil)
		return
	}
	observ.IncCounter("evaluation_ticks_total", nil)
	if len(res.Triggered) > 0 {
		observ.Log("evaluation_tick_triggered", map[string]any{"count": len(res.Triggered)})
	}
}

func (s *Scheduler) anyMarketTrading() bool {
	at := s.now()
	for _, m := range s.markets {
		state, err := s.cal.SessionState(m, at)
		if err != nil {
			continue
		}
		if state != calendar.SessionClosed {
			return true
		}
	}
	return false
}
