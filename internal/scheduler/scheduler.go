// Package scheduler drives refresh cycles on a timer and reacts to their results.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"RebalanceSentinel/internal/model"
	"RebalanceSentinel/internal/notifier"
	"RebalanceSentinel/internal/portfolio"
	"RebalanceSentinel/internal/recorder"
)

// Defaults used when the configuration leaves them empty.
const (
	DefaultRefreshCron = "@every 5m"
	DefaultPruneCron   = "0 30 3 * * *"
	DefaultStaleAfter  = 10 * time.Minute
)

// Sender delivers alert messages.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Options tunes the scheduler.
type Options struct {
	StaleAfter    time.Duration
	RetentionDays int
}

// Scheduler manages the cron tasks around the portfolio monitor.
type Scheduler struct {
	Cron     *cron.Cron
	Monitor  *portfolio.Monitor
	Recorder recorder.Recorder
	Notifier Sender
	Ctx      context.Context

	opts     Options
	inflight singleflight.Group
	now      func() time.Time
	log      zerolog.Logger
}

// NewScheduler creates a scheduler and subscribes it to snapshot commits. A
// nil notifier disables alerts.
func NewScheduler(ctx context.Context, mon *portfolio.Monitor, rec recorder.Recorder, n Sender, opts Options, log zerolog.Logger) *Scheduler {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	s := &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Monitor:  mon,
		Recorder: rec,
		Notifier: n,
		Ctx:      ctx,
		opts:     opts,
		now:      time.Now,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
	mon.Store().Subscribe(s.onCommit)
	return s
}

// RegisterAll registers the periodic refresh and the history prune.
func (s *Scheduler) RegisterAll(refreshCron, pruneCron string) error {
	if refreshCron == "" {
		refreshCron = DefaultRefreshCron
	}
	if pruneCron == "" {
		pruneCron = DefaultPruneCron
	}
	if _, err := s.Cron.AddFunc(refreshCron, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	if s.opts.RetentionDays > 0 {
		if _, err := s.Cron.AddFunc(pruneCron, s.pruneTask); err != nil {
			return fmt.Errorf("register prune task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow runs one refresh cycle immediately.
func (s *Scheduler) RunNow(ctx context.Context, trigger model.TriggerType) (*model.Snapshot, error) {
	return s.Monitor.Refresh(ctx, trigger)
}

// Current returns the latest snapshot, refreshing first when its prices are
// older than the stale limit. Concurrent callers share one refresh cycle,
// which runs on the scheduler's context so a caller giving up does not abort
// it. When the refresh fails the previous snapshot, which may be nil, is
// returned together with the error.
func (s *Scheduler) Current(ctx context.Context) (*model.Snapshot, error) {
	latest := s.Monitor.Store().Latest()
	if !s.refreshDue(latest) {
		return latest, nil
	}
	if err := ctx.Err(); err != nil {
		return latest, err
	}

	select {
	case res := <-s.shared(model.TriggerStale):
		if res.Err != nil {
			// a newer cycle won the race; its snapshot is as fresh as it gets
			if fresh := s.Monitor.Store().Latest(); fresh != latest {
				return fresh, nil
			}
			return latest, res.Err
		}
		return res.Val.(*model.Snapshot), nil
	case <-ctx.Done():
		return latest, ctx.Err()
	}
}

// shared joins the refresh cycle already in flight or starts one.
func (s *Scheduler) shared(trigger model.TriggerType) <-chan singleflight.Result {
	return s.inflight.DoChan("refresh", func() (any, error) {
		return s.Monitor.Refresh(s.Ctx, trigger)
	})
}

// refreshDue judges a snapshot without prices by when it settled, so an outage
// is retried once per stale period rather than on every read.
func (s *Scheduler) refreshDue(snap *model.Snapshot) bool {
	if snap == nil {
		return true
	}
	at := snap.PricesAt
	if at.IsZero() {
		at = snap.SettledAt
	}
	return s.now().Sub(at) > s.opts.StaleAfter
}

// Latest returns the last committed snapshot without refreshing.
func (s *Scheduler) Latest() *model.Snapshot { return s.Monitor.Store().Latest() }

// StaleAfter is the age at which snapshot prices stop being trusted.
func (s *Scheduler) StaleAfter() time.Duration { return s.opts.StaleAfter }

// refreshTask joins a read-triggered cycle when one is in flight instead of
// cancelling it.
func (s *Scheduler) refreshTask() {
	// errors are logged by the monitor
	<-s.shared(model.TriggerSchedule)
}

func (s *Scheduler) pruneTask() {
	cutoff := s.now().AddDate(0, 0, -s.opts.RetentionDays)
	n, err := s.Recorder.Prune(cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("prune history")
		return
	}
	s.log.Info().Int64("snapshots", n).Time("before", cutoff).Msg("history pruned")
}

// onCommit alerts on transitions only, so a portfolio that stays out of
// balance is reported once.
func (s *Scheduler) onCommit(prev, next *model.Snapshot) {
	if next.PriceStatus == model.PriceUnavailable {
		if prev == nil || prev.PriceStatus != model.PriceUnavailable {
			s.trySend(notifier.FormatPricesUnavailable(next))
		}
		return
	}
	if flagged(next) && !flagged(prev) {
		s.log.Info().Str("account", next.Account).Msg("portfolio crossed drift threshold")
		s.trySend(notifier.FormatRebalanceAlert(next))
	}
}

// flagged ignores drift computed without any price, where every holding
// values at zero.
func flagged(snap *model.Snapshot) bool {
	return snap.NeedsRebalance() && snap.PriceStatus != model.PriceUnavailable
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	var cmd string
	if fields := strings.Fields(command); len(fields) > 0 {
		cmd = strings.ToLower(fields[0])
	}
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/status":
		snap, err := s.Current(ctx)
		if snap == nil && err != nil {
			return "❌ Refresh failed: " + err.Error()
		}
		return notifier.FormatStatus(snap, s.now(), s.opts.StaleAfter)
	case "/prices":
		snap, _ := s.Current(ctx)
		return notifier.FormatPrices(snap)
	case "/trades":
		snap, _ := s.Current(ctx)
		return notifier.FormatTrades(snap)
	case "/refresh":
		snap, err := s.RunNow(ctx, model.TriggerManual)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ""
			}
			return "❌ Refresh failed: " + err.Error()
		}
		return notifier.FormatStatus(snap, s.now(), s.opts.StaleAfter)
	default:
		return notifier.FormatHelp()
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	go func() {
		if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
			s.log.Error().Err(err).Msg("send notification")
		}
	}()
}
