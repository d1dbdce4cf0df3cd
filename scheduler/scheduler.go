// Package scheduler runs the periodic dispatch cycle: for every active
// channel, every due subscription is evaluated, billed and delivered.
// Multiple worker processes run the same scheduler; a distributed lock keyed
// by cycle type prevents duplicate billing and duplicate delivery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"signalhub/cache"
	"signalhub/config"
	"signalhub/database/channels"
	"signalhub/database/credits"
	"signalhub/database/events"
	models "signalhub/database/models_pkg"
	"signalhub/delivery"
	"signalhub/metrics"
	"signalhub/signals"
)

// Kill-switch flag keys. When either exists in Redis the cycle is skipped
// before the lock is even attempted.
const (
	FlagEmergencyStop = "flags:emergency_stop"
	FlagMarketHalt    = "flags:market_halt"
)

const dispatchLockKey = "dispatch:lock:signals"

// Scheduler drives the dispatch cycle
type Scheduler struct {
	channelsRepo *channels.Repository
	eventsRepo   *events.Repository
	evaluator    *signals.Evaluator
	dispatcher   *delivery.Dispatcher
	lock         cache.DistributedLock
	redis        *cache.RedisClient
	sink         metrics.Sink
	cfg          config.DispatchConfig
}

// NewScheduler wires the dispatch cycle dependencies. lock and redis may be
// nil; the scheduler then runs without mutual exclusion or kill switches.
func NewScheduler(channelsRepo *channels.Repository, eventsRepo *events.Repository,
	evaluator *signals.Evaluator, dispatcher *delivery.Dispatcher,
	lock cache.DistributedLock, redis *cache.RedisClient, sink metrics.Sink,
	cfg config.DispatchConfig) *Scheduler {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Scheduler{
		channelsRepo: channelsRepo,
		eventsRepo:   eventsRepo,
		evaluator:    evaluator,
		dispatcher:   dispatcher,
		lock:         lock,
		redis:        redis,
		sink:         sink,
		cfg:          cfg,
	}
}

// Run starts the background dispatch loop. Cancelling ctx is a hard stop:
// the in-flight subscription finishes, no new one is started.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.CycleIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🚀 Dispatch scheduler started (interval %s)", interval)

	// Run immediately on start
	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Dispatch scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one dispatch cycle: kill-switch check, lock acquire,
// per-channel dispatch, lock release
func (s *Scheduler) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Panic in dispatch cycle: %v", r)
		}
	}()

	if s.killSwitchActive(ctx) {
		// Cached batches go stale over a halt; drop them so dispatch
		// resumes from fresh market data
		s.evaluator.InvalidateCache(ctx)
		return
	}

	token, skip := s.acquireLock(ctx)
	if skip {
		return
	}
	if token != "" {
		defer func() {
			if _, err := s.lock.Release(ctx, dispatchLockKey, token); err != nil {
				log.Printf("⚠️  Failed to release dispatch lock: %v", err)
			}
		}()
	}

	channelList, err := s.channelsRepo.GetActiveChannels(ctx)
	if err != nil {
		log.Printf("❌ Failed to load active channels: %v", err)
		return
	}

	for _, channel := range channelList {
		if ctx.Err() != nil {
			return
		}
		s.dispatchChannel(ctx, &channel)
	}
}

// killSwitchActive checks the global emergency stop and market halt flags
func (s *Scheduler) killSwitchActive(ctx context.Context) bool {
	if s.redis == nil {
		return false
	}
	if s.redis.Exists(ctx, FlagEmergencyStop) {
		log.Println("🛑 Emergency stop flag set, skipping dispatch cycle")
		return true
	}
	if s.redis.Exists(ctx, FlagMarketHalt) {
		log.Println("🛑 Market halt flag set, skipping dispatch cycle")
		return true
	}
	return false
}

// acquireLock returns the lock token, or skip=true when another worker owns
// this cycle slot. When the lock backend itself is unreachable the cycle
// degrades to running without mutual exclusion instead of refusing to
// operate: token is empty and skip is false.
func (s *Scheduler) acquireLock(ctx context.Context) (token string, skip bool) {
	if s.lock == nil {
		return "", false
	}

	ttl := time.Duration(s.cfg.CycleIntervalMinutes) * time.Minute
	token, err := s.lock.Acquire(ctx, dispatchLockKey, ttl)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			log.Println("🔒 Dispatch lock held by another worker, skipping cycle")
			return "", true
		}
		log.Printf("⚠️  Lock backend unreachable, running without mutual exclusion: %v", err)
		return "", false
	}
	return token, false
}

func (s *Scheduler) dispatchChannel(ctx context.Context, channel *models.Channel) {
	subs, err := s.channelsRepo.GetActiveSubscriptions(ctx, channel.ID)
	if err != nil {
		log.Printf("❌ Failed to load subscriptions for channel %d: %v", channel.ID, err)
		return
	}

	now := time.Now().UTC()
	for i := range subs {
		// Hard stop: let the in-flight subscription finish, start no more
		if ctx.Err() != nil {
			return
		}

		sub := &subs[i]
		if !IsDue(channel, sub, now, s.cfg.DefaultCadenceMinutes) {
			continue
		}

		under, err := s.underDailyLimit(ctx, channel, sub, now)
		if err != nil {
			log.Printf("⚠️  Daily cap check failed for subscription %d: %v", sub.ID, err)
			continue
		}
		if !under {
			continue
		}

		s.processSubscription(ctx, channel, sub)
	}
}

// processSubscription runs evaluate → bill → deliver sequentially for one
// subscription. All failures are isolated to the subscription.
func (s *Scheduler) processSubscription(ctx context.Context, channel *models.Channel, sub *models.Subscription) {
	event, err := s.evaluator.Evaluate(ctx, channel, sub, nil)
	if err != nil {
		if errors.Is(err, signals.ErrNoSignalAvailable) {
			return
		}
		log.Printf("❌ Evaluation failed for subscription %d: %v", sub.ID, err)
		return
	}

	if err := s.dispatcher.Deliver(ctx, event, channel, sub); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			log.Printf("ℹ️  Subscription %d skipped: insufficient credits", sub.ID)
			return
		}
		log.Printf("❌ Delivery failed for subscription %d: %v", sub.ID, err)
		return
	}

	if err := s.channelsRepo.TouchLastEvent(ctx, sub.ID, time.Now().UTC()); err != nil {
		log.Printf("⚠️  Failed to stamp last event for subscription %d: %v", sub.ID, err)
	}

	s.sink.Record("dispatched_events", 1, map[string]string{
		"channel": fmt.Sprintf("%d", channel.ID),
	})
}

// IsDue reports whether enough time has passed since the subscription's last
// delivery: true when it has never been delivered to, or when
// now - last_event_at >= effective cadence (subscription override, else
// channel cadence, else the default).
func IsDue(channel *models.Channel, sub *models.Subscription, now time.Time, defaultCadenceMinutes int) bool {
	if sub.LastEventAt == nil {
		return true
	}
	return now.Sub(*sub.LastEventAt) >= EffectiveCadence(channel, sub, defaultCadenceMinutes)
}

// EffectiveCadence resolves the cadence: subscription override > channel
// cadence > default
func EffectiveCadence(channel *models.Channel, sub *models.Subscription, defaultCadenceMinutes int) time.Duration {
	minutes := defaultCadenceMinutes
	if minutes <= 0 {
		minutes = 15
	}
	if channel.CadenceMinutes > 0 {
		minutes = channel.CadenceMinutes
	}
	if sub.CadenceMinutes != nil && *sub.CadenceMinutes > 0 {
		minutes = *sub.CadenceMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// EffectiveDailyCap resolves the daily cap as the minimum of the caps that
// are set. Returns 0, false when neither level sets one (unlimited).
func EffectiveDailyCap(channel *models.Channel, sub *models.Subscription) (int, bool) {
	var caps []int
	if sub.MaxDailyEvents != nil {
		caps = append(caps, *sub.MaxDailyEvents)
	}
	if channel.MaxDailyEvents != nil {
		caps = append(caps, *channel.MaxDailyEvents)
	}
	if len(caps) == 0 {
		return 0, false
	}

	cap := caps[0]
	for _, c := range caps[1:] {
		if c < cap {
			cap = c
		}
	}
	return cap, true
}

func (s *Scheduler) underDailyLimit(ctx context.Context, channel *models.Channel, sub *models.Subscription, now time.Time) (bool, error) {
	cap, capped := EffectiveDailyCap(channel, sub)
	if !capped {
		return true, nil
	}

	// Day boundary is UTC midnight
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := s.eventsRepo.CountDeliveriesSince(ctx, sub.ID, startOfDay)
	if err != nil {
		return false, err
	}
	return count < int64(cap), nil
}
