// Package coordinator drives the poll loop: fetch laundry detail and
// active orders, reconcile, publish the snapshot, and absorb transient
// failures by republishing the last known good snapshot.
package coordinator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"omo-laundry-agent/internal/notify"
	"omo-laundry-agent/internal/omo"
	"omo-laundry-agent/internal/reconcile"
)

// Failure ceilings: how many consecutive failed polls may silently reuse
// the previous snapshot before the failure is surfaced to consumers.
const (
	maxStaleAuthFailures = 3
	maxStaleAPIFailures  = 5
)

// Notifier receives machine transition events. The worker pool implements
// it; tests substitute their own.
type Notifier interface {
	Dispatch(ev notify.Event)
}

// Coordinator owns the periodic polling for one laundry and exposes the
// reconciled read model. One coordinator per configured laundry; no global
// registry.
type Coordinator struct {
	client    *omo.Client
	laundryID string
	cardID    string
	interval  time.Duration
	notifier  Notifier
	now       func() time.Time

	// pollMu serializes poll execution so a manual refresh never runs a
	// second fetch concurrently with the scheduled one.
	pollMu    sync.Mutex
	refreshCh chan struct{}

	mu           sync.RWMutex
	snapshot     *reconcile.Snapshot
	lastOK       bool
	lastSuccess  time.Time
	consecutives int
}

// New creates a coordinator. cardID is the default payment card for
// PayAndStart; notifier may be nil.
func New(client *omo.Client, laundryID, cardID string, interval time.Duration, notifier Notifier) *Coordinator {
	return &Coordinator{
		client:    client,
		laundryID: laundryID,
		cardID:    cardID,
		interval:  interval,
		notifier:  notifier,
		now:       time.Now,
		refreshCh: make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled. Manual refresh requests wake the loop
// early; duplicates coalesce into one round-trip.
func (c *Coordinator) Run(ctx context.Context) {
	log.Println("Starting coordinator poll loop...")

	if err := c.Poll(ctx); err != nil {
		log.Printf("Initial poll failed: %v", err)
	}

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Coordinator shutting down.")
			return
		case <-c.refreshCh:
			if err := c.Poll(ctx); err != nil {
				log.Printf("Manual refresh failed: %v", err)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.interval)
		case <-timer.C:
			if err := c.Poll(ctx); err != nil {
				log.Printf("Poll failed: %v", err)
			}
			timer.Reset(c.interval)
		}
	}
}

// RequestRefresh asks for an out-of-cycle poll. Non-blocking; pending
// requests collapse into one.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Poll performs one fetch-reconcile-publish cycle. On failure the previous
// snapshot stays published until the error kind's ceiling is exceeded, at
// which point the failure is surfaced through LastUpdateSucceeded and the
// returned error.
func (c *Coordinator) Poll(ctx context.Context) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	snapshot, err := c.fetch(ctx)
	if err != nil {
		return c.recordFailure(err)
	}

	c.publish(snapshot)
	return nil
}

// fetch runs the network half of a poll cycle. Sequential on purpose: the
// active orders call is cheap and ordering keeps the cycle simple.
func (c *Coordinator) fetch(ctx context.Context) (*reconcile.Snapshot, error) {
	if err := c.client.Auth().EnsureValid(ctx); err != nil {
		return nil, err
	}

	laundry, err := c.client.GetLaundry(ctx, c.laundryID)
	if err != nil {
		return nil, err
	}

	orders, err := c.client.ActiveOrders(ctx)
	if err != nil {
		return nil, err
	}

	return reconcile.Build(laundry, orders, c.now()), nil
}

// publish atomically swaps in the new snapshot and emits transition events
// against the previous one.
func (c *Coordinator) publish(snapshot *reconcile.Snapshot) {
	c.mu.Lock()
	previous := c.snapshot
	c.snapshot = snapshot
	c.lastOK = true
	c.lastSuccess = c.now()
	c.consecutives = 0
	c.mu.Unlock()

	log.Printf("Poll cycle complete: %d machines, %d active orders",
		len(snapshot.Machines), len(snapshot.ActiveOrders))

	c.emitTransitions(previous, snapshot)
}

// recordFailure applies the stale-fallback policy and decides whether the
// failure is surfaced.
func (c *Coordinator) recordFailure(err error) error {
	ceiling := maxStaleAPIFailures
	var authErr *omo.AuthError
	if errors.As(err, &authErr) {
		ceiling = maxStaleAuthFailures
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutives++
	if c.snapshot != nil && c.consecutives < ceiling {
		log.Printf("Poll failed (%d consecutive, ceiling %d), keeping previous snapshot: %v",
			c.consecutives, ceiling, err)
		return nil
	}

	c.lastOK = false
	return err
}

// emitTransitions dispatches notification events for machines that freed
// up or whose own cycle just finished.
func (c *Coordinator) emitTransitions(previous, current *reconcile.Snapshot) {
	if c.notifier == nil || previous == nil {
		return
	}

	for id, state := range current.Machines {
		old, ok := previous.Machines[id]
		if !ok {
			continue
		}
		if !old.IsAvailable && state.IsAvailable {
			c.notifier.Dispatch(notify.Event{
				MachineID: id,
				Kind:      notify.EventMachineFree,
				Label:     state.Machine.DisplayName,
			})
		}
		if old.IsMine && old.IsRunning && !state.IsRunning {
			c.notifier.Dispatch(notify.Event{
				MachineID: id,
				Kind:      notify.EventCycleFinished,
				Label:     state.Machine.DisplayName,
			})
		}
	}
}

// CurrentSnapshot returns the published snapshot, or nil before the first
// successful poll.
func (c *Coordinator) CurrentSnapshot() *reconcile.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// GetMachineState returns the reconciled state for one machine, or nil.
func (c *Coordinator) GetMachineState(machineID string) *reconcile.MachineState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return nil
	}
	return c.snapshot.Machines[machineID]
}

// LastUpdateSucceeded reports whether consumers may trust the published
// data. False once a failure ceiling has been exceeded.
func (c *Coordinator) LastUpdateSucceeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastOK
}

// LastSuccessAt returns when the last successful poll published.
func (c *Coordinator) LastSuccessAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// PayAndStart charges a card and starts the machine, then schedules a
// refresh to shrink the staleness window. An empty cardID uses the
// configured default card.
func (c *Coordinator) PayAndStart(ctx context.Context, machineID, cardID string) (omo.StartResult, error) {
	if cardID == "" {
		cardID = c.cardID
	}

	result, err := c.client.PayAndStart(ctx, machineID, cardID, c.laundryID)
	if err != nil {
		return result, err
	}

	c.RequestRefresh()
	return result, nil
}

// Unlock starts a machine against an existing paid order.
func (c *Coordinator) Unlock(ctx context.Context, machineID, orderID string) error {
	if _, err := c.client.Unlock(ctx, machineID, c.laundryID, orderID); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}
