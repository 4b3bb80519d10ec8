// Package longpoll holds pending auction reads open until the auction's
// top-bid identity changes or a deadline elapses.
package longpoll

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Reason says why a waiter was released.
type Reason int

const (
	// StateChanged: a bid was accepted for the watched auction. The caller
	// must re-query for a fresh snapshot; the triggering payload is never
	// cached because bid statuses are viewer-specific.
	StateChanged Reason = iota
	// TimedOut: the deadline elapsed with no change. The caller responds
	// with the unchanged snapshot so the client can re-arm immediately.
	TimedOut
)

func (r Reason) String() string {
	if r == StateChanged {
		return "state_changed"
	}
	return "timed_out"
}

// Waiter is one registered long-poll request. It is released exactly once,
// through C, and must not be reused afterwards.
type Waiter struct {
	C <-chan Reason

	registry  *Registry
	auctionID string
	ch        chan Reason
	timer     *time.Timer
	released  bool
}

// Registry tracks pending long-poll requests per auction. All access is
// serialized through one mutex; registration, notification and timer expiry
// race freely against each other.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]map[*Waiter]struct{}
	timeout time.Duration
}

func New(timeout time.Duration) *Registry {
	return &Registry{
		waiters: make(map[string]map[*Waiter]struct{}),
		timeout: timeout,
	}
}

// Register parks a request on the auction until NotifyChanged, the timeout,
// or Cancel. Any number of waiters may be pending per auction.
func (r *Registry) Register(auctionID string) *Waiter {
	w := &Waiter{
		registry:  r,
		auctionID: auctionID,
		ch:        make(chan Reason, 1),
	}
	w.C = w.ch

	r.mu.Lock()
	set, ok := r.waiters[auctionID]
	if !ok {
		set = make(map[*Waiter]struct{})
		r.waiters[auctionID] = set
	}
	set[w] = struct{}{}
	// Arm the timer under the lock so an immediate NotifyChanged never sees a
	// half-registered waiter.
	w.timer = time.AfterFunc(r.timeout, func() {
		r.release(w, TimedOut)
	})
	r.mu.Unlock()

	log.Debug("long poll registered", "auctionId", auctionID)
	return w
}

// NotifyChanged releases every waiter pending on the auction. Safe to call
// with no waiters registered, and idempotent per waiter: each is released
// once no matter how the timeout races.
func (r *Registry) NotifyChanged(auctionID string) {
	r.mu.Lock()
	set := r.waiters[auctionID]
	released := make([]*Waiter, 0, len(set))
	for w := range set {
		if r.releaseLocked(w, StateChanged) {
			released = append(released, w)
		}
	}
	r.mu.Unlock()

	if len(released) > 0 {
		log.Debug("long poll released", "auctionId", auctionID, "waiters", len(released))
	}
}

// Cancel discards the waiter without releasing a response, e.g. when the
// caller disconnected. A no-op if the waiter was already released.
func (w *Waiter) Cancel() {
	r := w.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.released {
		return
	}
	w.released = true
	w.timer.Stop()
	r.dropLocked(w)
}

// PendingFor reports how many waiters are parked on the auction.
func (r *Registry) PendingFor(auctionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters[auctionID])
}

func (r *Registry) release(w *Waiter, reason Reason) {
	r.mu.Lock()
	r.releaseLocked(w, reason)
	r.mu.Unlock()
}

// releaseLocked transitions a waiter to released and delivers the reason.
// Exactly one of NotifyChanged and the timeout wins.
func (r *Registry) releaseLocked(w *Waiter, reason Reason) bool {
	if w.released {
		return false
	}
	w.released = true
	w.timer.Stop()
	r.dropLocked(w)
	w.ch <- reason
	return true
}

func (r *Registry) dropLocked(w *Waiter) {
	set := r.waiters[w.auctionID]
	delete(set, w)
	if len(set) == 0 {
		delete(r.waiters, w.auctionID)
	}
}
