// Package notify keeps live subscribers in sync with today's schedule,
// pushing a snapshot only when its content changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appLog "ttagenda/internal/log"
)

// Snapshot is one canonical serialization of the watched state.
type Snapshot struct {
	Payload     []byte
	Fingerprint string
	Count       int
}

// Source produces the current snapshot.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Subscriber is one connected viewer. Send must honour ctx cancellation.
type Subscriber interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type subscription struct {
	id  string
	sub Subscriber

	mu       sync.Mutex
	lastSent string
}

// Hub owns the subscriber set and the last broadcast fingerprint. One Hub is
// built per process and shared by reference.
type Hub struct {
	src         Source
	spec        string
	sendTimeout time.Duration

	mu   sync.RWMutex
	subs map[string]*subscription

	// refreshMu serializes snapshot computation and broadcast.
	refreshMu sync.Mutex
	last      Snapshot
	hasLast   bool
	failures  int

	trigger chan struct{}
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options tunes a Hub. Zero values fall back to defaults.
type Options struct {
	// Spec is a robfig/cron schedule, e.g. "@every 30s".
	Spec        string
	SendTimeout time.Duration
}

func NewHub(src Source, opts Options) *Hub {
	if opts.Spec == "" {
		opts.Spec = "@every 30s"
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	return &Hub{
		src:         src,
		spec:        opts.Spec,
		sendTimeout: opts.SendTimeout,
		subs:        make(map[string]*subscription),
		trigger:     make(chan struct{}, 1),
	}
}

// Start schedules the periodic refresh and the trigger worker. It returns
// once both are running; call Stop to end them.
func (h *Hub) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(h.spec, func() { h.refreshLogged(ctx, "tick") }); err != nil {
		cancel()
		return fmt.Errorf("notify: schedule %q: %w", h.spec, err)
	}
	h.cron = c
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.trigger:
				h.refreshLogged(ctx, "trigger")
			}
		}
	}()

	c.Start()
	appLog.Info("notify: hub started", "schedule", h.spec, "send_timeout", h.sendTimeout.String())
	return nil
}

// Stop halts periodic work and closes every subscriber.
func (h *Hub) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscription)
	h.mu.Unlock()
	for _, s := range subs {
		_ = s.sub.Close()
	}
	appLog.Info("notify: hub stopped", "closed_subscribers", len(subs))
}

// Trigger requests a refresh as soon as possible. It never blocks; a
// request made while one is pending is coalesced into it.
func (h *Hub) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

// Subscribe registers sub and sends it the current snapshot. If the
// snapshot differs from the last broadcast, every subscriber receives it.
func (h *Hub) Subscribe(ctx context.Context, sub Subscriber) (string, error) {
	s := &subscription{id: uuid.NewString(), sub: sub}

	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()

	if err := h.refreshLocked(ctx); err != nil {
		if !h.hasLast {
			h.remove(s.id)
			return "", err
		}
		// serve the last good state; the next tick retries
		h.broadcast(ctx, h.last)
	}

	appLog.Debug("notify: subscribed", "id", s.id, "subscribers", h.Len())
	return s.id, nil
}

// Unsubscribe removes and closes the subscriber with id.
func (h *Hub) Unsubscribe(id string) {
	if s := h.remove(id); s != nil {
		_ = s.sub.Close()
		appLog.Debug("notify: unsubscribed", "id", id, "subscribers", h.Len())
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Last returns the last broadcast snapshot.
func (h *Hub) Last() (Snapshot, bool) {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	return h.last, h.hasLast
}

// Refresh recomputes the snapshot and broadcasts it to subscribers that
// have not seen it.
func (h *Hub) Refresh(ctx context.Context) error {
	h.refreshMu.Lock()
	defer h.refreshMu.Unlock()
	return h.refreshLocked(ctx)
}

func (h *Hub) refreshLogged(ctx context.Context, reason string) {
	if err := h.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("notify: refresh failed", err, "reason", reason)
	}
}

func (h *Hub) refreshLocked(ctx context.Context) error {
	snap, err := h.src.Snapshot(ctx)
	if err != nil {
		h.failures++
		if h.failures > 1 {
			appLog.Warn("notify: repeated snapshot failures", "consecutive", h.failures)
		}
		return fmt.Errorf("notify: snapshot: %w", err)
	}
	h.failures = 0

	if !h.hasLast || h.last.Fingerprint != snap.Fingerprint {
		appLog.Debug("notify: snapshot changed", "fingerprint", snap.Fingerprint, "count", snap.Count)
	}
	h.last, h.hasLast = snap, true
	h.broadcast(ctx, snap)
	return nil
}

// broadcast sends snap concurrently to every subscriber whose last delivered
// fingerprint differs. Failed or timed-out subscribers are dropped.
func (h *Hub) broadcast(ctx context.Context, snap Snapshot) {
	h.mu.RLock()
	targets := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.lastSent == snap.Fingerprint {
				return
			}
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.sendTimeout)
			defer cancel()
			if err := s.sub.Send(sendCtx, snap.Payload); err != nil {
				appLog.Warn("notify: dropping subscriber", "id", s.id, "err", err)
				if h.remove(s.id) != nil {
					_ = s.sub.Close()
				}
				return
			}
			s.lastSent = snap.Fingerprint
		}(s)
	}
	wg.Wait()
}

func (h *Hub) remove(id string) *subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return nil
	}
	delete(h.subs, id)
	return s
}
