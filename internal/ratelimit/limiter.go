/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ratelimit enforces per-client sliding-window budgets on mutation
// events. Continuous controls (mixer, fx, cursor) are not rate limited here;
// they are gated by ownership and the transport throttle.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/friendsincode/mixroom/internal/protocol"
)

var rateLimitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mixroom",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total rate limit rejections",
	},
	[]string{"bucket"},
)

// Bucket groups event types that share a budget.
type Bucket string

const (
	BucketQueueAdd     Bucket = "queue_add"
	BucketQueueRemove  Bucket = "queue_remove"
	BucketQueueReorder Bucket = "queue_reorder"
	BucketQueueEdit    Bucket = "queue_edit"
	BucketDeckActions  Bucket = "deck_actions"
	BucketDeckSeek     Bucket = "deck_seek"
)

// BucketFor maps an event type to its bucket. ok is false for event types
// that carry no budget.
func BucketFor(t protocol.EventType) (Bucket, bool) {
	switch t {
	case protocol.EventQueueAdd:
		return BucketQueueAdd, true
	case protocol.EventQueueRemove:
		return BucketQueueRemove, true
	case protocol.EventQueueReorder:
		return BucketQueueReorder, true
	case protocol.EventQueueEdit:
		return BucketQueueEdit, true
	case protocol.EventDeckLoad, protocol.EventDeckPlay, protocol.EventDeckPause,
		protocol.EventDeckCue, protocol.EventDeckTempoSet:
		return BucketDeckActions, true
	case protocol.EventDeckSeek:
		return BucketDeckSeek, true
	}
	return "", false
}

// Budget is the accepted event count per sliding window.
type Budget struct {
	Max    int
	Window time.Duration
}

// DefaultBudgets returns the stock per-bucket budgets.
func DefaultBudgets() map[Bucket]Budget {
	return map[Bucket]Budget{
		BucketQueueAdd:     {Max: 20, Window: time.Minute},
		BucketQueueRemove:  {Max: 20, Window: time.Minute},
		BucketQueueReorder: {Max: 20, Window: time.Minute},
		BucketQueueEdit:    {Max: 20, Window: time.Minute},
		BucketDeckActions:  {Max: 100, Window: time.Minute},
		BucketDeckSeek:     {Max: 600, Window: time.Minute},
	}
}

// Result is the outcome of a limiter check.
type Result struct {
	Allowed      bool
	RetryAfterMs int64
}

type key struct {
	clientID string
	bucket   Bucket
}

// Limiter tracks accepted-event timestamps per (client, bucket).
type Limiter struct {
	mu      sync.Mutex
	budgets map[Bucket]Budget
	windows map[key][]int64 // accepted timestamps, ms, oldest first

	nowFn func() int64
}

// New creates a limiter. nil budgets selects DefaultBudgets.
func New(budgets map[Bucket]Budget) *Limiter {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &Limiter{
		budgets: budgets,
		windows: make(map[key][]int64),
		nowFn:   func() int64 { return time.Now().UnixMilli() },
	}
}

// SetNow overrides the clock. Test hook.
func (l *Limiter) SetNow(fn func() int64) {
	l.mu.Lock()
	l.nowFn = fn
	l.mu.Unlock()
}

// Check peeks whether an event of this type would currently be allowed,
// without committing it against the budget.
func (l *Limiter) Check(clientID string, t protocol.EventType) bool {
	bucket, ok := BucketFor(t)
	if !ok {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	budget := l.budgets[bucket]
	k := key{clientID: clientID, bucket: bucket}
	l.prune(k, budget)
	return len(l.windows[k]) < budget.Max
}

// CheckAndRecord commits an event against the budget. On violation the
// result carries how long the client must wait for a slot to free up.
func (l *Limiter) CheckAndRecord(clientID string, t protocol.EventType) Result {
	bucket, ok := BucketFor(t)
	if !ok {
		return Result{Allowed: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	budget := l.budgets[bucket]
	k := key{clientID: clientID, bucket: bucket}
	now := l.nowFn()
	l.prune(k, budget)

	window := l.windows[k]
	if len(window) >= budget.Max {
		rateLimitExceeded.WithLabelValues(string(bucket)).Inc()
		retry := window[0] + budget.Window.Milliseconds() - now
		if retry < 1 {
			retry = 1
		}
		return Result{Allowed: false, RetryAfterMs: retry}
	}

	l.windows[k] = append(window, now)
	return Result{Allowed: true}
}

// RemoveClient clears all window state for a departed client.
func (l *Limiter) RemoveClient(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.windows {
		if k.clientID == clientID {
			delete(l.windows, k)
		}
	}
}

// prune drops timestamps that slid out of the window. Caller holds the lock.
func (l *Limiter) prune(k key, budget Budget) {
	window := l.windows[k]
	if len(window) == 0 {
		return
	}
	cutoff := l.nowFn() - budget.Window.Milliseconds()
	i := 0
	for i < len(window) && window[i] <= cutoff {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(window) {
		delete(l.windows, k)
		return
	}
	l.windows[k] = append(window[:0:0], window[i:]...)
}
