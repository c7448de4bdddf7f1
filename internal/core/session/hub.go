// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultSubscriberBuffer is the per-subscriber queue length used when the
// hub is created with a non-positive size.
const DefaultSubscriberBuffer = 64

// finishedRetention bounds how many terminal events the hub keeps for late
// subscribers.
const finishedRetention = 256

// Subscription receives the events of one session. C is closed after the
// terminal event has been delivered or when the subscription is cancelled.
type Subscription struct {
	C         <-chan *model.Event
	SessionId string

	ch      chan *model.Event
	dropped atomic.Int64
	closed  bool // guarded by Hub.mu
}

// Dropped is the number of events discarded because the subscriber fell
// behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub fans session events out to subscribers. Publishing never blocks: a
// full subscriber loses new non-terminal events, while the terminal event
// evicts the oldest queued one so it is always delivered, and last.
type Hub struct {
	mu       sync.Mutex
	buffer   int
	subs     map[string]map[*Subscription]struct{}
	finished map[string]*model.Event
	order    []string

	droppedCounter metric.Int64Counter
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	h := &Hub{
		buffer:   buffer,
		subs:     make(map[string]map[*Subscription]struct{}),
		finished: make(map[string]*model.Event),
	}
	h.droppedCounter, _ = otel.Meter(cor.MeterName).Int64Counter("session.events.dropped")
	return h
}

// Subscribe registers for a session's events. Subscribing to a session that
// already finished yields its terminal event and a closed channel.
func (h *Hub) Subscribe(sessionId string) *Subscription {
	sub := &Subscription{SessionId: sessionId, ch: make(chan *model.Event, h.buffer)}
	sub.C = sub.ch

	h.mu.Lock()
	defer h.mu.Unlock()
	if ev, ok := h.finished[sessionId]; ok {
		sub.ch <- ev
		close(sub.ch)
		sub.closed = true
		return sub
	}
	set, ok := h.subs[sessionId]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionId] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe cancels a subscription. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.SessionId]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.SessionId)
		}
	}
	if !sub.closed {
		close(sub.ch)
		sub.closed = true
	}
}

// Publish delivers ev to every subscriber of its session.
func (h *Hub) Publish(ev *model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	terminal := ev.Terminal()
	for sub := range h.subs[ev.SessionId] {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		if !terminal {
			sub.dropped.Add(1)
			h.droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", ev.Name)))
			continue
		}
		// Only Publish sends, under h.mu, so one eviction makes room.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}

	if terminal {
		for sub := range h.subs[ev.SessionId] {
			close(sub.ch)
			sub.closed = true
		}
		delete(h.subs, ev.SessionId)
		h.remember(ev)
	}
}

func (h *Hub) remember(ev *model.Event) {
	if _, ok := h.finished[ev.SessionId]; !ok {
		h.order = append(h.order, ev.SessionId)
	}
	h.finished[ev.SessionId] = ev
	for len(h.order) > finishedRetention {
		delete(h.finished, h.order[0])
		h.order = h.order[1:]
	}
}

// Subscribers returns the number of live subscriptions for a session.
func (h *Hub) Subscribers(sessionId string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionId])
}
