// Copyright 2019 Drone IO, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package livelog implements the append-only, monotonically sequenced
// per-build log stream (C3): durable persistence via a core.LogStore,
// plus live fan-out over pubsub with replay-then-live catch-up for
// subscribers that connect mid-build.
package livelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/ando-ci/ando/core"
	"github.com/ando-ci/ando/pubsub"
)

// subscriberBuffer bounds how far a live subscriber may lag before it is
// dropped rather than stalling the producer.
const subscriberBuffer = 256

func topic(buildID int64) string {
	return fmt.Sprintf("build/%d", buildID)
}

// Transport is the core.LogTransport implementation. The zero value is
// not usable; construct with New.
type Transport struct {
	store  core.LogStore
	broker *pubsub.Broker

	mu       sync.Mutex
	counters map[int64]uint32
	statuses map[int64]*core.BuildStatus
}

// New returns a Transport backed by store for persistence and a fresh
// in-process broker for live fan-out.
func New(store core.LogStore) *Transport {
	return &Transport{
		store:    store,
		broker:   pubsub.New(),
		counters: make(map[int64]uint32),
		statuses: make(map[int64]*core.BuildStatus),
	}
}

// nextSequence returns the next sequence number for buildID, reloading
// the allocator from persistence the first time a build is touched after
// a restart.
func (t *Transport) nextSequence(ctx context.Context, buildID int64) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.counters[buildID]
	if !ok {
		max, err := t.store.MaxSequence(ctx, buildID)
		if err != nil {
			return 0, fmt.Errorf("livelog: reload sequence: %w", err)
		}
		n = max
	}
	n++
	t.counters[buildID] = n
	return n, nil
}

// Append implements core.LogTransport. The record is persisted before it
// is published, so a concurrent GetSince can never observe a sequence
// gap relative to what subscribers will eventually see.
func (t *Transport) Append(ctx context.Context, buildID int64, typ core.BuildLogType, stepName, message string) (uint32, error) {
	seq, err := t.nextSequence(ctx, buildID)
	if err != nil {
		return 0, err
	}
	entry := &core.BuildLogEntry{
		BuildID:   buildID,
		Sequence:  seq,
		Type:      typ,
		Message:   message,
		StepName:  stepName,
		Timestamp: time.Now().Unix(),
	}
	if err := t.store.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("livelog: append: %w", err)
	}
	t.broker.Publish(ctx, topic(buildID), pubsub.Message{Payload: core.LogEvent{Entry: entry}})
	return seq, nil
}

// GetSince implements core.LogTransport.
func (t *Transport) GetSince(ctx context.Context, buildID int64, after uint32, limit int) ([]*core.BuildLogEntry, bool, error) {
	entries, err := t.store.GetSince(ctx, buildID, after, limit)
	if err != nil {
		return nil, false, fmt.Errorf("livelog: get since: %w", err)
	}
	return entries, t.isTerminal(buildID), nil
}

func (t *Transport) isTerminal(buildID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.statuses[buildID]
	return ok && status.Terminal()
}

// sequencedItem orders BuildLogEntry values by Sequence inside a btree,
// used below purely as the merge buffer between the persisted replay and
// the live broker feed.
type sequencedItem struct {
	entry *core.BuildLogEntry
}

func (i sequencedItem) Less(than btree.Item) bool {
	return i.entry.Sequence < than.(sequencedItem).entry.Sequence
}

// subState holds everything a single Subscribe call buffers from the
// live broker while the replay query is in flight and afterward, until
// the subscriber either catches up, the build terminates, or it falls
// too far behind to keep up and is dropped.
type subState struct {
	mu       sync.Mutex
	buffered *btree.BTree
	terminal *core.BuildStatus
	overflow bool
	notify   chan struct{}
}

func newSubState() *subState {
	return &subState{buffered: btree.New(32), notify: make(chan struct{}, 1)}
}

func (s *subState) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Subscribe implements core.LogTransport. It registers a live receiver
// before issuing the catch-up query so nothing published during that
// query is lost, buffers what arrives in a small btree keyed by
// sequence, then replays the persisted backlog followed by the buffered
// live backlog with duplicates against the replay filtered out by
// sequence. A subscriber that falls more than subscriberBuffer entries
// behind is dropped by closing ch rather than stalling Append.
func (t *Transport) Subscribe(ctx context.Context, buildID int64, after uint32, ch chan<- core.LogEvent) {
	defer close(ch)

	state := newSubState()
	unsubscribe := t.broker.Subscribe(topic(buildID), func(msg pubsub.Message) {
		event, ok := msg.Payload.(core.LogEvent)
		if !ok {
			return
		}
		state.mu.Lock()
		switch {
		case event.Terminated:
			status := event.Status
			state.terminal = &status
		case state.overflow:
			// already dropping; nothing more to buffer.
		case state.buffered.Len() >= subscriberBuffer:
			state.overflow = true
			state.buffered.Clear(false)
		default:
			state.buffered.ReplaceOrInsert(sequencedItem{entry: event.Entry})
		}
		state.mu.Unlock()
		state.wake()
	})
	defer unsubscribe()

	entries, _, err := t.GetSince(ctx, buildID, after, 0)
	if err != nil {
		return
	}
	lastSeq := after
	for _, e := range entries {
		if !send(ctx, ch, core.LogEvent{Entry: e}) {
			return
		}
		lastSeq = e.Sequence
	}

	for {
		state.mu.Lock()
		var pending []*core.BuildLogEntry
		state.buffered.Ascend(func(it btree.Item) bool {
			pending = append(pending, it.(sequencedItem).entry)
			return true
		})
		for _, e := range pending {
			state.buffered.Delete(sequencedItem{entry: e})
		}
		terminal := state.terminal
		overflow := state.overflow
		state.mu.Unlock()

		for _, e := range pending {
			if e.Sequence <= lastSeq {
				continue
			}
			if !send(ctx, ch, core.LogEvent{Entry: e}) {
				return
			}
			lastSeq = e.Sequence
		}

		if overflow {
			return
		}
		if terminal != nil {
			send(ctx, ch, core.LogEvent{Terminated: true, Status: *terminal})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-state.notify:
		}
	}
}

// send delivers event to ch, returning false without blocking forever if
// ctx is cancelled first (the subscriber's connection went away).
func send(ctx context.Context, ch chan<- core.LogEvent, event core.LogEvent) bool {
	select {
	case ch <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// Terminate implements core.LogTransport: marks buildID complete and
// wakes any subscriber blocked waiting for further entries.
func (t *Transport) Terminate(ctx context.Context, buildID int64, status core.BuildStatus) {
	t.mu.Lock()
	t.statuses[buildID] = &status
	delete(t.counters, buildID)
	t.mu.Unlock()

	t.broker.Publish(ctx, topic(buildID), pubsub.Message{Payload: core.LogEvent{Terminated: true, Status: status}})
}
